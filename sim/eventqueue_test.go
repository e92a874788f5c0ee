package sim

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/fedsim/vtime"
)

func pushRandomEvents(
	mockCtrl *gomock.Controller,
	queue EventQueue,
	numEvents int,
) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < numEvents; i++ {
		event := NewMockEvent(mockCtrl)
		event.EXPECT().
			Time().
			Return(vtime.Time(rng.Intn(20))).
			AnyTimes()
		queue.Push(NewScheduledEvent(event, uint64(i + 1)))
	}
}

func expectOrderedPops(queue EventQueue, numEvents int) {
	var prev *ScheduledEvent

	for i := 0; i < numEvents; i++ {
		event := queue.Pop()
		if prev != nil {
			Expect(prev.Before(event)).To(BeTrue())
		}

		prev = event
	}

	Expect(queue.Len()).To(Equal(0))
}

var _ = Describe("EventQueueImpl", func() {
	var (
		mockCtrl *gomock.Controller
		queue    *EventQueueImpl
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		queue = NewEventQueue()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should pop in order", func() {
		pushRandomEvents(mockCtrl, queue, 100)
		Expect(queue.Len()).To(Equal(100))

		expectOrderedPops(queue, 100)
	})

	It("should keep equal-time events in insertion order", func() {
		event := NewMockEvent(mockCtrl)
		event.EXPECT().Time().Return(vtime.Time(5)).AnyTimes()

		for i := 10; i > 0; i-- {
			queue.Push(NewScheduledEvent(event, uint64(i)))
		}

		for i := 1; i <= 10; i++ {
			Expect(queue.Peek().Seq).To(Equal(uint64(i)))
			Expect(queue.Pop().Seq).To(Equal(uint64(i)))
		}
	})
})

var _ = Describe("Insertion Queue", func() {
	var (
		mockCtrl *gomock.Controller
		queue    *InsertionQueue
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		queue = NewInsertionQueue()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should pop in order", func() {
		pushRandomEvents(mockCtrl, queue, 100)
		Expect(queue.Len()).To(Equal(100))

		expectOrderedPops(queue, 100)
	})

	It("should insert late entries before later times", func() {
		late := NewMockEvent(mockCtrl)
		late.EXPECT().Time().Return(vtime.Time(10)).AnyTimes()
		early := NewMockEvent(mockCtrl)
		early.EXPECT().Time().Return(vtime.Time(3)).AnyTimes()

		queue.Push(NewScheduledEvent(late, 1))
		queue.Push(NewScheduledEvent(early, 2))

		Expect(queue.Pop().Seq).To(Equal(uint64(2)))
		Expect(queue.Pop().Seq).To(Equal(uint64(1)))
	})
})
