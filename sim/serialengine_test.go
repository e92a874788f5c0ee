package sim

import (
	"errors"
	"fmt"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/fedsim/vtime"
)

type recorder struct {
	order []string
}

func (r *recorder) add(label string) func() {
	return func() {
		r.order = append(r.order, label)
	}
}

func mustSchedule(engine *SerialEngine, delay vtime.Time, fn func()) EventID {
	id, err := engine.Schedule(delay, fn)
	Expect(err).NotTo(HaveOccurred())

	return id
}

var _ = Describe("SerialEngine", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *SerialEngine
		rec      *recorder
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewSerialEngine()
		rec = &recorder{}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should schedule events", func() {
		handler1 := NewMockHandler(mockCtrl)
		handler2 := NewMockHandler(mockCtrl)
		evt1 := NewMockEvent(mockCtrl)
		evt2 := NewMockEvent(mockCtrl)
		evt3 := NewMockEvent(mockCtrl)
		evt4 := NewMockEvent(mockCtrl)

		evt1.EXPECT().Time().Return(vtime.Seconds(4)).AnyTimes()
		evt1.EXPECT().Handler().Return(handler1).AnyTimes()
		evt1.EXPECT().IsSecondary().Return(false).AnyTimes()
		evt2.EXPECT().Time().Return(vtime.Seconds(2)).AnyTimes()
		evt2.EXPECT().Handler().Return(handler2).AnyTimes()
		evt2.EXPECT().IsSecondary().Return(false).AnyTimes()
		evt3.EXPECT().Time().Return(vtime.Seconds(3)).AnyTimes()
		evt3.EXPECT().Handler().Return(handler1).AnyTimes()
		evt3.EXPECT().IsSecondary().Return(false).AnyTimes()
		evt4.EXPECT().Time().Return(vtime.Seconds(5)).AnyTimes()
		evt4.EXPECT().Handler().Return(handler1).AnyTimes()
		evt4.EXPECT().IsSecondary().Return(false).AnyTimes()
		handleEvt2 := handler2.EXPECT().Handle(evt2).DoAndReturn(
			func(e Event) error {
				_, err := engine.ScheduleEvent(evt3)
				Expect(err).NotTo(HaveOccurred())
				_, err = engine.ScheduleEvent(evt4)
				Expect(err).NotTo(HaveOccurred())

				return nil
			})
		handleEvt3 := handler1.EXPECT().
			Handle(evt3).Return(nil).After(handleEvt2)
		handleEvt1 := handler1.EXPECT().
			Handle(evt1).Return(nil).After(handleEvt3)
		handler1.EXPECT().
			Handle(evt4).Return(nil).After(handleEvt1)

		_, err := engine.ScheduleEvent(evt1)
		Expect(err).NotTo(HaveOccurred())
		_, err = engine.ScheduleEvent(evt2)
		Expect(err).NotTo(HaveOccurred())

		Expect(engine.Run()).To(Succeed())
		Expect(engine.Now()).To(Equal(vtime.Seconds(5)))
	})

	It("should consider secondary events", func() {
		handler1 := NewMockHandler(mockCtrl)
		handler2 := NewMockHandler(mockCtrl)
		evt1 := NewMockEvent(mockCtrl)
		evt2 := NewMockEvent(mockCtrl)

		evt1.EXPECT().Time().Return(vtime.Seconds(2)).AnyTimes()
		evt1.EXPECT().Handler().Return(handler1).AnyTimes()
		evt1.EXPECT().IsSecondary().Return(true).AnyTimes()
		evt2.EXPECT().Time().Return(vtime.Seconds(2)).AnyTimes()
		evt2.EXPECT().Handler().Return(handler2).AnyTimes()
		evt2.EXPECT().IsSecondary().Return(false).AnyTimes()

		gomock.InOrder(
			handler2.EXPECT().Handle(evt2).Return(nil),
			handler1.EXPECT().Handle(evt1).Return(nil),
		)

		_, err := engine.ScheduleEvent(evt1)
		Expect(err).NotTo(HaveOccurred())
		_, err = engine.ScheduleEvent(evt2)
		Expect(err).NotTo(HaveOccurred())

		Expect(engine.Run()).To(Succeed())
	})

	It("should dispatch equal-time events in insertion order", func() {
		mustSchedule(engine, vtime.Seconds(5), rec.add("5s first"))
		mustSchedule(engine, vtime.Seconds(5), rec.add("5s second"))
		mustSchedule(engine, vtime.Seconds(3), rec.add("3s"))
		mustSchedule(engine, vtime.Seconds(10), rec.add("10s"))

		Expect(engine.Run()).To(Succeed())

		Expect(rec.order).To(Equal(
			[]string{"3s", "5s first", "5s second", "10s"}))
		Expect(engine.Now()).To(Equal(vtime.Seconds(10)))
		Expect(engine.EventCount()).To(Equal(uint64(4)))
	})

	It("should not dispatch cancelled events", func() {
		mustSchedule(engine, vtime.Seconds(10), rec.add("10s"))
		id := mustSchedule(engine, vtime.Seconds(30), rec.add("30s"))

		Expect(engine.IsExpired(id)).To(BeFalse())
		Expect(engine.DelayLeft(id)).To(Equal(vtime.Seconds(30)))

		engine.Cancel(id)
		engine.Cancel(id)
		engine.Cancel(EventID{})

		Expect(engine.IsExpired(id)).To(BeTrue())
		Expect(engine.DelayLeft(id)).To(Equal(vtime.Time(0)))
		Expect(engine.Run()).To(Succeed())
		Expect(rec.order).To(Equal([]string{"10s"}))
		Expect(engine.Now()).To(Equal(vtime.Seconds(10)))
	})

	It("should allow cancelling from a handler", func() {
		var later EventID

		mustSchedule(engine, vtime.Seconds(10), func() {
			Expect(engine.DelayLeft(later)).To(Equal(vtime.Seconds(20)))
			engine.Cancel(later)
		})
		later = mustSchedule(engine, vtime.Seconds(30), rec.add("30s"))

		Expect(engine.Run()).To(Succeed())
		Expect(rec.order).To(BeEmpty())
	})

	It("should ignore cancelling a dispatched event", func() {
		id := mustSchedule(engine, vtime.Seconds(1), rec.add("1s"))

		Expect(engine.Run()).To(Succeed())
		Expect(engine.IsExpired(id)).To(BeTrue())

		engine.Cancel(id)

		Expect(rec.order).To(Equal([]string{"1s"}))
	})

	It("should stop", func() {
		mustSchedule(engine, vtime.Seconds(50), rec.add("50s"))
		mustSchedule(engine, vtime.Seconds(200), rec.add("200s"))
		_, err := engine.Stop(vtime.Seconds(100))
		Expect(err).NotTo(HaveOccurred())

		Expect(engine.Run()).To(Succeed())

		Expect(rec.order).To(Equal([]string{"50s"}))
		Expect(engine.Now()).To(Equal(vtime.Seconds(100)))
	})

	It("should resume after a stop", func() {
		mustSchedule(engine, vtime.Seconds(200), rec.add("200s"))
		_, err := engine.Stop(vtime.Seconds(100))
		Expect(err).NotTo(HaveOccurred())

		Expect(engine.Run()).To(Succeed())
		Expect(rec.order).To(BeEmpty())

		Expect(engine.Run()).To(Succeed())
		Expect(rec.order).To(Equal([]string{"200s"}))
	})

	It("should reject events in the past", func() {
		var rejected error

		mustSchedule(engine, vtime.Seconds(10), func() {
			_, rejected = engine.Schedule(vtime.Seconds(-1), rec.add("past"))
		})

		Expect(engine.Run()).To(Succeed())

		Expect(rejected).To(MatchError(ErrOutOfOrder))
		Expect(rec.order).To(BeEmpty())
		Expect(engine.Now()).To(Equal(vtime.Seconds(10)))
	})

	It("should reject absolute events before now", func() {
		evt := NewMockEvent(mockCtrl)
		evt.EXPECT().Time().Return(vtime.Seconds(5)).AnyTimes()

		mustSchedule(engine, vtime.Seconds(10), func() {
			_, err := engine.ScheduleEvent(evt)
			Expect(errors.Is(err, ErrOutOfOrder)).To(BeTrue())
		})

		Expect(engine.Run()).To(Succeed())
	})

	It("should reject events beyond the horizon", func() {
		mustSchedule(engine, vtime.Seconds(1), func() {
			_, err := engine.Schedule(vtime.MaxTime, rec.add("never"))
			Expect(err).To(MatchError(ErrBeyondHorizon))
		})

		Expect(engine.Run()).To(Succeed())
	})

	It("should run scheduled-now events after the current ones", func() {
		mustSchedule(engine, vtime.Seconds(1), func() {
			_, err := engine.ScheduleNow(rec.add("now"))
			Expect(err).NotTo(HaveOccurred())
		})
		mustSchedule(engine, vtime.Seconds(1), rec.add("1s"))

		Expect(engine.Run()).To(Succeed())
		Expect(rec.order).To(Equal([]string{"1s", "now"}))
	})

	It("should abort the run on handler errors", func() {
		handler := NewMockHandler(mockCtrl)
		evt := NewMockEvent(mockCtrl)
		evt.EXPECT().Time().Return(vtime.Seconds(1)).AnyTimes()
		evt.EXPECT().Handler().Return(handler).AnyTimes()
		evt.EXPECT().IsSecondary().Return(false).AnyTimes()

		boom := errors.New("boom")
		handler.EXPECT().Handle(evt).Return(boom)

		_, err := engine.ScheduleEvent(evt)
		Expect(err).NotTo(HaveOccurred())
		mustSchedule(engine, vtime.Seconds(2), rec.add("2s"))

		err = engine.Run()

		Expect(errors.Is(err, boom)).To(BeTrue())
		Expect(rec.order).To(BeEmpty())
	})

	It("should invoke hooks around each event", func() {
		hook := NewMockHook(mockCtrl)
		engine.AcceptHook(hook)

		id := mustSchedule(engine, vtime.Seconds(1), rec.add("1s"))

		gomock.InOrder(
			hook.EXPECT().Func(gomock.Any()).Do(func(ctx HookCtx) {
				Expect(ctx.Pos).To(BeIdenticalTo(HookPosBeforeEvent))
				Expect(ctx.Domain).To(BeIdenticalTo(engine))
				Expect(ctx.Detail.(*ScheduledEvent).EventID()).To(Equal(id))
				Expect(rec.order).To(BeEmpty())
			}),
			hook.EXPECT().Func(gomock.Any()).Do(func(ctx HookCtx) {
				Expect(ctx.Pos).To(BeIdenticalTo(HookPosAfterEvent))
				Expect(rec.order).To(HaveLen(1))
			}),
		)

		Expect(engine.Run()).To(Succeed())
	})

	It("should destroy", func() {
		mustSchedule(engine, vtime.Seconds(1), rec.add("1s"))
		pending := mustSchedule(engine, vtime.Seconds(2), rec.add("2s"))
		engine.ScheduleDestroy(rec.add("destroy first"))
		cancelled := engine.ScheduleDestroy(rec.add("destroy cancelled"))
		engine.ScheduleDestroy(rec.add("destroy second"))
		engine.Cancel(cancelled)

		engine.Destroy()
		engine.Destroy()

		Expect(rec.order).To(Equal(
			[]string{"destroy first", "destroy second"}))
		Expect(engine.IsExpired(pending)).To(BeTrue())

		Expect(engine.Run()).To(Succeed())
		Expect(rec.order).To(HaveLen(2))
		Expect(engine.EventCount()).To(Equal(uint64(0)))
	})

	It("should call simulation end handlers", func() {
		handler := NewMockSimulationEndHandler(mockCtrl)
		engine.RegisterSimulationEndHandler(handler)
		mustSchedule(engine, vtime.Seconds(3), rec.add("3s"))

		handler.EXPECT().Handle(vtime.Seconds(3))

		Expect(engine.Run()).To(Succeed())
		engine.Finished()
	})

	It("should pause and continue", func() {
		engine.Pause()
		engine.Pause()
		Expect(engine.IsPaused()).To(BeTrue())

		engine.Continue()
		engine.Continue()
		Expect(engine.IsPaused()).To(BeFalse())

		mustSchedule(engine, vtime.Seconds(1), rec.add("1s"))
		Expect(engine.Run()).To(Succeed())
		Expect(rec.order).To(HaveLen(1))
	})

	Context("with a time gate", func() {
		var gate *MockTimeGate

		BeforeEach(func() {
			gate = NewMockTimeGate(mockCtrl)
			engine.SetTimeGate(gate)
		})

		It("should wait for grants before advancing", func() {
			mustSchedule(engine, vtime.Seconds(10), rec.add("10s"))

			gomock.InOrder(
				gate.EXPECT().
					Grant(vtime.Time(0), vtime.Seconds(10)).
					Return(vtime.Seconds(4), nil),
				gate.EXPECT().
					Granted(vtime.Seconds(4)).
					Do(func(now vtime.Time) {
						_, err := engine.ScheduleNow(rec.add("update"))
						Expect(err).NotTo(HaveOccurred())
					}),
				gate.EXPECT().
					Grant(vtime.Seconds(4), vtime.Seconds(10)).
					Return(vtime.Seconds(10), nil),
				gate.EXPECT().Granted(vtime.Seconds(10)),
				gate.EXPECT().
					Grant(vtime.Seconds(10), vtime.MaxTime).
					Return(vtime.MaxTime, nil),
			)

			Expect(engine.Run()).To(Succeed())

			Expect(rec.order).To(Equal([]string{"update", "10s"}))
			Expect(engine.Now()).To(Equal(vtime.Seconds(10)))
		})

		It("should never move past the next event", func() {
			mustSchedule(engine, vtime.Seconds(10), rec.add("10s"))

			gomock.InOrder(
				gate.EXPECT().
					Grant(vtime.Time(0), vtime.Seconds(10)).
					Return(vtime.Seconds(50), nil),
				gate.EXPECT().Granted(vtime.Seconds(10)),
				gate.EXPECT().
					Grant(vtime.Seconds(10), vtime.MaxTime).
					Return(vtime.MaxTime, nil),
			)

			Expect(engine.Run()).To(Succeed())
			Expect(rec.order).To(Equal([]string{"10s"}))
		})

		It("should return gate errors", func() {
			closed := errors.New("fabric closed")
			mustSchedule(engine, vtime.Seconds(10), rec.add("10s"))

			gate.EXPECT().
				Grant(vtime.Time(0), vtime.Seconds(10)).
				Return(vtime.Time(0), closed)

			err := engine.Run()

			Expect(errors.Is(err, closed)).To(BeTrue())
			Expect(rec.order).To(BeEmpty())
		})
	})

	Context("when the time resolution changes", func() {
		BeforeEach(func() {
			prev := vtime.SetDefault(vtime.NewRegistry())
			DeferCleanup(func() { vtime.SetDefault(prev) })

			engine = NewSerialEngine()
		})

		It("should keep the time of pending events", func() {
			id := mustSchedule(engine, vtime.Seconds(1), rec.add("1s"))

			vtime.SetResolution(vtime.MS)

			Expect(engine.DelayLeft(id)).To(Equal(vtime.Time(1_000)))
			Expect(engine.Run()).To(Succeed())
			Expect(engine.Now()).To(Equal(vtime.Seconds(1)))
			Expect(engine.Now()).To(Equal(vtime.Time(1_000)))
			Expect(rec.order).To(Equal([]string{"1s"}))
		})

		It("should rescale the clock and keep the order", func() {
			mustSchedule(engine, vtime.NanoSeconds(500), rec.add("first"))
			Expect(engine.Stop(vtime.NanoSeconds(500))).NotTo(BeZero())
			Expect(engine.Run()).To(Succeed())

			mustSchedule(engine, vtime.NanoSeconds(1_100), rec.add("late"))
			mustSchedule(engine, vtime.NanoSeconds(500), rec.add("early"))
			cancelled := mustSchedule(engine, vtime.NanoSeconds(700), rec.add("cancelled"))
			engine.Cancel(cancelled)

			vtime.SetResolution(vtime.US)

			Expect(engine.Now()).To(Equal(vtime.Time(1)))
			Expect(engine.Run()).To(Succeed())
			Expect(rec.order).To(Equal([]string{"first", "early", "late"}))
			Expect(engine.Now()).To(Equal(vtime.Time(2)))
		})

		It("should leave the engine untouched if an event does not fit", func() {
			id := mustSchedule(engine, vtime.Seconds(100_000), rec.add("far"))

			Expect(func() { vtime.SetResolution(vtime.FS) }).To(
				PanicWith(MatchError(ContainSubstring("beyond the time horizon"))))

			Expect(vtime.GetResolution()).To(Equal(vtime.NS))
			Expect(engine.DelayLeft(id)).To(Equal(vtime.Seconds(100_000)))
			Expect(engine.Run()).To(Succeed())
			Expect(engine.Now()).To(Equal(vtime.Seconds(100_000)))
		})

		It("should stop following the registry once destroyed", func() {
			mustSchedule(engine, vtime.Seconds(100_000), rec.add("far"))
			engine.Destroy()

			Expect(func() { vtime.SetResolution(vtime.FS) }).NotTo(Panic())
		})
	})

	It("should be deterministic across queue implementations", func() {
		run := func(engine *SerialEngine) []string {
			rng := rand.New(rand.NewSource(7))
			r := &recorder{}

			var ids []EventID
			for i := 0; i < 200; i++ {
				delay := vtime.MilliSeconds(float64(rng.Intn(50)))
				label := fmt.Sprintf("evt-%d", i)
				ids = append(ids, mustSchedule(engine, delay, r.add(label)))

				if i%7 == 3 {
					engine.Cancel(ids[rng.Intn(len(ids))])
				}
			}

			Expect(engine.Run()).To(Succeed())

			return r.order
		}

		heapOrder := run(NewSerialEngine())
		insertionOrder := run(
			NewSerialEngineWithQueues(NewInsertionQueue(), NewInsertionQueue()))

		Expect(heapOrder).NotTo(BeEmpty())
		Expect(insertionOrder).To(Equal(heapOrder))
		Expect(run(NewSerialEngine())).To(Equal(heapOrder))
	})
})
