package federate

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/fedsim/sim"
	"github.com/sarchlab/fedsim/vtime"
)

var _ = Describe("Synchronizer", func() {
	var (
		mockCtrl *gomock.Controller
		fabric   *MockFabric
		sync     *Synchronizer
		ctx      context.Context
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		fabric = NewMockFabric(mockCtrl)
		ctx = context.Background()
		sync = NewSynchronizer(ctx, fabric)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should subscribe once per key", func() {
		fabric.EXPECT().Subscribe("grid/volt").Return(nil).Times(1)

		h := UpdateHandlerFunc(func(Update) {})
		Expect(sync.Subscribe("grid/volt", h)).To(Succeed())
		Expect(sync.Subscribe("grid/volt", h)).To(Succeed())
		Expect(sync.Subscribe("", h)).To(Succeed())
	})

	It("should return subscription errors", func() {
		refused := errors.New("refused")
		fabric.EXPECT().Subscribe("grid/volt").Return(refused)

		err := sync.Subscribe("grid/volt", UpdateHandlerFunc(func(Update) {}))
		Expect(err).To(MatchError(refused))
	})

	It("should grant what the fabric grants", func() {
		fabric.EXPECT().
			TimeRequest(ctx, vtime.Seconds(10)).
			Return(vtime.Seconds(4), nil)

		granted, err := sync.Grant(vtime.Seconds(1), vtime.Seconds(10))

		Expect(err).NotTo(HaveOccurred())
		Expect(granted).To(Equal(vtime.Seconds(4)))
	})

	It("should dispatch updates by key", func() {
		var volts, all []Update

		fabric.EXPECT().Subscribe("grid/volt").Return(nil)
		Expect(sync.Subscribe("grid/volt", UpdateHandlerFunc(func(u Update) {
			volts = append(volts, u)
		}))).To(Succeed())
		Expect(sync.Subscribe("", UpdateHandlerFunc(func(u Update) {
			all = append(all, u)
		}))).To(Succeed())

		updates := []Update{
			{Key: "grid/volt", Value: "120.5", Time: vtime.Seconds(4)},
			{Key: "grid/freq", Value: "60", Time: vtime.Seconds(4)},
		}
		fabric.EXPECT().Events().Return(updates)

		sync.Granted(vtime.Seconds(4))

		Expect(volts).To(Equal(updates[:1]))
		Expect(all).To(Equal(updates))
	})

	It("should finish when the simulation ends", func() {
		fabric.EXPECT().Finish().Return(nil)

		sync.Handle(vtime.Seconds(100))
	})

	It("should gate an engine", func() {
		engine := sim.NewSerialEngine()
		engine.SetTimeGate(sync)
		engine.RegisterSimulationEndHandler(sync)

		var seen []vtime.Time
		_, err := engine.Schedule(vtime.Seconds(10), func() {
			seen = append(seen, engine.Now())
		})
		Expect(err).NotTo(HaveOccurred())

		gomock.InOrder(
			fabric.EXPECT().
				TimeRequest(ctx, vtime.Seconds(10)).
				Return(vtime.Seconds(5), nil),
			fabric.EXPECT().Events().Return([]Update{
				{Key: "grid/volt", Value: "1", Time: vtime.Seconds(5)},
			}),
			fabric.EXPECT().
				TimeRequest(ctx, vtime.Seconds(10)).
				Return(vtime.Seconds(10), nil),
			fabric.EXPECT().Events().Return(nil),
			fabric.EXPECT().
				TimeRequest(ctx, vtime.MaxTime).
				Return(vtime.MaxTime, nil),
			fabric.EXPECT().Finish().Return(nil),
		)

		Expect(sync.Subscribe("", UpdateHandlerFunc(func(u Update) {
			seen = append(seen, u.Time)
		}))).To(Succeed())

		Expect(engine.Run()).To(Succeed())
		engine.Finished()

		Expect(seen).To(Equal([]vtime.Time{vtime.Seconds(5), vtime.Seconds(10)}))
	})
})
