package federate

import (
	"net/netip"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/fedsim/sim"
	"github.com/sarchlab/fedsim/transport"
	"github.com/sarchlab/fedsim/vtime"
)

type payloadHook struct {
	pos      *sim.HookPos
	payloads []string
}

func (h *payloadHook) Func(ctx sim.HookCtx) {
	if ctx.Pos != h.pos {
		return
	}

	h.payloads = append(h.payloads, string(ctx.Item.([]byte)))
}

var _ = Describe("Application", func() {
	var (
		mockCtrl  *gomock.Controller
		engine    *sim.SerialEngine
		network   *transport.Network
		registry  *Registry
		metrics   *Metrics
		publisher *MockPublisher
		builder   Builder
		meter     *Application
		grid      *Application

		meterIP = netip.MustParseAddr("10.1.0.1")
		gridIP  = netip.MustParseAddr("10.1.0.2")
	)

	BeforeEach(func() {
		var err error

		mockCtrl = gomock.NewController(GinkgoT())
		engine = sim.NewSerialEngine()
		network = transport.MakeBuilder().
			WithEngine(engine).
			WithLatency(vtime.MilliSeconds(1)).
			Build("net")
		registry = NewRegistry()
		metrics, err = NewMetrics(prometheus.NewRegistry())
		Expect(err).NotTo(HaveOccurred())
		publisher = NewMockPublisher(mockCtrl)

		builder = MakeBuilder().
			WithEngine(engine).
			WithNetwork(network).
			WithFabric(publisher).
			WithRegistry(registry).
			WithMetrics(metrics)

		meter = builder.WithLocal(meterIP, 4000).Build("meter")
		grid = builder.WithLocal(gridIP, 5000).Build("grid")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	startBoth := func() {
		Expect(meter.StartApplication()).To(Succeed())
		Expect(grid.StartApplication()).To(Succeed())
	}

	It("should register by name", func() {
		found, err := registry.Lookup("grid")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeIdenticalTo(grid))
		Expect(registry.Names()).To(Equal([]string{"grid", "meter"}))
	})

	It("should reject a duplicate name", func() {
		Expect(func() { builder.Build("grid") }).
			To(PanicWith(MatchError(ErrDuplicateName)))
	})

	It("should move the registration on rename", func() {
		meter.SetName("meter2")

		_, err := registry.Lookup("meter")
		Expect(err).To(MatchError(ErrUnknownFederate))
		found, err := registry.Lookup("meter2")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeIdenticalTo(meter))
	})

	It("should refuse to start without a name", func() {
		unnamed := builder.WithLocal(meterIP, 4001).Build("")

		Expect(func() { _ = unnamed.StartApplication() }).
			To(PanicWith(MatchError(ErrMissingName)))
		Expect(unnamed.State()).To(Equal(Created))
	})

	It("should send topic=value and republish it", func() {
		tx := &payloadHook{pos: HookPosTx}
		rx := &payloadHook{pos: HookPosRx}
		meter.AcceptHook(tx)
		grid.AcceptHook(rx)
		startBoth()

		publisher.EXPECT().Publish("volt", "120.5").Return(nil)

		Expect(meter.Send(grid, "volt", "120.5")).To(Succeed())

		Expect(tx.payloads).To(Equal([]string{"volt=120.5"}))
		Expect(rx.payloads).To(BeEmpty())

		Expect(engine.Run()).To(Succeed())

		Expect(rx.payloads).To(Equal([]string{"volt=120.5"}))
		Expect(meter.Sent()).To(Equal(uint32(1)))
		Expect(grid.Received()).To(Equal(uint64(1)))
		Expect(engine.Now()).To(Equal(vtime.MilliSeconds(1)))
		Expect(testutil.ToFloat64(
			metrics.PayloadsSent.WithLabelValues("meter"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(
			metrics.Publications.WithLabelValues("grid"))).To(Equal(1.0))
	})

	It("should drain all pending datagrams in one pass", func() {
		startBoth()

		gomock.InOrder(
			publisher.EXPECT().Publish("a", "1").Return(nil),
			publisher.EXPECT().Publish("b", "2=two").Return(nil),
			publisher.EXPECT().Publish("", "3").Return(nil),
		)

		Expect(meter.SendTo("grid", "a", "1")).To(Succeed())
		Expect(meter.SendTo("grid", "b", "2=two")).To(Succeed())
		Expect(meter.SendTo("grid", "", "3")).To(Succeed())

		Expect(engine.Run()).To(Succeed())

		Expect(grid.Received()).To(Equal(uint64(3)))
		Expect(engine.EventCount()).To(Equal(uint64(4)))
	})

	It("should treat a payload without '=' as fatal", func() {
		startBoth()

		raw := network.NewSocket()
		Expect(raw.SendTo([]byte("garbage"), grid.Address())).To(Succeed())

		Expect(func() { _ = engine.Run() }).
			To(PanicWith(MatchError(ContainSubstring("garbage"))))
	})

	It("should reject sends outside the started state", func() {
		Expect(meter.Send(grid, "volt", "1")).To(MatchError(ErrNotStarted))

		startBoth()
		meter.StopApplication()

		Expect(meter.State()).To(Equal(Stopped))
		Expect(meter.Send(grid, "volt", "1")).To(MatchError(ErrNotStarted))
		Expect(meter.Sent()).To(Equal(uint32(0)))
	})

	It("should restart after a stop", func() {
		startBoth()
		grid.StopApplication()
		Expect(grid.StartApplication()).To(Succeed())
		Expect(grid.State()).To(Equal(Started))

		publisher.EXPECT().Publish("volt", "1").Return(nil)

		Expect(meter.Send(grid, "volt", "1")).To(Succeed())
		Expect(engine.Run()).To(Succeed())
	})

	It("should count sends the transport cannot deliver", func() {
		startBoth()
		grid.StopApplication()

		Expect(meter.Send(grid, "volt", "1")).To(Succeed())
		Expect(engine.Run()).To(Succeed())

		Expect(meter.Sent()).To(Equal(uint32(1)))
		Expect(network.Dropped()).To(Equal(uint64(1)))
	})

	It("should resolve the destination address at send time", func() {
		startBoth()

		grid.StopApplication()
		grid.SetLocal(gridIP, 6000)
		Expect(grid.StartApplication()).To(Succeed())

		publisher.EXPECT().Publish("volt", "2").Return(nil)

		Expect(meter.Send(grid, "volt", "2")).To(Succeed())
		Expect(engine.Run()).To(Succeed())

		Expect(grid.Address()).To(Equal(netip.AddrPortFrom(gridIP, 6000)))
		Expect(network.Dropped()).To(BeZero())
	})

	It("should reach endpoints bound to ephemeral addresses", func() {
		floating := builder.WithLocal(netip.Addr{}, 0).Build("floating")
		startBoth()
		Expect(floating.StartApplication()).To(Succeed())
		Expect(floating.Address().Port()).To(BeNumerically(">=", 49152))

		publisher.EXPECT().Publish("volt", "3").Return(nil)

		Expect(meter.Send(floating, "volt", "3")).To(Succeed())
		Expect(engine.Run()).To(Succeed())
	})

	It("should work over IPv6", func() {
		a := builder.WithLocal(netip.MustParseAddr("2001:db8::1"), 4000).Build("a6")
		b := builder.WithLocal(netip.MustParseAddr("2001:db8::2"), 4000).Build("b6")
		Expect(a.StartApplication()).To(Succeed())
		Expect(b.StartApplication()).To(Succeed())

		publisher.EXPECT().Publish("freq", "60.0").Return(nil)

		Expect(a.Send(b, "freq", "60.0")).To(Succeed())
		Expect(engine.Run()).To(Succeed())
	})

	It("should fail to start on an address in use", func() {
		startBoth()

		clash := builder.WithLocal(gridIP, 5000).Build("clash")
		err := clash.StartApplication()

		Expect(err).To(MatchError(transport.ErrAddrInUse))
		Expect(clash.State()).To(Equal(Created))
	})

	It("should report unknown destinations", func() {
		startBoth()

		Expect(meter.SendTo("nobody", "volt", "1")).
			To(MatchError(ErrUnknownFederate))
	})

	It("should reject a missing destination", func() {
		startBoth()

		Expect(meter.Send(nil, "volt", "1")).To(MatchError(ErrUnknownFederate))
		Expect(meter.Sent()).To(Equal(uint32(0)))
		Expect(engine.Run()).To(Succeed())
		Expect(network.Dropped()).To(BeZero())
	})
})

var _ = Describe("Payload", func() {
	It("should encode topic=value", func() {
		Expect(Payload{Topic: "volt", Value: "120.5"}.Encode()).
			To(Equal([]byte("volt=120.5")))
	})

	It("should split at the first '='", func() {
		p, err := DecodePayload([]byte("k=a=b"))
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(Payload{Topic: "k", Value: "a=b"}))
	})

	It("should accept empty parts", func() {
		p, err := DecodePayload([]byte("="))
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(Payload{}))
	})

	It("should reject payloads without '='", func() {
		_, err := DecodePayload([]byte("volt"))
		Expect(err).To(MatchError(ErrMalformedPayload))
		Expect(err.Error()).To(ContainSubstring(`"volt"`))
	})
})
