package simulation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/fedsim/datarecording"
	"github.com/sarchlab/fedsim/federate"
	"github.com/sarchlab/fedsim/monitoring"
	"github.com/sarchlab/fedsim/sim"
	"github.com/sarchlab/fedsim/tracing"
	"github.com/sarchlab/fedsim/transport"
	"github.com/sarchlab/fedsim/vtime"
)

// Builder can be used to build a simulation.
type Builder struct {
	monitorOn      bool
	monitorPort    int
	openBrowser    bool
	recordOn       bool
	outputFileName string
	insertionQueue bool
	logTrace       bool
	latency        vtime.Time
	registerer     prometheus.Registerer
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		monitorOn: true,
		recordOn:  true,
	}
}

// WithoutMonitoring sets the simulation to not use monitoring.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithBrowser opens the monitor in a browser once it is started.
func (b Builder) WithBrowser() Builder {
	b.openBrowser = true
	return b
}

// WithoutRecording sets the simulation to not record traces.
func (b Builder) WithoutRecording() Builder {
	b.recordOn = false
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithInsertionQueue makes the engine keep its events in insertion queues
// rather than heaps.
func (b Builder) WithInsertionQueue() Builder {
	b.insertionQueue = true
	return b
}

// WithLogTrace logs every event and payload at debug level.
func (b Builder) WithLogTrace() Builder {
	b.logTrace = true
	return b
}

// WithLatency sets the delay of the simulated network.
func (b Builder) WithLatency(latency vtime.Time) Builder {
	b.latency = latency
	return b
}

// WithRegisterer sets where the endpoint metrics are registered. By default
// each simulation has its own registry.
func (b Builder) WithRegisterer(reg prometheus.Registerer) Builder {
	b.registerer = reg
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && b.monitorPort != 0 {
		panic("monitor port cannot be set when monitoring is disabled")
	}

	if !b.monitorOn && b.openBrowser {
		panic("browser cannot be opened when monitoring is disabled")
	}

	if !b.recordOn && b.outputFileName != "" {
		panic("output file cannot be set when recording is disabled")
	}
}

// Build builds the simulation.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		id:       xid.New().String(),
		registry: federate.NewRegistry(),
	}
	s.log = logrus.WithField("simulation", s.id)

	s.engine = sim.NewSerialEngine()
	if b.insertionQueue {
		s.engine = sim.NewSerialEngineWithQueues(
			sim.NewInsertionQueue(), sim.NewInsertionQueue())
	}

	s.engine.SetLogger(s.log)

	s.network = transport.MakeBuilder().
		WithEngine(s.engine).
		WithLatency(b.latency).
		Build("network")

	b.buildMetrics(s)
	b.buildTracers(s)

	if b.monitorOn {
		b.buildMonitor(s)
	}

	return s
}

func (b Builder) buildMetrics(s *Simulation) {
	reg := b.registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	metrics, err := federate.NewMetrics(reg)
	if err != nil {
		panic(err)
	}

	s.metrics = metrics
}

func (b Builder) buildTracers(s *Simulation) {
	if b.recordOn {
		outputPath := b.outputFileName
		if outputPath == "" {
			outputPath = "fedsim_" + s.id
		}

		s.dataRecorder = datarecording.New(outputPath)
		s.tracer = tracing.NewDBTracer(s.dataRecorder)
		s.tracers = append(s.tracers, s.tracer)
	}

	if b.logTrace {
		s.tracers = append(s.tracers, tracing.NewLogTracer(s.log))
	}

	for _, t := range s.tracers {
		tracing.CollectTrace(s.engine, s.engine, t)
		tracing.CollectTrace(s.network, s.engine, t)
	}
}

func (b Builder) buildMonitor(s *Simulation) {
	s.monitor = monitoring.NewMonitor()
	if b.monitorPort > 0 {
		s.monitor.WithPortNumber(b.monitorPort)
	}

	s.monitor.RegisterEngine(s.engine)
	s.monitor.RegisterFederates(s.registry)
	s.monitor.RegisterGatherer(s.metrics.Gatherer())

	if w, ok := s.dataRecorder.(*datarecording.SQLiteWriter); ok {
		s.monitor.RegisterRecording(datarecording.NewReaderWithDB(w.DB), w.Flush)
	}

	url := s.monitor.StartServer()
	if b.openBrowser {
		s.monitor.OpenBrowser(url)
	}
}
