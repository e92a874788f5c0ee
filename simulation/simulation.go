// Package simulation puts together the engine, the network, the endpoints
// and the supporting services of one federate.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/fedsim/datarecording"
	"github.com/sarchlab/fedsim/federate"
	"github.com/sarchlab/fedsim/monitoring"
	"github.com/sarchlab/fedsim/sim"
	"github.com/sarchlab/fedsim/tracing"
	"github.com/sarchlab/fedsim/transport"
	"github.com/sarchlab/fedsim/vtime"
)

// ErrNotAttached is returned when publishing before joining a fabric.
var ErrNotAttached = errors.New("simulation: not attached to a fabric")

// A Simulation provides the service requires to define a simulation.
type Simulation struct {
	id string

	engine   *sim.SerialEngine
	network  *transport.Network
	registry *federate.Registry
	metrics  *federate.Metrics

	dataRecorder datarecording.DataRecorder
	tracer       *tracing.DBTracer
	tracers      []tracing.Tracer
	monitor      *monitoring.Monitor

	fabric       federate.Fabric
	synchronizer *federate.Synchronizer

	terminated bool
	log        *logrus.Entry
}

// ID returns the unique id of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// GetEngine returns the engine used in the simulation.
func (s *Simulation) GetEngine() *sim.SerialEngine {
	return s.engine
}

// GetNetwork returns the simulated network.
func (s *Simulation) GetNetwork() *transport.Network {
	return s.network
}

// GetRegistry returns the registry of the endpoints.
func (s *Simulation) GetRegistry() *federate.Registry {
	return s.registry
}

// GetMetrics returns the endpoint metrics.
func (s *Simulation) GetMetrics() *federate.Metrics {
	return s.metrics
}

// GetDataRecorder returns the data recorder used in the simulation. It is
// nil when recording is disabled.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// GetMonitor returns the monitor used in the simulation.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// GetTracer returns the tracer writing to the data recorder.
func (s *Simulation) GetTracer() *tracing.DBTracer {
	return s.tracer
}

// GetSynchronizer returns the synchronizer created by Attach.
func (s *Simulation) GetSynchronizer() *federate.Synchronizer {
	return s.synchronizer
}

// NewFederate creates an endpoint bound to addr:port and registers it under
// name. Received values are republished into the attached fabric.
func (s *Simulation) NewFederate(
	name string,
	addr netip.Addr,
	port uint16,
) *federate.Application {
	app := federate.MakeBuilder().
		WithEngine(s.engine).
		WithNetwork(s.network).
		WithFabric(s).
		WithRegistry(s.registry).
		WithMetrics(s.metrics).
		WithLocal(addr, port).
		WithLogger(s.log).
		Build(name)

	for _, t := range s.tracers {
		tracing.CollectTrace(app, s.engine, t)
	}

	return app
}

// Publish forwards a value to the attached fabric.
func (s *Simulation) Publish(topic, value string) error {
	if s.fabric == nil {
		return ErrNotAttached
	}

	return s.fabric.Publish(topic, value)
}

// Attach joins the simulation to a fabric. From then on the engine only
// advances as far as the fabric grants, and the simulation leaves the
// federation when it terminates.
func (s *Simulation) Attach(
	ctx context.Context,
	fabric federate.Fabric,
) *federate.Synchronizer {
	if s.fabric != nil {
		panic("simulation: already attached to a fabric")
	}

	s.fabric = fabric
	s.synchronizer = federate.NewSynchronizer(ctx, fabric)

	s.engine.SetTimeGate(s.synchronizer)
	s.engine.RegisterSimulationEndHandler(s.synchronizer)

	return s.synchronizer
}

// Run runs the engine. A positive stop time ends the run at that time.
// Progress towards the stop time is shown by the monitor.
func (s *Simulation) Run(stop vtime.Time) error {
	if stop.IsStrictlyPositive() {
		if _, err := s.engine.Stop(stop.Sub(s.engine.Now())); err != nil {
			return fmt.Errorf("simulation: stop at %s: %w", stop, err)
		}
	}

	if s.monitor != nil && stop.IsStrictlyPositive() {
		bar := s.monitor.CreateProgressBar("virtual time",
			uint64(stop.TimeStep()))
		defer s.monitor.CompleteProgressBar(bar)

		progress := &progressHook{bar: bar}
		s.engine.AcceptHook(progress)
		defer s.engine.RemoveHook(progress)
	}

	s.log.WithField("stop", stop).Info("simulation started")

	err := s.engine.Run()

	s.log.WithFields(logrus.Fields{
		"now":    s.engine.Now(),
		"events": s.engine.EventCount(),
	}).Info("simulation ended")

	return err
}

// Terminate ends the simulation: the end handlers run, the destroy
// callbacks run, and the recorded data is written. Terminating twice is a
// no-op.
func (s *Simulation) Terminate() {
	if s.terminated {
		return
	}

	s.terminated = true

	s.engine.Finished()
	s.engine.Destroy()

	if s.tracer != nil {
		s.tracer.Terminate()
	}

	if s.dataRecorder != nil {
		if err := s.dataRecorder.Close(); err != nil {
			s.log.WithError(err).Warn("cannot close data recorder")
		}
	}

	if s.monitor != nil {
		if err := s.monitor.StopServer(); err != nil {
			s.log.WithError(err).Warn("cannot stop monitor")
		}
	}
}

type progressHook struct {
	bar *monitoring.ProgressBar
}

func (h *progressHook) Func(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosAfterEvent {
		return
	}

	t := ctx.Item.(sim.Event).Time()
	if se, ok := ctx.Detail.(*sim.ScheduledEvent); ok {
		t = se.Time()
	}

	h.bar.SetFinished(uint64(t.TimeStep()))
}
