package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/fedsim/config"
	"github.com/sarchlab/fedsim/fabric"
	"github.com/sarchlab/fedsim/federate"
	"github.com/sarchlab/fedsim/simulation"
	"github.com/sarchlab/fedsim/vtime"
)

// errObserversNeedStop is returned when a scenario with observers has no stop
// time. An idle gated engine would otherwise wait for its peers forever.
var errObserversNeedStop = errors.New("observers require a stop time")

var configPath string // Path to the scenario file

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a co-simulation scenario",
	Long: "`run --config scenario.yaml` builds the endpoints of the scenario, " +
		"joins an in-process fabric together with the observers of the " +
		"scenario, and runs until the stop time or until no event is left.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := config.Load(configPath)
		if err != nil {
			return err
		}
		defer s.Release()

		s.Resolution = pickResolution(cmd, s.Resolution)

		if err := s.Validate(); err != nil {
			return err
		}

		s.ApplyResolution()

		if stopAt != "" {
			s.Stop = vtime.Track(vtime.MustParse(stopAt))
		}

		return runScenario(cmd.Context(), s, simulationBuilder(cmd),
			cmd.OutOrStdout())
	},
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to the scenario YAML file")
	_ = runCmd.MarkFlagRequired("config")
	rootCmd.AddCommand(runCmd)
}

type observation struct {
	observer string
	update   federate.Update
}

// runScenario runs a validated scenario and prints a summary to out.
func runScenario(
	ctx context.Context,
	s *config.Scenario,
	b simulation.Builder,
	out io.Writer,
) error {
	stop := s.StopTime()
	if len(s.Observers) > 0 && !stop.IsStrictlyPositive() {
		return errObserversNeedStop
	}

	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sm := b.WithLatency(s.LatencyTime()).Build()
	defer sm.Terminate()

	broker := fabric.NewBroker()

	client, err := broker.Join(s.Name)
	if err != nil {
		return err
	}

	sm.Attach(ctx, client)

	if err := startFederates(sm, s); err != nil {
		return err
	}

	if err := scheduleSends(sm, s); err != nil {
		return err
	}

	observed, wait, err := startObservers(ctx, broker, s.Observers, stop)
	if err != nil {
		return err
	}

	runErr := sm.Run(stop)
	sm.Terminate()

	if runErr != nil {
		cancel()
	}

	obsErr := wait()

	for _, o := range observed() {
		fmt.Fprintf(out, "%s observed %s=%s at %s\n",
			o.observer, o.update.Key, o.update.Value, o.update.Time)
	}

	fmt.Fprintf(out, "%s stopped at %s after %d events, %d rounds\n",
		s.Name, sm.GetEngine().Now(), sm.GetEngine().EventCount(),
		broker.Rounds())

	return errors.Join(runErr, obsErr)
}

func startFederates(sm *simulation.Simulation, s *config.Scenario) error {
	for _, f := range s.Federates {
		addr, err := f.Addr()
		if err != nil {
			return err
		}

		app := sm.NewFederate(f.Name, addr, f.Port)
		if err := app.StartApplication(); err != nil {
			return err
		}
	}

	return nil
}

func scheduleSends(sm *simulation.Simulation, s *config.Scenario) error {
	engine := sm.GetEngine()
	registry := sm.GetRegistry()

	for _, send := range s.Sends {
		from, err := registry.Lookup(send.From)
		if err != nil {
			return err
		}

		_, err = engine.Schedule(send.At.Get().Sub(engine.Now()), func() {
			if err := from.SendTo(send.To, send.Topic, send.Value); err != nil {
				logrus.WithFields(logrus.Fields{
					"from":  send.From,
					"to":    send.To,
					"topic": send.Topic,
				}).WithError(err).Warn("send failed")
			}
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// startObservers joins the observers to the broker and runs them on their
// own goroutines. The returned wait blocks until they are all done.
func startObservers(
	ctx context.Context,
	broker *fabric.Broker,
	observers []config.Observer,
	stop vtime.Time,
) (func() []observation, func() error, error) {
	var (
		mu      sync.Mutex
		seen    []observation
		errs    []error
		wg      sync.WaitGroup
		clients []*fabric.Client
	)

	for _, o := range observers {
		c, err := joinObserver(broker, o)
		if err != nil {
			for _, joined := range clients {
				_ = joined.Finish()
			}

			return nil, nil, err
		}

		clients = append(clients, c)
	}

	for i, o := range observers {
		c := clients[i]
		name := o.Name
		step := o.StepTime()

		wg.Add(1)

		go func() {
			defer wg.Done()

			err := fabric.RunObserver(ctx, c, step, stop, func(u federate.Update) {
				logrus.WithFields(logrus.Fields{
					"observer": name,
					"key":      u.Key,
					"value":    u.Value,
					"time":     u.Time,
				}).Info("observed")

				mu.Lock()
				seen = append(seen, observation{observer: name, update: u})
				mu.Unlock()
			})

			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("observer %q: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	observed := func() []observation {
		mu.Lock()
		defer mu.Unlock()

		return append([]observation(nil), seen...)
	}

	wait := func() error {
		wg.Wait()

		mu.Lock()
		defer mu.Unlock()

		return errors.Join(errs...)
	}

	return observed, wait, nil
}

func joinObserver(broker *fabric.Broker, o config.Observer) (*fabric.Client, error) {
	c, err := broker.Join(o.Name)
	if err != nil {
		return nil, err
	}

	for _, key := range o.Subscribe {
		if err := c.Subscribe(key); err != nil {
			_ = c.Finish()
			return nil, err
		}
	}

	return c, nil
}
