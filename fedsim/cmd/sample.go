package cmd

import (
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/fedsim/sim"
	"github.com/sarchlab/fedsim/vtime"
)

var sampleSeed uint64 // Seed of the random event time

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Run the sample simulator",
	Long: "`sample` schedules a model event at 10s, an event at a random time " +
		"between 10s and 20s and an event at 30s that is cancelled, then " +
		"runs until the stop time (100s by default).",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if res := pickResolution(cmd, ""); res != "" {
			unit, err := vtime.ParseUnit(res)
			if err != nil {
				return err
			}

			vtime.SetResolution(unit)
		}

		stop := vtime.Seconds(100)
		if stopAt != "" {
			stop = vtime.MustParse(stopAt)
		}

		s := simulationBuilder(cmd).Build()
		defer s.Terminate()

		m := newSampleModel(s.GetEngine(), rand.New(rand.NewPCG(sampleSeed, 0)))
		if err := m.schedule(); err != nil {
			return err
		}

		if err := s.Run(stop); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "stopped at %s after %d events, fired: %v\n",
			s.GetEngine().Now(), s.GetEngine().EventCount(), m.fired)

		return nil
	},
}

func init() {
	sampleCmd.Flags().Uint64Var(&sampleSeed, "seed", 1, "Seed of the random event time")
	rootCmd.AddCommand(sampleCmd)
}

type sampleModel struct {
	engine *sim.SerialEngine
	rng    *rand.Rand
	log    *logrus.Entry

	fired     []string
	destroyed bool
}

func newSampleModel(engine *sim.SerialEngine, rng *rand.Rand) *sampleModel {
	return &sampleModel{
		engine: engine,
		rng:    rng,
		log:    logrus.WithField("component", "sample"),
	}
}

func (m *sampleModel) schedule() error {
	if _, err := m.engine.Schedule(vtime.Seconds(10), func() {
		m.fire("model")
	}); err != nil {
		return err
	}

	at := vtime.Seconds(10 + 10*m.rng.Float64())
	if _, err := m.engine.Schedule(at, func() {
		m.fire("random")
	}); err != nil {
		return err
	}

	m.log.WithField("at", at).Info("random event scheduled")

	cancelled, err := m.engine.Schedule(vtime.Seconds(30), func() {
		m.fire("cancelled")
	})
	if err != nil {
		return err
	}

	m.engine.Cancel(cancelled)

	m.engine.ScheduleDestroy(func() {
		m.destroyed = true
		m.log.WithField("now", m.engine.Now()).Info("model destroyed")
	})

	return nil
}

func (m *sampleModel) fire(name string) {
	m.fired = append(m.fired, name)
	m.log.WithFields(logrus.Fields{
		"event": name,
		"now":   m.engine.Now(),
	}).Info("event fired")
}
