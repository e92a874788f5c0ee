// Package cmd provides the command-line interface of fedsim.
package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/fedsim/config"
	"github.com/sarchlab/fedsim/sim"
	"github.com/sarchlab/fedsim/simulation"
)

var (
	logLevel    string   // Log verbosity level
	envFiles    []string // .env files to load
	resolution  string   // Time resolution unit
	stopAt      string   // Stop time, such as "100s"
	monitorOn   bool     // Serve the monitor
	monitorPort int      // Port of the monitor
	openBrowser bool     // Open the monitor in a browser
	recordOn    bool     // Record traces to SQLite
	outputFile  string   // Name of the recording
	logTrace    bool     // Log every event and payload
	uniqueIDs   bool     // Use xids for events

	env config.Env
)

// rootCmd is the base command of the CLI.
var rootCmd = &cobra.Command{
	Use:   "fedsim",
	Short: "Virtual-time network simulation bridged into a co-simulation fabric",
	Long: `fedsim runs a discrete-event network simulation whose endpoints ` +
		`exchange "topic=value" payloads and republish what they receive ` +
		`into a co-simulation fabric shared with peer federates.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error

		env, err = config.LoadEnv(envFiles...)
		if err != nil {
			return err
		}

		if uniqueIDs {
			sim.UseIDs(sim.UniqueIDs)
		}

		return setupLogging(cmd)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&logLevel, "log-level", "info",
		"Log level (trace, debug, info, warn, error, fatal, panic)")
	flags.StringSliceVar(&envFiles, "env-file", nil,
		"Environment files to load (default ./.env if present)")
	flags.StringVar(&resolution, "resolution", "",
		"Time resolution (s, ms, us, ns, ps, fs)")
	flags.StringVar(&stopAt, "stop", "", "Virtual time to stop at, such as 100s")
	flags.BoolVar(&monitorOn, "monitor", false, "Serve the monitor over HTTP")
	flags.IntVar(&monitorPort, "monitor-port", 0, "Port of the monitor (random if 0)")
	flags.BoolVar(&openBrowser, "open-browser", false, "Open the monitor in a browser")
	flags.BoolVar(&recordOn, "record", false, "Record events and payloads to SQLite")
	flags.StringVar(&outputFile, "output", "", "Name of the recording, without extension")
	flags.BoolVar(&logTrace, "log-trace", false, "Log every event and payload at debug level")
	flags.BoolVar(&uniqueIDs, "unique-ids", false, "Identify events with xids rather than sequence numbers")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if !cmd.Flags().Changed("log-level") && env.HasLogLevel {
		logrus.SetLevel(env.LogLevel)
		return nil
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}

	logrus.SetLevel(level)

	return nil
}

// pickResolution returns the resolution to use. The flag wins over the
// given default, which wins over the environment.
func pickResolution(cmd *cobra.Command, fallback string) string {
	if cmd.Flags().Changed("resolution") {
		return resolution
	}

	if fallback != "" {
		return fallback
	}

	return env.Resolution
}

func simulationBuilder(cmd *cobra.Command) simulation.Builder {
	b := simulation.MakeBuilder()

	if !monitorOn {
		b = b.WithoutMonitoring()
	} else {
		port := monitorPort
		if !cmd.Flags().Changed("monitor-port") && env.MonitorPort != 0 {
			port = env.MonitorPort
		}

		b = b.WithMonitorPort(port)

		if openBrowser {
			b = b.WithBrowser()
		}
	}

	if !recordOn {
		b = b.WithoutRecording()
	} else if outputFile != "" {
		b = b.WithOutputFileName(outputFile)
	}

	if logTrace {
		b = b.WithLogTrace()
	}

	return b
}
