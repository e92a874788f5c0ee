package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/fedsim/vtime"
)

// Environment variables read by ReadEnv.
const (
	EnvLogLevel    = "FEDSIM_LOG_LEVEL"
	EnvMonitorPort = "FEDSIM_MONITOR_PORT"
	EnvResolution  = "FEDSIM_RESOLUTION"
)

// Env holds the settings that can come from the environment. Zero values
// mean unset.
type Env struct {
	LogLevel    logrus.Level
	HasLogLevel bool
	MonitorPort int
	Resolution  string
}

// LoadEnv loads the given .env files, or ./.env if it exists and no file is
// given, and then reads the environment. Variables already set win over the
// files.
func LoadEnv(files ...string) (Env, error) {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			files = []string{".env"}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Env{}, fmt.Errorf("config: %w", err)
		}
	}

	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return Env{}, fmt.Errorf("config: loading env files: %w", err)
		}
	}

	return ReadEnv()
}

// ReadEnv reads the FEDSIM_* variables.
func ReadEnv() (Env, error) {
	env := Env{}

	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		level, err := logrus.ParseLevel(v)
		if err != nil {
			return Env{}, fmt.Errorf("config: %s: %w", EnvLogLevel, err)
		}

		env.LogLevel = level
		env.HasLogLevel = true
	}

	if v, ok := os.LookupEnv(EnvMonitorPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 65535 {
			return Env{}, fmt.Errorf("config: %s: invalid port %q", EnvMonitorPort, v)
		}

		env.MonitorPort = port
	}

	if v, ok := os.LookupEnv(EnvResolution); ok && v != "" {
		if _, err := vtime.ParseUnit(v); err != nil {
			return Env{}, fmt.Errorf("config: %s: %w", EnvResolution, err)
		}

		env.Resolution = v
	}

	return env, nil
}
