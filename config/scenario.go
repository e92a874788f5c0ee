// Package config loads the scenarios run by the fedsim command and the
// environment overrides that go with them.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/fedsim/vtime"
)

// ErrInvalidScenario is wrapped by every validation error.
var ErrInvalidScenario = errors.New("config: invalid scenario")

// Scenario describes one co-simulation run.
//
// Times are tracked in the default registry while it still tracks values,
// so that ApplyResolution keeps their durations.
type Scenario struct {
	Name       string         `yaml:"name"`
	Resolution string         `yaml:"resolution,omitempty"`
	Latency    *vtime.Tracked `yaml:"latency,omitempty"`
	Stop       *vtime.Tracked `yaml:"stop,omitempty"`
	Federates  []Federate     `yaml:"federates"`
	Sends      []Send         `yaml:"sends,omitempty"`
	Observers  []Observer     `yaml:"observers,omitempty"`
}

// Federate is an endpoint of the simulated network.
type Federate struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address,omitempty"`
	Port    uint16 `yaml:"port,omitempty"`
}

// Addr returns the address to bind to. An empty address means any.
func (f Federate) Addr() (netip.Addr, error) {
	if f.Address == "" {
		return netip.Addr{}, nil
	}

	return netip.ParseAddr(f.Address)
}

// Send is a value an endpoint sends to another at a given time.
type Send struct {
	At    *vtime.Tracked `yaml:"at"`
	From  string         `yaml:"from"`
	To    string         `yaml:"to"`
	Topic string         `yaml:"topic"`
	Value string         `yaml:"value"`
}

// Observer is a peer federate that follows the values published by the
// simulation.
type Observer struct {
	Name      string         `yaml:"name"`
	Subscribe []string       `yaml:"subscribe"`
	Step      *vtime.Tracked `yaml:"step,omitempty"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}

	return Parse(data)
}

// Parse decodes a scenario. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}

	return &s, nil
}

// Validate checks that the scenario can be run.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScenario)
	}

	if s.Resolution != "" {
		if _, err := vtime.ParseUnit(s.Resolution); err != nil {
			return fmt.Errorf("%w: resolution: %w", ErrInvalidScenario, err)
		}
	}

	if s.Latency != nil && s.Latency.Get().IsStrictlyNegative() {
		return fmt.Errorf("%w: negative latency %s", ErrInvalidScenario, s.Latency)
	}

	if s.Stop != nil && !s.Stop.Get().IsStrictlyPositive() {
		return fmt.Errorf("%w: stop must be positive, got %s",
			ErrInvalidScenario, s.Stop)
	}

	names, err := s.validateFederates()
	if err != nil {
		return err
	}

	for i, send := range s.Sends {
		if err := validateSend(send, i, names); err != nil {
			return err
		}
	}

	return s.validateObservers()
}

func (s *Scenario) validateFederates() (map[string]bool, error) {
	if len(s.Federates) == 0 {
		return nil, fmt.Errorf("%w: at least one federate required",
			ErrInvalidScenario)
	}

	names := make(map[string]bool)
	bound := make(map[netip.AddrPort]bool)

	for i, f := range s.Federates {
		prefix := fmt.Sprintf("federates[%d]", i)

		if f.Name == "" {
			return nil, fmt.Errorf("%w: %s: name is required",
				ErrInvalidScenario, prefix)
		}

		if names[f.Name] {
			return nil, fmt.Errorf("%w: %s: duplicate name %q",
				ErrInvalidScenario, prefix, f.Name)
		}

		names[f.Name] = true

		addr, err := f.Addr()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidScenario, prefix, err)
		}

		if !addr.IsValid() || f.Port == 0 {
			continue
		}

		ap := netip.AddrPortFrom(addr, f.Port)
		if bound[ap] {
			return nil, fmt.Errorf("%w: %s: %s already used",
				ErrInvalidScenario, prefix, ap)
		}

		bound[ap] = true
	}

	return names, nil
}

func validateSend(send Send, idx int, names map[string]bool) error {
	prefix := fmt.Sprintf("sends[%d]", idx)

	if send.At == nil {
		return fmt.Errorf("%w: %s: at is required", ErrInvalidScenario, prefix)
	}

	if send.At.Get().IsStrictlyNegative() {
		return fmt.Errorf("%w: %s: negative time %s",
			ErrInvalidScenario, prefix, send.At)
	}

	if !names[send.From] {
		return fmt.Errorf("%w: %s: unknown sender %q",
			ErrInvalidScenario, prefix, send.From)
	}

	if !names[send.To] {
		return fmt.Errorf("%w: %s: unknown destination %q",
			ErrInvalidScenario, prefix, send.To)
	}

	return nil
}

func (s *Scenario) validateObservers() error {
	names := map[string]bool{s.Name: true}

	for i, o := range s.Observers {
		prefix := fmt.Sprintf("observers[%d]", i)

		if o.Name == "" {
			return fmt.Errorf("%w: %s: name is required", ErrInvalidScenario, prefix)
		}

		if names[o.Name] {
			return fmt.Errorf("%w: %s: duplicate federate name %q",
				ErrInvalidScenario, prefix, o.Name)
		}

		names[o.Name] = true

		if o.Step != nil && !o.Step.Get().IsStrictlyPositive() {
			return fmt.Errorf("%w: %s: step must be positive, got %s",
				ErrInvalidScenario, prefix, o.Step)
		}
	}

	return nil
}

// ApplyResolution sets the resolution of the default registry if the
// scenario names one. The tracked times of the scenario are rescaled. The
// resolution can only be set once per process; a second attempt is fatal.
func (s *Scenario) ApplyResolution() {
	if s.Resolution == "" {
		return
	}

	unit, err := vtime.ParseUnit(s.Resolution)
	if err != nil {
		panic(err)
	}

	vtime.SetResolution(unit)
}

// StopTime returns the stop time, or zero when the scenario runs until no
// event is left.
func (s *Scenario) StopTime() vtime.Time {
	return getOrZero(s.Stop)
}

// LatencyTime returns the network latency.
func (s *Scenario) LatencyTime() vtime.Time {
	return getOrZero(s.Latency)
}

// StepTime returns the time step of the observer, one second by default.
func (o Observer) StepTime() vtime.Time {
	if o.Step == nil {
		return vtime.Seconds(1)
	}

	return o.Step.Get()
}

// Release stops tracking the times of the scenario.
func (s *Scenario) Release() {
	for _, t := range s.trackedTimes() {
		t.Release()
	}
}

func (s *Scenario) trackedTimes() []*vtime.Tracked {
	times := []*vtime.Tracked{s.Latency, s.Stop}

	for _, send := range s.Sends {
		times = append(times, send.At)
	}

	for _, o := range s.Observers {
		times = append(times, o.Step)
	}

	tracked := times[:0]
	for _, t := range times {
		if t != nil {
			tracked = append(tracked, t)
		}
	}

	return tracked
}

func getOrZero(t *vtime.Tracked) vtime.Time {
	if t == nil {
		return 0
	}

	return t.Get()
}
