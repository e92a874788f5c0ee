package vtime

import "gopkg.in/yaml.v3"

// Tracked holds a Time that survives a change of resolution. Values created
// while the registry is TrackingActive live in the registry's slot table and
// are rescaled by SetResolution. Values created after the registry is Frozen
// are stored inline.
//
// A Tracked must not be copied after it is created; pass it by pointer.
type Tracked struct {
	reg     *Registry
	handle  Handle
	value   Time
	tracked bool
}

// Get returns the current tick value.
func (t *Tracked) Get() Time {
	if !t.tracked {
		return t.value
	}

	return t.reg.load(t.handle)
}

// Set replaces the tick value.
func (t *Tracked) Set(v Time) {
	if !t.tracked {
		t.value = v
		return
	}

	t.reg.store(t.handle, v)
}

// IsTracked tells whether the value is still held in a registry slot.
func (t *Tracked) IsTracked() bool {
	return t.tracked
}

// Release returns the slot to the registry. The value stays readable but is
// no longer rescaled. Releasing twice is a no-op.
func (t *Tracked) Release() {
	if !t.tracked {
		return
	}

	t.value = t.reg.release(t.handle)
	t.tracked = false
	t.reg = nil
}

// String formats the current value.
func (t *Tracked) String() string {
	return t.Get().String()
}

// UnmarshalYAML parses a time string such as "100s" and tracks the result in
// the default registry.
func (t *Tracked) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	v, err := Parse(s)
	if err != nil {
		return err
	}

	*t = *Track(v)

	return nil
}

// MarshalYAML writes the value in the form accepted by Parse.
func (t *Tracked) MarshalYAML() (any, error) {
	return t.Get().String(), nil
}
