package vtime

import (
	"fmt"
	"math"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// conversion describes how to convert between one unit and the ticks of the
// active resolution.
type conversion struct {
	// toMul tells whether converting ticks to the unit multiplies by factor.
	toMul bool
	// fromMul tells whether converting the unit to ticks multiplies by factor.
	fromMul bool
	// factor is the integer ratio between the unit and a tick.
	factor uint64
	// timeTo is the fixed-point form of factor used by To.
	timeTo Int64x64
}

// from converts an amount of the unit into ticks, rounding to the nearest
// tick. It reports false if the result does not fit.
func (c conversion) from(value Int64x64) (Time, bool) {
	ticks, ok := value.scaleRound(c.factor, c.fromMul)

	return Time(ticks), ok
}

func (c conversion) to(t Time) Int64x64 {
	v := FromInt64(int64(t))
	if c.toMul {
		return v.Mul(c.timeTo)
	}

	return v.Div(c.timeTo)
}

type conversionTable [unitCount]conversion

func conversionsFor(unit Unit) conversionTable {
	var info conversionTable

	for i := S; i < unitCount; i++ {
		shift := unitPowers[i] - unitPowers[unit]

		c := conversion{}
		switch {
		case shift == 0:
			c.factor = 1
			c.toMul = true
			c.fromMul = true
		case shift > 0:
			c.factor = pow10(shift)
			c.toMul = true
			c.fromMul = false
		default:
			c.factor = pow10(-shift)
			c.toMul = false
			c.fromMul = true
		}

		c.timeTo = FromInt64(int64(c.factor))

		info[i] = c
	}

	return info
}

// A Rescaler holds time values outside the slot table of a Registry, such as
// the clock and queue of an engine.
type Rescaler interface {
	// PrepareRescale converts every held value with convert, which reports
	// false for values beyond the new horizon. It must not change the holder
	// nor call back into the registry. The returned commit installs the
	// converted values.
	PrepareRescale(convert func(Time) (Time, bool)) (commit func(), err error)
}

// TrackingState tells whether the registry still tracks live time values.
type TrackingState int

// The registry starts in TrackingActive and moves to Frozen after the only
// resolution change.
const (
	TrackingActive TrackingState = iota
	Frozen
)

// String returns the name of the state.
func (s TrackingState) String() string {
	switch s {
	case TrackingActive:
		return "TrackingActive"
	case Frozen:
		return "Frozen"
	default:
		return fmt.Sprintf("TrackingState(%d)", int(s))
	}
}

// Handle is a stable index into the slot table of a Registry.
type Handle uint32

type slot struct {
	value Time
	live  bool
}

// A Registry holds the active resolution and the conversion table of all the
// units.
//
// The resolution can be changed exactly once. While the registry is in the
// TrackingActive state, values wrapped by Track are stored in a slot table
// and are rescaled when the resolution changes. After the change the
// registry is Frozen: no new value is tracked and a second change is a fatal
// error.
//
// The maximum duration that can be represented is 2^63-1 ticks, so a finer
// resolution shrinks the horizon. Use Horizon to query it.
type Registry struct {
	mu    sync.RWMutex
	unit  Unit
	info  conversionTable
	state TrackingState
	slots []slot
	free  []Handle
	live  int

	nextSub     int
	subscribers []subscriber
}

type subscriber struct {
	id int
	rs Rescaler
}

// NewRegistry creates a registry using nanosecond resolution.
func NewRegistry() *Registry {
	return &Registry{unit: NS, info: conversionsFor(NS)}
}

func pow10(n int) uint64 {
	v := uint64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}

	return v
}

// Resolution returns the active unit.
func (r *Registry) Resolution() Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.unit
}

// State returns whether the registry still tracks time values.
func (r *Registry) State() TrackingState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.state
}

// Live returns the number of time values currently tracked.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.live
}

// SetResolution changes the active unit and rescales every tracked value and
// every subscribed Rescaler so that durations are preserved as closely as
// rounding allows. It can only be called once; a second call panics with
// ErrResolutionFrozen.
//
// The change is all or nothing. If a value does not fit in the new
// resolution, nothing is rescaled, the registry keeps its unit but is
// Frozen, and the call panics with ErrOverflow.
func (r *Registry) SetResolution(unit Unit) {
	if !unit.valid() {
		panic(fmt.Errorf("%w: %s", ErrUnknownUnit, unit))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Frozen {
		err := fmt.Errorf("%w: already %s, requested %s",
			ErrResolutionFrozen, r.unit, unit)
		logrus.WithField("resolution", r.unit).Error(err)
		panic(err)
	}

	old := r.unit
	info := conversionsFor(unit)
	convert := func(t Time) (Time, bool) {
		if t == MaxTime || t == MinTime {
			return t, true
		}

		return info[old].from(FromInt64(int64(t)))
	}

	values, err := r.rescaleSlotsLocked(convert, info, unit)

	var commits []func()
	for i := 0; err == nil && i < len(r.subscribers); i++ {
		var commit func()

		commit, err = r.subscribers[i].rs.PrepareRescale(convert)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrOverflow, err)
			break
		}

		commits = append(commits, commit)
	}

	r.state = Frozen
	r.subscribers = nil

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"resolution": old,
			"requested":  unit,
		}).Error(err)
		panic(err)
	}

	r.unit = unit
	r.info = info

	for i, v := range values {
		r.slots[i].value = v
	}

	for _, commit := range commits {
		commit()
	}

	logrus.WithFields(logrus.Fields{
		"from":    old,
		"to":      unit,
		"rescale": r.live,
		"holders": len(commits),
	}).Debug("time resolution changed")
}

// rescaleSlotsLocked returns the converted value of every slot without
// changing the table.
func (r *Registry) rescaleSlotsLocked(
	convert func(Time) (Time, bool),
	info conversionTable,
	unit Unit,
) ([]Time, error) {
	values := make([]Time, len(r.slots))

	for i, s := range r.slots {
		values[i] = s.value
		if !s.live {
			continue
		}

		v, ok := convert(s.value)
		if !ok {
			return nil, fmt.Errorf(
				"%w: tracked value %s s is beyond the horizon of %s s at %s resolution",
				ErrOverflow, r.info[S].to(s.value), info[S].to(MaxTime), unit)
		}

		values[i] = v
	}

	return values, nil
}

// Subscribe registers rs to be rescaled by SetResolution. The returned
// function cancels the subscription. Once the registry is Frozen there is
// nothing left to rescale and the subscription is a no-op.
func (r *Registry) Subscribe(rs Rescaler) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Frozen {
		return func() {}
	}

	r.nextSub++
	id := r.nextSub
	r.subscribers = append(r.subscribers, subscriber{id: id, rs: rs})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		for i, s := range r.subscribers {
			if s.id == id {
				r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Horizon returns the longest duration, in seconds, that the active
// resolution can represent.
func (r *Registry) Horizon() Int64x64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.toLocked(MaxTime, S)
}

// FromInteger converts an integer amount of unit into ticks. Converting to a
// coarser resolution truncates toward zero.
func (r *Registry) FromInteger(value int64, unit Unit) Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := r.info[unit]
	if !c.fromMul {
		return Time(value / int64(c.factor))
	}

	v, ok := mulInt64(value, c.factor)
	if !ok {
		panic(r.overflowErrorLocked(value, unit))
	}

	return Time(v)
}

// ToInteger converts ticks into an integer amount of unit. Converting to a
// coarser unit truncates toward zero.
func (r *Registry) ToInteger(t Time, unit Unit) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := r.info[unit]
	if !c.toMul {
		return int64(t) / int64(c.factor)
	}

	v, ok := mulInt64(int64(t), c.factor)
	if !ok {
		panic(fmt.Errorf("%w: %d ticks cannot be expressed in %s",
			ErrOverflow, int64(t), unit))
	}

	return v
}

// From converts a fixed-point amount of unit into ticks, rounding to the
// nearest tick.
func (r *Registry) From(value Int64x64, unit Unit) Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.fromLocked(value, unit)
}

func (r *Registry) fromLocked(value Int64x64, unit Unit) Time {
	t, ok := r.info[unit].from(value)
	if !ok {
		panic(r.overflowErrorLocked(value, unit))
	}

	return t
}

// TryFrom is like From but reports false instead of panicking when the
// value is beyond the horizon.
func (r *Registry) TryFrom(value Int64x64, unit Unit) (Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.info[unit].from(value)
}

// To converts ticks into a fixed-point amount of unit.
func (r *Registry) To(t Time, unit Unit) Int64x64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.toLocked(t, unit)
}

func (r *Registry) toLocked(t Time, unit Unit) Int64x64 {
	return r.info[unit].to(t)
}

// FromDouble converts a float amount of unit into ticks, rounding to the
// nearest tick.
func (r *Registry) FromDouble(value float64, unit Unit) Time {
	return r.From(FromFloat64(value), unit)
}

// ToDouble converts ticks into a float amount of unit.
func (r *Registry) ToDouble(t Time, unit Unit) float64 {
	return r.To(t, unit).Float64()
}

func (r *Registry) overflowErrorLocked(value any, unit Unit) error {
	return fmt.Errorf("%w: %v%s is beyond the horizon of %s s at %s resolution",
		ErrOverflow, value, unit, r.toLocked(MaxTime, S), r.unit)
}

func mulInt64(v int64, factor uint64) (int64, bool) {
	if factor == 1 {
		return v, true
	}

	neg := v < 0

	abs := uint64(v)
	if neg {
		abs = uint64(-v)
	}

	hi, lo := bits.Mul64(abs, factor)
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}

	if neg {
		return -int64(lo), true
	}

	return int64(lo), true
}

// Track registers a time value so that it is rescaled if the resolution
// changes. Once the registry is frozen, the value is stored inline and is
// no longer tracked.
func (r *Registry) Track(t Time) *Tracked {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Frozen {
		return &Tracked{value: t}
	}

	var h Handle
	if n := len(r.free); n > 0 {
		h = r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[h] = slot{value: t, live: true}
	} else {
		h = Handle(len(r.slots))
		r.slots = append(r.slots, slot{value: t, live: true})
	}

	r.live++

	return &Tracked{reg: r, handle: h, tracked: true}
}

func (r *Registry) load(h Handle) Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.slots[h].value
}

func (r *Registry) store(h Handle, t Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.slots[h].value = t
}

func (r *Registry) release(h Handle) Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := r.slots[h].value
	r.slots[h] = slot{}
	r.free = append(r.free, h)
	r.live--

	return v
}

var defaultRegistry atomic.Pointer[Registry]

// Default returns the process-wide registry, creating it with nanosecond
// resolution on first use.
func Default() *Registry {
	if r := defaultRegistry.Load(); r != nil {
		return r
	}

	defaultRegistry.CompareAndSwap(nil, NewRegistry())

	return defaultRegistry.Load()
}

// SetDefault replaces the process-wide registry and returns the previous
// one. Test suites use it to start from a fresh resolution.
func SetDefault(r *Registry) *Registry {
	return defaultRegistry.Swap(r)
}

// SetResolution changes the resolution of the default registry. See
// Registry.SetResolution.
func SetResolution(unit Unit) {
	Default().SetResolution(unit)
}

// GetResolution returns the resolution of the default registry.
func GetResolution() Unit {
	return Default().Resolution()
}

// Track tracks a time value in the default registry.
func Track(t Time) *Tracked {
	return Default().Track(t)
}
