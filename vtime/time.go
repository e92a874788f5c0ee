package vtime

import (
	"fmt"
	"math"
)

// Time is a tick count interpreted under the resolution of the default
// registry. Two Times always share the same resolution, so comparison and
// arithmetic work tick for tick with the ordinary Go operators.
type Time int64

// The saturated values. They are never rescaled.
const (
	MaxTime Time = math.MaxInt64
	MinTime Time = math.MinInt64
)

// TimeStep creates a Time directly from a tick count.
func TimeStep(ticks int64) Time {
	return Time(ticks)
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to or
// after o.
func (t Time) Compare(o Time) int {
	switch {
	case t < o:
		return -1
	case t > o:
		return 1
	default:
		return 0
	}
}

// Add returns t+o.
func (t Time) Add(o Time) Time {
	return t + o
}

// Sub returns t-o.
func (t Time) Sub(o Time) Time {
	return t - o
}

// IsZero reports whether t is zero.
func (t Time) IsZero() bool {
	return t == 0
}

// IsNegative reports whether t is negative or zero.
func (t Time) IsNegative() bool {
	return t <= 0
}

// IsPositive reports whether t is positive or zero.
func (t Time) IsPositive() bool {
	return t >= 0
}

// IsStrictlyNegative reports whether t is below zero.
func (t Time) IsStrictlyNegative() bool {
	return t < 0
}

// IsStrictlyPositive reports whether t is above zero.
func (t Time) IsStrictlyPositive() bool {
	return t > 0
}

// Abs returns the absolute value of t.
func Abs(t Time) Time {
	if t < 0 {
		return -t
	}

	return t
}

// Max returns the later of two times.
func Max(a, b Time) Time {
	if a < b {
		return b
	}

	return a
}

// Min returns the earlier of two times.
func Min(a, b Time) Time {
	if a > b {
		return b
	}

	return a
}

// TimeStep returns the raw tick count.
func (t Time) TimeStep() int64 {
	return int64(t)
}

// ToInteger converts t into an integer amount of unit.
func (t Time) ToInteger(unit Unit) int64 {
	return Default().ToInteger(t, unit)
}

// ToDouble converts t into a float amount of unit.
func (t Time) ToDouble(unit Unit) float64 {
	return Default().ToDouble(t, unit)
}

// To converts t into a fixed-point amount of unit.
func (t Time) To(unit Unit) Int64x64 {
	return Default().To(t, unit)
}

// GetSeconds returns t in seconds.
func (t Time) GetSeconds() float64 {
	return t.ToDouble(S)
}

// GetMilliSeconds returns t in whole milliseconds.
func (t Time) GetMilliSeconds() int64 {
	return t.ToInteger(MS)
}

// GetMicroSeconds returns t in whole microseconds.
func (t Time) GetMicroSeconds() int64 {
	return t.ToInteger(US)
}

// GetNanoSeconds returns t in whole nanoseconds.
func (t Time) GetNanoSeconds() int64 {
	return t.ToInteger(NS)
}

// GetPicoSeconds returns t in whole picoseconds.
func (t Time) GetPicoSeconds() int64 {
	return t.ToInteger(PS)
}

// GetFemtoSeconds returns t in whole femtoseconds.
func (t Time) GetFemtoSeconds() int64 {
	return t.ToInteger(FS)
}

// String formats t as a signed tick count followed by the resolution unit,
// for example "+1500ns". The result can be read back by Parse.
func (t Time) String() string {
	return fmt.Sprintf("%+d%s", int64(t), GetResolution())
}
