package vtime

// FromInteger converts an integer amount of unit into a Time.
func FromInteger(value int64, unit Unit) Time {
	return Default().FromInteger(value, unit)
}

// FromDouble converts a float amount of unit into a Time, rounding to the
// nearest tick.
func FromDouble(value float64, unit Unit) Time {
	return Default().FromDouble(value, unit)
}

// From converts a fixed-point amount of unit into a Time, rounding to the
// nearest tick.
func From(value Int64x64, unit Unit) Time {
	return Default().From(value, unit)
}

// TryFrom is like From but reports false instead of panicking when the value
// is beyond the horizon of the active resolution.
func TryFrom(value Int64x64, unit Unit) (Time, bool) {
	return Default().TryFrom(value, unit)
}

// Seconds creates a Time from seconds.
func Seconds(v float64) Time { return FromDouble(v, S) }

// MilliSeconds creates a Time from milliseconds.
func MilliSeconds(v float64) Time { return FromDouble(v, MS) }

// MicroSeconds creates a Time from microseconds.
func MicroSeconds(v float64) Time { return FromDouble(v, US) }

// NanoSeconds creates a Time from nanoseconds.
func NanoSeconds(v float64) Time { return FromDouble(v, NS) }

// PicoSeconds creates a Time from picoseconds.
func PicoSeconds(v float64) Time { return FromDouble(v, PS) }

// FemtoSeconds creates a Time from femtoseconds.
func FemtoSeconds(v float64) Time { return FromDouble(v, FS) }

// SecondsFixed creates a Time from a fixed-point amount of seconds.
func SecondsFixed(v Int64x64) Time { return From(v, S) }

// MilliSecondsFixed creates a Time from a fixed-point amount of milliseconds.
func MilliSecondsFixed(v Int64x64) Time { return From(v, MS) }

// MicroSecondsFixed creates a Time from a fixed-point amount of microseconds.
func MicroSecondsFixed(v Int64x64) Time { return From(v, US) }

// NanoSecondsFixed creates a Time from a fixed-point amount of nanoseconds.
func NanoSecondsFixed(v Int64x64) Time { return From(v, NS) }

// PicoSecondsFixed creates a Time from a fixed-point amount of picoseconds.
func PicoSecondsFixed(v Int64x64) Time { return From(v, PS) }

// FemtoSecondsFixed creates a Time from a fixed-point amount of femtoseconds.
func FemtoSecondsFixed(v Int64x64) Time { return From(v, FS) }
