// Package vtime provides the virtual time representation used by the
// simulator. A Time is a signed 64-bit tick count whose meaning depends on
// the process-wide resolution held by a Registry.
package vtime

import "fmt"

// Unit is a unit of time that the resolution or a conversion can use.
type Unit int

// The supported units, from the coarsest to the finest.
const (
	S Unit = iota
	MS
	US
	NS
	PS
	FS
	unitCount
)

var unitSuffixes = [unitCount]string{"s", "ms", "us", "ns", "ps", "fs"}

// unitPowers holds the negative power of ten of each unit relative to a
// second.
var unitPowers = [unitCount]int{0, 3, 6, 9, 12, 15}

// String returns the suffix of the unit, such as "ns".
func (u Unit) String() string {
	if !u.valid() {
		return fmt.Sprintf("Unit(%d)", int(u))
	}

	return unitSuffixes[u]
}

func (u Unit) valid() bool {
	return u >= S && u < unitCount
}

// ParseUnit converts a unit suffix into a Unit.
func ParseUnit(s string) (Unit, error) {
	for u, suffix := range unitSuffixes {
		if suffix == s {
			return Unit(u), nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, s)
}
