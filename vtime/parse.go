package vtime

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

var timePattern = regexp.MustCompile(`^([+-]?(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+))(s|ms|us|ns|ps|fs)$`)

// Parse reads a signed decimal number immediately followed by a unit suffix,
// such as "100s", "-2.5ms" or "+1500ns". Whitespace is not allowed. The
// decimal is read exactly and rounded to the nearest tick. A value beyond the
// horizon of the active resolution is reported as ErrOverflow.
func Parse(s string) (Time, error) {
	m := timePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}

	unit, err := ParseUnit(m[2])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}

	number := strings.TrimPrefix(m[1], "+")
	if strings.HasPrefix(number, ".") {
		number = "0" + number
	} else if strings.HasPrefix(number, "-.") {
		number = "-0" + number[1:]
	}

	if strings.HasSuffix(number, ".") {
		number += "0"
	}

	r, ok := new(big.Rat).SetString(number)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}

	x, ok := fromRat(r)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrOverflow, s)
	}

	t, ok := TryFrom(x, unit)
	if !ok {
		return 0, fmt.Errorf("%w: %q is beyond the horizon of %s s",
			ErrOverflow, s, Default().Horizon())
	}

	return t, nil
}

// MustParse is like Parse but treats a malformed string as a fatal error.
func MustParse(s string) Time {
	t, err := Parse(s)
	if err != nil {
		logrus.WithField("input", s).Error(err)
		panic(err)
	}

	return t
}
