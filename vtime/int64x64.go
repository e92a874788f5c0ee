package vtime

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// Int64x64 is a signed fixed-point number with 64 integer bits and 64
// fractional bits. The value is hi + lo/2^64, where hi is the floor of the
// value.
//
// Int64x64 carries sub-tick precision through unit conversions. Converting it
// back to ticks always rounds to the nearest integer, with halves rounded
// away from zero.
type Int64x64 struct {
	hi int64
	lo uint64
}

var (
	two64  = new(big.Int).Lsh(big.NewInt(1), 64)
	half64 = new(big.Int).Lsh(big.NewInt(1), 63)
	mask64 = new(big.Int).Sub(two64, big.NewInt(1))
)

// NewInt64x64 creates a fixed-point number from its integer (floor) part and
// its fractional part in units of 2^-64.
func NewInt64x64(hi int64, lo uint64) Int64x64 {
	return Int64x64{hi: hi, lo: lo}
}

// FromInt64 converts an integer into a fixed-point number.
func FromInt64(v int64) Int64x64 {
	return Int64x64{hi: v}
}

// FromFloat64 converts a float into a fixed-point number. The conversion is
// exact down to 2^-64. It panics if the value is not finite or does not fit
// in 64 integer bits.
func FromFloat64(f float64) Int64x64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		panic(fmt.Errorf("%w: %v", ErrOverflow, f))
	}

	bf := new(big.Float).SetFloat64(f)
	bf.SetMantExp(bf, 64)

	v, _ := bf.Int(nil)

	return mustFromBig(v)
}

func fromRat(r *big.Rat) (Int64x64, bool) {
	v := new(big.Int).Mul(r.Num(), two64)
	v.Quo(v, r.Denom())

	return fromBig(v)
}

func fromBig(v *big.Int) (Int64x64, bool) {
	lo := new(big.Int).And(v, mask64).Uint64()

	hi := new(big.Int).Rsh(v, 64)
	if !hi.IsInt64() {
		return Int64x64{}, false
	}

	return Int64x64{hi: hi.Int64(), lo: lo}, true
}

func mustFromBig(v *big.Int) Int64x64 {
	x, ok := fromBig(v)
	if !ok {
		panic(fmt.Errorf("%w: %s", ErrOverflow, v.String()))
	}

	return x
}

func (x Int64x64) toBig() *big.Int {
	v := big.NewInt(x.hi)
	v.Lsh(v, 64)

	return v.Add(v, new(big.Int).SetUint64(x.lo))
}

// High returns the integer part of the number, rounded toward negative
// infinity.
func (x Int64x64) High() int64 {
	return x.hi
}

// Low returns the fractional part of the number in units of 2^-64.
func (x Int64x64) Low() uint64 {
	return x.lo
}

// Float64 returns the nearest float64 value.
func (x Int64x64) Float64() float64 {
	bf := new(big.Float).SetInt(x.toBig())
	bf.SetMantExp(bf, -64)

	f, _ := bf.Float64()

	return f
}

// Add returns x+y. It panics on overflow.
func (x Int64x64) Add(y Int64x64) Int64x64 {
	return mustFromBig(new(big.Int).Add(x.toBig(), y.toBig()))
}

// Sub returns x-y. It panics on overflow.
func (x Int64x64) Sub(y Int64x64) Int64x64 {
	return mustFromBig(new(big.Int).Sub(x.toBig(), y.toBig()))
}

// Neg returns -x.
func (x Int64x64) Neg() Int64x64 {
	return mustFromBig(new(big.Int).Neg(x.toBig()))
}

// Mul returns x*y, truncating the bits below 2^-64. It panics on overflow.
func (x Int64x64) Mul(y Int64x64) Int64x64 {
	p := new(big.Int).Mul(x.toBig(), y.toBig())
	p.Rsh(p, 64)

	return mustFromBig(p)
}

// Div returns x/y, truncating toward zero at 2^-64. It panics if y is zero
// or on overflow.
func (x Int64x64) Div(y Int64x64) Int64x64 {
	d := y.toBig()
	if d.Sign() == 0 {
		panic("vtime: division by zero")
	}

	n := new(big.Int).Lsh(x.toBig(), 64)
	n.Quo(n, d)

	return mustFromBig(n)
}

// Compare returns -1, 0 or +1 depending on whether x is less than, equal to
// or greater than y.
func (x Int64x64) Compare(y Int64x64) int {
	switch {
	case x.hi < y.hi:
		return -1
	case x.hi > y.hi:
		return 1
	case x.lo < y.lo:
		return -1
	case x.lo > y.lo:
		return 1
	default:
		return 0
	}
}

// Round returns the nearest integer, rounding halves away from zero. The
// second return value is false if the result does not fit in an int64.
func (x Int64x64) Round() (int64, bool) {
	return roundBig(x.toBig())
}

// scaleRound multiplies x by factor, or divides it when mul is false, and
// rounds the result like Round. Unlike Mul and Div it never panics; the
// second return value is false if the result does not fit in an int64.
func (x Int64x64) scaleRound(factor uint64, mul bool) (int64, bool) {
	v := x.toBig()
	f := new(big.Int).SetUint64(factor)

	if mul {
		v.Mul(v, f)
	} else {
		v.Quo(v, f)
	}

	return roundBig(v)
}

// roundBig rounds a value in units of 2^-64 to the nearest integer.
func roundBig(v *big.Int) (int64, bool) {
	neg := v.Sign() < 0
	if neg {
		v.Neg(v)
	}

	v.Add(v, half64)
	v.Rsh(v, 64)

	if neg {
		v.Neg(v)
	}

	if !v.IsInt64() {
		return 0, false
	}

	return v.Int64(), true
}

// String formats the number as a decimal.
func (x Int64x64) String() string {
	return strconv.FormatFloat(x.Float64(), 'g', -1, 64)
}
