// Package flags computes IA-32 arithmetic flags independently of any register file.
//
// Every function is pure and generic over the operand width. A computed result is
// returned as a Flags value that carries both the flag bits and the mask of bits it
// defines, so callers can restrict which flags an instruction actually writes:
//
//	res, f := flags.Add[uint8](0xFF, 0x01)
//	regs.ApplyFlags(f.Restrict(^flags.CF)) // inc leaves CF alone
package flags

import (
	"math/bits"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Flag bits of the EFLAGS register.
const (
	CF uint32 = 0x0001
	PF uint32 = 0x0004
	AF uint32 = 0x0010
	ZF uint32 = 0x0040
	SF uint32 = 0x0080
	TF uint32 = 0x0100
	IF uint32 = 0x0200
	DF uint32 = 0x0400
	OF uint32 = 0x0800

	// DefaultInt is the set of flags written by ordinary integer arithmetic.
	DefaultInt = CF | PF | AF | ZF | SF | OF
)

// Flags is a partial flags word: Value holds flag bits, Mask says which bits are defined.
type Flags struct {
	Value uint32
	Mask  uint32
}

// Restrict keeps only the flags in mask.
func (f Flags) Restrict(mask uint32) Flags {
	return Flags{Value: f.Value & mask, Mask: f.Mask & mask}
}

// With returns f with flag defined as v.
func (f Flags) With(flag uint32, v bool) Flags {
	f.Mask |= flag
	if v {
		f.Value |= flag
	} else {
		f.Value &^= flag
	}
	return f
}

// Merge overlays o on top of f.
func (f Flags) Merge(o Flags) Flags {
	return Flags{
		Value: (f.Value &^ o.Mask) | (o.Value & o.Mask),
		Mask:  f.Mask | o.Mask,
	}
}

// Has reports whether flag is defined and set.
func (f Flags) Has(flag uint32) bool {
	return f.Mask&flag != 0 && f.Value&flag != 0
}

// Bits returns the operand width of T in bits.
func Bits[T constraints.Unsigned]() uint {
	var zero T
	return uint(unsafe.Sizeof(zero)) * 8
}

// SignBit returns the most significant bit of T.
func SignBit[T constraints.Unsigned]() T {
	return T(1) << (Bits[T]() - 1)
}

// IsNegative reports whether the sign bit of v is set.
func IsNegative[T constraints.Unsigned](v T) bool {
	return v&SignBit[T]() != 0
}

// Parity reports even parity of the low byte, which is what PF encodes.
func Parity(v uint8) bool {
	return bits.OnesCount8(v)%2 == 0
}

// IntegerResult defines SF, ZF and PF for res.
func IntegerResult[T constraints.Unsigned](res T) Flags {
	var f Flags
	f = f.With(SF, IsNegative(res))
	f = f.With(ZF, res == 0)
	f = f.With(PF, Parity(uint8(res)))
	return f
}

// Bitwise defines SF, ZF and PF for res and clears CF, OF and AF.
func Bitwise[T constraints.Unsigned](res T) Flags {
	f := IntegerResult(res)
	f = f.With(CF, false)
	f = f.With(OF, false)
	f = f.With(AF, false)
	return f
}

// Add computes a+b.
func Add[T constraints.Unsigned](a, b T) (T, Flags) {
	return AddWithCarry(a, b, false)
}

// AddWithCarry computes a+b+carry.
func AddWithCarry[T constraints.Unsigned](a, b T, carry bool) (T, Flags) {
	res := a + b
	cf := res < a
	if carry {
		res++
		cf = res <= a
	}

	f := IntegerResult(res)
	f = f.With(CF, cf)
	f = f.With(OF, IsNegative((a^res)&(b^res)))
	f = f.With(AF, (a^b^res)&0x10 != 0)
	return res, f
}

// Sub computes a-b. CF reports a borrow.
func Sub[T constraints.Unsigned](a, b T) (T, Flags) {
	return SubWithBorrow(a, b, false)
}

// SubWithBorrow computes a-b-borrow.
func SubWithBorrow[T constraints.Unsigned](a, b T, borrow bool) (T, Flags) {
	res := a - b
	cf := a < b
	if borrow {
		res--
		cf = a <= b
	}

	f := IntegerResult(res)
	f = f.With(CF, cf)
	f = f.With(OF, IsNegative((a^b)&(a^res)))
	f = f.With(AF, (a^b^res)&0x10 != 0)
	return res, f
}

// String renders f in the "ODITSZAPC" style, upper case for set flags and
// '-' for flags f does not define.
func (f Flags) String() string {
	order := []struct {
		bit  uint32
		name byte
	}{
		{OF, 'o'}, {DF, 'd'}, {IF, 'i'}, {TF, 't'}, {SF, 's'},
		{ZF, 'z'}, {AF, 'a'}, {PF, 'p'}, {CF, 'c'},
	}
	ret := make([]byte, 0, len(order))
	for _, o := range order {
		switch {
		case f.Mask&o.bit == 0:
			ret = append(ret, '-')
		case f.Value&o.bit != 0:
			ret = append(ret, o.name-'a'+'A')
		default:
			ret = append(ret, o.name)
		}
	}
	return string(ret)
}
