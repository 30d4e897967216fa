package emu

import (
	"encoding/binary"
	"fmt"
	"math"
)

// XMMReg is a 128-bit SIMD register stored little-endian.
type XMMReg [16]byte

// XMMFromU32 zero-extends v to 128 bits.
func XMMFromU32(v uint32) XMMReg {
	var r XMMReg
	binary.LittleEndian.PutUint32(r[:], v)
	return r
}

// XMMFromU64 zero-extends v to 128 bits.
func XMMFromU64(v uint64) XMMReg {
	var r XMMReg
	binary.LittleEndian.PutUint64(r[:], v)
	return r
}

// XMMFromHalves builds a register from its low and high qwords.
func XMMFromHalves(low, high uint64) XMMReg {
	var r XMMReg
	binary.LittleEndian.PutUint64(r[:8], low)
	binary.LittleEndian.PutUint64(r[8:], high)
	return r
}

func checkLane(width, index int) {
	switch width {
	case 1, 2, 4, 8, 16:
	default:
		panic(InvalidRegisterSizeError{Width: uint8(width * 8)})
	}
	if index < 0 || index >= 16/width {
		panic(fmt.Sprintf("xmm lane %d out of range for width %d", index, width))
	}
}

// Lane returns the unsigned lane at index for a width of 1, 2, 4 or 8 bytes.
func (r *XMMReg) Lane(width, index int) uint64 {
	checkLane(width, index)
	b := r[index*width : (index+1)*width]
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	panic(InvalidRegisterSizeError{Width: uint8(width * 8)})
}

// SetLane replaces one lane, leaving the others untouched.
func (r *XMMReg) SetLane(width, index int, v uint64) {
	checkLane(width, index)
	b := r[index*width : (index+1)*width]
	switch width {
	case 1:
		b[0] = uint8(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	default:
		panic(InvalidRegisterSizeError{Width: uint8(width * 8)})
	}
}

// SignedLane returns a lane sign-extended to 64 bits.
func (r *XMMReg) SignedLane(width, index int) int64 {
	v := r.Lane(width, index)
	shift := 64 - uint(width*8)
	return int64(v<<shift) >> shift
}

// Float32Lane interprets a 4-byte lane as a float32.
func (r *XMMReg) Float32Lane(index int) float32 {
	return math.Float32frombits(uint32(r.Lane(4, index)))
}

// SetFloat32Lane stores a float32 into a 4-byte lane.
func (r *XMMReg) SetFloat32Lane(index int, v float32) {
	r.SetLane(4, index, uint64(math.Float32bits(v)))
}

// Float64Lane interprets an 8-byte lane as a float64.
func (r *XMMReg) Float64Lane(index int) float64 {
	return math.Float64frombits(r.Lane(8, index))
}

// SetFloat64Lane stores a float64 into an 8-byte lane.
func (r *XMMReg) SetFloat64Lane(index int, v float64) {
	r.SetLane(8, index, math.Float64bits(v))
}

// Lowest returns lane 0 at the given width.
func (r *XMMReg) Lowest(width int) uint64 {
	return r.Lane(width, 0)
}

// Highest returns the last lane at the given width.
func (r *XMMReg) Highest(width int) uint64 {
	return r.Lane(width, 16/width-1)
}

// Low returns the low qword.
func (r XMMReg) Low() uint64 {
	return binary.LittleEndian.Uint64(r[:8])
}

// High returns the high qword.
func (r XMMReg) High() uint64 {
	return binary.LittleEndian.Uint64(r[8:])
}

// IsZero reports whether all 128 bits are clear.
func (r XMMReg) IsZero() bool {
	return r == XMMReg{}
}

// String renders the register as 32 hex digits, most significant first.
func (r XMMReg) String() string {
	return fmt.Sprintf("%016X%016X", r.High(), r.Low())
}
