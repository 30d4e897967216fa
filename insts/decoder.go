// Package insts provides IA-32 instruction-stream decoding helpers.
package insts

import (
	"errors"
	"fmt"
	"io"
)

// ErrAddressSizeOverride is returned when a ModRM byte is decoded under an
// address-size prefix. 16-bit addressing forms are not modelled.
var ErrAddressSizeOverride = errors.New("16-bit addressing (address size override) is not supported")

// DecodedRM describes the operands encoded by a ModRM byte and its trailers.
type DecodedRM struct {
	// NonEAReg is the reg field of the ModRM byte.
	NonEAReg int8
	// EAReg is the base register, or the operand register when EAIndexScale
	// is -1. A value of -1 means no base register.
	EAReg int8
	// EAIndexReg is the index register, -1 when there is none.
	EAIndexReg int8
	// EAIndexScale is -1 for a register operand, 0 when there is no index
	// register, or 1, 2, 4 or 8.
	EAIndexScale int8
	// EADisp is the signed displacement.
	EADisp int32
}

// HasMemRef reports whether the EA operand is a memory reference.
func (rm DecodedRM) HasMemRef() bool {
	return rm.EAIndexScale != -1
}

// AbsoluteRM returns a DecodedRM for a bare [disp32] reference.
func AbsoluteRM(disp uint32) DecodedRM {
	return DecodedRM{EAReg: -1, EAIndexReg: -1, EADisp: int32(disp)}
}

// FetchU8 reads one byte from r.
func FetchU8(r io.ByteReader) (uint8, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, truncated(err)
	}
	return b, nil
}

// FetchU16 reads a little-endian word from r.
func FetchU16(r io.ByteReader) (uint16, error) {
	var v uint16
	for i := 0; i < 2; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, truncated(err)
		}
		v |= uint16(b) << (8 * i)
	}
	return v, nil
}

// FetchU32 reads a little-endian dword from r.
func FetchU32(r io.ByteReader) (uint32, error) {
	var v uint32
	for i := 0; i < 4; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, truncated(err)
		}
		v |= uint32(b) << (8 * i)
	}
	return v, nil
}

// ErrTruncated wraps end-of-stream conditions hit in the middle of an instruction.
var ErrTruncated = errors.New("instruction stream truncated")

func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	return err
}

// FetchAndDecodeRM reads a ModRM byte (plus SIB and displacement when present)
// from r.
func FetchAndDecodeRM(r io.ByteReader, ov Overrides) (DecodedRM, error) {
	if ov.AddressSize {
		return DecodedRM{}, ErrAddressSizeOverride
	}

	modrm, err := FetchU8(r)
	if err != nil {
		return DecodedRM{}, err
	}

	ret := DecodedRM{
		NonEAReg:   int8((modrm >> 3) & 7),
		EAReg:      int8(modrm & 7),
		EAIndexReg: -1,
	}

	mode := modrm >> 6
	switch {
	case mode == 3:
		ret.EAIndexScale = -1

	case mode == 0 && ret.EAReg == 5:
		ret.EAReg = -1
		disp, err := FetchU32(r)
		if err != nil {
			return DecodedRM{}, err
		}
		ret.EADisp = int32(disp)

	default:
		if ret.EAReg == 4 {
			sib, err := FetchU8(r)
			if err != nil {
				return DecodedRM{}, err
			}
			ret.EAReg = int8(sib & 7)
			if ret.EAReg == 5 && mode == 0 {
				ret.EAReg = -1
				disp, err := FetchU32(r)
				if err != nil {
					return DecodedRM{}, err
				}
				ret.EADisp = int32(disp)
			}
			if index := int8((sib >> 3) & 7); index != 4 {
				ret.EAIndexReg = index
				ret.EAIndexScale = 1 << (sib >> 6)
			}
		}

		switch mode {
		case 1:
			disp, err := FetchU8(r)
			if err != nil {
				return DecodedRM{}, err
			}
			ret.EADisp = int32(int8(disp))
		case 2:
			disp, err := FetchU32(r)
			if err != nil {
				return DecodedRM{}, err
			}
			ret.EADisp = int32(disp)
		}
	}

	return ret, nil
}
