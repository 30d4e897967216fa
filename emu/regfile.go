package emu

import (
	"github.com/sarchlab/x86emu/flags"
)

// NumRegs is the number of general-purpose integer registers.
const NumRegs = 8

// InitialEFlags has ID, IF and the reserved bit 1 set.
const InitialEFlags uint32 = 0x00200202

// AccessMasks records which bits of each register were touched since the
// last ResetAccessFlags. Integer masks are per bit; xmm masks are per byte.
type AccessMasks struct {
	RegsRead     [NumRegs]uint32
	RegsWritten  [NumRegs]uint32
	XMMRead      [NumRegs]uint16
	XMMWritten   [NumRegs]uint16
	FlagsRead    uint32
	FlagsWritten uint32
}

// RegFile is the IA-32 register file: eight integer registers, eight xmm
// registers, EFLAGS and EIP. Every accessor except the *Unreported family
// marks the span it touches in the shadow masks.
type RegFile struct {
	regs   [NumRegs]uint32
	xmm    [NumRegs]XMMReg
	eflags uint32

	// EIP is not tracked.
	EIP uint32

	masks AccessMasks
}

// NewRegFile returns a register file in its reset state.
func NewRegFile() *RegFile {
	return &RegFile{eflags: InitialEFlags}
}

func checkReg(which uint8) {
	if which >= NumRegs {
		panic("invalid register index")
	}
}

func regMask(which uint8, width uint8) (uint8, uint32) {
	switch width {
	case 8:
		if which&4 != 0 {
			return which & 3, 0x0000FF00
		}
		return which & 3, 0x000000FF
	case 16:
		return which, 0x0000FFFF
	case 32:
		return which, 0xFFFFFFFF
	}
	panic(InvalidRegisterSizeError{Width: width})
}

func xmmMask(width uint8) uint16 {
	switch width {
	case 32:
		return 0x000F
	case 64:
		return 0x00FF
	case 128:
		return 0xFFFF
	}
	panic(InvalidRegisterSizeError{Width: width})
}

// ReadUnreported reads a register partition without marking it.
func (r *RegFile) ReadUnreported(which, width uint8) uint32 {
	checkReg(which)
	idx, mask := regMask(which, width)
	v := r.regs[idx] & mask
	if mask == 0x0000FF00 {
		v >>= 8
	}
	return v
}

// WriteUnreported writes a register partition without marking it.
func (r *RegFile) WriteUnreported(which, width uint8, v uint32) {
	checkReg(which)
	idx, mask := regMask(which, width)
	if mask == 0x0000FF00 {
		v <<= 8
	}
	r.regs[idx] = (r.regs[idx] &^ mask) | (v & mask)
}

// Read reads a register partition of width 8, 16 or 32.
func (r *RegFile) Read(which, width uint8) uint32 {
	checkReg(which)
	idx, mask := regMask(which, width)
	r.masks.RegsRead[idx] |= mask
	return r.ReadUnreported(which, width)
}

// Write writes a register partition of width 8, 16 or 32.
func (r *RegFile) Write(which, width uint8, v uint32) {
	checkReg(which)
	idx, mask := regMask(which, width)
	r.masks.RegsWritten[idx] |= mask
	r.WriteUnreported(which, width, v)
}

// Read8 reads al, cl, dl, bl, ah, ch, dh or bh.
func (r *RegFile) Read8(which uint8) uint8 { return uint8(r.Read(which, 8)) }

// Read16 reads the low word of a register.
func (r *RegFile) Read16(which uint8) uint16 { return uint16(r.Read(which, 16)) }

// Read32 reads a full register.
func (r *RegFile) Read32(which uint8) uint32 { return r.Read(which, 32) }

// Write8 writes a byte partition.
func (r *RegFile) Write8(which uint8, v uint8) { r.Write(which, 8, uint32(v)) }

// Write16 writes the low word of a register.
func (r *RegFile) Write16(which uint8, v uint16) { r.Write(which, 16, uint32(v)) }

// Write32 writes a full register.
func (r *RegFile) Write32(which uint8, v uint32) { r.Write(which, 32, v) }

// ReadUnreported32 reads a full register without marking it.
func (r *RegFile) ReadUnreported32(which uint8) uint32 { return r.ReadUnreported(which, 32) }

// ReadXMMUnreported returns the low width bits of an xmm register,
// zero-extended to 128 bits.
func (r *RegFile) ReadXMMUnreported(which, width uint8) XMMReg {
	checkReg(which)
	mask := xmmMask(width)
	ret := r.xmm[which]
	for i := 0; i < 16; i++ {
		if mask&(1<<i) == 0 {
			ret[i] = 0
		}
	}
	return ret
}

// WriteXMMUnreported replaces the low width bits of an xmm register.
func (r *RegFile) WriteXMMUnreported(which, width uint8, v XMMReg) {
	checkReg(which)
	n := int(width / 8)
	xmmMask(width)
	copy(r.xmm[which][:n], v[:n])
}

// ReadXMM reads the low 32, 64 or 128 bits of an xmm register.
func (r *RegFile) ReadXMM(which, width uint8) XMMReg {
	checkReg(which)
	r.masks.XMMRead[which] |= xmmMask(width)
	return r.ReadXMMUnreported(which, width)
}

// WriteXMM replaces the low 32, 64 or 128 bits of an xmm register.
func (r *RegFile) WriteXMM(which, width uint8, v XMMReg) {
	checkReg(which)
	r.masks.XMMWritten[which] |= xmmMask(width)
	r.WriteXMMUnreported(which, width, v)
}

// ReadXMM32 reads the low dword of an xmm register.
func (r *RegFile) ReadXMM32(which uint8) uint32 { return uint32(r.ReadXMM(which, 32).Low()) }

// ReadXMM64 reads the low qword of an xmm register.
func (r *RegFile) ReadXMM64(which uint8) uint64 { return r.ReadXMM(which, 64).Low() }

// ReadXMM128 reads a full xmm register.
func (r *RegFile) ReadXMM128(which uint8) XMMReg { return r.ReadXMM(which, 128) }

// WriteXMM32 replaces the low dword of an xmm register.
func (r *RegFile) WriteXMM32(which uint8, v uint32) { r.WriteXMM(which, 32, XMMFromU32(v)) }

// WriteXMM64 replaces the low qword of an xmm register.
func (r *RegFile) WriteXMM64(which uint8, v uint64) { r.WriteXMM(which, 64, XMMFromU64(v)) }

// WriteXMM128 replaces a full xmm register.
func (r *RegFile) WriteXMM128(which uint8, v XMMReg) { r.WriteXMM(which, 128, v) }

// EFlagsUnreported returns the flags word without marking it.
func (r *RegFile) EFlagsUnreported() uint32 {
	return r.eflags
}

// SetEFlagsUnreported replaces the flags word without marking it.
func (r *RegFile) SetEFlagsUnreported(v uint32) {
	r.eflags = v
}

// EFlags returns the whole flags word and marks every bit read.
func (r *RegFile) EFlags() uint32 {
	r.masks.FlagsRead = 0xFFFFFFFF
	return r.eflags
}

// SetEFlags replaces the whole flags word.
func (r *RegFile) SetEFlags(v uint32) {
	r.masks.FlagsWritten = 0xFFFFFFFF
	r.eflags = v
}

// ReadFlags returns eflags&mask and marks mask read.
func (r *RegFile) ReadFlags(mask uint32) uint32 {
	r.masks.FlagsRead |= mask
	return r.eflags & mask
}

// WriteFlags replaces the bits of mask with value.
func (r *RegFile) WriteFlags(value, mask uint32) {
	r.masks.FlagsWritten |= mask
	r.eflags = (r.eflags &^ mask) | (value & mask)
}

// Flag reports whether any flag in mask is set.
func (r *RegFile) Flag(mask uint32) bool {
	return r.ReadFlags(mask) != 0
}

// ReplaceFlag sets or clears the flags in mask.
func (r *RegFile) ReplaceFlag(mask uint32, v bool) {
	value := uint32(0)
	if v {
		value = mask
	}
	r.WriteFlags(value, mask)
}

// ApplyFlags writes exactly the flags f defines.
func (r *RegFile) ApplyFlags(f flags.Flags) {
	r.WriteFlags(f.Value, f.Mask)
}

// CheckCondition evaluates a 4-bit condition code as used by Jcc, SETcc and
// CMOVcc. Odd codes are the negation of the even code before them.
func (r *RegFile) CheckCondition(cc uint8) bool {
	var ret bool
	switch cc & 0x0E {
	case 0x00:
		ret = r.Flag(flags.OF)
	case 0x02:
		ret = r.Flag(flags.CF)
	case 0x04:
		ret = r.Flag(flags.ZF)
	case 0x06:
		ret = r.ReadFlags(flags.CF|flags.ZF) != 0
	case 0x08:
		ret = r.Flag(flags.SF)
	case 0x0A:
		ret = r.Flag(flags.PF)
	case 0x0C:
		ret = r.Flag(flags.SF) != r.Flag(flags.OF)
	case 0x0E:
		ret = r.Flag(flags.ZF) || (r.Flag(flags.SF) != r.Flag(flags.OF))
	}
	return ret != (cc&1 != 0)
}

// ResetAccessFlags clears every shadow mask.
func (r *RegFile) ResetAccessFlags() {
	r.masks = AccessMasks{}
}

// AccessMasks returns a snapshot of the shadow masks.
func (r *RegFile) AccessMasks() AccessMasks {
	return r.masks
}

// FlagsString renders the current flags, e.g. "o---sZapC".
func (r *RegFile) FlagsString() string {
	return flags.Flags{Value: r.eflags, Mask: flags.OF | flags.DF | flags.IF | flags.TF |
		flags.SF | flags.ZF | flags.AF | flags.PF | flags.CF}.String()
}

// Snapshot returns a copy of the register contents without masks.
func (r *RegFile) Snapshot() RegFile {
	return RegFile{regs: r.regs, xmm: r.xmm, eflags: r.eflags, EIP: r.EIP}
}
