package emu

import (
	"github.com/sarchlab/x86emu/flags"
	"github.com/sarchlab/x86emu/insts"
)

var shiftNames = [8]string{"rol", "ror", "rcl", "rcr", "shl", "shr", "sal", "sar"}

// shift applies group 2 operation what to value. Only the low five bits of
// distance count; a masked distance of zero changes nothing, flags
// included. The second result is false in that case so callers can skip
// the write-back.
func (e *Emulator) shift(what, width uint8, value uint32, distance uint8, fromCL bool) (uint32, bool) {
	distance &= 0x1F
	if distance == 0 {
		return value, false
	}

	mask := widthMask(width)
	top := uint32(1) << (width - 1)
	winARM := e.behavior == BehaviorWindowsARMEmulator
	value &= mask

	switch what {
	case 0, 1:
		// The distance is reduced modulo the width only for the rotation
		// itself; a 16-bit rotate by 16 leaves the value alone but still
		// writes CF.
		n := distance & (width - 1)
		isRor := what == 1
		if isRor {
			value = (value>>n | value<<(width-n)) & mask
		} else {
			value = (value<<n | value>>(width-n)) & mask
		}

		// The Windows ARM emulator skips CF when an immediate distance
		// reduces to zero.
		if !winARM || fromCL || n != 0 {
			if isRor {
				e.regs.ReplaceFlag(flags.CF, value&top != 0)
			} else {
				e.regs.ReplaceFlag(flags.CF, value&1 != 0)
			}
		}
		if n == 1 || (winARM && fromCL) {
			if isRor {
				e.regs.ReplaceFlag(flags.OF, (value^(value<<1))&top != 0)
			} else {
				e.regs.ReplaceFlag(flags.OF, ((value>>(width-1))^value)&1 != 0)
			}
		}

	case 2, 3:
		isRcr := what == 3
		cf := e.regs.Flag(flags.CF)
		n := distance % (width + 1)
		writeOF := n == 1 || (winARM && fromCL)
		if isRcr && writeOF {
			e.regs.ReplaceFlag(flags.OF, (value&top != 0) != cf)
		}
		for c := n; c > 0; c-- {
			var carryIn uint32
			if cf {
				carryIn = 1
			}
			if isRcr {
				cf = value&1 != 0
				value = value>>1 | carryIn<<(width-1)
			} else {
				cf = value&top != 0
				value = (value<<1 | carryIn) & mask
			}
		}
		e.regs.ReplaceFlag(flags.CF, cf)
		if !isRcr && writeOF {
			e.regs.ReplaceFlag(flags.OF, (value&top != 0) != cf)
		}

	default:
		isRight := what&1 != 0
		isSigned := what == 7
		orig := value
		var cf bool
		for c := distance; c > 0; c-- {
			if isRight {
				cf = value&1 != 0
				value >>= 1
				if isSigned && value&(top>>1) != 0 {
					value |= top
				}
			} else {
				cf = value&top != 0
				value = (value << 1) & mask
			}
		}
		e.regs.ReplaceFlag(flags.CF, cf)

		// For counts above one the manual leaves OF undefined; the Windows
		// ARM emulator writes it anyway, differently for cl and immediate
		// distances.
		switch {
		case distance == 1 || (winARM && fromCL):
			switch {
			case !isRight:
				e.regs.ReplaceFlag(flags.OF, (value&top != 0) != cf)
			case isSigned:
				e.regs.ReplaceFlag(flags.OF, false)
			default:
				e.regs.ReplaceFlag(flags.OF, orig&top != 0)
			}
		case winARM:
			if !isRight {
				e.regs.ReplaceFlag(flags.OF, (value&top != 0) != cf)
			} else {
				e.regs.ReplaceFlag(flags.OF, false)
			}
		}
		// AF is undefined and left alone.
		e.regs.ApplyFlags(integerResultFlags(width, value))
	}
	return value, true
}

// execShiftGroup implements C0/C1 (imm8 distance) and D0-D3 (distance 1
// or cl).
func execShiftGroup(e *Emulator, opcode uint8) error {
	width := e.byteOrOperandWidth(opcode)
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}

	var distance uint8
	fromCL := false
	switch {
	case opcode <= 0xC1:
		if distance, err = e.fetch8(); err != nil {
			return err
		}
	case opcode&2 != 0:
		distance = e.regs.Read8(insts.ECX)
		fromCL = true
	default:
		distance = 1
	}

	v, err := e.readRM(rm, width)
	if err != nil {
		return err
	}
	if res, changed := e.shift(uint8(rm.NonEAReg), width, v, distance, fromCL); changed {
		return e.writeRM(rm, width, res)
	}
	return nil
}

func dasmShiftGroup(s *DisassemblyState) string {
	width := s.byteOrOperandWidth()
	rm := s.fetchRM()

	var distance string
	switch {
	case s.Opcode <= 0xC1:
		distance = hexImm(8, uint32(s.fetch8()))
	case s.Opcode&2 != 0:
		distance = "cl"
	default:
		distance = "1"
	}
	return mnemonic(shiftNames[rm.NonEAReg]) + s.eaString(rm, width, 0) + ", " + distance
}

// doubleShift implements the shld/shrd data path: dest is shifted and the
// vacated bits are filled from incoming.
func (e *Emulator) doubleShift(isRight bool, width uint8, dest, incoming uint32, distance uint8, fromCL bool) (uint32, bool) {
	masked := distance & 0x1F
	if masked == 0 {
		return dest, false
	}

	winARM := e.behavior == BehaviorWindowsARMEmulator
	// The Windows ARM emulator shifts 16-bit operands by a full 16 when the
	// masked distance is 0x10 instead of reducing it to zero.
	n := masked & (width - 1)
	if winARM && masked == 0x10 {
		n = 0x10
	}

	mask := widthMask(width)
	top := uint32(1) << (width - 1)
	dest &= mask
	incoming &= mask
	origSign := dest & top

	cf := false
	if !winARM {
		cf = e.regs.Flag(flags.CF)
	}
	for c := n; c > 0; c-- {
		if isRight {
			cf = dest&1 != 0
			dest >>= 1
			if incoming&1 != 0 {
				dest |= top
			}
			incoming >>= 1
		} else {
			cf = dest&top != 0
			dest = (dest << 1) & mask
			if incoming&top != 0 {
				dest |= 1
			}
			incoming = (incoming << 1) & mask
		}
	}

	e.regs.ApplyFlags(integerResultFlags(width, dest).With(flags.CF, cf))
	switch {
	case n == 1:
		e.regs.ReplaceFlag(flags.OF, origSign != dest&top)
	case winARM && fromCL:
		e.regs.ReplaceFlag(flags.OF, origSign != dest&top)
	case winARM:
		e.regs.ReplaceFlag(flags.OF, false)
	}
	return dest, true
}

// execShldShrd implements 0F A4/A5 (shld) and 0F AC/AD (shrd).
func execShldShrd(e *Emulator, opcode uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	fromCL := opcode&1 != 0
	var distance uint8
	if fromCL {
		distance = e.regs.Read8(insts.ECX)
	} else if distance, err = e.fetch8(); err != nil {
		return err
	}

	width := e.operandWidth()
	dest, err := e.readRM(rm, width)
	if err != nil {
		return err
	}
	incoming := e.readNonEA(rm, width)
	if res, changed := e.doubleShift(opcode&8 != 0, width, dest, incoming, distance, fromCL); changed {
		return e.writeRM(rm, width, res)
	}
	return nil
}

func dasmShldShrd(s *DisassemblyState) string {
	rm := s.fetchRM()
	name := "shld"
	if s.Opcode&8 != 0 {
		name = "shrd"
	}
	distance := "cl"
	if s.Opcode&1 == 0 {
		distance = hexImm(8, uint32(s.fetch8()))
	}
	width := s.operandWidth()
	return mnemonic(name) + s.rmString(rm, width, width, insts.EAFirst) + ", " + distance
}
