package emu

import (
	"github.com/sarchlab/x86emu/flags"
	"github.com/sarchlab/x86emu/insts"
)

// Flags pushf exposes and popf may change. VM and RF are never pushed, and
// IOPL, VIP and VIF are not writable from user mode.
const (
	pushfMask   uint32 = 0x00FCFFFF
	popfMask    uint32 = 0x00244DD5
	popf16Mask  uint32 = 0x4DD5
	resumeFlag  uint32 = 0x00010000
	pushf16Mask uint32 = 0xFFFF
)

// execPushPop implements 50-57 (push reg) and 58-5F (pop reg).
func execPushPop(e *Emulator, opcode uint8) error {
	which := opcode & 7
	width := e.operandWidth()
	if opcode&8 == 0 {
		return e.push(width, e.regs.Read(which, width))
	}
	v, err := e.pop(width)
	if err != nil {
		return err
	}
	e.regs.Write(which, width, v)
	return nil
}

func dasmPushPop(s *DisassemblyState) string {
	name := "push"
	if s.Opcode&8 != 0 {
		name = "pop"
	}
	return mnemonic(name) + insts.RegName(int8(s.Opcode&7), s.operandWidth())
}

// execPusha implements 60. The pushed esp is its value before the first
// push.
func execPusha(e *Emulator, _ uint8) error {
	width := e.operandWidth()
	origESP := e.regs.Read(insts.ESP, width)
	saved := e.regs.Read32(insts.ESP)
	for which := uint8(0); which < NumRegs; which++ {
		v := origESP
		if which != insts.ESP {
			v = e.regs.Read(which, width)
		}
		if err := e.push(width, v); err != nil {
			e.regs.Write32(insts.ESP, saved)
			return err
		}
	}
	return nil
}

// execPopa implements 61. The saved esp is discarded.
func execPopa(e *Emulator, _ uint8) error {
	width := e.operandWidth()
	var values [NumRegs]uint32
	saved := e.regs.Read32(insts.ESP)
	for which := int(NumRegs) - 1; which >= 0; which-- {
		v, err := e.pop(width)
		if err != nil {
			e.regs.Write32(insts.ESP, saved)
			return err
		}
		values[which] = v
	}
	for which := uint8(0); which < NumRegs; which++ {
		if which != insts.ESP {
			e.regs.Write(which, width, values[which])
		}
	}
	return nil
}

func dasmPushaPopa(s *DisassemblyState) string {
	name := "pusha"
	if s.Opcode == 0x61 {
		name = "popa"
	}
	if s.operandWidth() == 32 {
		name += "d"
	}
	return name
}

// execPushImm implements 68 (push imm) and 6A (push sign-extended imm8).
func execPushImm(e *Emulator, opcode uint8) error {
	width := e.operandWidth()
	var v uint32
	var err error
	if opcode == 0x68 {
		v, err = e.fetchImm(width)
	} else {
		v, err = e.fetchSImm8()
		v &= widthMask(width)
	}
	if err != nil {
		return err
	}
	return e.push(width, v)
}

func dasmPushImm(s *DisassemblyState) string {
	width := s.operandWidth()
	var v uint32
	if s.Opcode == 0x68 {
		v = s.fetchImm(width)
	} else {
		v = uint32(int32(int8(s.fetch8())))
	}
	return mnemonic("push") + hexImm(width, v)
}

// execPopRM implements 8F /0. The destination address is computed after
// esp has been incremented.
func execPopRM(e *Emulator, _ uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	if rm.NonEAReg != 0 {
		return e.decodeError("invalid pop r/m sub-opcode /%d", rm.NonEAReg)
	}
	width := e.operandWidth()
	saved := e.regs.Read32(insts.ESP)
	v, err := e.pop(width)
	if err != nil {
		return err
	}
	if err := e.writeRM(rm, width, v); err != nil {
		e.regs.Write32(insts.ESP, saved)
		return err
	}
	return nil
}

func dasmPopRM(s *DisassemblyState) string {
	rm := s.fetchRM()
	if rm.NonEAReg != 0 {
		return s.fail("invalid pop r/m sub-opcode /%d", rm.NonEAReg)
	}
	return mnemonic("pop") + s.eaString(rm, s.operandWidth(), 0)
}

// execPushf implements 9C.
func execPushf(e *Emulator, _ uint8) error {
	if e.overrides.OperandSize {
		return e.push(16, e.regs.EFlags()&pushf16Mask)
	}
	return e.push(32, e.regs.EFlags()&pushfMask)
}

// execPopf implements 9D. RF is always cleared.
func execPopf(e *Emulator, _ uint8) error {
	if e.overrides.OperandSize {
		v, err := e.pop(16)
		if err != nil {
			return err
		}
		e.regs.WriteFlags(v&popf16Mask, popf16Mask|resumeFlag)
		return nil
	}
	v, err := e.pop(32)
	if err != nil {
		return err
	}
	e.regs.WriteFlags(v&popfMask, popfMask|resumeFlag)
	return nil
}

func dasmPushfPopf(s *DisassemblyState) string {
	name := "pushf"
	if s.Opcode == 0x9D {
		name = "popf"
	}
	if s.operandWidth() == 32 {
		name += "d"
	}
	return name
}

// execEnter implements C8 enter size, level.
func execEnter(e *Emulator, _ uint8) error {
	size, err := e.fetch16()
	if err != nil {
		return err
	}
	level, err := e.fetch8()
	if err != nil {
		return err
	}
	level &= 0x1F
	width := e.operandWidth()
	step := uint32(width / 8)

	saved := e.regs.Read32(insts.ESP)
	if err := e.enterFrame(width, step, level); err != nil {
		e.regs.Write32(insts.ESP, saved)
		return err
	}
	frame := saved - step
	e.regs.Write(insts.EBP, width, frame)
	e.regs.Write32(insts.ESP, e.regs.Read32(insts.ESP)-uint32(size))
	return nil
}

// enterFrame pushes ebp, the outer frame pointers and the new frame
// pointer of enter.
func (e *Emulator) enterFrame(width uint8, step uint32, level uint8) error {
	if err := e.push(width, e.regs.Read(insts.EBP, width)); err != nil {
		return err
	}
	if level == 0 {
		return nil
	}
	frame := e.regs.Read32(insts.ESP)
	ebp := e.regs.Read32(insts.EBP)
	for i := uint8(1); i < level; i++ {
		ebp -= step
		v, err := e.readMem(ebp, width)
		if err != nil {
			return err
		}
		if err := e.push(width, v); err != nil {
			return err
		}
	}
	return e.push(width, frame)
}

func dasmEnter(s *DisassemblyState) string {
	size := s.fetch16()
	level := s.fetch8()
	return mnemonic("enter") + hexImm(16, uint32(size)) + ", " + hexImm(8, uint32(level))
}

// execLeave implements C9.
func execLeave(e *Emulator, _ uint8) error {
	saved := e.regs.Read32(insts.ESP)
	e.regs.Write32(insts.ESP, e.regs.Read32(insts.EBP))
	width := e.operandWidth()
	v, err := e.pop(width)
	if err != nil {
		e.regs.Write32(insts.ESP, saved)
		return err
	}
	e.regs.Write(insts.EBP, width, v)
	return nil
}

// execLahf implements 9F: ah = SF ZF 0 AF 0 PF 1 CF.
func execLahf(e *Emulator, _ uint8) error {
	v := e.regs.ReadFlags(flags.SF|flags.ZF|flags.AF|flags.PF|flags.CF) | 0x02
	e.regs.Write8(insts.EAX+4, uint8(v))
	return nil
}

// execSahf implements 9E, the inverse of lahf.
func execSahf(e *Emulator, _ uint8) error {
	mask := flags.SF | flags.ZF | flags.AF | flags.PF | flags.CF
	e.regs.WriteFlags(uint32(e.regs.Read8(insts.EAX+4)), mask)
	return nil
}
