package emu

import (
	"fmt"

	"github.com/sarchlab/x86emu/insts"
)

// execMovRM implements 88-8B.
func execMovRM(e *Emulator, opcode uint8) error {
	width := e.byteOrOperandWidth(opcode)
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	if opcode&2 == 0 {
		return e.writeRM(rm, width, e.readNonEA(rm, width))
	}
	v, err := e.readRM(rm, width)
	if err != nil {
		return err
	}
	e.writeNonEA(rm, width, v)
	return nil
}

func dasmMovRM(s *DisassemblyState) string {
	width := s.byteOrOperandWidth()
	rm := s.fetchRM()
	fl := insts.StrFlags(0)
	if s.Opcode&2 == 0 {
		fl = insts.EAFirst
	}
	return mnemonic("mov") + s.rmString(rm, width, width, fl)
}

// execLea implements 8D. The segment base is not part of the result.
func execLea(e *Emulator, _ uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	if !rm.HasMemRef() {
		return e.decodeError("lea with a register operand")
	}
	width := e.operandWidth()
	e.writeNonEA(rm, width, e.resolveEA(rm, insts.SegmentNone, true)&widthMask(width))
	return nil
}

func dasmLea(s *DisassemblyState) string {
	rm := s.fetchRM()
	if s.err == nil && !rm.HasMemRef() {
		return s.fail("lea with a register operand")
	}
	return mnemonic("lea") + rm.RMString(32, s.operandWidth(), insts.SuppressOperandSize, insts.SegmentNone)
}

// execMovMemAbs implements A0-A3: mov between eAX and an absolute address.
func execMovMemAbs(e *Emulator, opcode uint8) error {
	if e.overrides.AddressSize {
		return &DecodeError{EIP: e.instStart, Err: insts.ErrAddressSizeOverride}
	}
	width := e.byteOrOperandWidth(opcode)
	addr, err := e.fetch32()
	if err != nil {
		return err
	}
	rm := insts.AbsoluteRM(addr)
	if opcode&2 != 0 {
		return e.writeRM(rm, width, e.regs.Read(insts.EAX, width))
	}
	v, err := e.readRM(rm, width)
	if err != nil {
		return err
	}
	e.regs.Write(insts.EAX, width, v)
	return nil
}

func dasmMovMemAbs(s *DisassemblyState) string {
	width := s.byteOrOperandWidth()
	rm := insts.AbsoluteRM(s.fetch32())
	fl := insts.SuppressOperandSize
	if s.Opcode&2 != 0 {
		fl |= insts.EAFirst
	}
	rm.NonEAReg = insts.EAX
	return mnemonic("mov") + s.rmString(rm, width, width, fl)
}

// execMovImm implements B0-B7 (mov r8, imm8) and B8-BF (mov r, imm).
func execMovImm(e *Emulator, opcode uint8) error {
	width := uint8(8)
	if opcode&8 != 0 {
		width = e.operandWidth()
	}
	imm, err := e.fetchImm(width)
	if err != nil {
		return err
	}
	e.regs.Write(opcode&7, width, imm)
	return nil
}

func dasmMovImm(s *DisassemblyState) string {
	width := uint8(8)
	if s.Opcode&8 != 0 {
		width = s.operandWidth()
	}
	imm := s.fetchImm(width)
	return mnemonic("mov") + insts.RegName(int8(s.Opcode&7), width) + ", " + hexImm(width, imm)
}

// execMovRMImm implements C6 /0 and C7 /0.
func execMovRMImm(e *Emulator, opcode uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	if rm.NonEAReg != 0 {
		return e.decodeError("invalid mov r/m, imm sub-opcode /%d", rm.NonEAReg)
	}
	width := e.byteOrOperandWidth(opcode)
	imm, err := e.fetchImm(width)
	if err != nil {
		return err
	}
	return e.writeRM(rm, width, imm)
}

func dasmMovRMImm(s *DisassemblyState) string {
	rm := s.fetchRM()
	if s.err == nil && rm.NonEAReg != 0 {
		return s.fail("invalid mov r/m, imm sub-opcode /%d", rm.NonEAReg)
	}
	width := s.byteOrOperandWidth()
	imm := s.fetchImm(width)
	return mnemonic("mov") + s.eaString(rm, width, 0) + ", " + hexImm(width, imm)
}

// execXchgRM implements 86 and 87.
func execXchgRM(e *Emulator, opcode uint8) error {
	width := e.byteOrOperandWidth(opcode)
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	a, err := e.readRM(rm, width)
	if err != nil {
		return err
	}
	b := e.readNonEA(rm, width)
	if err := e.writeRM(rm, width, b); err != nil {
		return err
	}
	e.writeNonEA(rm, width, a)
	return nil
}

func dasmXchgRM(s *DisassemblyState) string {
	width := s.byteOrOperandWidth()
	rm := s.fetchRM()
	return mnemonic("xchg") + s.rmString(rm, width, width, insts.EAFirst)
}

// execXchgEAX implements 90-97. 90 is nop and touches nothing.
func execXchgEAX(e *Emulator, opcode uint8) error {
	if opcode == 0x90 {
		return nil
	}
	width := e.operandWidth()
	which := opcode & 7
	a := e.regs.Read(insts.EAX, width)
	b := e.regs.Read(which, width)
	e.regs.Write(insts.EAX, width, b)
	e.regs.Write(which, width, a)
	return nil
}

func dasmXchgEAX(s *DisassemblyState) string {
	if s.Opcode == 0x90 {
		if s.Overrides.RepeatZ {
			return "pause"
		}
		return "nop"
	}
	width := s.operandWidth()
	return mnemonic("xchg") + insts.RegName(insts.EAX, width) + ", " + insts.RegName(int8(s.Opcode&7), width)
}

// execCbwCwde implements 98: sign-extend al into ax, or ax into eax.
func execCbwCwde(e *Emulator, _ uint8) error {
	if e.overrides.OperandSize {
		e.regs.Write16(insts.EAX, uint16(signExtend(uint32(e.regs.Read8(insts.EAX)), 8)))
	} else {
		e.regs.Write32(insts.EAX, signExtend(uint32(e.regs.Read16(insts.EAX)), 16))
	}
	return nil
}

// execCwdCdq implements 99: fill dx or edx with the sign of ax or eax.
func execCwdCdq(e *Emulator, _ uint8) error {
	width := e.operandWidth()
	var fill uint32
	if msb(e.regs.Read(insts.EAX, width), width) {
		fill = widthMask(width)
	}
	e.regs.Write(insts.EDX, width, fill)
	return nil
}

func dasmSignExtendEAX(s *DisassemblyState) string {
	wide := s.operandWidth() == 32
	switch {
	case s.Opcode == 0x98 && wide:
		return "cwde"
	case s.Opcode == 0x98:
		return "cbw"
	case wide:
		return "cdq"
	default:
		return "cwd"
	}
}

// execMovzxMovsx implements 0F B6, B7, BE and BF.
func execMovzxMovsx(e *Emulator, opcode uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	srcWidth := uint8(8)
	if opcode&1 != 0 {
		srcWidth = 16
	}
	width := e.operandWidth()
	if srcWidth == 16 && width == 16 {
		return e.decodeError("movzx/movsx with a 16-bit source and operand size prefix")
	}
	v, err := e.readRM(rm, srcWidth)
	if err != nil {
		return err
	}
	if opcode&8 != 0 {
		v = signExtend(v, srcWidth)
	}
	e.writeNonEA(rm, width, v&widthMask(width))
	return nil
}

func dasmMovzxMovsx(s *DisassemblyState) string {
	rm := s.fetchRM()
	srcWidth := uint8(8)
	if s.Opcode&1 != 0 {
		srcWidth = 16
	}
	name := "movzx"
	if s.Opcode&8 != 0 {
		name = "movsx"
	}
	if s.err == nil && srcWidth == 16 && s.Overrides.OperandSize {
		return s.fail("%s with a 16-bit source and operand size prefix", name)
	}
	return mnemonic(name) + s.rmString(rm, srcWidth, s.operandWidth(), 0)
}

// execCmov implements 0F 40-4F. Nothing is read or written when the
// condition does not hold.
func execCmov(e *Emulator, opcode uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	if e.regs.CheckCondition(opcode & 0x0F) {
		width := e.operandWidth()
		v, err := e.readRM(rm, width)
		if err != nil {
			return err
		}
		e.writeNonEA(rm, width, v)
	}
	return nil
}

func dasmCmov(s *DisassemblyState) string {
	rm := s.fetchRM()
	width := s.operandWidth()
	return mnemonic("cmov"+insts.ConditionName(s.Opcode)) + s.rmString(rm, width, width, 0)
}

// execSetcc implements 0F 90-9F.
func execSetcc(e *Emulator, opcode uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	if rm.NonEAReg != 0 {
		return e.decodeError("invalid setcc sub-opcode /%d", rm.NonEAReg)
	}
	var v uint32
	if e.regs.CheckCondition(opcode & 0x0F) {
		v = 1
	}
	return e.writeRM(rm, 8, v)
}

func dasmSetcc(s *DisassemblyState) string {
	rm := s.fetchRM()
	if s.err == nil && rm.NonEAReg != 0 {
		return s.fail("invalid setcc sub-opcode /%d", rm.NonEAReg)
	}
	return fmt.Sprintf("%s%s", mnemonic("set"+insts.ConditionName(s.Opcode)), s.eaString(rm, 8, 0))
}
