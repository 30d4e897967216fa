package emu

import (
	"github.com/sarchlab/x86emu/insts"
)

const xmmOperands = insts.EAXMM | insts.NonEAXMM

const errMMRegisters = "mm registers are not supported"

func (e *Emulator) clearXMMUnreported(which int8) {
	e.regs.WriteXMMUnreported(uint8(which), 128, XMMReg{})
}

// scalarMoveWidth picks the movss, movsd or movups/movupd form of 0F 10/11.
func scalarMoveWidth(ov insts.Overrides) (string, uint8) {
	switch {
	case ov.RepeatZ:
		return "movss", 32
	case ov.RepeatNZ:
		return "movsd", 64
	case ov.OperandSize:
		return "movupd", 128
	default:
		return "movups", 128
	}
}

// execMovXMM implements 0F 10 (load) and 0F 11 (store). A load from memory
// clears the rest of the destination register; a register-to-register
// scalar move keeps it.
func execMovXMM(e *Emulator, opcode uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	_, width := scalarMoveWidth(e.overrides)

	if opcode&1 != 0 {
		return e.writeRMXMM(rm, width, e.regs.ReadXMM(uint8(rm.NonEAReg), width))
	}
	v, err := e.readRMXMM(rm, width)
	if err != nil {
		return err
	}
	if rm.HasMemRef() {
		e.clearXMMUnreported(rm.NonEAReg)
		e.regs.WriteXMM(uint8(rm.NonEAReg), 128, v)
		return nil
	}
	e.regs.WriteXMM(uint8(rm.NonEAReg), width, v)
	return nil
}

func dasmMovXMM(s *DisassemblyState) string {
	rm := s.fetchRM()
	name, width := scalarMoveWidth(s.Overrides)
	fl := xmmOperands
	if s.Opcode&1 != 0 {
		fl |= insts.EAFirst
	}
	return mnemonic(name) + s.rmString(rm, width, width, fl)
}

// execMovdToXMM implements 66 0F 6E: movd xmm, r/m32 with the upper bits
// cleared.
func execMovdToXMM(e *Emulator, _ uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	if !e.overrides.OperandSize {
		return e.decodeError(errMMRegisters)
	}
	v, err := e.readRM(rm, 32)
	if err != nil {
		return err
	}
	e.clearXMMUnreported(rm.NonEAReg)
	e.regs.WriteXMM(uint8(rm.NonEAReg), 128, XMMFromU32(v))
	return nil
}

func dasmMovdToXMM(s *DisassemblyState) string {
	rm := s.fetchRM()
	if s.err == nil && !s.Overrides.OperandSize {
		return s.fail(errMMRegisters)
	}
	return mnemonic("movd") + s.rmString(rm, 32, 32, insts.NonEAXMM)
}

// execMovqMovdqXMM implements 0F 7E and 0F 7F:
//
//	F3 0F 7E  movq xmm, xmm/m64
//	66 0F 7E  movd r/m32, xmm
//	66 0F 7F  movdqa xmm/m128, xmm
//	F3 0F 7F  movdqu xmm/m128, xmm
func execMovqMovdqXMM(e *Emulator, opcode uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	if e.overrides.RepeatNZ {
		return e.decodeError("invalid 0F %02X with repnz", opcode)
	}

	if opcode&1 != 0 {
		if !e.overrides.RepeatZ && !e.overrides.OperandSize {
			return e.decodeError(errMMRegisters)
		}
		return e.writeRMXMM(rm, 128, e.regs.ReadXMM(uint8(rm.NonEAReg), 128))
	}

	switch {
	case e.overrides.RepeatZ:
		v, err := e.readRMXMM(rm, 64)
		if err != nil {
			return err
		}
		e.clearXMMUnreported(rm.NonEAReg)
		e.regs.WriteXMM(uint8(rm.NonEAReg), 128, v)
	case e.overrides.OperandSize:
		return e.writeRM(rm, 32, e.regs.ReadXMM32(uint8(rm.NonEAReg)))
	default:
		return e.decodeError(errMMRegisters)
	}
	return nil
}

func dasmMovqMovdqXMM(s *DisassemblyState) string {
	rm := s.fetchRM()
	if s.err != nil {
		return ""
	}
	if s.Overrides.RepeatNZ {
		return s.fail("invalid 0F %02X with repnz", s.Opcode)
	}

	if s.Opcode&1 != 0 {
		switch {
		case s.Overrides.OperandSize:
			return mnemonic("movdqa") + s.rmString(rm, 128, 128, xmmOperands|insts.EAFirst)
		case s.Overrides.RepeatZ:
			return mnemonic("movdqu") + s.rmString(rm, 128, 128, xmmOperands|insts.EAFirst)
		}
		return s.fail(errMMRegisters)
	}

	switch {
	case s.Overrides.RepeatZ:
		return mnemonic("movq") + s.rmString(rm, 64, 64, xmmOperands)
	case s.Overrides.OperandSize:
		return mnemonic("movd") + s.rmString(rm, 32, 32, insts.NonEAXMM|insts.EAFirst)
	}
	return s.fail(errMMRegisters)
}

// execMovqStore implements 66 0F D6: movq xmm/m64, xmm. A register
// destination has its upper half cleared.
func execMovqStore(e *Emulator, _ uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	if !e.overrides.OperandSize || e.overrides.RepeatZ || e.overrides.RepeatNZ {
		return e.decodeError(errMMRegisters)
	}
	v := e.regs.ReadXMM(uint8(rm.NonEAReg), 64)
	if !rm.HasMemRef() {
		e.clearXMMUnreported(rm.EAReg)
		e.regs.WriteXMM(uint8(rm.EAReg), 128, v)
		return nil
	}
	return e.writeRMXMM(rm, 64, v)
}

func dasmMovqStore(s *DisassemblyState) string {
	rm := s.fetchRM()
	if s.err == nil && (!s.Overrides.OperandSize || s.Overrides.RepeatZ || s.Overrides.RepeatNZ) {
		return s.fail(errMMRegisters)
	}
	return mnemonic("movq") + s.rmString(rm, 64, 64, xmmOperands|insts.EAFirst)
}

// execPxor implements 66 0F EF.
func execPxor(e *Emulator, _ uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	if !e.overrides.OperandSize {
		return e.decodeError(errMMRegisters)
	}
	src, err := e.readRMXMM(rm, 128)
	if err != nil {
		return err
	}
	dest := e.regs.ReadXMM(uint8(rm.NonEAReg), 128)
	for i := range dest {
		dest[i] ^= src[i]
	}
	e.regs.WriteXMM(uint8(rm.NonEAReg), 128, dest)
	return nil
}

func dasmPxor(s *DisassemblyState) string {
	rm := s.fetchRM()
	if s.err == nil && !s.Overrides.OperandSize {
		return s.fail(errMMRegisters)
	}
	return mnemonic("pxor") + s.rmString(rm, 128, 128, xmmOperands)
}
