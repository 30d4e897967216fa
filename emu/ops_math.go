package emu

import (
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/sarchlab/x86emu/flags"
	"github.com/sarchlab/x86emu/insts"
)

// Operation numbers of the 00-3F block and of group 1 (80-83).
const (
	mathAdd uint8 = iota
	mathOr
	mathAdc
	mathSbb
	mathAnd
	mathSub
	mathXor
	mathCmp
)

var mathNames = [8]string{"add", "or", "adc", "sbb", "and", "sub", "xor", "cmp"}

func widen[T constraints.Unsigned](res T, f flags.Flags) (uint32, flags.Flags) {
	return uint32(res), f
}

func mathOpT[T constraints.Unsigned](what uint8, a, b T, cf bool) (T, flags.Flags) {
	switch what {
	case mathAdd:
		return flags.Add(a, b)
	case mathOr:
		return a | b, flags.Bitwise(a | b)
	case mathAdc:
		return flags.AddWithCarry(a, b, cf)
	case mathSbb:
		return flags.SubWithBorrow(a, b, cf)
	case mathAnd:
		return a & b, flags.Bitwise(a & b)
	case mathXor:
		return a ^ b, flags.Bitwise(a ^ b)
	default:
		return flags.Sub(a, b)
	}
}

// mathOp performs one of the eight ALU operations at width, applies its
// flags and reports whether the result should be written back (cmp only
// sets flags).
func (e *Emulator) mathOp(what, width uint8, a, b uint32) (uint32, bool) {
	cf := false
	if what == mathAdc || what == mathSbb {
		cf = e.regs.Flag(flags.CF)
	}

	var res uint32
	var f flags.Flags
	switch width {
	case 8:
		res, f = widen[uint8](mathOpT(what, uint8(a), uint8(b), cf))
	case 16:
		res, f = widen[uint16](mathOpT(what, uint16(a), uint16(b), cf))
	case 32:
		res, f = mathOpT(what, a, b, cf)
	default:
		panic(InvalidRegisterSizeError{Width: width})
	}
	e.regs.ApplyFlags(f)
	return res, what != mathCmp
}

// addSub computes a+b or a-b at width without touching the register file.
func addSub(sub bool, width uint8, a, b uint32) (uint32, flags.Flags) {
	what := mathAdd
	if sub {
		what = mathSub
	}
	switch width {
	case 8:
		return widen[uint8](mathOpT(what, uint8(a), uint8(b), false))
	case 16:
		return widen[uint16](mathOpT(what, uint16(a), uint16(b), false))
	case 32:
		return mathOpT(what, a, b, false)
	}
	panic(InvalidRegisterSizeError{Width: width})
}

func bitwiseFlags(width uint8, res uint32) flags.Flags {
	switch width {
	case 8:
		return flags.Bitwise(uint8(res))
	case 16:
		return flags.Bitwise(uint16(res))
	case 32:
		return flags.Bitwise(res)
	}
	panic(InvalidRegisterSizeError{Width: width})
}

func integerResultFlags(width uint8, res uint32) flags.Flags {
	switch width {
	case 8:
		return flags.IntegerResult(uint8(res))
	case 16:
		return flags.IntegerResult(uint16(res))
	case 32:
		return flags.IntegerResult(res)
	}
	panic(InvalidRegisterSizeError{Width: width})
}

// execMath implements the x0-x5 and x8-xD columns of rows 0-3.
func execMath(e *Emulator, opcode uint8) error {
	what := (opcode >> 3) & 7
	width := e.byteOrOperandWidth(opcode)

	switch opcode & 6 {
	case 0:
		rm, err := e.fetchRM()
		if err != nil {
			return err
		}
		a, err := e.readRM(rm, width)
		if err != nil {
			return err
		}
		b := e.readNonEA(rm, width)
		if res, write := e.mathOp(what, width, a, b); write {
			return e.writeRM(rm, width, res)
		}
	case 2:
		rm, err := e.fetchRM()
		if err != nil {
			return err
		}
		a := e.readNonEA(rm, width)
		b, err := e.readRM(rm, width)
		if err != nil {
			return err
		}
		if res, write := e.mathOp(what, width, a, b); write {
			e.writeNonEA(rm, width, res)
		}
	case 4:
		b, err := e.fetchImm(width)
		if err != nil {
			return err
		}
		a := e.regs.Read(insts.EAX, width)
		if res, write := e.mathOp(what, width, a, b); write {
			e.regs.Write(insts.EAX, width, res)
		}
	}
	return nil
}

func dasmMath(s *DisassemblyState) string {
	name := mnemonic(mathNames[(s.Opcode>>3)&7])
	width := s.byteOrOperandWidth()

	switch s.Opcode & 6 {
	case 0:
		rm := s.fetchRM()
		return name + s.rmString(rm, width, width, insts.EAFirst)
	case 2:
		rm := s.fetchRM()
		return name + s.rmString(rm, width, width, 0)
	default:
		imm := s.fetchImm(width)
		return name + insts.RegName(insts.EAX, width) + ", " + hexImm(width, imm)
	}
}

// execImmMath implements group 1: 80 and 82 take an imm8, 81 an immediate
// of the operand width and 83 a sign-extended imm8.
func execImmMath(e *Emulator, opcode uint8) error {
	width := e.byteOrOperandWidth(opcode)
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}

	var imm uint32
	if opcode == 0x81 {
		imm, err = e.fetchImm(width)
	} else {
		imm, err = e.fetchSImm8()
		imm &= widthMask(width)
	}
	if err != nil {
		return err
	}

	a, err := e.readRM(rm, width)
	if err != nil {
		return err
	}
	if res, write := e.mathOp(uint8(rm.NonEAReg), width, a, imm); write {
		return e.writeRM(rm, width, res)
	}
	return nil
}

func dasmImmMath(s *DisassemblyState) string {
	width := s.byteOrOperandWidth()
	rm := s.fetchRM()

	var imm uint32
	if s.Opcode == 0x81 {
		imm = s.fetchImm(width)
	} else {
		imm = uint32(int32(int8(s.fetch8()))) & widthMask(width)
	}
	if s.err != nil {
		return ""
	}
	return mnemonic(mathNames[rm.NonEAReg]) + s.eaString(rm, width, 0) + ", " + hexImm(width, imm)
}

// execIncDec implements 40-4F. CF is preserved.
func execIncDec(e *Emulator, opcode uint8) error {
	which := opcode & 7
	width := e.operandWidth()
	v := e.regs.Read(which, width)
	res, f := addSub(opcode&8 != 0, width, v, 1)
	e.regs.ApplyFlags(f.Restrict(^flags.CF))
	e.regs.Write(which, width, res)
	return nil
}

func dasmIncDec(s *DisassemblyState) string {
	name := "inc"
	if s.Opcode&8 != 0 {
		name = "dec"
	}
	return mnemonic(name) + insts.RegName(int8(s.Opcode&7), s.operandWidth())
}

// execTestRM implements 84 and 85.
func execTestRM(e *Emulator, opcode uint8) error {
	width := e.byteOrOperandWidth(opcode)
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	v, err := e.readRM(rm, width)
	if err != nil {
		return err
	}
	res := v & e.readNonEA(rm, width)
	e.regs.ApplyFlags(bitwiseFlags(width, res))
	return nil
}

func dasmTestRM(s *DisassemblyState) string {
	width := s.byteOrOperandWidth()
	rm := s.fetchRM()
	return mnemonic("test") + s.rmString(rm, width, width, insts.EAFirst)
}

// execTestEAXImm implements A8 and A9.
func execTestEAXImm(e *Emulator, opcode uint8) error {
	width := e.byteOrOperandWidth(opcode)
	imm, err := e.fetchImm(width)
	if err != nil {
		return err
	}
	res := e.regs.Read(insts.EAX, width) & imm
	e.regs.ApplyFlags(bitwiseFlags(width, res))
	return nil
}

func dasmTestEAXImm(s *DisassemblyState) string {
	width := s.byteOrOperandWidth()
	imm := s.fetchImm(width)
	return mnemonic("test") + insts.RegName(insts.EAX, width) + ", " + hexImm(width, imm)
}

func execCmc(e *Emulator, _ uint8) error {
	e.regs.ReplaceFlag(flags.CF, !e.regs.Flag(flags.CF))
	return nil
}

func execClc(e *Emulator, _ uint8) error {
	e.regs.ReplaceFlag(flags.CF, false)
	return nil
}

func execStc(e *Emulator, _ uint8) error {
	e.regs.ReplaceFlag(flags.CF, true)
	return nil
}

func execCld(e *Emulator, _ uint8) error {
	e.regs.ReplaceFlag(flags.DF, false)
	return nil
}

func execStd(e *Emulator, _ uint8) error {
	e.regs.ReplaceFlag(flags.DF, true)
	return nil
}

// execPrivileged rejects hlt, cli and sti, which need ring 0.
func execPrivileged(e *Emulator, opcode uint8) error {
	return fmt.Errorf("%w: %s at %08X", ErrPrivileged, simpleNames[opcode], e.instStart)
}

var simpleNames = map[uint8]string{
	0x27: "daa",
	0x2F: "das",
	0x37: "aaa",
	0x3F: "aas",
	0x9E: "sahf",
	0x9F: "lahf",
	0xC9: "leave",
	0xF4: "hlt",
	0xF5: "cmc",
	0xF8: "clc",
	0xF9: "stc",
	0xFA: "cli",
	0xFB: "sti",
	0xFC: "cld",
	0xFD: "std",
}

// dasmSimple renders opcodes without operands.
func dasmSimple(s *DisassemblyState) string {
	return simpleNames[s.Opcode]
}
