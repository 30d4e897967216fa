package emu

import (
	"fmt"

	"github.com/sarchlab/x86emu/flags"
	"github.com/sarchlab/x86emu/insts"
)

// String operations, by (opcode >> 1) & 7.
const (
	stringMovs = 2
	stringCmps = 3
	stringStos = 5
	stringLods = 6
	stringScas = 7
)

var stringOpNames = [8]string{"", "", "movs", "cmps", "", "stos", "lods", "scas"}

func isComparingStringOp(opcode uint8) bool {
	return opcode&0x06 == 0x06
}

// stringOpStep performs one element of a string operation and advances esi
// and edi by the element size in the direction given by DF. Segment
// overrides are ignored; user-mode segments are flat. Nothing moves when
// the element faults.
func (e *Emulator) stringOpStep(opcode, width uint8) error {
	delta := uint32(width / 8)
	if e.regs.Flag(flags.DF) {
		delta = -delta
	}

	advanceSI, advanceDI := true, true
	switch (opcode >> 1) & 7 {
	case stringMovs:
		v, err := e.readMem(e.regs.Read32(insts.ESI), width)
		if err != nil {
			return err
		}
		if err := e.writeMem(e.regs.Read32(insts.EDI), width, v); err != nil {
			return err
		}
	case stringCmps:
		a, err := e.readMem(e.regs.Read32(insts.ESI), width)
		if err != nil {
			return err
		}
		b, err := e.readMem(e.regs.Read32(insts.EDI), width)
		if err != nil {
			return err
		}
		_, f := addSub(true, width, a, b)
		e.regs.ApplyFlags(f)
	case stringStos:
		if err := e.writeMem(e.regs.Read32(insts.EDI), width, e.regs.Read(insts.EAX, width)); err != nil {
			return err
		}
		advanceSI = false
	case stringLods:
		v, err := e.readMem(e.regs.Read32(insts.ESI), width)
		if err != nil {
			return err
		}
		e.regs.Write(insts.EAX, width, v)
		advanceDI = false
	case stringScas:
		a := e.regs.Read(insts.EAX, width)
		b, err := e.readMem(e.regs.Read32(insts.EDI), width)
		if err != nil {
			return err
		}
		_, f := addSub(true, width, a, b)
		e.regs.ApplyFlags(f)
		advanceSI = false
	}

	if advanceDI {
		e.regs.Write32(insts.EDI, e.regs.Read32(insts.EDI)+delta)
	}
	if advanceSI {
		e.regs.Write32(insts.ESI, e.regs.Read32(insts.ESI)+delta)
	}
	return nil
}

// execStringOp implements A4-A7 and AA-AF with optional rep, repz and
// repnz prefixes. Each repeated element is linked in the provenance graph
// on its own, so bulk copies do not connect every source byte to every
// destination byte.
func execStringOp(e *Emulator, opcode uint8) error {
	if e.overrides.AddressSize {
		return &DecodeError{EIP: e.instStart, Err: insts.ErrAddressSizeOverride}
	}
	width := e.byteOrOperandWidth(opcode)

	if !e.overrides.RepeatZ && !e.overrides.RepeatNZ {
		return e.stringOpStep(opcode, width)
	}

	comparing := isComparingStringOp(opcode)
	if !comparing && e.overrides.RepeatNZ {
		return &DecodeError{EIP: e.instStart,
			Err: fmt.Errorf("%w: repnz on %s", ErrUnsupportedPrefix, stringOpNames[(opcode>>1)&7])}
	}

	expectZF := e.overrides.RepeatZ
	for e.regs.Read32(insts.ECX) != 0 {
		if err := e.stringOpStep(opcode, width); err != nil {
			return err
		}
		e.regs.Write32(insts.ECX, e.regs.Read32(insts.ECX)-1)
		e.linkAccesses()
		if comparing && e.regs.Flag(flags.ZF) != expectZF {
			break
		}
	}
	return nil
}

func dasmStringOp(s *DisassemblyState) string {
	if s.Overrides.AddressSize {
		return s.fail("string operation with address size override")
	}

	src := s.Overrides.Segment.String()
	if src == "" {
		src = "ds"
	}

	var prefix string
	switch {
	case isComparingStringOp(s.Opcode) && s.Overrides.RepeatZ:
		prefix = "repz "
	case isComparingStringOp(s.Opcode) && s.Overrides.RepeatNZ:
		prefix = "repnz "
	case s.Overrides.RepeatZ || s.Overrides.RepeatNZ:
		prefix = "rep "
	}
	name := mnemonic(prefix + stringOpNames[(s.Opcode>>1)&7])
	if name[len(name)-1] != ' ' {
		name += " "
	}

	width := s.byteOrOperandWidth()
	sizeWord := map[uint8]string{8: "byte ", 16: "word ", 32: "dword "}[width]
	a := insts.RegName(insts.EAX, width)
	edi := insts.DecodedRM{EAReg: insts.EDI, EAIndexReg: -1}
	esi := insts.DecodedRM{EAReg: insts.ESI, EAIndexReg: -1}

	switch (s.Opcode >> 1) & 7 {
	case stringMovs:
		return fmt.Sprintf("%s%ses:[edi], %s:[esi]", name, sizeWord, src) +
			s.annotation(edi, width) + s.annotation(esi, width)
	case stringCmps:
		return fmt.Sprintf("%s%s%s:[esi], es:[edi]", name, sizeWord, src) +
			s.annotation(esi, width) + s.annotation(edi, width)
	case stringStos:
		return fmt.Sprintf("%s%ses:[edi], %s", name, sizeWord, a) + s.annotation(edi, width)
	case stringLods:
		return fmt.Sprintf("%s%s%s, %s:[esi]", name, sizeWord, a, src) + s.annotation(esi, width)
	default:
		return fmt.Sprintf("%s%s%s, es:[edi]", name, sizeWord, a) + s.annotation(edi, width)
	}
}
