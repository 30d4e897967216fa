package emu

import (
	"fmt"

	"github.com/sarchlab/x86emu/insts"
)

var segmentPrefixes = map[uint8]insts.Segment{
	0x26: insts.SegmentES,
	0x2E: insts.SegmentCS,
	0x36: insts.SegmentSS,
	0x3E: insts.SegmentDS,
	0x64: insts.SegmentFS,
	0x65: insts.SegmentGS,
}

// applyPrefix records a prefix byte in ov. It is shared by execution and
// disassembly; only execution marks the overrides to survive the opcode.
func applyPrefix(ov *insts.Overrides, opcode uint8) error {
	if seg, ok := segmentPrefixes[opcode]; ok {
		ov.Segment = seg
		return nil
	}
	switch opcode {
	case 0x66:
		ov.OperandSize = true
	case 0x67:
		ov.AddressSize = true
	case 0x9B:
		ov.Wait = true
	case 0xF0:
		ov.Lock = true
	case 0xF2, 0xF3:
		if ov.RepeatNZ || ov.RepeatZ {
			return fmt.Errorf("%w: multiple repeat prefixes", ErrUnsupportedPrefix)
		}
		if opcode == 0xF2 {
			ov.RepeatNZ = true
		} else {
			ov.RepeatZ = true
		}
	default:
		return fmt.Errorf("%02X is not a prefix", opcode)
	}
	return nil
}

func execPrefix(e *Emulator, opcode uint8) error {
	if err := applyPrefix(&e.overrides, opcode); err != nil {
		return &DecodeError{EIP: e.instStart, Err: err}
	}
	e.overrides.MarkPrefix()
	return nil
}

// dasmPrefix returns an empty string so the next byte is decoded as part
// of the same instruction.
func dasmPrefix(s *DisassemblyState) string {
	if err := applyPrefix(&s.Overrides, s.Opcode); err != nil {
		s.setErr(err)
	}
	return ""
}

func exec0FExtensions(e *Emulator, _ uint8) error {
	opcode, err := e.fetch8()
	if err != nil {
		return err
	}
	impl := extendedOpcodes[opcode]
	e.last = OpcodeInfo{Opcode: opcode, Extended: true, Class: impl.class}
	if impl.exec == nil {
		return e.unimplemented(opcode, true, -1)
	}
	return impl.exec(e, opcode)
}

func dasm0FExtensions(s *DisassemblyState) string {
	s.Opcode = s.fetch8()
	if s.err != nil {
		return ""
	}
	dasm := extendedOpcodes[s.Opcode].dasm
	if dasm == nil {
		return fmt.Sprintf(".unknown  0F%02X", s.Opcode) + s.referenceName()
	}
	return dasm(s)
}
