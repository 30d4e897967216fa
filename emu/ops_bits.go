package emu

import (
	"math/bits"

	"github.com/sarchlab/x86emu/flags"
	"github.com/sarchlab/x86emu/insts"
)

// Bit test operations, by (opcode >> 3) & 3 or the low bits of the 0F BA
// sub-opcode.
const (
	bitTest = iota
	bitTestSet
	bitTestReset
	bitTestComplement
)

var bitTestNames = [4]string{"bt", "bts", "btr", "btc"}

// bitTestOp sets CF to the selected bit of v and returns v with the bit
// updated as the operation requires.
func (e *Emulator) bitTestOp(what uint8, v uint32, bit uint8) uint32 {
	mask := uint32(1) << bit
	e.regs.ReplaceFlag(flags.CF, v&mask != 0)
	switch what {
	case bitTestSet:
		v |= mask
	case bitTestReset:
		v &^= mask
	case bitTestComplement:
		v ^= mask
	}
	return v
}

// bitTestRM applies a bit test to the EA operand. A register operand takes
// the bit number modulo its width; a memory operand addresses the byte
// containing the bit, so offsets past the operand reach further memory.
func (e *Emulator) bitTestRM(what uint8, rm insts.DecodedRM, offset int32) error {
	width := e.operandWidth()
	if !rm.HasMemRef() {
		bit := uint8(offset) & (width - 1)
		v := e.bitTestOp(what, e.regs.Read(uint8(rm.EAReg), width), bit)
		if what != bitTest {
			e.regs.Write(uint8(rm.EAReg), width, v)
		}
		return nil
	}

	addr := e.ResolveMemEA(rm) + uint32(offset>>3)
	old, err := e.readMem(addr, 8)
	if err != nil {
		return err
	}
	v := e.bitTestOp(what, old, uint8(offset&7))
	if what != bitTest {
		return e.writeMem(addr, 8, v)
	}
	return nil
}

// execBitTest implements 0F A3 (bt), AB (bts), B3 (btr) and BB (btc) with
// the bit number in a register.
func execBitTest(e *Emulator, opcode uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	width := e.operandWidth()
	offset := int32(signExtend(e.readNonEA(rm, width), width))
	return e.bitTestRM((opcode>>3)&3, rm, offset)
}

func dasmBitTest(s *DisassemblyState) string {
	rm := s.fetchRM()
	width := s.operandWidth()
	return mnemonic(bitTestNames[(s.Opcode>>3)&3]) + s.rmString(rm, width, width, insts.EAFirst)
}

// execBitTestImm implements 0F BA /4-/7. The immediate bit number is
// signed.
func execBitTestImm(e *Emulator, _ uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	if rm.NonEAReg&4 == 0 {
		return e.decodeError("invalid 0F BA sub-opcode /%d", rm.NonEAReg)
	}
	bit, err := e.fetch8()
	if err != nil {
		return err
	}
	return e.bitTestRM(uint8(rm.NonEAReg&3), rm, int32(int8(bit)))
}

func dasmBitTestImm(s *DisassemblyState) string {
	rm := s.fetchRM()
	if s.err == nil && rm.NonEAReg&4 == 0 {
		return s.fail("invalid 0F BA sub-opcode /%d", rm.NonEAReg)
	}
	bit := s.fetch8()
	return mnemonic(bitTestNames[rm.NonEAReg&3]) + s.eaString(rm, s.operandWidth(), 0) + ", " + hexImm(8, uint32(bit))
}

// execBsfBsr implements 0F BC (bsf) and 0F BD (bsr). A zero source sets ZF
// and leaves the destination unchanged.
func execBsfBsr(e *Emulator, opcode uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	width := e.operandWidth()
	v, err := e.readRM(rm, width)
	if err != nil {
		return err
	}

	e.regs.ReplaceFlag(flags.ZF, v == 0)
	if v != 0 {
		var idx int
		if opcode&1 != 0 {
			idx = bits.Len32(v) - 1
		} else {
			idx = bits.TrailingZeros32(v)
		}
		e.writeNonEA(rm, width, uint32(idx))
	}

	if e.behavior == BehaviorWindowsARMEmulator {
		e.regs.ReplaceFlag(flags.OF, false)
		e.regs.ReplaceFlag(flags.SF, width == 32 && msb(v, 32))
		e.regs.ReplaceFlag(flags.CF, true)
	}
	return nil
}

func dasmBsfBsr(s *DisassemblyState) string {
	rm := s.fetchRM()
	name := "bsf"
	if s.Opcode&1 != 0 {
		name = "bsr"
	}
	width := s.operandWidth()
	return mnemonic(name) + s.rmString(rm, width, width, 0)
}

// execXadd implements 0F C0 and C1: the register receives the old
// destination and the destination receives the sum.
func execXadd(e *Emulator, opcode uint8) error {
	width := e.byteOrOperandWidth(opcode)
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	a := e.readNonEA(rm, width)
	b, err := e.readRM(rm, width)
	if err != nil {
		return err
	}
	res, f := addSub(false, width, a, b)
	if rm.HasMemRef() {
		if err := e.writeRM(rm, width, res); err != nil {
			return err
		}
		e.writeNonEA(rm, width, b)
	} else {
		// xadd r, r with the same register keeps the sum.
		e.writeNonEA(rm, width, b)
		e.regs.Write(uint8(rm.EAReg), width, res)
	}
	e.regs.ApplyFlags(f)
	return nil
}

func dasmXadd(s *DisassemblyState) string {
	width := s.byteOrOperandWidth()
	rm := s.fetchRM()
	return mnemonic("xadd") + s.rmString(rm, width, width, insts.EAFirst)
}

// execBswap implements 0F C8-CF. The 16-bit form is undefined; it swaps
// the two bytes, except under the Windows ARM emulator, which zeroes the
// register.
func execBswap(e *Emulator, opcode uint8) error {
	which := opcode & 7
	if !e.overrides.OperandSize {
		e.regs.Write32(which, bits.ReverseBytes32(e.regs.Read32(which)))
		return nil
	}
	if e.behavior == BehaviorWindowsARMEmulator {
		e.regs.Write16(which, 0)
		return nil
	}
	e.regs.Write16(which, bits.ReverseBytes16(e.regs.Read16(which)))
	return nil
}

func dasmBswap(s *DisassemblyState) string {
	return mnemonic("bswap") + insts.RegName(int8(s.Opcode&7), s.operandWidth())
}
