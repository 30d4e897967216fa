package emu

import (
	"fmt"

	"github.com/sarchlab/x86emu/flags"
	"github.com/sarchlab/x86emu/insts"
)

func (e *Emulator) fetchRel(wide bool) (uint32, error) {
	switch {
	case !wide:
		return e.fetchSImm8()
	case e.overrides.OperandSize:
		v, err := e.fetch16()
		return signExtend(uint32(v), 16), err
	default:
		return e.fetch32()
	}
}

func (s *DisassemblyState) fetchRel(wide bool) uint32 {
	switch {
	case !wide:
		return uint32(int32(int8(s.fetch8())))
	case s.Overrides.OperandSize:
		return signExtend(uint32(s.fetch16()), 16)
	default:
		return s.fetch32()
	}
}

// execJcc implements 70-7F and 0F 80-8F. The offset is always consumed.
func execJcc(e *Emulator, opcode uint8) error {
	offset, err := e.fetchRel(opcode >= 0x80)
	if err != nil {
		return err
	}
	if e.regs.CheckCondition(opcode & 0x0F) {
		e.regs.EIP += offset
	}
	return nil
}

func dasmJcc(s *DisassemblyState) string {
	// The escape routine has already replaced Opcode with the second byte,
	// so 0F 8x is told apart by its range.
	wide := s.Opcode >= 0x80
	offset := s.fetchRel(wide)
	if s.err != nil {
		return ""
	}
	dest := s.Addr() + offset
	return mnemonic("j"+insts.ConditionName(s.Opcode&0x0F)) + s.branchTarget(dest, false)
}

// execJecxz implements E3. With an address-size prefix it tests cx.
func execJecxz(e *Emulator, _ uint8) error {
	offset, err := e.fetchSImm8()
	if err != nil {
		return err
	}
	width := uint8(32)
	if e.overrides.AddressSize {
		width = 16
	}
	if e.regs.Read(insts.ECX, width) == 0 {
		e.regs.EIP += offset
	}
	return nil
}

func dasmJecxz(s *DisassemblyState) string {
	offset := s.fetchRel(false)
	name := "jecxz"
	if s.Overrides.AddressSize {
		name = "jcxz"
	}
	return mnemonic(name) + s.branchTarget(s.Addr()+offset, false)
}

// execCallJmp implements E8 call rel and E9 jmp rel.
func execCallJmp(e *Emulator, opcode uint8) error {
	offset, err := e.fetchRel(true)
	if err != nil {
		return err
	}
	if opcode == 0xE8 {
		if err := e.push(32, e.regs.EIP); err != nil {
			return err
		}
	}
	e.regs.EIP += offset
	return nil
}

func dasmCallJmp(s *DisassemblyState) string {
	offset := s.fetchRel(true)
	if s.err != nil {
		return ""
	}
	isCall := s.Opcode == 0xE8
	name := "jmp"
	if isCall {
		name = "call"
	}
	return mnemonic(name) + s.branchTarget(s.Addr()+offset, isCall)
}

// execJmpShort implements EB.
func execJmpShort(e *Emulator, _ uint8) error {
	offset, err := e.fetchSImm8()
	if err != nil {
		return err
	}
	e.regs.EIP += offset
	return nil
}

func dasmJmpShort(s *DisassemblyState) string {
	offset := s.fetchRel(false)
	if s.err != nil {
		return ""
	}
	return mnemonic("jmp") + s.branchTarget(s.Addr()+offset, false)
}

// execRet implements C3 and C2 imm16, which releases imm16 bytes of
// arguments after popping the return address.
func execRet(e *Emulator, opcode uint8) error {
	var release uint32
	if opcode == 0xC2 {
		v, err := e.fetch16()
		if err != nil {
			return err
		}
		release = uint32(v)
	}
	dest, err := e.pop(32)
	if err != nil {
		return err
	}
	e.regs.EIP = dest
	if release != 0 {
		e.regs.Write32(insts.ESP, e.regs.Read32(insts.ESP)+release)
	}
	return nil
}

func dasmRet(s *DisassemblyState) string {
	if s.Opcode == 0xC3 {
		return "ret"
	}
	return mnemonic("ret") + hexImm(16, uint32(s.fetch16()))
}

// execInt implements CC (int3) and CD imm8.
func execInt(e *Emulator, opcode uint8) error {
	vector := uint8(3)
	if opcode == 0xCD {
		v, err := e.fetch8()
		if err != nil {
			return err
		}
		vector = v
	}
	return e.interrupt(vector)
}

func dasmInt(s *DisassemblyState) string {
	if s.Opcode == 0xCC {
		return "int       03"
	}
	vector := s.fetch8()
	if vector == 3 && s.err == nil {
		return "int       03 // explicit two-byte form"
	}
	return mnemonic("int") + hexImm(8, uint32(vector))
}

var miscNames = [8]string{"inc", "dec", "call", "callf", "jmp", "jmpf", "push", ""}

// execIncDecMisc implements FE (/0 inc, /1 dec on bytes) and FF (/0 inc,
// /1 dec, /2 call, /4 jmp, /6 push). Far forms are not supported.
func execIncDecMisc(e *Emulator, opcode uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	sub := uint8(rm.NonEAReg)
	width := e.byteOrOperandWidth(opcode)

	if opcode == 0xFE && sub > 1 {
		return e.decodeError("invalid FE sub-opcode /%d", sub)
	}

	switch sub {
	case 0, 1:
		v, err := e.readRM(rm, width)
		if err != nil {
			return err
		}
		res, f := addSub(sub == 1, width, v, 1)
		if err := e.writeRM(rm, width, res); err != nil {
			return err
		}
		e.regs.ApplyFlags(f.Restrict(^flags.CF))
	case 2:
		e.last.Class = ClassBranch
		// The target is read before the return address is pushed, so
		// call [esp] sees the old top of stack.
		dest, err := e.readRM(rm, 32)
		if err != nil {
			return err
		}
		if err := e.push(32, e.regs.EIP); err != nil {
			return err
		}
		e.regs.EIP = dest
	case 4:
		e.last.Class = ClassBranch
		dest, err := e.readRM(rm, 32)
		if err != nil {
			return err
		}
		e.regs.EIP = dest
	case 6:
		e.last.Class = ClassStack
		v, err := e.readRM(rm, width)
		if err != nil {
			return err
		}
		return e.push(width, v)
	case 3, 5:
		return e.unimplemented(opcode, false, int8(sub))
	default:
		return e.decodeError("invalid FF sub-opcode /%d", sub)
	}
	return nil
}

func dasmIncDecMisc(s *DisassemblyState) string {
	rm := s.fetchRM()
	sub := rm.NonEAReg
	if s.err != nil {
		return ""
	}
	if (s.Opcode == 0xFE && sub > 1) || sub == 7 {
		return s.fail("invalid %02X sub-opcode /%d", s.Opcode, sub)
	}
	width := s.byteOrOperandWidth()
	if sub >= 2 && sub <= 5 {
		width = 32
	}
	return fmt.Sprintf("%s%s", mnemonic(miscNames[sub]), s.eaString(rm, width, 0))
}
