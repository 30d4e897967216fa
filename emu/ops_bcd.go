package emu

import (
	"fmt"

	"github.com/sarchlab/x86emu/flags"
	"github.com/sarchlab/x86emu/insts"
)

// execDaa implements 27 (decimal adjust after addition).
func execDaa(e *Emulator, _ uint8) error {
	origAL := e.regs.Read8(insts.EAX)
	origCF := e.regs.Flag(flags.CF)

	al := origAL
	adjustLow := e.regs.Flag(flags.AF) || origAL&0x0F > 9
	if adjustLow {
		al += 0x06
	}
	adjustHigh := origCF || origAL > 0x99
	if adjustHigh {
		al += 0x60
	}

	e.regs.Write8(insts.EAX, al)
	e.regs.ApplyFlags(flags.IntegerResult(al).
		With(flags.AF, adjustLow).
		With(flags.CF, adjustHigh))
	return nil
}

// execDas implements 2F (decimal adjust after subtraction).
func execDas(e *Emulator, _ uint8) error {
	origAL := e.regs.Read8(insts.EAX)
	origCF := e.regs.Flag(flags.CF)

	al := origAL
	cf := false
	adjustLow := e.regs.Flag(flags.AF) || origAL&0x0F > 9
	if adjustLow {
		cf = origCF || al < 0x06
		al -= 0x06
	}
	if origCF || origAL > 0x99 {
		al -= 0x60
		cf = true
	}

	e.regs.Write8(insts.EAX, al)
	e.regs.ApplyFlags(flags.IntegerResult(al).
		With(flags.AF, adjustLow).
		With(flags.CF, cf))
	return nil
}

// execAaa implements 37 (ASCII adjust after addition).
func execAaa(e *Emulator, _ uint8) error {
	al := e.regs.Read8(insts.EAX)
	adjust := e.regs.Flag(flags.AF) || al&0x0F > 9
	if adjust {
		e.regs.Write16(insts.EAX, e.regs.Read16(insts.EAX)+0x106)
		al = e.regs.Read8(insts.EAX)
	}
	e.regs.Write8(insts.EAX, al&0x0F)
	e.regs.ApplyFlags(flags.Flags{}.With(flags.AF, adjust).With(flags.CF, adjust))
	return nil
}

// execAas implements 3F (ASCII adjust after subtraction).
func execAas(e *Emulator, _ uint8) error {
	al := e.regs.Read8(insts.EAX)
	adjust := e.regs.Flag(flags.AF) || al&0x0F > 9
	if adjust {
		e.regs.Write16(insts.EAX, e.regs.Read16(insts.EAX)-0x006)
		e.regs.Write8(insts.EAX+4, e.regs.Read8(insts.EAX+4)-1)
		al = e.regs.Read8(insts.EAX)
	}
	e.regs.Write8(insts.EAX, al&0x0F)
	e.regs.ApplyFlags(flags.Flags{}.With(flags.AF, adjust).With(flags.CF, adjust))
	return nil
}

// execAam implements D4: ah = al / base, al = al % base.
func execAam(e *Emulator, _ uint8) error {
	base, err := e.fetch8()
	if err != nil {
		return err
	}
	if base == 0 {
		return ErrDivideError
	}
	al := e.regs.Read8(insts.EAX)
	e.regs.Write8(insts.EAX+4, al/base)
	e.regs.Write8(insts.EAX, al%base)
	e.regs.ApplyFlags(flags.IntegerResult(al % base))
	return nil
}

// execAad implements D5: al = al + ah * base, ah = 0.
func execAad(e *Emulator, _ uint8) error {
	base, err := e.fetch8()
	if err != nil {
		return err
	}
	al := e.regs.Read8(insts.EAX) + e.regs.Read8(insts.EAX+4)*base
	e.regs.Write8(insts.EAX, al)
	e.regs.Write8(insts.EAX+4, 0)
	e.regs.ApplyFlags(flags.IntegerResult(al))
	return nil
}

// dasmAamAad renders D4 and D5. A base other than 10 has no official
// mnemonic.
func dasmAamAad(s *DisassemblyState) string {
	base := s.fetch8()
	name, alias := "aam", "amx"
	if s.Opcode == 0xD5 {
		name, alias = "aad", "adx"
	}
	if base == 10 {
		return name
	}
	return fmt.Sprintf("%s%02X // unofficial mnemonic (%s with non-10 base)", mnemonic(alias), base, name)
}
