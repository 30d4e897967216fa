package emu

import (
	"github.com/sarchlab/x86emu/flags"
	"github.com/sarchlab/x86emu/insts"
)

var miscMathNames = [8]string{"test", "test", "not", "neg", "mul", "imul", "div", "idiv"}

// readWide returns the implicit double-width operand of mul and div:
// ax for bytes, dx:ax for words, edx:eax for dwords.
func (e *Emulator) readWide(width uint8) uint64 {
	if width == 8 {
		return uint64(e.regs.Read16(insts.EAX))
	}
	high := uint64(e.regs.Read(insts.EDX, width))
	low := uint64(e.regs.Read(insts.EAX, width))
	return high<<width | low
}

func (e *Emulator) writeWide(width uint8, v uint64) {
	if width == 8 {
		e.regs.Write16(insts.EAX, uint16(v))
		return
	}
	e.regs.Write(insts.EAX, width, uint32(v)&widthMask(width))
	e.regs.Write(insts.EDX, width, uint32(v>>width)&widthMask(width))
}

// writeQuotient stores the results of div and idiv: al/ah for bytes,
// eAX/eDX otherwise.
func (e *Emulator) writeQuotient(width uint8, quotient, remainder uint32) {
	if width == 8 {
		e.regs.Write8(insts.EAX, uint8(quotient))
		e.regs.Write8(insts.EAX+4, uint8(remainder))
		return
	}
	e.regs.Write(insts.EAX, width, quotient)
	e.regs.Write(insts.EDX, width, remainder)
}

func signExtend64(v uint64, width uint8) int64 {
	shift := 64 - width
	return int64(v<<shift) >> shift
}

// execMiscMath implements group 3 (F6 and F7).
func execMiscMath(e *Emulator, opcode uint8) error {
	width := e.byteOrOperandWidth(opcode)
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	sub := uint8(rm.NonEAReg)

	var imm uint32
	if sub < 2 {
		if imm, err = e.fetchImm(width); err != nil {
			return err
		}
	}
	v, err := e.readRM(rm, width)
	if err != nil {
		return err
	}

	switch sub {
	case 0, 1:
		e.regs.ApplyFlags(bitwiseFlags(width, v&imm))

	case 2:
		return e.writeRM(rm, width, ^v&widthMask(width))

	case 3:
		res, f := addSub(true, width, 0, v)
		if err := e.writeRM(rm, width, res); err != nil {
			return err
		}
		e.regs.ApplyFlags(f)

	case 4:
		e.last.Class = ClassMultiply
		a := uint64(e.regs.Read(insts.EAX, width))
		res := a * uint64(v)
		e.writeWide(width, res)
		overflow := res>>width != 0
		e.regs.ApplyFlags(flags.Flags{}.With(flags.CF, overflow).With(flags.OF, overflow))

	case 5:
		e.last.Class = ClassMultiply
		src := signExtend64(uint64(v), width)
		a := signExtend64(uint64(e.regs.Read(insts.EAX, width)), width)
		res := a * src
		e.writeWide(width, uint64(res))
		overflow := signExtend64(uint64(res), width) != res
		e.regs.ApplyFlags(flags.Flags{}.With(flags.CF, overflow).With(flags.OF, overflow))

	case 6:
		e.last.Class = ClassDivide
		divisor := uint64(v)
		if divisor == 0 {
			return ErrDivideError
		}
		dividend := e.readWide(width)
		quotient := dividend / divisor
		if quotient > uint64(widthMask(width)) {
			return ErrDivideError
		}
		e.writeQuotient(width, uint32(quotient), uint32(dividend%divisor))

	case 7:
		e.last.Class = ClassDivide
		divisor := signExtend64(uint64(v), width)
		if divisor == 0 {
			return ErrDivideError
		}
		dividend := signExtend64(e.readWide(width), width*2)
		// The one quotient that does not fit in int64.
		if width == 32 && dividend == -1<<63 && divisor == -1 {
			return ErrDivideError
		}
		quotient := dividend / divisor
		remainder := dividend % divisor
		if quotient != signExtend64(uint64(quotient), width) {
			return ErrDivideError
		}
		e.writeQuotient(width, uint32(quotient)&widthMask(width), uint32(remainder)&widthMask(width))
	}
	return nil
}

func dasmMiscMath(s *DisassemblyState) string {
	width := s.byteOrOperandWidth()
	rm := s.fetchRM()
	name := mnemonic(miscMathNames[rm.NonEAReg])
	if rm.NonEAReg < 2 {
		imm := s.fetchImm(width)
		return name + s.eaString(rm, width, 0) + ", " + hexImm(width, imm)
	}
	return name + s.eaString(rm, width, 0)
}

// imulTruncated computes the low width bits of a*b and whether the signed
// product did not fit.
func imulTruncated(width uint8, a, b uint32) (uint32, bool) {
	full := signExtend64(uint64(a), width) * signExtend64(uint64(b), width)
	res := uint32(full) & widthMask(width)
	return res, signExtend64(uint64(res), width) != full
}

func (e *Emulator) applyIMulFlags(overflow bool) {
	e.regs.ApplyFlags(flags.Flags{}.With(flags.CF, overflow).With(flags.OF, overflow))
}

// execIMulImm implements 69 (imul r, r/m, imm) and 6B (imul r, r/m, imm8).
func execIMulImm(e *Emulator, opcode uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	width := e.operandWidth()
	var imm uint32
	if opcode == 0x69 {
		imm, err = e.fetchImm(width)
	} else {
		imm, err = e.fetchSImm8()
		imm &= widthMask(width)
	}
	if err != nil {
		return err
	}
	v, err := e.readRM(rm, width)
	if err != nil {
		return err
	}
	res, overflow := imulTruncated(width, v, imm)
	e.writeNonEA(rm, width, res)
	e.applyIMulFlags(overflow)
	return nil
}

func dasmIMulImm(s *DisassemblyState) string {
	rm := s.fetchRM()
	width := s.operandWidth()
	var imm uint32
	if s.Opcode == 0x69 {
		imm = s.fetchImm(width)
	} else {
		imm = uint32(int32(int8(s.fetch8())))
	}
	return mnemonic("imul") + s.rmString(rm, width, width, 0) + ", " + hexImm(width, imm)
}

// execIMulRM implements 0F AF (imul r, r/m).
func execIMulRM(e *Emulator, _ uint8) error {
	rm, err := e.fetchRM()
	if err != nil {
		return err
	}
	width := e.operandWidth()
	v, err := e.readRM(rm, width)
	if err != nil {
		return err
	}
	res, overflow := imulTruncated(width, e.readNonEA(rm, width), v)
	e.writeNonEA(rm, width, res)
	e.applyIMulFlags(overflow)
	return nil
}

func dasmIMulRM(s *DisassemblyState) string {
	rm := s.fetchRM()
	width := s.operandWidth()
	return mnemonic("imul") + s.rmString(rm, width, width, 0)
}
