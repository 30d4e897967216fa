package emu_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/flags"
	"github.com/sarchlab/x86emu/insts"
)

var _ = Describe("Multiply and divide", func() {
	It("should widen mul into edx:eax", func() {
		// mul ecx
		e, _ := newTestEmulator([]byte{0xF7, 0xE1})
		e.Regs().Write32(insts.EAX, 0x80000000)
		e.Regs().Write32(insts.ECX, 4)

		stepN(e, 1)

		Expect(e.Regs().Read32(insts.EAX)).To(BeZero())
		Expect(e.Regs().Read32(insts.EDX)).To(Equal(uint32(2)))
		Expect(e.Regs().Flag(flags.CF)).To(BeTrue())
		Expect(e.Regs().Flag(flags.OF)).To(BeTrue())
		Expect(e.LastOpcode().Class).To(Equal(emu.ClassMultiply))
	})

	It("should multiply bytes into ax", func() {
		// mul cl
		e, _ := newTestEmulator([]byte{0xF6, 0xE1})
		e.Regs().Write32(insts.EAX, 0xFFFF0010)
		e.Regs().Write32(insts.ECX, 0x10)

		stepN(e, 1)

		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(0xFFFF0100)))
		Expect(e.Regs().Flag(flags.CF)).To(BeTrue())
	})

	It("should fault on division by zero without changing state", func() {
		// div ecx
		e, _ := newTestEmulator([]byte{0xF7, 0xF1})
		e.Regs().Write32(insts.EAX, 100)

		result := e.Step()

		Expect(result.Err).To(MatchError(emu.ErrDivideError))
		Expect(e.Regs().EIP).To(Equal(codeBase))
		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(100)))
		Expect(e.InstructionCount()).To(BeZero())
	})

	It("should fault when the quotient does not fit", func() {
		// div ecx with edx:eax = 0x200000000
		e, _ := newTestEmulator([]byte{0xF7, 0xF1})
		e.Regs().Write32(insts.EDX, 2)
		e.Regs().Write32(insts.ECX, 1)

		Expect(e.Step().Err).To(MatchError(emu.ErrDivideError))
	})

	It("should fault on the most negative dividend over -1", func() {
		// idiv ecx
		e, _ := newTestEmulator([]byte{0xF7, 0xF9})
		e.Regs().Write32(insts.EDX, 0x80000000)
		e.Regs().Write32(insts.ECX, 0xFFFFFFFF)

		Expect(e.Step().Err).To(MatchError(emu.ErrDivideError))
	})

	It("should truncate signed division toward zero", func() {
		// cdq; idiv ecx
		e, _ := newTestEmulator([]byte{0x99, 0xF7, 0xF9})
		e.Regs().Write32(insts.EAX, uint32(0xFFFFFFF9)) // -7
		e.Regs().Write32(insts.ECX, 2)

		stepN(e, 2)

		Expect(int32(e.Regs().Read32(insts.EAX))).To(Equal(int32(-3)))
		Expect(int32(e.Regs().Read32(insts.EDX))).To(Equal(int32(-1)))
		Expect(e.LastOpcode().Class).To(Equal(emu.ClassDivide))
	})

	It("should divide ax by a byte into al and ah", func() {
		// div cl
		e, _ := newTestEmulator([]byte{0xF6, 0xF1})
		e.Regs().Write32(insts.EAX, 103)
		e.Regs().Write32(insts.ECX, 10)

		stepN(e, 1)

		Expect(e.Regs().Read8(insts.EAX)).To(Equal(uint8(10)))
		Expect(e.Regs().Read8(insts.EAX + 4)).To(Equal(uint8(3)))
	})

	It("should multiply by a sign-extended immediate", func() {
		// imul eax, ecx, -2
		e, _ := newTestEmulator([]byte{0x6B, 0xC1, 0xFE})
		e.Regs().Write32(insts.ECX, 21)

		stepN(e, 1)

		Expect(int32(e.Regs().Read32(insts.EAX))).To(Equal(int32(-42)))
		Expect(e.Regs().Flag(flags.CF)).To(BeFalse())
		Expect(e.Regs().Flag(flags.OF)).To(BeFalse())
	})

	It("should report signed overflow from imul r, r/m", func() {
		// imul eax, ecx
		e, _ := newTestEmulator([]byte{0x0F, 0xAF, 0xC1})
		e.Regs().Write32(insts.EAX, 0x40000000)
		e.Regs().Write32(insts.ECX, 2)

		stepN(e, 1)

		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(0x80000000)))
		Expect(e.Regs().Flag(flags.OF)).To(BeTrue())
	})

	It("should negate and set CF for a nonzero operand", func() {
		// neg eax
		e, _ := newTestEmulator([]byte{0xF7, 0xD8})
		e.Regs().Write32(insts.EAX, 5)

		stepN(e, 1)

		Expect(int32(e.Regs().Read32(insts.EAX))).To(Equal(int32(-5)))
		Expect(e.Regs().Flag(flags.CF)).To(BeTrue())
	})
})

var _ = Describe("Bit operations", func() {
	It("should test a register bit with an immediate", func() {
		// bt eax, 3
		e, _ := newTestEmulator([]byte{0x0F, 0xBA, 0xE0, 0x03})
		e.Regs().Write32(insts.EAX, 0x08)

		stepN(e, 1)

		Expect(e.Regs().Flag(flags.CF)).To(BeTrue())
		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(0x08)))
	})

	It("should reject 0F BA /0", func() {
		e, _ := newTestEmulator([]byte{0x0F, 0xBA, 0xC0, 0x03})

		var decodeErr *emu.DecodeError
		Expect(errors.As(e.Step().Err, &decodeErr)).To(BeTrue())
	})

	It("should address memory past the operand with a register bit offset", func() {
		// bts [ebx], eax
		e, mem := newTestEmulator([]byte{0x0F, 0xAB, 0x03})
		e.Regs().Write32(insts.EBX, dataBase)
		e.Regs().Write32(insts.EAX, 35)

		stepN(e, 1)

		Expect(mem.Read8(dataBase + 4)).To(Equal(uint8(0x08)))
		Expect(e.Regs().Flag(flags.CF)).To(BeFalse())
	})

	It("should accept negative bit offsets", func() {
		// btr [ebx], eax
		e, mem := newTestEmulator([]byte{0x0F, 0xB3, 0x03})
		Expect(mem.Write8(dataBase+0x0F, 0xFF)).To(Succeed())
		e.Regs().Write32(insts.EBX, dataBase+0x10)
		e.Regs().Write32(insts.EAX, uint32(0xFFFFFFFF)) // -1

		stepN(e, 1)

		Expect(mem.Read8(dataBase + 0x0F)).To(Equal(uint8(0x7F)))
		Expect(e.Regs().Flag(flags.CF)).To(BeTrue())
	})

	It("should find the lowest set bit", func() {
		// bsf eax, ecx
		e, _ := newTestEmulator([]byte{0x0F, 0xBC, 0xC1})
		e.Regs().Write32(insts.ECX, 0x00F0)

		stepN(e, 1)

		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(4)))
		Expect(e.Regs().Flag(flags.ZF)).To(BeFalse())
	})

	It("should leave the destination alone for a zero source", func() {
		// bsr eax, ecx
		e, _ := newTestEmulator([]byte{0x0F, 0xBD, 0xC1})
		e.Regs().Write32(insts.EAX, 0x1234)

		stepN(e, 1)

		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(0x1234)))
		Expect(e.Regs().Flag(flags.ZF)).To(BeTrue())
	})

	It("should swap bytes", func() {
		// bswap edx
		e, _ := newTestEmulator([]byte{0x0F, 0xCA})
		e.Regs().Write32(insts.EDX, 0x11223344)

		stepN(e, 1)

		Expect(e.Regs().Read32(insts.EDX)).To(Equal(uint32(0x44332211)))
	})

	DescribeTable("16-bit bswap",
		func(behavior emu.Behavior, expected uint32) {
			e, _ := newTestEmulator([]byte{0x66, 0x0F, 0xC8}, emu.WithBehavior(behavior))
			e.Regs().Write32(insts.EAX, 0x11223344)

			stepN(e, 1)

			Expect(e.Regs().Read32(insts.EAX)).To(Equal(expected))
		},
		Entry("swaps the low word", emu.BehaviorSpecification, uint32(0x11224433)),
		Entry("zeroes the low word under the Windows ARM emulator", emu.BehaviorWindowsARMEmulator, uint32(0x11220000)),
	)

	It("should exchange and add", func() {
		// xadd eax, ecx
		e, _ := newTestEmulator([]byte{0x0F, 0xC1, 0xC8})
		e.Regs().Write32(insts.EAX, 10)
		e.Regs().Write32(insts.ECX, 3)

		stepN(e, 1)

		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(13)))
		Expect(e.Regs().Read32(insts.ECX)).To(Equal(uint32(10)))
	})

	It("should move only when the condition holds", func() {
		// cmove eax, [ebx]
		e, _ := newTestEmulator([]byte{0x0F, 0x44, 0x03}, emu.WithMemoryAccessLog(true))
		e.Regs().Write32(insts.EBX, 0x10) // unmapped

		stepN(e, 1)

		Expect(e.MemoryAccessLog()).To(BeEmpty())
	})

	It("should set a byte from a condition", func() {
		// stc; setc al
		e, _ := newTestEmulator([]byte{0xF9, 0x0F, 0x92, 0xC0})
		e.Regs().Write32(insts.EAX, 0xFFFFFF00)

		stepN(e, 2)

		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(0xFFFFFF01)))
	})
})

var _ = Describe("Processor identification and time", func() {
	It("should report the vendor from cpuid leaf 0", func() {
		e, _ := newTestEmulator([]byte{0x0F, 0xA2})

		stepN(e, 1)

		vendor := make([]byte, 0, 12)
		for _, r := range []uint8{insts.EBX, insts.EDX, insts.ECX} {
			v := e.Regs().Read32(r)
			vendor = append(vendor, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
		}
		Expect(string(vendor)).To(Equal("GenuineIntel"))
		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(1)))
	})

	It("should report sse2 from cpuid leaf 1", func() {
		e, _ := newTestEmulator([]byte{0x0F, 0xA2})
		e.Regs().Write32(insts.EAX, 1)

		stepN(e, 1)

		Expect(e.Regs().Read32(insts.EDX) & (1 << 26)).NotTo(BeZero())
	})

	It("should reject unknown cpuid leaves", func() {
		e, _ := newTestEmulator([]byte{0x0F, 0xA2})
		e.Regs().Write32(insts.EAX, 7)

		var decodeErr *emu.DecodeError
		Expect(errors.As(e.Step().Err, &decodeErr)).To(BeTrue())
	})

	It("should count instructions with rdtsc", func() {
		e, _ := newTestEmulator([]byte{0x90, 0x90, 0x0F, 0x31})

		stepN(e, 3)

		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(2)))
		Expect(e.Regs().Read32(insts.EDX)).To(BeZero())
	})

	It("should start from the time base", func() {
		e, _ := newTestEmulator([]byte{0x90, 0x0F, 0x31})
		stepN(e, 1)
		e.SetTimeBase(0x100000005)

		stepN(e, 1)

		Expect(e.Regs().Read32(insts.EDX)).To(Equal(uint32(1)))
		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(5)))
		Expect(e.TimeBase()).To(Equal(uint64(0x100000006)))
	})

	It("should return queued overrides first", func() {
		e, _ := newTestEmulator([]byte{0x0F, 0x31, 0x0F, 0x31, 0x0F, 0x31})
		e.SetTimeOverrides([]uint64{7, 0xAB00000009})

		stepN(e, 1)
		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(7)))
		stepN(e, 1)
		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(9)))
		Expect(e.Regs().Read32(insts.EDX)).To(Equal(uint32(0xAB)))
		stepN(e, 1)
		Expect(e.Regs().Read32(insts.EAX)).To(Equal(uint32(2)))
	})
})

var _ = Describe("SSE moves", func() {
	It("should move a dword into an xmm register", func() {
		// movd xmm0, eax
		e, _ := newTestEmulator([]byte{0x66, 0x0F, 0x6E, 0xC0})
		e.Regs().WriteXMM128(0, emu.XMMFromHalves(0xFFFFFFFFFFFFFFFF, 0xFFFFFFFFFFFFFFFF))
		e.Regs().Write32(insts.EAX, 0x12345678)

		stepN(e, 1)

		Expect(e.Regs().ReadXMM128(0)).To(Equal(emu.XMMFromU32(0x12345678)))
	})

	It("should reject mm register forms", func() {
		e, _ := newTestEmulator([]byte{0x0F, 0x6E, 0xC0})

		result := e.Step()

		var decodeErr *emu.DecodeError
		Expect(errors.As(result.Err, &decodeErr)).To(BeTrue())
		Expect(result.Err.Error()).To(ContainSubstring("mm registers are not supported"))
	})

	It("should store the low qword with movq", func() {
		// movq [ebx], xmm0
		e, mem := newTestEmulator([]byte{0x66, 0x0F, 0xD6, 0x03})
		e.Regs().WriteXMM128(0, emu.XMMFromHalves(0x1122334455667788, 0x99))
		e.Regs().Write32(insts.EBX, dataBase)

		stepN(e, 1)

		Expect(mem.Read64(dataBase)).To(Equal(uint64(0x1122334455667788)))
		Expect(mem.Read32(dataBase + 8)).To(BeZero())
	})

	It("should store the low dword with 66 0F 7E", func() {
		// movd [ebx], xmm1
		e, mem := newTestEmulator([]byte{0x66, 0x0F, 0x7E, 0x0B})
		e.Regs().WriteXMM128(1, emu.XMMFromHalves(0xAAAAAAAA12345678, 0))
		e.Regs().Write32(insts.EBX, dataBase)

		stepN(e, 1)

		Expect(mem.Read32(dataBase)).To(Equal(uint32(0x12345678)))
	})

	It("should load a qword with F3 0F 7E and clear the rest", func() {
		// movq xmm2, [ebx]
		e, mem := newTestEmulator([]byte{0xF3, 0x0F, 0x7E, 0x13})
		Expect(mem.Write64(dataBase, 0x0102030405060708)).To(Succeed())
		e.Regs().WriteXMM128(2, emu.XMMFromHalves(1, 1))
		e.Regs().Write32(insts.EBX, dataBase)

		stepN(e, 1)

		Expect(e.Regs().ReadXMM128(2)).To(Equal(emu.XMMFromU64(0x0102030405060708)))
	})

	It("should copy 128 bits with movdqu", func() {
		// movdqu [ebx], xmm3
		e, mem := newTestEmulator([]byte{0xF3, 0x0F, 0x7F, 0x1B})
		e.Regs().WriteXMM128(3, emu.XMMFromHalves(0x1111, 0x2222))
		e.Regs().Write32(insts.EBX, dataBase)

		stepN(e, 1)

		Expect(mem.Read64(dataBase)).To(Equal(uint64(0x1111)))
		Expect(mem.Read64(dataBase + 8)).To(Equal(uint64(0x2222)))
	})

	It("should zero a register with pxor", func() {
		// pxor xmm4, xmm4
		e, _ := newTestEmulator([]byte{0x66, 0x0F, 0xEF, 0xE4})
		e.Regs().WriteXMM128(4, emu.XMMFromHalves(5, 6))

		stepN(e, 1)

		Expect(e.Regs().ReadXMM128(4).IsZero()).To(BeTrue())
	})

	It("should keep the upper bits on a register movss", func() {
		// movss xmm0, xmm1
		e, _ := newTestEmulator([]byte{0xF3, 0x0F, 0x10, 0xC1})
		e.Regs().WriteXMM128(0, emu.XMMFromHalves(0xFFFFFFFFFFFFFFFF, 0xFFFFFFFFFFFFFFFF))
		e.Regs().WriteXMM128(1, emu.XMMFromU32(0x3F800000))

		stepN(e, 1)

		Expect(e.Regs().ReadXMM128(0)).To(Equal(emu.XMMFromHalves(0xFFFFFFFF3F800000, 0xFFFFFFFFFFFFFFFF)))
	})

	It("should clear the upper bits on a memory movsd", func() {
		// movsd xmm0, [ebx]
		e, mem := newTestEmulator([]byte{0xF2, 0x0F, 0x10, 0x03})
		Expect(mem.Write64(dataBase, 0x4000000000000000)).To(Succeed())
		e.Regs().WriteXMM128(0, emu.XMMFromHalves(1, 1))
		e.Regs().Write32(insts.EBX, dataBase)

		stepN(e, 1)

		Expect(e.Regs().ReadXMM128(0)).To(Equal(emu.XMMFromU64(0x4000000000000000)))
	})
})
