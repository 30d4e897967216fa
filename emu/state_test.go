package emu_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/flags"
	"github.com/sarchlab/x86emu/insts"
)

var errWriteFailed = errors.New("write failed")

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errWriteFailed
}

func writeLE(buf *bytes.Buffer, values ...any) {
	for _, v := range values {
		ExpectWithOffset(1, binary.Write(buf, binary.LittleEndian, v)).To(Succeed())
	}
}

var _ = Describe("State export and import", func() {
	It("should round-trip the CPU state", func() {
		src, _ := newTestEmulator([]byte{0x90, 0x40}, emu.WithBehavior(emu.BehaviorWindowsARMEmulator))
		stepN(src, 1)
		src.Regs().Write32(insts.ESI, 0x1234)
		src.Regs().WriteXMM128(5, emu.XMMFromHalves(0xAA, 0xBB))
		src.Regs().ReplaceFlag(flags.CF, true)
		src.SetTimeBase(1000)
		src.SetTimeOverrides([]uint64{42})

		var buf bytes.Buffer
		Expect(src.ExportState(&buf)).To(Succeed())

		dst, _ := newTestEmulator(nil)
		Expect(dst.ImportState(&buf)).To(Succeed())

		Expect(dst.Behavior()).To(Equal(emu.BehaviorWindowsARMEmulator))
		Expect(dst.InstructionCount()).To(Equal(uint64(1)))
		Expect(dst.TimeBase()).To(Equal(uint64(1000)))
		Expect(dst.Regs().EIP).To(Equal(codeBase + 1))
		Expect(dst.Regs().ReadUnreported32(insts.ESI)).To(Equal(uint32(0x1234)))
		Expect(dst.Regs().ReadXMMUnreported(5, 128)).To(Equal(emu.XMMFromHalves(0xAA, 0xBB)))
		Expect(dst.Regs().EFlagsUnreported() & flags.CF).To(Equal(flags.CF))
		Expect(dst.Regs().AccessMasks()).To(Equal(src.Regs().AccessMasks()))
		Expect(buf.Len()).To(BeZero())
	})

	It("should import the register-only format", func() {
		var buf bytes.Buffer
		regs := [8]uint32{1, 2, 3, 4, 5, 6, 7, 8}
		writeLE(&buf, uint8(0), regs, uint32(0x202), uint32(0x401234))

		e, _ := newTestEmulator(nil)
		e.SetTimeBase(99)
		Expect(e.ImportState(&buf)).To(Succeed())

		Expect(e.Regs().ReadUnreported32(insts.EDI)).To(Equal(uint32(8)))
		Expect(e.Regs().EFlagsUnreported()).To(Equal(uint32(0x202)))
		Expect(e.Regs().EIP).To(Equal(uint32(0x401234)))
		Expect(e.Behavior()).To(Equal(emu.BehaviorSpecification))
		Expect(e.TimeBase()).To(BeZero())
		Expect(e.InstructionCount()).To(BeZero())
	})

	It("should import the format without instruction counts", func() {
		var buf bytes.Buffer
		writeLE(&buf, uint8(1), uint8(emu.BehaviorWindowsARMEmulator), uint64(500),
			uint64(1), uint64(77),
			[8]uint32{}, uint32(0x202), uint32(0x401000))
		for i := 0; i < emu.NumRegs; i++ {
			writeLE(&buf, [2]uint64{uint64(i), 0})
		}

		e, _ := newTestEmulator(nil)
		Expect(e.ImportState(&buf)).To(Succeed())

		Expect(e.Behavior()).To(Equal(emu.BehaviorWindowsARMEmulator))
		Expect(e.TimeBase()).To(Equal(uint64(500)))
		Expect(e.Regs().ReadXMMUnreported(7, 128)).To(Equal(emu.XMMFromU64(7)))
	})

	It("should reject newer versions", func() {
		e, _ := newTestEmulator(nil)
		e.Regs().Write32(insts.EAX, 5)

		err := e.ImportState(bytes.NewReader([]byte{3, 0, 0, 0}))

		var versionErr *emu.StateVersionError
		Expect(errors.As(err, &versionErr)).To(BeTrue())
		Expect(versionErr.Version).To(Equal(uint8(3)))
		Expect(e.Regs().ReadUnreported32(insts.EAX)).To(Equal(uint32(5)))
	})

	It("should reject an unknown behavior", func() {
		var buf bytes.Buffer
		writeLE(&buf, uint8(1), uint8(9), uint64(0))

		e, _ := newTestEmulator(nil)
		Expect(e.ImportState(&buf)).To(MatchError(ContainSubstring("invalid behavior")))
	})

	It("should fail on truncated input", func() {
		e, _ := newTestEmulator(nil)
		Expect(e.ImportState(bytes.NewReader([]byte{2, 0}))).NotTo(Succeed())
	})

	It("should name the field a truncated state ends in", func() {
		var buf bytes.Buffer
		writeLE(&buf, uint8(0), [3]uint32{1, 2, 3})

		e, _ := newTestEmulator(nil)
		err := e.ImportState(&buf)

		Expect(err).To(MatchError(ContainSubstring("reading registers")))
		Expect(errors.Is(err, io.ErrUnexpectedEOF)).To(BeTrue())
	})

	It("should reject a huge time override count without allocating it", func() {
		var buf bytes.Buffer
		writeLE(&buf, uint8(1), uint8(0), uint64(0), uint64(1)<<60, uint64(7))

		e, _ := newTestEmulator(nil)
		e.Regs().Write32(insts.EAX, 5)

		var err error
		Expect(func() { err = e.ImportState(&buf) }).NotTo(Panic())
		Expect(err).To(MatchError(ContainSubstring("reading time override 1 of")))
		Expect(errors.Is(err, io.EOF)).To(BeTrue())
		Expect(e.Regs().ReadUnreported32(insts.EAX)).To(Equal(uint32(5)))
	})

	It("should report the failing field on export", func() {
		e, _ := newTestEmulator(nil)

		err := e.ExportState(failingWriter{})

		Expect(err).To(MatchError(ContainSubstring("writing version")))
		Expect(errors.Is(err, errWriteFailed)).To(BeTrue())
	})

	It("should forget provenance on import", func() {
		src, _ := newTestEmulator([]byte{0xB8, 1, 0, 0, 0}, emu.WithDataSourceTracing(true))
		stepN(src, 1)
		Expect(src.Tracer().SourcesForRegister("eax")).To(HaveLen(1))

		var buf bytes.Buffer
		Expect(src.ExportState(&buf)).To(Succeed())
		Expect(src.ImportState(&buf)).To(Succeed())

		Expect(src.Tracer().SourcesForRegister("eax")).To(BeEmpty())
		Expect(src.Tracer().NumAccesses()).To(BeZero())
	})

	Describe("Memory", func() {
		It("should round-trip pages and symbols", func() {
			mem := emu.NewMemory()
			mem.Map(0x1000, 0x2000)
			Expect(mem.Write32(0x1FFE, 0xDEADBEEF)).To(Succeed())
			mem.SetSymbol("fs", 0x1000)

			var buf bytes.Buffer
			Expect(mem.ExportState(&buf)).To(Succeed())

			restored := emu.NewMemory()
			Expect(restored.ImportState(&buf)).To(Succeed())

			Expect(restored.Read32(0x1FFE)).To(Equal(uint32(0xDEADBEEF)))
			Expect(restored.Regions()).To(Equal([]emu.Region{{Addr: 0x1000, Size: 0x2000}}))
			addr, ok := restored.Symbol("fs")
			Expect(ok).To(BeTrue())
			Expect(addr).To(Equal(uint32(0x1000)))
		})

		It("should reject huge page and symbol counts", func() {
			var pages bytes.Buffer
			writeLE(&pages, uint32(0xFFFFFFFF), uint32(0x1000))
			var symbols bytes.Buffer
			writeLE(&symbols, uint32(0), uint32(0xFFFFFFFF))

			mem := emu.NewMemory()
			mem.Map(0x1000, 1)

			Expect(mem.ImportState(&pages)).To(MatchError(ContainSubstring("reading page 00001000")))
			Expect(mem.ImportState(&symbols)).To(MatchError(ContainSubstring("reading symbol")))
			Expect(mem.IsMapped(0x1000, 1)).To(BeTrue())
		})

		It("should fault outside mapped pages", func() {
			mem := emu.NewMemory()
			mem.Map(0x1000, 1)

			_, err := mem.Read32(0x1FFE)

			var fault *emu.MemoryFaultError
			Expect(errors.As(err, &fault)).To(BeTrue())
			Expect(fault.Addr).To(Equal(uint32(0x2000)))
		})
	})
})
