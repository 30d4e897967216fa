package insts_test

import (
	"bytes"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/arch/x86/x86asm"

	"github.com/sarchlab/x86emu/insts"
)

var _ = Describe("FetchAndDecodeRM", func() {
	decode := func(b ...byte) (insts.DecodedRM, *bytes.Reader, error) {
		r := bytes.NewReader(b)
		rm, err := insts.FetchAndDecodeRM(r, insts.NewOverrides())
		return rm, r, err
	}

	It("should decode register direct operands", func() {
		// mode 3, reg 2 (edx), rm 1 (ecx)
		rm, r, err := decode(0xD1)

		Expect(err).NotTo(HaveOccurred())
		Expect(rm.HasMemRef()).To(BeFalse())
		Expect(rm.EAIndexScale).To(Equal(int8(-1)))
		Expect(rm.EAReg).To(Equal(int8(insts.ECX)))
		Expect(rm.NonEAReg).To(Equal(int8(insts.EDX)))
		Expect(r.Len()).To(Equal(0))
	})

	It("should decode [base] without displacement", func() {
		// mode 0, reg 0, rm 3 (ebx)
		rm, _, err := decode(0x03)

		Expect(err).NotTo(HaveOccurred())
		Expect(rm.HasMemRef()).To(BeTrue())
		Expect(rm.EAReg).To(Equal(int8(insts.EBX)))
		Expect(rm.EAIndexReg).To(Equal(int8(-1)))
		Expect(rm.EAIndexScale).To(Equal(int8(0)))
		Expect(rm.EADisp).To(Equal(int32(0)))
	})

	It("should decode an absolute disp32 for mode 0 rm 5", func() {
		rm, r, err := decode(0x05, 0x78, 0x56, 0x34, 0x12)

		Expect(err).NotTo(HaveOccurred())
		Expect(rm.EAReg).To(Equal(int8(-1)))
		Expect(rm.EADisp).To(Equal(int32(0x12345678)))
		Expect(r.Len()).To(Equal(0))
	})

	It("should sign-extend disp8", func() {
		// mode 1, rm 5 (ebp), disp8 -4
		rm, _, err := decode(0x45, 0xFC)

		Expect(err).NotTo(HaveOccurred())
		Expect(rm.EAReg).To(Equal(int8(insts.EBP)))
		Expect(rm.EADisp).To(Equal(int32(-4)))
	})

	It("should decode base + index*scale + disp8 through a SIB byte", func() {
		// mode 1, reg 0, rm 4; SIB scale 4, index ecx, base ebx; disp8 0x10
		rm, r, err := decode(0x44, 0x8B, 0x10)

		Expect(err).NotTo(HaveOccurred())
		Expect(rm.EAReg).To(Equal(int8(insts.EBX)))
		Expect(rm.EAIndexReg).To(Equal(int8(insts.ECX)))
		Expect(rm.EAIndexScale).To(Equal(int8(4)))
		Expect(rm.EADisp).To(Equal(int32(0x10)))
		Expect(r.Len()).To(Equal(0))
	})

	It("should treat SIB index 4 as no index", func() {
		// [esp]
		rm, _, err := decode(0x04, 0x24)

		Expect(err).NotTo(HaveOccurred())
		Expect(rm.EAReg).To(Equal(int8(insts.ESP)))
		Expect(rm.EAIndexReg).To(Equal(int8(-1)))
		Expect(rm.EAIndexScale).To(Equal(int8(0)))
	})

	It("should read disp32 for SIB base 5 in mode 0", func() {
		// [esi*8 + 0x00001000]
		rm, r, err := decode(0x04, 0xF5, 0x00, 0x10, 0x00, 0x00)

		Expect(err).NotTo(HaveOccurred())
		Expect(rm.EAReg).To(Equal(int8(-1)))
		Expect(rm.EAIndexReg).To(Equal(int8(insts.ESI)))
		Expect(rm.EAIndexScale).To(Equal(int8(8)))
		Expect(rm.EADisp).To(Equal(int32(0x1000)))
		Expect(r.Len()).To(Equal(0))
	})

	It("should keep ebp as SIB base outside mode 0", func() {
		// mode 2, SIB base 5, index none, disp32
		rm, _, err := decode(0x84, 0x25, 0x01, 0x00, 0x00, 0x00)

		Expect(err).NotTo(HaveOccurred())
		Expect(rm.EAReg).To(Equal(int8(insts.EBP)))
		Expect(rm.EADisp).To(Equal(int32(1)))
	})

	It("should reject the address-size override", func() {
		ov := insts.NewOverrides()
		ov.AddressSize = true

		_, err := insts.FetchAndDecodeRM(bytes.NewReader([]byte{0x00}), ov)

		Expect(errors.Is(err, insts.ErrAddressSizeOverride)).To(BeTrue())
	})

	It("should report truncated streams", func() {
		_, _, err := decode(0x44, 0x8B)

		Expect(errors.Is(err, insts.ErrTruncated)).To(BeTrue())
	})

	It("should consume as many bytes as the reference decoder", func() {
		// mov eax, r/m32 (8B) with a range of addressing forms
		forms := [][]byte{
			{0xC1},
			{0x00},
			{0x05, 1, 2, 3, 4},
			{0x44, 0x8B, 0x10},
			{0x84, 0x8B, 1, 2, 3, 4},
			{0x04, 0xF5, 1, 2, 3, 4},
			{0x45, 0x80},
			{0x85, 1, 2, 3, 4},
		}
		for _, form := range forms {
			code := append([]byte{0x8B}, form...)
			inst, err := x86asm.Decode(code, 32)
			Expect(err).NotTo(HaveOccurred())

			r := bytes.NewReader(form)
			_, err = insts.FetchAndDecodeRM(r, insts.NewOverrides())
			Expect(err).NotTo(HaveOccurred())
			Expect(1+len(form)-r.Len()).To(Equal(inst.Len), "%X", code)
		}
	})
})

var _ = Describe("Operand formatting", func() {
	It("should render a scaled index with displacement", func() {
		rm := insts.DecodedRM{EAReg: insts.EBX, EAIndexReg: insts.ECX, EAIndexScale: 4, EADisp: 0x10}

		Expect(rm.EAString(32, 0, insts.SegmentNone)).To(Equal("dword [ebx + ecx * 4 + 00000010]"))
	})

	It("should render negative displacements with a minus sign", func() {
		rm := insts.DecodedRM{EAReg: insts.EBP, EAIndexReg: -1, EADisp: -8}

		Expect(rm.EAString(8, 0, insts.SegmentNone)).To(Equal("byte [ebp - 00000008]"))
	})

	It("should render absolute references with their segment", func() {
		rm := insts.AbsoluteRM(0x18)

		Expect(rm.EAString(32, 0, insts.SegmentFS)).To(Equal("dword fs:[00000018]"))
		Expect(rm.EAString(32, insts.SuppressOperandSize, insts.SegmentNone)).To(Equal("[00000018]"))
	})

	It("should render register operands by width", func() {
		rm := insts.DecodedRM{NonEAReg: 4, EAReg: 7, EAIndexScale: -1}

		Expect(rm.RMString(8, 8, 0, insts.SegmentNone)).To(Equal("ah, bh"))
		Expect(rm.RMString(16, 16, insts.EAFirst, insts.SegmentNone)).To(Equal("di, sp"))
		Expect(rm.RMString(128, 128, insts.EAXMM|insts.NonEAXMM, insts.SegmentNone)).To(Equal("xmm4, xmm7"))
	})
})

var _ = Describe("Register names", func() {
	It("should parse every partition", func() {
		ref, err := insts.ParseRegister("AH")
		Expect(err).NotTo(HaveOccurred())
		Expect(ref).To(Equal(insts.RegisterRef{Index: 4, Width: 8}))

		ref, err = insts.ParseRegister("si")
		Expect(err).NotTo(HaveOccurred())
		Expect(ref).To(Equal(insts.RegisterRef{Index: insts.ESI, Width: 16}))

		ref, err = insts.ParseRegister("xmm2")
		Expect(err).NotTo(HaveOccurred())
		Expect(ref.XMM).To(BeTrue())

		ref, err = insts.ParseRegister("eflags")
		Expect(err).NotTo(HaveOccurred())
		Expect(ref.Flags).To(BeTrue())

		_, err = insts.ParseRegister("r8")
		Expect(err).To(HaveOccurred())
	})

	It("should name condition codes", func() {
		Expect(insts.ConditionName(0x4)).To(Equal("e"))
		Expect(insts.ConditionName(0xF)).To(Equal("g"))
	})
})

var _ = Describe("Overrides", func() {
	It("should survive exactly one opcode after a prefix", func() {
		ov := insts.NewOverrides()
		ov.OperandSize = true
		ov.MarkPrefix()

		ov.OnOpcodeComplete()
		Expect(ov.OperandSize).To(BeTrue())
		Expect(ov.OperandWidth()).To(Equal(uint8(16)))

		ov.OnOpcodeComplete()
		Expect(ov.OperandSize).To(BeFalse())
		Expect(ov.ShouldClear).To(BeTrue())
	})

	It("should describe active prefixes", func() {
		ov := insts.NewOverrides()
		ov.Segment = insts.SegmentFS
		ov.RepeatZ = true

		Expect(ov.String()).To(Equal("[fs repz]"))
	})
})
