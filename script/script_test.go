package script_test

import (
	"bytes"
	"errors"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.starlark.net/starlark"

	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/insts"
	"github.com/sarchlab/x86emu/log"
	"github.com/sarchlab/x86emu/script"
)

const (
	codeBase uint32 = 0x00401000
	dataBase uint32 = 0x00600000
	stackTop uint32 = 0x00800000
)

func newEmulator(code []byte, opts ...emu.EmulatorOption) (*emu.Emulator, *emu.Memory) {
	mem := emu.NewMemory()
	mem.LoadProgram(codeBase, code)
	mem.Map(dataBase, emu.PageSize)
	mem.Map(stackTop-0x1000, 0x1000)

	base := []emu.EmulatorOption{
		emu.WithEntryPoint(codeBase),
		emu.WithStackPointer(stackTop),
	}
	return emu.NewEmulator(mem, append(base, opts...)...), mem
}

var _ = Describe("Script", func() {
	// mov eax, 1; inc eax; inc eax
	countingCode := []byte{0xB8, 0x01, 0x00, 0x00, 0x00, 0x40, 0x40}

	Describe("Load", func() {
		It("should report syntax errors", func() {
			_, err := script.Load("bad.star", "def on_step(cpu)\n")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("bad.star"))
		})

		It("should reject hooks that are not functions", func() {
			_, err := script.Load("bad.star", "on_step = 3\n")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("not a function"))
		})

		It("should return no hooks for a script without them", func() {
			s, err := script.Load("empty.star", "x = 1\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.HasStepHook()).To(BeFalse())
			Expect(s.HasInterruptHandler()).To(BeFalse())
			Expect(s.DebugHook()).To(BeNil())

			fallback := emu.NewLinuxSyscallHandler(io.Discard, io.Discard)
			Expect(s.SyscallHandler(fallback)).To(BeIdenticalTo(fallback))
		})

		It("should provide a hex builtin", func() {
			s, err := script.Load("hex.star", "x = hex(255)\ny = hex(0x1234, 4)\n")
			Expect(err).NotTo(HaveOccurred())

			x, ok := s.Global("x")
			Expect(ok).To(BeTrue())
			Expect(x).To(Equal(starlark.String("000000FF")))
			y, _ := s.Global("y")
			Expect(y).To(Equal(starlark.String("1234")))
		})

		It("should route print to the logger", func() {
			var buf bytes.Buffer
			_, err := script.Load("print.star", "print('hello from script')\n",
				script.WithLogger(log.NewTerminalLogger(&buf, log.LevelInfo)))
			Expect(err).NotTo(HaveOccurred())
			Expect(buf.String()).To(ContainSubstring("hello from script"))
		})
	})

	Describe("on_step", func() {
		It("should run before every instruction", func() {
			s, err := script.Load("count.star", `
def on_step(cpu):
    cpu.write32(0x600000, cpu.read32(0x600000) + 1)
`)
			Expect(err).NotTo(HaveOccurred())
			e, mem := newEmulator(countingCode, emu.WithDebugHook(s.DebugHook()))

			for i := 0; i < 3; i++ {
				Expect(e.Step().Err).NotTo(HaveOccurred())
			}
			v, err := mem.Read32(dataBase)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint32(3)))
		})

		It("should stop execution when it returns true", func() {
			s, err := script.Load("stop.star", `
def on_step(cpu):
    return cpu.eax == 2
`)
			Expect(err).NotTo(HaveOccurred())
			e, _ := newEmulator(countingCode, emu.WithDebugHook(s.DebugHook()))

			Expect(e.Step().Exited).To(BeFalse())
			Expect(e.Step().Exited).To(BeFalse())
			result := e.Step()
			Expect(result.Exited).To(BeTrue())
			Expect(result.Err).NotTo(HaveOccurred())
			Expect(e.Regs().ReadUnreported32(insts.EAX)).To(Equal(uint32(2)))
			Expect(e.InstructionCount()).To(Equal(uint64(2)))
		})

		It("should write registers", func() {
			s, err := script.Load("regs.star", `
def on_step(cpu):
    cpu.ebx = 0x1234
    cpu.cl = 0x56
`)
			Expect(err).NotTo(HaveOccurred())
			e, _ := newEmulator([]byte{0x90}, emu.WithDebugHook(s.DebugHook()))

			Expect(e.Step().Err).NotTo(HaveOccurred())
			Expect(e.Regs().ReadUnreported32(insts.EBX)).To(Equal(uint32(0x1234)))
			Expect(e.Regs().ReadUnreported(insts.ECX, 8)).To(Equal(uint32(0x56)))
		})

		It("should expose flags and symbols", func() {
			s, err := script.Load("flags.star", `
def on_step(cpu):
    if cpu.flag("zf"):
        cpu.edi = cpu.symbol("result")
`)
			Expect(err).NotTo(HaveOccurred())
			// sub eax, eax; nop
			e, mem := newEmulator([]byte{0x29, 0xC0, 0x90}, emu.WithDebugHook(s.DebugHook()))
			mem.SetSymbol("result", 0x00600040)

			Expect(e.Step().Err).NotTo(HaveOccurred())
			Expect(e.Regs().ReadUnreported32(insts.EDI)).To(BeZero())
			Expect(e.Step().Err).NotTo(HaveOccurred())
			Expect(e.Regs().ReadUnreported32(insts.EDI)).To(Equal(uint32(0x00600040)))
		})

		It("should read strings from guest memory", func() {
			s, err := script.Load("str.star", `
def on_step(cpu):
    if cpu.read_string(0x600000) == "hi":
        cpu.esi = 1
`)
			Expect(err).NotTo(HaveOccurred())
			e, mem := newEmulator([]byte{0x90}, emu.WithDebugHook(s.DebugHook()))
			Expect(mem.WriteBytes(dataBase, []byte("hi\x00"))).To(Succeed())

			Expect(e.Step().Err).NotTo(HaveOccurred())
			Expect(e.Regs().ReadUnreported32(insts.ESI)).To(Equal(uint32(1)))
		})

		It("should return script errors from Step", func() {
			s, err := script.Load("fail.star", `
def on_step(cpu):
    fail("boom")
`)
			Expect(err).NotTo(HaveOccurred())
			e, _ := newEmulator(countingCode, emu.WithDebugHook(s.DebugHook()))

			result := e.Step()
			Expect(result.Err).To(HaveOccurred())
			Expect(result.Err.Error()).To(ContainSubstring("boom"))
			Expect(result.Err.Error()).To(ContainSubstring("on_step"))
			Expect(e.InstructionCount()).To(BeZero())
		})

		It("should fail on guest memory faults", func() {
			s, err := script.Load("fault.star", `
def on_step(cpu):
    cpu.read32(0x10)
`)
			Expect(err).NotTo(HaveOccurred())
			e, _ := newEmulator(countingCode, emu.WithDebugHook(s.DebugHook()))

			Expect(e.Step().Err).To(HaveOccurred())
		})
	})

	Describe("on_interrupt", func() {
		It("should handle interrupts it returns true for", func() {
			s, err := script.Load("int.star", `
def on_interrupt(cpu, vector):
    if vector == 3:
        cpu.eax = 0x77
        return True
    return False
`)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.HasInterruptHandler()).To(BeTrue())
			e, _ := newEmulator([]byte{0xCC}, emu.WithSyscallHandler(s.SyscallHandler(nil)))

			Expect(e.Step().Err).NotTo(HaveOccurred())
			Expect(e.Regs().ReadUnreported32(insts.EAX)).To(Equal(uint32(0x77)))
		})

		It("should pass other interrupts to the fallback handler", func() {
			s, err := script.Load("int.star", `
def on_interrupt(cpu, vector):
    return vector == 3
`)
			Expect(err).NotTo(HaveOccurred())
			fallback := emu.NewLinuxSyscallHandler(io.Discard, io.Discard)
			// mov eax, 1; mov ebx, 5; int 0x80
			code := []byte{0xB8, 0x01, 0x00, 0x00, 0x00, 0xBB, 0x05, 0x00, 0x00, 0x00, 0xCD, 0x80}
			e, _ := newEmulator(code, emu.WithSyscallHandler(s.SyscallHandler(fallback)))

			Expect(e.Step().Err).NotTo(HaveOccurred())
			Expect(e.Step().Err).NotTo(HaveOccurred())
			result := e.Step()
			Expect(result.Exited).To(BeTrue())
			Expect(result.ExitCode).To(Equal(int64(5)))
		})

		It("should report unhandled interrupts without a fallback", func() {
			s, err := script.Load("int.star", `
def on_interrupt(cpu, vector):
    pass
`)
			Expect(err).NotTo(HaveOccurred())
			e, _ := newEmulator([]byte{0xCD, 0x21}, emu.WithSyscallHandler(s.SyscallHandler(nil)))

			result := e.Step()
			var unhandled *emu.UnhandledInterruptError
			Expect(errors.As(result.Err, &unhandled)).To(BeTrue())
			Expect(unhandled.Vector).To(Equal(uint8(0x21)))
		})
	})
})
