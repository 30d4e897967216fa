package emu_test

import (
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86emu/emu"
)

const (
	codeBase  uint32 = 0x00401000
	dataBase  uint32 = 0x00600000
	stackTop  uint32 = 0x00800000
	stackSize uint32 = 0x10000
)

// newTestEmulator maps code at codeBase, a data page at dataBase and a
// stack below stackTop.
func newTestEmulator(code []byte, opts ...emu.EmulatorOption) (*emu.Emulator, *emu.Memory) {
	mem := emu.NewMemory()
	mem.LoadProgram(codeBase, code)
	mem.Map(dataBase, emu.PageSize)
	mem.Map(stackTop-stackSize, stackSize)

	base := []emu.EmulatorOption{
		emu.WithEntryPoint(codeBase),
		emu.WithStackPointer(stackTop),
	}
	return emu.NewEmulator(mem, append(base, opts...)...), mem
}

// stepN executes n instructions and expects all of them to succeed.
func stepN(e *emu.Emulator, n int) {
	for i := 0; i < n; i++ {
		result := e.Step()
		ExpectWithOffset(1, result.Err).NotTo(HaveOccurred())
		ExpectWithOffset(1, result.Exited).To(BeFalse())
	}
}
