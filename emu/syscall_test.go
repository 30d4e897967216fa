package emu_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/insts"
)

// syscallCode is "int 0x80".
var syscallCode = []byte{0xCD, 0x80}

var _ = Describe("LinuxSyscallHandler", func() {
	var (
		stdout  *bytes.Buffer
		stderr  *bytes.Buffer
		handler *emu.LinuxSyscallHandler
		e       *emu.Emulator
		mem     *emu.Memory
	)

	BeforeEach(func() {
		stdout = &bytes.Buffer{}
		stderr = &bytes.Buffer{}
		handler = emu.NewLinuxSyscallHandler(stdout, stderr)
		e, mem = newTestEmulator(syscallCode, emu.WithSyscallHandler(handler))
	})

	syscall := func(num, ebx, ecx, edx uint32) uint32 {
		e.Regs().EIP = codeBase
		e.Regs().Write32(insts.EAX, num)
		e.Regs().Write32(insts.EBX, ebx)
		e.Regs().Write32(insts.ECX, ecx)
		e.Regs().Write32(insts.EDX, edx)
		stepN(e, 1)
		return e.Regs().Read32(insts.EAX)
	}

	It("should write guest memory to stdout", func() {
		Expect(mem.WriteBytes(dataBase, []byte("hello\n"))).To(Succeed())

		n := syscall(emu.SyscallWrite, 1, dataBase, 6)

		Expect(n).To(Equal(uint32(6)))
		Expect(stdout.String()).To(Equal("hello\n"))
		Expect(stderr.Len()).To(BeZero())
	})

	It("should write to stderr", func() {
		Expect(mem.WriteBytes(dataBase, []byte("oops"))).To(Succeed())

		syscall(emu.SyscallWrite, 2, dataBase, 4)

		Expect(stderr.String()).To(Equal("oops"))
	})

	It("should return EFAULT for unmapped buffers", func() {
		res := syscall(emu.SyscallWrite, 1, 0x10, 4)

		Expect(int32(res)).To(Equal(int32(-emu.EFAULT)))
	})

	It("should return EBADF for unknown descriptors", func() {
		res := syscall(emu.SyscallWrite, 42, dataBase, 1)

		Expect(int32(res)).To(Equal(int32(-emu.EBADF)))
	})

	It("should read stdin into guest memory", func() {
		handler.SetStdin(strings.NewReader("abc"))

		n := syscall(emu.SyscallRead, 0, dataBase, 16)

		Expect(n).To(Equal(uint32(3)))
		Expect(mem.ReadBytes(dataBase, 3)).To(Equal([]byte("abc")))
		Expect(syscall(emu.SyscallRead, 0, dataBase, 16)).To(BeZero())
	})

	It("should open, read and close host files", func() {
		path := filepath.Join(GinkgoT().TempDir(), "input.txt")
		Expect(os.WriteFile(path, []byte("file data"), 0o644)).To(Succeed())
		Expect(mem.WriteBytes(dataBase, append([]byte(path), 0))).To(Succeed())

		fd := syscall(emu.SyscallOpen, dataBase, 0, 0)
		Expect(fd).To(Equal(uint32(3)))

		n := syscall(emu.SyscallRead, fd, dataBase+0x200, 64)
		Expect(n).To(Equal(uint32(9)))
		Expect(mem.ReadBytes(dataBase+0x200, 9)).To(Equal([]byte("file data")))

		Expect(syscall(emu.SyscallClose, fd, 0, 0)).To(BeZero())
		Expect(int32(syscall(emu.SyscallClose, fd, 0, 0))).To(Equal(int32(-emu.EBADF)))
	})

	It("should return ENOENT for missing files", func() {
		path := filepath.Join(GinkgoT().TempDir(), "missing")
		Expect(mem.WriteBytes(dataBase, append([]byte(path), 0))).To(Succeed())

		res := syscall(emu.SyscallOpen, dataBase, 0, 0)

		Expect(int32(res)).To(Equal(int32(-emu.ENOENT)))
	})

	It("should grow the break and map the new pages", func() {
		handler.SetBreak(0x00A00000)

		Expect(syscall(emu.SyscallBrk, 0, 0, 0)).To(Equal(uint32(0x00A00000)))
		Expect(syscall(emu.SyscallBrk, 0x00A02000, 0, 0)).To(Equal(uint32(0x00A02000)))
		Expect(mem.IsMapped(0x00A00000, 0x2000)).To(BeTrue())
		Expect(syscall(emu.SyscallBrk, 0x00A01000, 0, 0)).To(Equal(uint32(0x00A02000)))
	})

	It("should return ENOSYS for unknown calls", func() {
		res := syscall(9999, 0, 0, 0)

		Expect(int32(res)).To(Equal(int32(-emu.ENOSYS)))
	})

	It("should exit with the status in ebx", func() {
		e.Regs().Write32(insts.EAX, emu.SyscallExit)
		e.Regs().Write32(insts.EBX, 3)

		result := e.Step()

		Expect(result.Exited).To(BeTrue())
		Expect(result.ExitCode).To(Equal(int64(3)))
		Expect(result.Err).NotTo(HaveOccurred())
		Expect(e.InstructionCount()).To(Equal(uint64(1)))
	})

	It("should leave other vectors unhandled", func() {
		e, _ = newTestEmulator([]byte{0xCC}, emu.WithSyscallHandler(handler))

		result := e.Step()

		var unhandled *emu.UnhandledInterruptError
		Expect(errors.As(result.Err, &unhandled)).To(BeTrue())
		Expect(unhandled.Vector).To(Equal(uint8(3)))
	})
})
