package emu

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/sarchlab/x86emu/insts"
	"github.com/sarchlab/x86emu/log"
)

// SyscallHandler receives software interrupts raised by int and int3.
// Returning ErrTerminate or an *ExitError stops execution cleanly.
type SyscallHandler interface {
	HandleInterrupt(e *Emulator, vector uint8) error
}

// SyscallHandlerFunc adapts a function to SyscallHandler.
type SyscallHandlerFunc func(e *Emulator, vector uint8) error

// HandleInterrupt calls fn.
func (fn SyscallHandlerFunc) HandleInterrupt(e *Emulator, vector uint8) error {
	return fn(e, vector)
}

// i386 Linux system call numbers.
const (
	SyscallExit      uint32 = 1
	SyscallRead      uint32 = 3
	SyscallWrite     uint32 = 4
	SyscallOpen      uint32 = 5
	SyscallClose     uint32 = 6
	SyscallBrk       uint32 = 45
	SyscallExitGroup uint32 = 252
)

// LinuxSyscallVector is the interrupt vector of the i386 Linux system call
// gate.
const LinuxSyscallVector = 0x80

// Linux error codes.
const (
	ENOENT = 2
	EIO    = 5
	EBADF  = 9
	ENOMEM = 12
	EACCES = 13
	EFAULT = 14
	ENOSYS = 38
)

// i386 Linux open flags.
const (
	linuxOWronly = 0x1
	linuxORdwr   = 0x2
	linuxOCreat  = 0x40
	linuxOTrunc  = 0x200
	linuxOAppend = 0x400
)

const maxPathLen = 4096

// mapper is implemented by memories that can grow, which brk needs.
type mapper interface {
	Map(addr, size uint32)
}

// LinuxSyscallHandler implements a small subset of the i386 Linux system
// call interface on int 0x80: the number is in eax, arguments in ebx, ecx
// and edx, and the result or a negative errno is returned in eax.
type LinuxSyscallHandler struct {
	fds    *FDTable
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	brk    uint32
	logger log.Logger
}

// NewLinuxSyscallHandler creates a handler writing guest output to stdout
// and stderr.
func NewLinuxSyscallHandler(stdout, stderr io.Writer) *LinuxSyscallHandler {
	return &LinuxSyscallHandler{
		fds:    NewFDTable(),
		stdout: stdout,
		stderr: stderr,
		logger: log.Root(),
	}
}

// SetStdin sets the reader guest reads from fd 0 are served from.
func (h *LinuxSyscallHandler) SetStdin(stdin io.Reader) {
	h.stdin = stdin
}

// SetBreak sets the initial program break, normally the end of the loaded
// image.
func (h *LinuxSyscallHandler) SetBreak(addr uint32) {
	h.brk = addr
}

// Break returns the current program break.
func (h *LinuxSyscallHandler) Break() uint32 {
	return h.brk
}

// FDs returns the descriptor table.
func (h *LinuxSyscallHandler) FDs() *FDTable {
	return h.fds
}

// HandleInterrupt dispatches int 0x80. Other vectors are not handled.
func (h *LinuxSyscallHandler) HandleInterrupt(e *Emulator, vector uint8) error {
	if vector != LinuxSyscallVector {
		return &UnhandledInterruptError{Vector: vector}
	}

	regs := e.Regs()
	num := regs.Read32(insts.EAX)
	h.logger.Debug(log.SyscallModule, "syscall", "num", num)

	switch num {
	case SyscallExit, SyscallExitGroup:
		return &ExitError{Code: int64(int32(regs.Read32(insts.EBX)))}
	case SyscallRead:
		h.handleRead(e)
	case SyscallWrite:
		h.handleWrite(e)
	case SyscallOpen:
		h.handleOpen(e)
	case SyscallClose:
		h.handleClose(e)
	case SyscallBrk:
		h.handleBrk(e)
	default:
		h.logger.Warn(log.SyscallModule, "unsupported syscall", "num", num)
		h.setError(e, ENOSYS)
	}
	return nil
}

func (h *LinuxSyscallHandler) handleRead(e *Emulator) {
	regs := e.Regs()
	fd := regs.Read32(insts.EBX)
	bufPtr := regs.Read32(insts.ECX)
	count := regs.Read32(insts.EDX)

	buf := make([]byte, count)
	var n int
	var err error
	switch {
	case fd == 0 && h.fds.IsOpen(0):
		if h.stdin == nil {
			regs.Write32(insts.EAX, 0)
			return
		}
		n, err = h.stdin.Read(buf)
	case fd > 2:
		n, err = h.fds.Read(fd, buf)
	default:
		h.setError(e, EBADF)
		return
	}

	if err != nil && n == 0 {
		if errors.Is(err, io.EOF) {
			regs.Write32(insts.EAX, 0)
		} else if errors.Is(err, os.ErrInvalid) {
			h.setError(e, EBADF)
		} else {
			h.setError(e, EIO)
		}
		return
	}

	if err := writeGuestBytes(e.Memory(), bufPtr, buf[:n]); err != nil {
		h.setError(e, EFAULT)
		return
	}
	regs.Write32(insts.EAX, uint32(n))
}

func (h *LinuxSyscallHandler) handleWrite(e *Emulator) {
	regs := e.Regs()
	fd := regs.Read32(insts.EBX)
	bufPtr := regs.Read32(insts.ECX)
	count := regs.Read32(insts.EDX)

	buf, err := readGuestBytes(e.Memory(), bufPtr, count)
	if err != nil {
		h.setError(e, EFAULT)
		return
	}

	var n int
	switch {
	case fd == 1 && h.fds.IsOpen(1):
		n, err = h.stdout.Write(buf)
	case fd == 2 && h.fds.IsOpen(2):
		n, err = h.stderr.Write(buf)
	case fd > 2:
		n, err = h.fds.Write(fd, buf)
	default:
		h.setError(e, EBADF)
		return
	}

	if err != nil {
		if errors.Is(err, os.ErrInvalid) {
			h.setError(e, EBADF)
		} else {
			h.setError(e, EIO)
		}
		return
	}
	regs.Write32(insts.EAX, uint32(n))
}

func (h *LinuxSyscallHandler) handleOpen(e *Emulator) {
	regs := e.Regs()
	pathPtr := regs.Read32(insts.EBX)
	guestFlags := regs.Read32(insts.ECX)
	mode := regs.Read32(insts.EDX)

	path, err := readGuestCString(e.Memory(), pathPtr)
	if err != nil {
		h.setError(e, EFAULT)
		return
	}

	fd, err := h.fds.Open(path, hostOpenFlags(guestFlags), os.FileMode(mode&0o777))
	switch {
	case err == nil:
		regs.Write32(insts.EAX, fd)
	case errors.Is(err, fs.ErrNotExist):
		h.setError(e, ENOENT)
	case errors.Is(err, fs.ErrPermission):
		h.setError(e, EACCES)
	default:
		h.setError(e, EIO)
	}
}

func (h *LinuxSyscallHandler) handleClose(e *Emulator) {
	regs := e.Regs()
	if err := h.fds.Close(regs.Read32(insts.EBX)); err != nil {
		h.setError(e, EBADF)
		return
	}
	regs.Write32(insts.EAX, 0)
}

// handleBrk moves the program break up, mapping the new pages, and never
// shrinks it. The current break is returned either way.
func (h *LinuxSyscallHandler) handleBrk(e *Emulator) {
	regs := e.Regs()
	requested := regs.Read32(insts.EBX)
	if requested > h.brk {
		m, ok := e.Memory().(mapper)
		if !ok {
			h.setError(e, ENOMEM)
			return
		}
		m.Map(h.brk, requested-h.brk)
		h.brk = requested
	}
	regs.Write32(insts.EAX, h.brk)
}

func (h *LinuxSyscallHandler) setError(e *Emulator, errno int) {
	e.Regs().Write32(insts.EAX, uint32(-int32(errno)))
}

func hostOpenFlags(guest uint32) int {
	var flags int
	switch {
	case guest&linuxORdwr != 0:
		flags = os.O_RDWR
	case guest&linuxOWronly != 0:
		flags = os.O_WRONLY
	default:
		flags = os.O_RDONLY
	}
	if guest&linuxOCreat != 0 {
		flags |= os.O_CREATE
	}
	if guest&linuxOTrunc != 0 {
		flags |= os.O_TRUNC
	}
	if guest&linuxOAppend != 0 {
		flags |= os.O_APPEND
	}
	return flags
}

func readGuestBytes(mem MemoryContext, addr, count uint32) ([]byte, error) {
	buf := make([]byte, count)
	for i := range buf {
		b, err := mem.Read8(addr + uint32(i))
		if err != nil {
			return nil, err
		}
		buf[i] = b
	}
	return buf, nil
}

func writeGuestBytes(mem MemoryContext, addr uint32, data []byte) error {
	for i, b := range data {
		if err := mem.Write8(addr+uint32(i), b); err != nil {
			return err
		}
	}
	return nil
}

func readGuestCString(mem MemoryContext, addr uint32) (string, error) {
	var buf []byte
	for i := uint32(0); i < maxPathLen; i++ {
		b, err := mem.Read8(addr + i)
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return "", os.ErrInvalid
}
