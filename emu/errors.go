package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/x86emu/translate"
)

var f = translate.From

var (
	// ErrTerminate may be returned by a debug hook or interrupt handler to
	// stop execution cleanly.
	ErrTerminate = errors.New(f("execution terminated"))

	ErrMaxInstructions     = errors.New(f("max instructions reached"))
	ErrUnimplementedOpcode = errors.New(f("unimplemented opcode"))
	ErrDivideError         = errors.New(f("divide error"))
	ErrPrivileged          = errors.New(f("privileged instruction"))
	ErrUnsupportedPrefix   = errors.New(f("unsupported prefix"))
)

// UnimplementedOpcodeError reports an opcode with no execution routine.
type UnimplementedOpcodeError struct {
	Opcode   uint8
	Extended bool
	// Sub is the ModRM reg field for group opcodes, -1 otherwise.
	Sub int8
	// EIP points at the first byte of the instruction, prefixes included.
	EIP uint32
}

func (err *UnimplementedOpcodeError) Error() string {
	op := fmt.Sprintf("%02X", err.Opcode)
	if err.Extended {
		op = "0F " + op
	}
	if err.Sub >= 0 {
		op += fmt.Sprintf(" /%d", err.Sub)
	}
	return f("unimplemented opcode %v at %08X", op, err.EIP)
}

func (err *UnimplementedOpcodeError) Is(target error) bool {
	return target == ErrUnimplementedOpcode
}

// InvalidRegisterSizeError is the panic value raised when a register is
// accessed at a width it does not have.
type InvalidRegisterSizeError struct {
	Width uint8
}

func (err InvalidRegisterSizeError) Error() string {
	return f("invalid register size %d", err.Width)
}

// DecodeError reports a malformed or unsupported instruction encoding.
type DecodeError struct {
	EIP uint32
	Err error
}

func (err *DecodeError) Error() string {
	return f("decode error at %08X: %v", err.EIP, err.Err)
}

func (err *DecodeError) Unwrap() error {
	return err.Err
}

// MemoryFaultError is returned by Memory for accesses to unmapped addresses.
type MemoryFaultError struct {
	Addr  uint32
	Size  int
	Write bool
}

func (err *MemoryFaultError) Error() string {
	kind := "read"
	if err.Write {
		kind = "write"
	}
	return f("memory fault: %v of %d bytes at %08X", kind, err.Size, err.Addr)
}

// StateVersionError is returned when importing a state dump written by a
// newer format version.
type StateVersionError struct {
	Version uint8
}

func (err *StateVersionError) Error() string {
	return f("unsupported state version %d (newest known is %d)", err.Version, stateVersion)
}

// UnhandledInterruptError is returned for software interrupts nobody handles.
type UnhandledInterruptError struct {
	Vector uint8
}

func (err *UnhandledInterruptError) Error() string {
	return f("unhandled interrupt %02X", err.Vector)
}

// ExitError is returned by interrupt handlers when the guest program exits.
type ExitError struct {
	Code int64
}

func (err *ExitError) Error() string {
	return f("program exited with code %d", err.Code)
}

func (err *ExitError) Is(target error) bool {
	return target == ErrTerminate
}
