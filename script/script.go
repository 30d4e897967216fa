// Package script runs Starlark debug hooks and interrupt handlers against
// the emulator.
//
// A script may define
//
//	def on_step(cpu): ...
//	def on_interrupt(cpu, vector): ...
//
// on_step runs before every instruction; a true return value stops
// execution. on_interrupt runs for int and int3; a true return value marks
// the interrupt handled, otherwise it is passed to the fallback handler.
package script

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/log"
)

const (
	stepFunc      = "on_step"
	interruptFunc = "on_interrupt"
)

// Script is a loaded Starlark program.
type Script struct {
	name        string
	thread      *starlark.Thread
	globals     starlark.StringDict
	onStep      starlark.Callable
	onInterrupt starlark.Callable
	logger      log.Logger
}

// Option configures a Script.
type Option func(*Script)

// WithLogger routes print() output and errors to l.
func WithLogger(l log.Logger) Option {
	return func(s *Script) {
		s.logger = l
	}
}

// Load executes src (a string, []byte or io.Reader; nil reads filename)
// and collects its hook functions.
func Load(filename string, src any, opts ...Option) (*Script, error) {
	s := &Script{
		name:   filename,
		logger: log.Root(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.thread = &starlark.Thread{
		Name: filename,
		Print: func(_ *starlark.Thread, msg string) {
			s.logger.Info(log.ScriptModule, msg, "script", s.name)
		},
	}

	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, s.thread, filename, src, predeclared())
	if err != nil {
		return nil, fmt.Errorf("failed to load script %s: %w", filename, err)
	}
	s.globals = globals

	if s.onStep, err = s.callable(stepFunc); err != nil {
		return nil, err
	}
	if s.onInterrupt, err = s.callable(interruptFunc); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Script) callable(name string) (starlark.Callable, error) {
	v, ok := s.globals[name]
	if !ok {
		return nil, nil
	}
	fn, ok := v.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("script %s: %s is a %s, not a function", s.name, name, v.Type())
	}
	return fn, nil
}

// Global returns a top-level value defined by the script.
func (s *Script) Global(name string) (starlark.Value, bool) {
	v, ok := s.globals[name]
	return v, ok
}

// HasStepHook reports whether the script defines on_step.
func (s *Script) HasStepHook() bool {
	return s.onStep != nil
}

// HasInterruptHandler reports whether the script defines on_interrupt.
func (s *Script) HasInterruptHandler() bool {
	return s.onInterrupt != nil
}

// DebugHook returns a hook calling on_step, or nil when the script does
// not define it.
func (s *Script) DebugHook() emu.DebugHook {
	if s.onStep == nil {
		return nil
	}
	return func(e *emu.Emulator) error {
		ret, err := starlark.Call(s.thread, s.onStep, starlark.Tuple{newCPU(e)}, nil)
		if err != nil {
			s.logger.Error(log.ScriptModule, "on_step failed", "script", s.name, "err", err)
			return fmt.Errorf("script %s: %s: %w", s.name, stepFunc, err)
		}
		if ret.Truth() {
			s.logger.Info(log.ScriptModule, "stop requested", "script", s.name,
				"eip", fmt.Sprintf("%08X", e.Regs().EIP))
			return emu.ErrTerminate
		}
		return nil
	}
}

// SyscallHandler returns a handler calling on_interrupt first and fallback
// for interrupts the script leaves unhandled. fallback may be nil.
func (s *Script) SyscallHandler(fallback emu.SyscallHandler) emu.SyscallHandler {
	if s.onInterrupt == nil {
		return fallback
	}
	return emu.SyscallHandlerFunc(func(e *emu.Emulator, vector uint8) error {
		args := starlark.Tuple{newCPU(e), starlark.MakeInt(int(vector))}
		ret, err := starlark.Call(s.thread, s.onInterrupt, args, nil)
		if err != nil {
			s.logger.Error(log.ScriptModule, "on_interrupt failed", "script", s.name, "err", err)
			return fmt.Errorf("script %s: %s: %w", s.name, interruptFunc, err)
		}
		if ret.Truth() {
			return nil
		}
		if fallback == nil {
			return &emu.UnhandledInterruptError{Vector: vector}
		}
		return fallback.HandleInterrupt(e, vector)
	})
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"hex": starlark.NewBuiltin("hex", builtinHex),
	}
}

// builtinHex formats an integer as eight upper-case hex digits, the way
// the emulator prints registers.
func builtinHex(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v int64
	width := 8
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "v", &v, "width?", &width); err != nil {
		return nil, err
	}
	return starlark.String(fmt.Sprintf("%0*X", width, uint64(v)&widthMask(width))), nil
}

func widthMask(digits int) uint64 {
	if digits >= 16 {
		return ^uint64(0)
	}
	return uint64(1)<<(4*uint(digits)) - 1
}
