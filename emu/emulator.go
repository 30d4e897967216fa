// Package emu provides functional IA-32 emulation.
package emu

import (
	"context"
	"errors"
	"fmt"

	"github.com/sarchlab/x86emu/insts"
	"github.com/sarchlab/x86emu/log"
)

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Exited is true if the program terminated (exit syscall or ErrTerminate).
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Err is set if an error occurred during execution.
	Err error
}

// MemoryAccess is one entry of the memory access log.
type MemoryAccess struct {
	Addr uint32
	// Size is in bytes.
	Size    uint8
	IsWrite bool
}

// Emulator executes IA-32 user-mode instructions functionally.
type Emulator struct {
	regs      *RegFile
	mem       MemoryContext
	overrides insts.Overrides
	behavior  Behavior

	segmentBases   [insts.NumSegments]uint32
	segmentBaseSet [insts.NumSegments]bool

	syscallHandler SyscallHandler
	debugHook      DebugHook
	logger         log.Logger

	// Data source tracing
	traceSources     bool
	traceGranularity uint32
	traceSweepEvery  uint64
	tracer           *AccessTracer
	prevRegs         RegFile

	logMemory bool
	memoryLog []MemoryAccess

	// Execution state
	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
	tscOffset        uint64
	tscOverrides     []uint64
	instStart        uint32
	fetched          uint32
	last             OpcodeInfo
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithBehavior selects the semantics variant.
func WithBehavior(b Behavior) EmulatorOption {
	return func(e *Emulator) {
		e.behavior = b
	}
}

// WithSyscallHandler sets the handler invoked by int and int3.
func WithSyscallHandler(handler SyscallHandler) EmulatorOption {
	return func(e *Emulator) {
		e.syscallHandler = handler
	}
}

// WithDebugHook sets a hook called before every instruction.
func WithDebugHook(hook DebugHook) EmulatorOption {
	return func(e *Emulator) {
		e.debugHook = hook
	}
}

// WithDataSourceTracing enables the provenance graph.
func WithDataSourceTracing(enabled bool) EmulatorOption {
	return func(e *Emulator) {
		e.traceSources = enabled
	}
}

// WithTraceAddressGranularity coalesces traced memory into blocks of n
// bytes.
func WithTraceAddressGranularity(n uint32) EmulatorOption {
	return func(e *Emulator) {
		e.traceGranularity = n
	}
}

// WithTraceSweepInterval sets how many linked instructions pass between
// provenance graph sweeps.
func WithTraceSweepInterval(n uint64) EmulatorOption {
	return func(e *Emulator) {
		e.traceSweepEvery = n
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// WithSegmentBase sets the base address added to effective addresses that
// use seg, e.g. the thread information block for FS.
func WithSegmentBase(seg insts.Segment, base uint32) EmulatorOption {
	return func(e *Emulator) {
		e.segmentBases[seg] = base
		e.segmentBaseSet[seg] = true
	}
}

// WithStackPointer sets the initial stack pointer value.
func WithStackPointer(sp uint32) EmulatorOption {
	return func(e *Emulator) {
		e.regs.WriteUnreported(insts.ESP, 32, sp)
	}
}

// WithEntryPoint sets the initial instruction pointer.
func WithEntryPoint(eip uint32) EmulatorOption {
	return func(e *Emulator) {
		e.regs.EIP = eip
	}
}

// WithLogger sets the logger. The root logger is used by default.
func WithLogger(l log.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = l
	}
}

// WithMemoryAccessLog records every data memory access; see MemoryAccessLog.
func WithMemoryAccessLog(enabled bool) EmulatorOption {
	return func(e *Emulator) {
		e.logMemory = enabled
	}
}

// NewEmulator creates an emulator executing against mem.
func NewEmulator(mem MemoryContext, opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regs:      NewRegFile(),
		mem:       mem,
		overrides: insts.NewOverrides(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = log.Root()
	}
	if e.traceSources {
		e.tracer = NewAccessTracer(e.traceGranularity, e.traceSweepEvery, e.logger)
	}

	return e
}

// Regs returns the register file.
func (e *Emulator) Regs() *RegFile {
	return e.regs
}

// Memory returns the memory context.
func (e *Emulator) Memory() MemoryContext {
	return e.mem
}

// Tracer returns the provenance tracer, or nil when tracing is disabled.
func (e *Emulator) Tracer() *AccessTracer {
	return e.tracer
}

// Behavior returns the active semantics variant.
func (e *Emulator) Behavior() Behavior {
	return e.behavior
}

// Overrides returns the prefixes in effect for the instruction being
// executed.
func (e *Emulator) Overrides() insts.Overrides {
	return e.overrides
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// LastInstructionLength returns the number of bytes fetched by the most
// recent Step, prefixes and immediates included.
func (e *Emulator) LastInstructionLength() uint32 {
	return e.fetched
}

// LastOpcode describes the most recently dispatched opcode.
func (e *Emulator) LastOpcode() OpcodeInfo {
	return e.last
}

// SetDebugHook replaces the debug hook. nil removes it.
func (e *Emulator) SetDebugHook(hook DebugHook) {
	e.debugHook = hook
}

// SetSyscallHandler replaces the interrupt handler.
func (e *Emulator) SetSyscallHandler(handler SyscallHandler) {
	e.syscallHandler = handler
}

// MemoryAccessLog returns the data accesses made since the last call and
// clears the log.
func (e *Emulator) MemoryAccessLog() []MemoryAccess {
	ret := e.memoryLog
	e.memoryLog = nil
	return ret
}

// Step executes a single instruction, prefixes included.
func (e *Emulator) Step() StepResult {
	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		return StepResult{Err: ErrMaxInstructions}
	}

	if e.debugHook != nil {
		if err := e.debugHook(e); err != nil {
			if errors.Is(err, ErrTerminate) {
				return e.exitResult(err)
			}
			return StepResult{Err: err}
		}
	}
	// Hook reads and writes are not attributed to the next instruction.
	e.regs.ResetAccessFlags()
	if e.tracer != nil {
		e.prevRegs = e.regs.Snapshot()
	}

	start := e.regs.EIP
	e.instStart = start
	e.fetched = 0
	err := e.executeInstruction()
	switch {
	case err == nil:
		e.instructionCount++
		return StepResult{}
	case errors.Is(err, ErrTerminate):
		e.instructionCount++
		return e.exitResult(err)
	}

	e.regs.EIP = start
	e.overrides = insts.NewOverrides()
	if e.tracer != nil {
		e.tracer.DiscardCurrentAccesses()
	}

	var unimpl *UnimplementedOpcodeError
	if errors.As(err, &unimpl) {
		e.logger.Warn(log.EmuModule, "unimplemented opcode",
			"opcode", fmt.Sprintf("%02X", unimpl.Opcode),
			"extended", unimpl.Extended,
			"eip", fmt.Sprintf("%08X", unimpl.EIP))
	}
	return StepResult{Err: err}
}

func (e *Emulator) exitResult(err error) StepResult {
	var exit *ExitError
	code := int64(0)
	if errors.As(err, &exit) {
		code = exit.Code
	}
	e.logger.Info(log.EmuModule, "execution terminated",
		"code", code, "instructions", e.instructionCount)
	return StepResult{Exited: true, ExitCode: code}
}

// executeInstruction runs opcode routines until one that is not a prefix
// completes.
func (e *Emulator) executeInstruction() error {
	for {
		opcode, err := e.fetch8()
		if err != nil {
			return err
		}
		impl := primaryOpcodes[opcode]
		e.last = OpcodeInfo{Opcode: opcode, Class: impl.class}

		if impl.exec == nil {
			err = e.unimplemented(opcode, false, -1)
		} else {
			err = impl.exec(e, opcode)
		}
		if err != nil {
			if errors.Is(err, ErrTerminate) {
				e.linkAccesses()
				e.overrides = insts.NewOverrides()
			}
			return err
		}

		e.linkAccesses()
		again := !e.overrides.ShouldClear
		e.overrides.OnOpcodeComplete()
		if !again {
			return nil
		}
	}
}

func (e *Emulator) linkAccesses() {
	if e.tracer == nil {
		return
	}
	e.tracer.LinkCurrentAccesses(e.instructionCount, &e.prevRegs, e.regs)
	e.regs.ResetAccessFlags()
	e.prevRegs = e.regs.Snapshot()
}

// Execute steps until the program exits or an error occurs. A clean exit
// returns nil.
func (e *Emulator) Execute() error {
	return e.ExecuteContext(context.Background())
}

// ExecuteContext is Execute with cancellation checked between instructions.
func (e *Emulator) ExecuteContext(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		result := e.Step()
		if result.Exited {
			return nil
		}
		if result.Err != nil {
			return result.Err
		}
	}
}

// Run executes instructions until the program exits or an error occurs.
// Returns the exit code (-1 if error).
func (e *Emulator) Run() int64 {
	for {
		result := e.Step()
		if result.Exited {
			return result.ExitCode
		}
		if result.Err != nil {
			e.logger.Error(log.EmuModule, "emulation error", "err", result.Err,
				"eip", fmt.Sprintf("%08X", e.regs.EIP))
			return -1
		}
	}
}

func (e *Emulator) unimplemented(opcode uint8, extended bool, sub int8) error {
	return &UnimplementedOpcodeError{
		Opcode:   opcode,
		Extended: extended,
		Sub:      sub,
		EIP:      e.instStart,
	}
}

func (e *Emulator) decodeError(format string, args ...any) error {
	return &DecodeError{EIP: e.instStart, Err: fmt.Errorf(format, args...)}
}

// interrupt delivers a software interrupt to the syscall handler.
func (e *Emulator) interrupt(vector uint8) error {
	if e.syscallHandler == nil {
		return &UnhandledInterruptError{Vector: vector}
	}
	return e.syscallHandler.HandleInterrupt(e, vector)
}
