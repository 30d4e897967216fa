// Package core provides a timing model around the functional emulator.
// Each retired instruction is charged its opcode-class latency, its data
// accesses, a taken-branch penalty and the stall cycles of cache misses.
package core

import (
	"context"

	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/log"
	"github.com/sarchlab/x86emu/timing/cache"
	"github.com/sarchlab/x86emu/timing/latency"
)

// Stats holds performance statistics for the core.
type Stats struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Instructions is the number of instructions retired.
	Instructions uint64
	// StallCycles is the part of Cycles lost to cache misses.
	StallCycles uint64
	// TakenBranches counts control transfers off the fall-through path.
	TakenBranches uint64
	// CacheHits and CacheMisses are the L1 counters.
	CacheHits   uint64
	CacheMisses uint64
}

// CPI returns cycles per instruction, or 0 before any instruction retired.
func (s Stats) CPI() float64 {
	if s.Instructions == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.Instructions)
}

// Core runs an emulator whose memory goes through a cache hierarchy.
type Core struct {
	emulator *emu.Emulator
	memory   *cache.CachedMemory
	l1       *cache.Cache
	l2       *cache.Cache
	table    *latency.Table

	stats    Stats
	halted   bool
	exitCode int64
	logger   log.Logger
}

// NewCore wraps mem in the caches described by config and creates the
// emulator with opts. A nil config uses the defaults.
func NewCore(mem emu.MemoryContext, config *latency.TimingConfig, opts ...emu.EmulatorOption) *Core {
	if config == nil {
		config = latency.DefaultTimingConfig()
	}

	l1 := cache.New(config.L1)
	var l2 *cache.Cache
	if config.L2.Size != 0 {
		l2 = cache.New(config.L2)
		l1.SetNextLevel(l2)
	}
	cached := cache.NewCachedMemory(mem, l1)

	opts = append(opts, emu.WithMemoryAccessLog(true))
	return &Core{
		emulator: emu.NewEmulator(cached, opts...),
		memory:   cached,
		l1:       l1,
		l2:       l2,
		table:    latency.NewTableWithConfig(config),
		logger:   log.Root(),
	}
}

// SetLogger replaces the logger the run summary goes to.
func (c *Core) SetLogger(l log.Logger) {
	c.logger = l
}

// Emulator returns the functional emulator.
func (c *Core) Emulator() *emu.Emulator {
	return c.emulator
}

// L1 returns the first cache level.
func (c *Core) L1() *cache.Cache {
	return c.l1
}

// L2 returns the second cache level, or nil when disabled.
func (c *Core) L2() *cache.Cache {
	return c.l2
}

// Step executes one instruction and charges its cycles.
func (c *Core) Step() emu.StepResult {
	e := c.emulator
	start := e.Regs().EIP
	before := e.InstructionCount()

	result := e.Step()
	accesses := e.MemoryAccessLog()
	stall := c.memory.TakeStall()

	if e.InstructionCount() != before {
		c.retire(start, accesses, stall)
	}
	if result.Exited {
		c.halted = true
		c.exitCode = result.ExitCode
		c.logSummary()
	}
	return result
}

func (c *Core) retire(start uint32, accesses []emu.MemoryAccess, stall uint64) {
	info := c.emulator.LastOpcode()
	cycles := c.table.Cost(info.Class)
	for _, a := range accesses {
		cycles += c.table.AccessCost(a.IsWrite)
	}
	if info.Class == emu.ClassBranch &&
		c.emulator.Regs().EIP != start+c.emulator.LastInstructionLength() {
		c.stats.TakenBranches++
		cycles += c.table.BranchPenalty(true)
	}
	cycles += stall

	c.stats.Cycles += cycles
	c.stats.StallCycles += stall
	c.stats.Instructions++
}

func (c *Core) logSummary() {
	s := c.Stats()
	c.logger.Info(log.TimingModule, "run complete",
		"cycles", s.Cycles, "instructions", s.Instructions, "cpi", s.CPI(),
		"l1Hits", s.CacheHits, "l1Misses", s.CacheMisses)
}

// Run executes until the program exits or an error occurs and returns the
// exit code.
func (c *Core) Run() (int64, error) {
	return c.RunContext(context.Background())
}

// RunContext is Run with cancellation checked between instructions.
func (c *Core) RunContext(ctx context.Context) (int64, error) {
	for !c.halted {
		if err := ctx.Err(); err != nil {
			return -1, err
		}
		if result := c.Step(); result.Err != nil {
			return -1, result.Err
		}
	}
	return c.exitCode, nil
}

// RunCycles executes until at least cycles more cycles have elapsed.
// Returns true if still running, false if halted.
func (c *Core) RunCycles(cycles uint64) (bool, error) {
	target := c.stats.Cycles + cycles
	for !c.halted && c.stats.Cycles < target {
		if result := c.Step(); result.Err != nil {
			return false, result.Err
		}
	}
	return !c.halted, nil
}

// Halted returns true once the program has exited.
func (c *Core) Halted() bool {
	return c.halted
}

// ExitCode returns the exit code if the core has halted.
func (c *Core) ExitCode() int64 {
	return c.exitCode
}

// Stats returns performance statistics for the core.
func (c *Core) Stats() Stats {
	s := c.stats
	l1 := c.l1.Stats()
	s.CacheHits = l1.Hits
	s.CacheMisses = l1.Misses
	return s
}

// Reset clears statistics and cache contents. Architectural state is
// left alone.
func (c *Core) Reset() {
	c.stats = Stats{}
	c.l1.Reset()
	if c.l2 != nil {
		c.l2.Reset()
	}
	c.memory.TakeStall()
}
