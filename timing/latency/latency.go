// Package latency maps opcode classes to execution latencies.
//
// The values can be configured via TimingConfig.
package latency

import (
	"github.com/sarchlab/x86emu/emu"
)

// Table provides latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a new latency table with custom timing configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// Cost returns the execution latency in cycles of an opcode class,
// excluding memory accesses and branch penalties.
func (t *Table) Cost(class emu.OpClass) uint64 {
	switch class {
	case emu.ClassALU, emu.ClassDataMove, emu.ClassStack:
		return t.config.ALULatency
	case emu.ClassMultiply:
		return t.config.MultiplyLatency
	case emu.ClassDivide:
		return t.config.DivideLatency
	case emu.ClassBranch:
		return t.config.BranchLatency
	case emu.ClassString:
		return t.config.StringElementLatency
	case emu.ClassInterrupt:
		return t.config.SyscallLatency
	case emu.ClassSIMD:
		return t.config.SIMDLatency
	default:
		return 1
	}
}

// BranchPenalty returns the extra cycles of a taken branch.
func (t *Table) BranchPenalty(taken bool) uint64 {
	if !taken {
		return 0
	}
	return t.config.BranchTakenPenalty
}

// AccessCost returns the cost of one data access assuming a cache hit.
func (t *Table) AccessCost(write bool) uint64 {
	if write {
		return t.config.StoreLatency
	}
	return t.config.LoadLatency
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
