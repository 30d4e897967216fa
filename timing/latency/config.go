package latency

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/x86emu/timing/cache"
)

// TimingConfig holds latency values for the opcode classes and the cache
// hierarchy. Values are rough estimates for an in-order IA-32 core.
type TimingConfig struct {
	// ALULatency is the execution latency for arithmetic, logic and
	// register moves. Default: 1 cycle.
	ALULatency uint64 `json:"alu_latency"`

	// MultiplyLatency is the latency for integer multiply operations.
	// Default: 3 cycles.
	MultiplyLatency uint64 `json:"multiply_latency"`

	// DivideLatency is the latency for integer divide operations.
	// Default: 20 cycles.
	DivideLatency uint64 `json:"divide_latency"`

	// BranchLatency is the base latency for control transfers.
	// Default: 1 cycle.
	BranchLatency uint64 `json:"branch_latency"`

	// BranchTakenPenalty is added when a branch leaves the fall-through
	// path. Default: 2 cycles.
	BranchTakenPenalty uint64 `json:"branch_taken_penalty"`

	// LoadLatency is charged per data read assuming an L1 hit.
	// Default: 3 cycles.
	LoadLatency uint64 `json:"load_latency"`

	// StoreLatency is charged per data write. Default: 1 cycle.
	StoreLatency uint64 `json:"store_latency"`

	// StringElementLatency is the base cost of a string instruction.
	// Element accesses are charged as loads and stores. Default: 1 cycle.
	StringElementLatency uint64 `json:"string_element_latency"`

	// SyscallLatency is the latency for int and int3, handler excluded.
	// Default: 50 cycles.
	SyscallLatency uint64 `json:"syscall_latency"`

	// SIMDLatency is the latency for xmm operations. Default: 2 cycles.
	SIMDLatency uint64 `json:"simd_latency"`

	// L1 is the first cache level.
	L1 cache.Config `json:"l1"`

	// L2 is the second cache level. A zero Size disables it.
	L2 cache.Config `json:"l2"`
}

// DefaultTimingConfig returns a TimingConfig with the default values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ALULatency:           1,
		MultiplyLatency:      3,
		DivideLatency:        20,
		BranchLatency:        1,
		BranchTakenPenalty:   2,
		LoadLatency:          3,
		StoreLatency:         1,
		StringElementLatency: 1,
		SyscallLatency:       50,
		SIMDLatency:          2,
		L1:                   cache.DefaultL1Config(),
		L2:                   cache.DefaultL2Config(),
	}
}

// LoadConfig loads a TimingConfig from a JSON file. Fields missing from the
// file keep their defaults.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that all latency values are valid (> 0) and that the
// cache geometries are usable.
func (c *TimingConfig) Validate() error {
	if c.ALULatency == 0 {
		return fmt.Errorf("alu_latency must be > 0")
	}
	if c.MultiplyLatency == 0 {
		return fmt.Errorf("multiply_latency must be > 0")
	}
	if c.DivideLatency == 0 {
		return fmt.Errorf("divide_latency must be > 0")
	}
	if c.BranchLatency == 0 {
		return fmt.Errorf("branch_latency must be > 0")
	}
	if c.LoadLatency == 0 {
		return fmt.Errorf("load_latency must be > 0")
	}
	if c.StoreLatency == 0 {
		return fmt.Errorf("store_latency must be > 0")
	}
	if c.SyscallLatency == 0 {
		return fmt.Errorf("syscall_latency must be > 0")
	}
	if err := c.L1.Validate(); err != nil {
		return fmt.Errorf("l1: %w", err)
	}
	if c.L2.Size != 0 {
		if err := c.L2.Validate(); err != nil {
			return fmt.Errorf("l2: %w", err)
		}
	}
	return nil
}

// Clone returns a deep copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}
