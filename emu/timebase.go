package emu

// SetTimeBase makes the next rdtsc without a queued override return base.
// The counter keeps advancing by one per instruction from there.
func (e *Emulator) SetTimeBase(base uint64) {
	e.tscOffset = base - e.instructionCount
}

// TimeBase returns the value rdtsc would currently return without
// overrides.
func (e *Emulator) TimeBase() uint64 {
	return e.instructionCount + e.tscOffset
}

// SetTimeOverrides queues values for successive rdtsc executions,
// replacing any still queued.
func (e *Emulator) SetTimeOverrides(values []uint64) {
	e.tscOverrides = append([]uint64(nil), values...)
}
