package emu

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sarchlab/x86emu/insts"
)

// stateVersion is the format written by ExportState.
//
//	0: registers without xmm
//	1: behavior, time base, xmm registers
//	2: instruction count and shadow masks
const stateVersion = 2

type stateRegs struct {
	Regs   [NumRegs]uint32
	EFlags uint32
	EIP    uint32
}

type stateHeader struct {
	Behavior  uint8
	TSCOffset uint64
}

// ExportState writes the CPU state: behavior, time base, registers and
// shadow masks. Memory is exported separately.
func (e *Emulator) ExportState(w io.Writer) error {
	le := binary.LittleEndian
	write := func(what string, v any) error {
		if err := binary.Write(w, le, v); err != nil {
			return fmt.Errorf("writing %s: %w", what, err)
		}
		return nil
	}

	if err := write("version", uint8(stateVersion)); err != nil {
		return err
	}
	if err := write("header", stateHeader{Behavior: uint8(e.behavior), TSCOffset: e.tscOffset}); err != nil {
		return err
	}
	if err := write("time override count", uint64(len(e.tscOverrides))); err != nil {
		return err
	}
	if err := write("time overrides", e.tscOverrides); err != nil {
		return err
	}
	if err := write("instruction count", e.instructionCount); err != nil {
		return err
	}

	regs := stateRegs{Regs: e.regs.regs, EFlags: e.regs.eflags, EIP: e.regs.EIP}
	if err := write("registers", regs); err != nil {
		return err
	}
	for i, x := range e.regs.xmm {
		if err := write(fmt.Sprintf("xmm%d", i), [2]uint64{x.Low(), x.High()}); err != nil {
			return err
		}
	}
	return write("access masks", e.regs.masks)
}

// ImportState restores a state written by ExportState, accepting every
// format version up to the current one. Provenance tracking restarts from
// scratch since the sources of the imported values are unknown. Nothing is
// changed when the state is malformed.
func (e *Emulator) ImportState(r io.Reader) error {
	le := binary.LittleEndian
	read := func(what string, v any) error {
		if err := binary.Read(r, le, v); err != nil {
			return fmt.Errorf("reading %s: %w", what, err)
		}
		return nil
	}

	var version uint8
	if err := read("version", &version); err != nil {
		return err
	}
	if version > stateVersion {
		return &StateVersionError{Version: version}
	}

	behavior := BehaviorSpecification
	var tscOffset uint64
	var overrides []uint64
	var count uint64
	if version >= 1 {
		var hdr stateHeader
		if err := read("header", &hdr); err != nil {
			return err
		}
		behavior = Behavior(hdr.Behavior)
		if behavior > BehaviorWindowsARMEmulator {
			return fmt.Errorf("invalid behavior %d in state", hdr.Behavior)
		}
		tscOffset = hdr.TSCOffset

		var n uint64
		if err := read("time override count", &n); err != nil {
			return err
		}
		// The count is untrusted, so the slice grows with the data
		// actually present.
		for i := uint64(0); i < n; i++ {
			var v uint64
			if err := read(fmt.Sprintf("time override %d of %d", i, n), &v); err != nil {
				return err
			}
			overrides = append(overrides, v)
		}
	}
	if version >= 2 {
		if err := read("instruction count", &count); err != nil {
			return err
		}
	}

	var regs stateRegs
	if err := read("registers", &regs); err != nil {
		return err
	}
	var xmm [NumRegs]XMMReg
	if version >= 1 {
		for i := range xmm {
			var halves [2]uint64
			if err := read(fmt.Sprintf("xmm%d", i), &halves); err != nil {
				return err
			}
			xmm[i] = XMMFromHalves(halves[0], halves[1])
		}
	}
	var masks AccessMasks
	if version >= 2 {
		if err := read("access masks", &masks); err != nil {
			return err
		}
	}

	e.behavior = behavior
	e.tscOffset = tscOffset
	e.tscOverrides = overrides
	e.instructionCount = count
	e.regs.regs = regs.Regs
	e.regs.eflags = regs.EFlags
	e.regs.EIP = regs.EIP
	e.regs.xmm = xmm
	e.regs.masks = masks
	e.overrides = insts.NewOverrides()

	if e.tracer != nil {
		e.tracer.Reset()
		e.prevRegs = e.regs.Snapshot()
	}
	return nil
}
