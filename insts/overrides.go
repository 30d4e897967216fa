// Package insts provides IA-32 instruction-stream decoding helpers.
package insts

import "strings"

// Segment identifies a segment-override prefix.
type Segment uint8

// Segment overrides.
const (
	SegmentNone Segment = iota
	SegmentCS
	SegmentDS
	SegmentES
	SegmentFS
	SegmentGS
	SegmentSS
)

// NumSegments is the number of Segment values including SegmentNone.
const NumSegments = 7

var segmentNames = [NumSegments]string{"", "cs", "ds", "es", "fs", "gs", "ss"}

// String returns the assembler name of the segment ("" for SegmentNone).
func (s Segment) String() string {
	if int(s) >= len(segmentNames) {
		return "invalid"
	}
	return segmentNames[s]
}

// Overrides records the prefixes seen for the instruction being executed.
type Overrides struct {
	// ShouldClear is false right after a prefix byte so the fields survive
	// until the opcode that follows it has run.
	ShouldClear bool

	Segment     Segment
	OperandSize bool
	AddressSize bool
	Wait        bool
	Lock        bool

	// RepeatNZ and RepeatZ are the F2 and F3 prefixes.
	RepeatNZ bool
	RepeatZ  bool
}

// NewOverrides returns the overrides state expected before the first fetch.
func NewOverrides() Overrides {
	return Overrides{ShouldClear: true}
}

// MarkPrefix keeps the current fields alive for the next opcode.
func (o *Overrides) MarkPrefix() {
	o.ShouldClear = false
}

// OnOpcodeComplete is called after every opcode routine, prefix or not.
func (o *Overrides) OnOpcodeComplete() {
	if !o.ShouldClear {
		o.ShouldClear = true
		return
	}
	*o = NewOverrides()
}

// OperandWidth returns 16 with an operand-size prefix, 32 otherwise.
func (o Overrides) OperandWidth() uint8 {
	if o.OperandSize {
		return 16
	}
	return 32
}

// String describes the active prefixes, e.g. "[fs operand_size repz]".
func (o Overrides) String() string {
	var tokens []string
	if o.Segment != SegmentNone {
		tokens = append(tokens, o.Segment.String())
	}
	if o.OperandSize {
		tokens = append(tokens, "operand_size")
	}
	if o.AddressSize {
		tokens = append(tokens, "address_size")
	}
	if o.Wait {
		tokens = append(tokens, "wait")
	}
	if o.Lock {
		tokens = append(tokens, "lock")
	}
	if o.RepeatNZ {
		tokens = append(tokens, "repnz")
	}
	if o.RepeatZ {
		tokens = append(tokens, "repz")
	}
	return "[" + strings.Join(tokens, " ") + "]"
}
