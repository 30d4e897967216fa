package emu

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/sarchlab/x86emu/insts"
)

// DisassemblyState is the cursor shared by the disassembly routines of the
// dispatch tables.
type DisassemblyState struct {
	data      []byte
	pos       int
	instStart int

	StartAddr uint32
	Opcode    uint8
	Overrides insts.Overrides

	// BranchTargets maps every branch destination seen so far to whether it
	// was reached by a call.
	BranchTargets map[uint32]bool
	Labels        map[uint32][]string

	// emu, when set, is used to annotate memory operands with their current
	// values.
	emu *Emulator

	err error
}

// NewDisassemblyState creates a state positioned at the start of data.
func NewDisassemblyState(data []byte, startAddr uint32, labels map[uint32][]string) *DisassemblyState {
	return &DisassemblyState{
		data:          data,
		StartAddr:     startAddr,
		Overrides:     insts.NewOverrides(),
		BranchTargets: make(map[uint32]bool),
		Labels:        labels,
	}
}

// ReadByte implements io.ByteReader over the remaining input.
func (s *DisassemblyState) ReadByte() (byte, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	b := s.data[s.pos]
	s.pos++
	return b, nil
}

// Addr is the address of the next unread byte.
func (s *DisassemblyState) Addr() uint32 {
	return s.StartAddr + uint32(s.pos)
}

// Done reports whether all input has been consumed.
func (s *DisassemblyState) Done() bool {
	return s.pos >= len(s.data)
}

func (s *DisassemblyState) setErr(err error) {
	if s.err == nil {
		s.err = err
	}
}

func (s *DisassemblyState) fail(format string, args ...any) string {
	s.setErr(fmt.Errorf(format, args...))
	return ""
}

func (s *DisassemblyState) fetch8() uint8 {
	if s.err != nil {
		return 0
	}
	v, err := insts.FetchU8(s)
	s.setErr(err)
	return v
}

func (s *DisassemblyState) fetch16() uint16 {
	if s.err != nil {
		return 0
	}
	v, err := insts.FetchU16(s)
	s.setErr(err)
	return v
}

func (s *DisassemblyState) fetch32() uint32 {
	if s.err != nil {
		return 0
	}
	v, err := insts.FetchU32(s)
	s.setErr(err)
	return v
}

func (s *DisassemblyState) fetchImm(width uint8) uint32 {
	switch width {
	case 8:
		return uint32(s.fetch8())
	case 16:
		return uint32(s.fetch16())
	}
	return s.fetch32()
}

func (s *DisassemblyState) fetchRM() insts.DecodedRM {
	if s.err != nil {
		return insts.DecodedRM{EAIndexScale: -1}
	}
	rm, err := insts.FetchAndDecodeRM(s, s.Overrides)
	if err != nil {
		s.setErr(err)
		return insts.DecodedRM{EAIndexScale: -1}
	}
	return rm
}

func (s *DisassemblyState) operandWidth() uint8 {
	return s.Overrides.OperandWidth()
}

func (s *DisassemblyState) byteOrOperandWidth() uint8 {
	if s.Opcode&1 == 0 {
		return 8
	}
	return s.operandWidth()
}

// annotation describes the current value behind a memory operand when the
// state is attached to a live emulator.
func (s *DisassemblyState) annotation(rm insts.DecodedRM, width uint8) string {
	if s.emu == nil || !rm.HasMemRef() {
		return ""
	}
	addr := s.emu.resolveEA(rm, s.Overrides.Segment, false)

	var tokens []string
	if width > 0 {
		tokens = append(tokens, fmt.Sprintf("[%08X]=%s", addr, s.emu.peek(addr, width)))
	}
	for _, label := range s.Labels[addr] {
		tokens = append(tokens, "label "+label)
	}
	if len(tokens) == 0 {
		return ""
	}
	return " /* " + strings.Join(tokens, ", ") + " */"
}

// eaString renders the EA operand with its annotation.
func (s *DisassemblyState) eaString(rm insts.DecodedRM, width uint8, fl insts.StrFlags) string {
	return rm.EAString(width, fl, s.Overrides.Segment) + s.annotation(rm, width)
}

// rmString renders both operands of a ModRM instruction.
func (s *DisassemblyState) rmString(rm insts.DecodedRM, eaWidth, nonEAWidth uint8, fl insts.StrFlags) string {
	return rm.RMString(eaWidth, nonEAWidth, fl, s.Overrides.Segment) + s.annotation(rm, eaWidth)
}

// branchTarget records dest and renders it.
func (s *DisassemblyState) branchTarget(dest uint32, isCall bool) string {
	if isCall || !s.BranchTargets[dest] {
		s.BranchTargets[dest] = isCall
	}
	return fmt.Sprintf("%08X", dest)
}

func mnemonic(name string) string {
	return fmt.Sprintf("%-10s", name)
}

// referenceName asks x86asm for the name of an instruction this package
// cannot execute.
func (s *DisassemblyState) referenceName() string {
	inst, err := x86asm.Decode(s.data[s.instStart:], 32)
	if err != nil || inst.Op == 0 {
		return ""
	}
	return " (" + strings.ToLower(inst.Op.String()) + ")"
}

func dasmUnimplemented(s *DisassemblyState) string {
	return fmt.Sprintf(".unknown  %02X", s.Opcode) + s.referenceName()
}

func hexBytes(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// disassembleOne renders the instruction at the cursor: its bytes, then its
// text. Prefix routines return an empty string, so the loop keeps going
// until a real opcode has been rendered.
func (s *DisassemblyState) disassembleOne() string {
	start := s.pos
	s.instStart = start

	var text string
	for text == "" {
		op, err := insts.FetchU8(s)
		if err != nil {
			text = ".incomplete"
			break
		}
		s.Opcode = op
		s.err = nil

		dasm := primaryOpcodes[op].dasm
		if dasm == nil {
			dasm = dasmUnimplemented
		}
		text = dasm(s)

		if s.err != nil {
			if errors.Is(s.err, insts.ErrTruncated) {
				text = ".incomplete"
			} else {
				text = fmt.Sprintf(".failed   (%v)", s.err)
			}
		}
	}
	s.err = nil

	data := hexBytes(s.data[start:s.pos])
	return fmt.Sprintf("%-*s", max(len(data)+3, 19), data) + text
}

// DisassembleOne renders the first instruction in data and returns the
// number of bytes it occupies.
func DisassembleOne(data []byte, addr uint32) (string, int) {
	s := NewDisassemblyState(data, addr, nil)
	text := s.disassembleOne()
	return text, s.pos
}

type dasmLine struct {
	pc   uint32
	text string
}

// Disassemble renders data as a listing starting at startAddr. Labels and
// branch targets found during decoding are emitted as label lines.
func Disassemble(data []byte, startAddr uint32, labels map[uint32][]string) string {
	s := NewDisassemblyState(data, startAddr, labels)

	var lines []dasmLine
	for !s.Done() {
		pc := s.Addr()
		lines = append(lines, dasmLine{
			pc:   pc,
			text: fmt.Sprintf("%08X %s\n", pc, s.disassembleOne()),
		})
		s.Overrides.OnOpcodeComplete()
	}

	labelAddrs := sortedAddrs(labels, startAddr)
	targetAddrs := make([]uint32, 0, len(s.BranchTargets))
	for addr := range s.BranchTargets {
		if addr >= startAddr {
			targetAddrs = append(targetAddrs, addr)
		}
	}
	sort.Slice(targetAddrs, func(i, j int) bool { return targetAddrs[i] < targetAddrs[j] })

	var sb strings.Builder
	for _, line := range lines {
		for len(labelAddrs) > 0 && labelAddrs[0] <= line.pc {
			addr := labelAddrs[0]
			labelAddrs = labelAddrs[1:]
			for _, name := range labels[addr] {
				if addr != line.pc {
					fmt.Fprintf(&sb, "%s: // at %08X (misaligned)\n", name, addr)
				} else {
					fmt.Fprintf(&sb, "%s:\n", name)
				}
			}
		}
		for len(targetAddrs) > 0 && targetAddrs[0] <= line.pc {
			addr := targetAddrs[0]
			targetAddrs = targetAddrs[1:]
			kind := "label"
			if s.BranchTargets[addr] {
				kind = "fn"
			}
			if addr != line.pc {
				fmt.Fprintf(&sb, "%s%08X: // (misaligned)\n", kind, addr)
			} else {
				fmt.Fprintf(&sb, "%s%08X:\n", kind, addr)
			}
		}
		sb.WriteString(line.text)
	}
	return sb.String()
}

func sortedAddrs(labels map[uint32][]string, start uint32) []uint32 {
	ret := make([]uint32, 0, len(labels))
	for addr := range labels {
		if addr >= start {
			ret = append(ret, addr)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// hexImm renders an immediate with as many digits as its width needs.
func hexImm(width uint8, v uint32) string {
	return fmt.Sprintf("%0*X", int(width/4), v&widthMask(width))
}
