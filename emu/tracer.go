package emu

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/xlab/treeprint"

	"github.com/sarchlab/x86emu/insts"
	"github.com/sarchlab/x86emu/log"
)

// AccessID identifies a DataAccess. Zero is never assigned.
type AccessID uint64

// TargetKind says what a DataAccess touched.
type TargetKind uint8

// Access target kinds.
const (
	TargetMemory TargetKind = iota
	TargetRegister
	TargetXMM
	TargetFlags
)

// Target is the location of a DataAccess.
type Target struct {
	Kind TargetKind
	// Addr is the memory address or the register index. For byte registers
	// the index is the encoded one (4-7 select ah..bh).
	Addr uint32
	// Size is in bytes.
	Size uint8
	// Mask is the set of flag bits for TargetFlags.
	Mask uint32
}

// MemoryTarget returns the target for a memory access.
func MemoryTarget(addr uint32, size uint8) Target {
	return Target{Kind: TargetMemory, Addr: addr, Size: size}
}

func (t Target) String() string {
	switch t.Kind {
	case TargetRegister:
		return insts.RegName(int8(t.Addr), t.Size*8)
	case TargetXMM:
		return insts.XMMName(int8(t.Addr))
	case TargetFlags:
		return "eflags"
	default:
		return fmt.Sprintf("[%08X]", t.Addr)
	}
}

// DataAccess is one node of the provenance graph.
type DataAccess struct {
	ID      AccessID
	Cycle   uint64
	Target  Target
	IsWrite bool

	ValueLow  uint64
	ValueHigh uint64

	// Sources are the writes that owned the bytes a read observed. Writes
	// have no sources.
	Sources []AccessID
	// Inputs are the reads performed by the instruction that made a write.
	Inputs []AccessID
}

func (a *DataAccess) String() string {
	var val string
	switch a.Target.Size {
	case 1:
		val = fmt.Sprintf("%02X", a.ValueLow&0xFF)
	case 2:
		val = fmt.Sprintf("%04X", a.ValueLow&0xFFFF)
	case 4:
		val = fmt.Sprintf("%08X", a.ValueLow&0xFFFFFFFF)
	case 8:
		val = fmt.Sprintf("%016X", a.ValueLow)
	default:
		val = fmt.Sprintf("%016X%016X", a.ValueHigh, a.ValueLow)
	}
	dir := "=>"
	if a.IsWrite {
		dir = "<="
	}
	return fmt.Sprintf("%08X: %s %s %s", a.Cycle, a.Target, dir, val)
}

// DefaultTraceSweepInterval is the number of instructions between
// reclamation passes.
const DefaultTraceSweepInterval = 4096

// AccessTracer builds the provenance graph. Accesses are collected during an
// instruction and linked when it completes.
type AccessTracer struct {
	nodes  map[AccessID]*DataAccess
	nextID AccessID

	reads  []AccessID
	writes []AccessID

	regSources   [NumRegs][4]AccessID
	xmmSources   [NumRegs][16]AccessID
	flagSources  [32]AccessID
	memSources   map[uint32]AccessID
	granularity  uint32
	sweepEvery   uint64
	linkedCycles uint64

	logger log.Logger
}

// NewAccessTracer creates a tracer. A granularity above 1 coalesces memory
// addresses into blocks of that many bytes.
func NewAccessTracer(granularity uint32, sweepEvery uint64, logger log.Logger) *AccessTracer {
	if granularity == 0 {
		granularity = 1
	}
	if sweepEvery == 0 {
		sweepEvery = DefaultTraceSweepInterval
	}
	if logger == nil {
		logger = log.Root()
	}
	return &AccessTracer{
		nodes:       make(map[AccessID]*DataAccess),
		memSources:  make(map[uint32]AccessID),
		granularity: granularity,
		sweepEvery:  sweepEvery,
		logger:      logger,
	}
}

// ReportAccess records an access made by the current instruction.
func (t *AccessTracer) ReportAccess(cycle uint64, target Target, isWrite bool, low, high uint64) AccessID {
	t.nextID++
	acc := &DataAccess{
		ID:        t.nextID,
		Cycle:     cycle,
		Target:    target,
		IsWrite:   isWrite,
		ValueLow:  low,
		ValueHigh: high,
	}
	t.nodes[acc.ID] = acc
	if isWrite {
		t.writes = append(t.writes, acc.ID)
	} else {
		t.reads = append(t.reads, acc.ID)
	}
	return acc.ID
}

// Access returns the node with the given id, or nil if it was reclaimed.
func (t *AccessTracer) Access(id AccessID) *DataAccess {
	return t.nodes[id]
}

// NumAccesses returns the number of live nodes.
func (t *AccessTracer) NumAccesses() int {
	return len(t.nodes)
}

func gprSpans(mask uint32) []Target {
	switch {
	case mask == 0:
		return nil
	case mask == 0xFFFFFFFF:
		return []Target{{Kind: TargetRegister, Size: 4}}
	case mask&0xFFFF == 0xFFFF:
		return []Target{{Kind: TargetRegister, Size: 2}}
	}
	var ret []Target
	if mask&0x00FF != 0 {
		ret = append(ret, Target{Kind: TargetRegister, Size: 1})
	}
	if mask&0xFF00 != 0 {
		ret = append(ret, Target{Kind: TargetRegister, Size: 1, Addr: 4})
	}
	return ret
}

func xmmSpan(mask uint16) uint8 {
	switch {
	case mask == 0:
		return 0
	case mask == 0xFFFF:
		return 16
	case mask&0x00FF == 0x00FF:
		return 8
	default:
		return 4
	}
}

func (t *AccessTracer) reportRegisters(cycle uint64, prev, cur *RegFile) {
	masks := cur.AccessMasks()
	for which := uint8(0); which < NumRegs; which++ {
		for i, mask := range []uint32{masks.RegsRead[which], masks.RegsWritten[which]} {
			src := prev
			if i == 1 {
				src = cur
			}
			for _, target := range gprSpans(mask) {
				target.Addr += uint32(which)
				v := src.ReadUnreported(uint8(target.Addr), target.Size*8)
				t.ReportAccess(cycle, target, i == 1, uint64(v), 0)
			}
		}
		for i, mask := range []uint16{masks.XMMRead[which], masks.XMMWritten[which]} {
			src := prev
			if i == 1 {
				src = cur
			}
			if size := xmmSpan(mask); size != 0 {
				v := src.ReadXMMUnreported(which, size*8)
				target := Target{Kind: TargetXMM, Addr: uint32(which), Size: size}
				t.ReportAccess(cycle, target, i == 1, v.Low(), v.High())
			}
		}
	}
	if masks.FlagsRead != 0 {
		t.ReportAccess(cycle, Target{Kind: TargetFlags, Size: 4, Mask: masks.FlagsRead},
			false, uint64(prev.EFlagsUnreported()), 0)
	}
	if masks.FlagsWritten != 0 {
		t.ReportAccess(cycle, Target{Kind: TargetFlags, Size: 4, Mask: masks.FlagsWritten},
			true, uint64(cur.EFlagsUnreported()), 0)
	}
}

// regSlots returns the current-source slots covering a register, xmm or
// flags target.
func (t *AccessTracer) regSlots(target Target) []*AccessID {
	var ret []*AccessID
	switch target.Kind {
	case TargetRegister:
		which := target.Addr
		first := 0
		if target.Size == 1 {
			which &= 3
			if target.Addr&4 != 0 {
				first = 1
			}
		}
		for i := 0; i < int(target.Size); i++ {
			ret = append(ret, &t.regSources[which][first+i])
		}
	case TargetXMM:
		for i := 0; i < int(target.Size); i++ {
			ret = append(ret, &t.xmmSources[target.Addr][i])
		}
	case TargetFlags:
		for bit := 0; bit < 32; bit++ {
			if target.Mask&(1<<bit) != 0 {
				ret = append(ret, &t.flagSources[bit])
			}
		}
	}
	return ret
}

func (t *AccessTracer) currentSources(target Target) []AccessID {
	var ret []AccessID
	seen := map[AccessID]bool{}
	add := func(id AccessID) {
		if id != 0 && !seen[id] {
			seen[id] = true
			ret = append(ret, id)
		}
	}
	if target.Kind == TargetMemory {
		for i := uint32(0); i < uint32(target.Size); i++ {
			add(t.memSources[(target.Addr+i)/t.granularity])
		}
		return ret
	}
	for _, slot := range t.regSlots(target) {
		add(*slot)
	}
	return ret
}

func (t *AccessTracer) setSources(target Target, id AccessID) {
	if target.Kind == TargetMemory {
		for i := uint32(0); i < uint32(target.Size); i++ {
			t.memSources[(target.Addr+i)/t.granularity] = id
		}
		return
	}
	for _, slot := range t.regSlots(target) {
		*slot = id
	}
}

// LinkCurrentAccesses closes the current instruction: register accesses
// are derived from cur's shadow masks (read values come from prev), every
// read is linked to the writes that currently own its bytes, and the
// instruction's writes become the new owners.
func (t *AccessTracer) LinkCurrentAccesses(cycle uint64, prev, cur *RegFile) {
	t.reportRegisters(cycle, prev, cur)

	for _, id := range t.reads {
		acc := t.nodes[id]
		acc.Sources = t.currentSources(acc.Target)
	}
	for _, id := range t.writes {
		acc := t.nodes[id]
		if len(t.reads) > 0 {
			acc.Inputs = append([]AccessID(nil), t.reads...)
		}
		t.setSources(acc.Target, id)
	}
	t.reads = t.reads[:0]
	t.writes = t.writes[:0]

	t.linkedCycles++
	if t.linkedCycles%t.sweepEvery == 0 {
		t.Sweep()
	}
}

// Sweep drops every node that cannot be reached from a current-source slot.
func (t *AccessTracer) Sweep() {
	live := make(map[AccessID]bool, len(t.nodes))
	var stack []AccessID
	push := func(id AccessID) {
		if id != 0 && !live[id] {
			live[id] = true
			stack = append(stack, id)
		}
	}
	for i := range t.regSources {
		for _, id := range t.regSources[i] {
			push(id)
		}
		for _, id := range t.xmmSources[i] {
			push(id)
		}
	}
	for _, id := range t.flagSources {
		push(id)
	}
	for _, id := range t.memSources {
		push(id)
	}
	for _, id := range t.reads {
		push(id)
	}
	for _, id := range t.writes {
		push(id)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		acc := t.nodes[id]
		if acc == nil {
			continue
		}
		for _, s := range acc.Sources {
			push(s)
		}
		for _, s := range acc.Inputs {
			push(s)
		}
	}

	before := len(t.nodes)
	for id := range t.nodes {
		if !live[id] {
			delete(t.nodes, id)
		}
	}
	t.logger.Trace(log.TraceModule, "swept provenance graph",
		"before", before, "after", len(t.nodes))
}

// Reset forgets every current source, as after a state import.
func (t *AccessTracer) Reset() {
	t.regSources = [NumRegs][4]AccessID{}
	t.xmmSources = [NumRegs][16]AccessID{}
	t.flagSources = [32]AccessID{}
	t.memSources = make(map[uint32]AccessID)
	t.reads = t.reads[:0]
	t.writes = t.writes[:0]
	t.nodes = make(map[AccessID]*DataAccess)
}

// DiscardCurrentAccesses drops the accesses reported by an instruction that
// did not complete.
func (t *AccessTracer) DiscardCurrentAccesses() {
	for _, id := range t.reads {
		delete(t.nodes, id)
	}
	for _, id := range t.writes {
		delete(t.nodes, id)
	}
	t.reads = t.reads[:0]
	t.writes = t.writes[:0]
}

// SourcesForRegister returns the writes that currently own the named
// register ("eax", "ah", "xmm1", "eflags").
func (t *AccessTracer) SourcesForRegister(name string) ([]AccessID, error) {
	ref, err := insts.ParseRegister(name)
	if err != nil {
		return nil, err
	}
	switch {
	case ref.Flags:
		return t.currentSources(Target{Kind: TargetFlags, Size: 4, Mask: 0xFFFFFFFF}), nil
	case ref.XMM:
		return t.currentSources(Target{Kind: TargetXMM, Addr: uint32(ref.Index), Size: 16}), nil
	default:
		return t.currentSources(Target{Kind: TargetRegister, Addr: uint32(ref.Index), Size: ref.Width / 8}), nil
	}
}

// SourcesForMemory returns the writes that currently own the byte at addr.
func (t *AccessTracer) SourcesForMemory(addr uint32) []AccessID {
	return t.currentSources(MemoryTarget(addr, 1))
}

func (t *AccessTracer) sourcesFor(what string) ([]AccessID, error) {
	if ids, err := t.SourcesForRegister(what); err == nil {
		return ids, nil
	}
	s := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(what), "["), "]")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	addr, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("%q is neither a register nor an address", what)
	}
	return t.SourcesForMemory(uint32(addr)), nil
}

// PrintSourceTrace renders the provenance of a register or address as a
// tree. maxDepth of zero means unlimited.
func (t *AccessTracer) PrintSourceTrace(w io.Writer, what string, maxDepth int) error {
	ids, err := t.sourcesFor(what)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		_, err = fmt.Fprintln(w, "no source info")
		return err
	}

	tree := treeprint.New()
	tree.SetValue(what)
	for _, id := range ids {
		t.addTraceNode(tree, id, 0, maxDepth)
	}
	_, err = io.WriteString(w, tree.String())
	return err
}

func (t *AccessTracer) addTraceNode(parent treeprint.Tree, id AccessID, depth, maxDepth int) {
	acc := t.nodes[id]
	if acc == nil {
		parent.AddNode("(reclaimed)")
		return
	}
	if maxDepth > 0 && depth >= maxDepth {
		parent.AddNode("(maximum depth reached)")
		return
	}
	children := acc.Sources
	if acc.IsWrite {
		children = acc.Inputs
	}
	if len(children) == 0 {
		parent.AddNode(acc.String())
		return
	}
	branch := parent.AddBranch(acc.String())
	sorted := append([]AccessID(nil), children...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, child := range sorted {
		t.addTraceNode(branch, child, depth+1, maxDepth)
	}
}
