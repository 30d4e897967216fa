package emu

import (
	"fmt"
	"io"
	"strings"
)

// maxInstructionLength is the longest IA-32 encoding, prefixes included.
const maxInstructionLength = 0x10

// PrintStateHeader writes the column header matching PrintState.
func (e *Emulator) PrintStateHeader(w io.Writer) {
	fmt.Fprintln(w, "-CYCLES-  --EAX--- --ECX--- --EDX--- --EBX--- --ESP--- --EBP--- --ESI--- --EDI---  "+
		"-EFLAGS-(--BITS--) <XMM> @ --EIP--- = CODE")
}

// PrintState writes one line describing the registers and the next
// instruction. Nothing is marked as accessed.
func (e *Emulator) PrintState(w io.Writer) {
	var xmm []string
	for i, x := range e.regs.xmm {
		if x.IsZero() {
			continue
		}
		xmm = append(xmm, fmt.Sprintf("xmm%d=%016X%016X", i, x.High(), x.Low()))
	}
	xmmStr := strings.Join(xmm, ", ")
	if xmmStr != "" {
		xmmStr += " "
	}

	r := &e.regs.regs
	fmt.Fprintf(w, "%08X  %08X %08X %08X %08X %08X %08X %08X %08X  %08X(%s) %s@ %08X = ",
		e.instructionCount, r[0], r[1], r[2], r[3], r[4], r[5], r[6], r[7],
		e.regs.eflags, e.regs.FlagsString(), xmmStr, e.regs.EIP)

	var data []byte
	for addr := e.regs.EIP; len(data) < maxInstructionLength; addr++ {
		b, err := e.mem.Read8(addr)
		if err != nil {
			break
		}
		data = append(data, b)
	}

	s := NewDisassemblyState(data, e.regs.EIP, e.symbolLabels())
	s.emu = e
	s.Overrides = e.overrides
	fmt.Fprintln(w, s.disassembleOne())
}

type symbolLister interface {
	Symbols() map[uint32]string
}

func (e *Emulator) symbolLabels() map[uint32][]string {
	st, ok := e.mem.(symbolLister)
	if !ok {
		return nil
	}
	labels := make(map[uint32][]string)
	for addr, name := range st.Symbols() {
		labels[addr] = append(labels[addr], name)
	}
	return labels
}

// peek renders the value at addr for disassembly annotations without
// recording an access.
func (e *Emulator) peek(addr uint32, width uint8) string {
	switch width {
	case 8, 16, 32:
		v, err := e.peekRaw(addr, width)
		if err != nil {
			return fmt.Sprintf("(unreadable: %v)", err)
		}
		return hexImm(width, v)
	case 64:
		low, err := e.peekRaw(addr, 32)
		if err != nil {
			return fmt.Sprintf("(unreadable: %v)", err)
		}
		high, err := e.peekRaw(addr+4, 32)
		if err != nil {
			return fmt.Sprintf("(unreadable: %v)", err)
		}
		return fmt.Sprintf("%08X%08X", high, low)
	}

	data := make([]byte, width/8)
	for i := range data {
		b, err := e.mem.Read8(addr + uint32(i))
		if err != nil {
			return fmt.Sprintf("(unreadable: %v)", err)
		}
		data[i] = b
	}
	return "DATA:" + hexBytes(data)
}

func (e *Emulator) peekRaw(addr uint32, width uint8) (uint32, error) {
	switch width {
	case 8:
		v, err := e.mem.Read8(addr)
		return uint32(v), err
	case 16:
		v, err := e.mem.Read16(addr)
		return uint32(v), err
	default:
		return e.mem.Read32(addr)
	}
}
