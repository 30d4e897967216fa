package main

import (
	"fmt"
	"strconv"

	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/loader"
)

// parseAddr accepts decimal, 0x-prefixed hex or octal addresses.
func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}

func loadProgram(path string, raw bool, base string) (*loader.Program, error) {
	if !raw {
		return loader.Load(path)
	}
	addr := uint32(loader.DefaultRawBase)
	if base != "" {
		var err error
		if addr, err = parseAddr(base); err != nil {
			return nil, err
		}
	}
	return loader.LoadRaw(path, addr)
}

// symbolLabels turns a symbol table into disassembly labels.
func symbolLabels(symbols map[string]uint32) map[uint32][]string {
	labels := make(map[uint32][]string)
	for name, addr := range symbols {
		labels[addr] = append(labels[addr], name)
	}
	return labels
}

// faultContext describes where execution stopped: the address and the
// bytes found there.
func faultContext(e *emu.Emulator) string {
	eip := e.Regs().EIP
	var data []byte
	for i := uint32(0); i < 8; i++ {
		b, err := e.Memory().Read8(eip + i)
		if err != nil {
			break
		}
		data = append(data, b)
	}
	if len(data) == 0 {
		return fmt.Sprintf("eip %08X (unmapped)", eip)
	}
	return fmt.Sprintf("eip %08X, bytes % X", eip, data)
}
