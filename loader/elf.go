// Package loader provides program loading for 32-bit x86 executables.
package loader

import (
	"debug/elf"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/x86emu/emu"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// DefaultStackTop is the stack top used for i386 Linux user space.
const DefaultStackTop = 0xC0000000

// DefaultStackSize is the default stack size (1MB).
const DefaultStackSize = 1024 * 1024

// DefaultRawBase is where flat binaries are loaded when no base is given.
const DefaultRawBase = 0x00400000

// Segment represents a loadable segment.
type Segment struct {
	// VirtAddr is the virtual address where this segment should be loaded.
	VirtAddr uint32
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint32
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a loaded program ready for execution.
type Program struct {
	// EntryPoint is the virtual address where execution should begin.
	EntryPoint uint32
	// Segments contains all loadable segments.
	Segments []Segment
	// InitialSP is the initial stack pointer value.
	InitialSP uint32
	// StackSize is the number of bytes mapped below InitialSP.
	StackSize uint32
	// Symbols maps function and object names to their addresses.
	Symbols map[string]uint32
}

// Load parses an i386 ELF executable.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("not a 32-bit ELF file")
	}
	if f.Machine != elf.EM_386 {
		return nil, fmt.Errorf("not an i386 ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{
		EntryPoint: uint32(f.Entry),
		InitialSP:  DefaultStackTop,
		StackSize:  DefaultStackSize,
		Symbols:    make(map[string]uint32),
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: uint32(phdr.Vaddr),
			Data:     data,
			MemSize:  uint32(phdr.Memsz),
			Flags:    flags,
		})
	}

	// Stripped binaries have no symbol table.
	if syms, err := f.Symbols(); err == nil {
		for _, sym := range syms {
			typ := elf.ST_TYPE(sym.Info)
			if sym.Name == "" || sym.Value == 0 || (typ != elf.STT_FUNC && typ != elf.STT_OBJECT) {
				continue
			}
			prog.Symbols[sym.Name] = uint32(sym.Value)
		}
	}

	return prog, nil
}

// LoadRaw wraps a flat binary as a single executable segment at base with
// the entry point at its first byte.
func LoadRaw(path string, base uint32) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw binary: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("raw binary %s is empty", path)
	}
	return &Program{
		EntryPoint: base,
		Segments: []Segment{{
			VirtAddr: base,
			Data:     data,
			MemSize:  uint32(len(data)),
			Flags:    SegmentFlagRead | SegmentFlagExecute,
		}},
		InitialSP: DefaultStackTop,
		StackSize: DefaultStackSize,
		Symbols:   make(map[string]uint32),
	}, nil
}

// End returns the first address past the highest segment, the initial
// program break.
func (p *Program) End() uint32 {
	var end uint32
	for _, seg := range p.Segments {
		if e := seg.VirtAddr + seg.MemSize; e > end {
			end = e
		}
	}
	return (end + emu.PageSize - 1) &^ (emu.PageSize - 1)
}

// LoadInto maps every segment and the stack into mem, copies the segment
// contents and registers the symbols.
func (p *Program) LoadInto(mem *emu.Memory) error {
	for _, seg := range p.Segments {
		size := seg.MemSize
		if uint32(len(seg.Data)) > size {
			size = uint32(len(seg.Data))
		}
		mem.Map(seg.VirtAddr, size)
		if err := mem.WriteBytes(seg.VirtAddr, seg.Data); err != nil {
			return fmt.Errorf("failed to copy segment at 0x%x: %w", seg.VirtAddr, err)
		}
	}
	mem.Map(p.InitialSP-p.StackSize, p.StackSize)
	for name, addr := range p.Symbols {
		mem.SetSymbol(name, addr)
	}
	return nil
}
