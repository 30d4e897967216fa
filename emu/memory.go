package emu

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// MemoryContext is the address space the emulator executes against. All
// multi-byte accesses are little-endian.
type MemoryContext interface {
	Read8(addr uint32) (uint8, error)
	Read16(addr uint32) (uint16, error)
	Read32(addr uint32) (uint32, error)
	Write8(addr uint32, v uint8) error
	Write16(addr uint32, v uint16) error
	Write32(addr uint32, v uint32) error
}

// PageSize is the mapping granularity of Memory.
const PageSize = 0x1000

type page [PageSize]byte

// Memory is a sparse, page-mapped 32-bit address space. Accesses to pages
// that were never mapped fail with *MemoryFaultError.
type Memory struct {
	pages   map[uint32]*page
	symbols map[string]uint32
}

// NewMemory creates an empty address space.
func NewMemory() *Memory {
	return &Memory{
		pages:   make(map[uint32]*page),
		symbols: make(map[string]uint32),
	}
}

// Map makes [addr, addr+size) accessible. Already-mapped pages keep their
// contents.
func (m *Memory) Map(addr, size uint32) {
	if size == 0 {
		return
	}
	first := addr &^ (PageSize - 1)
	last := (addr + size - 1) &^ (PageSize - 1)
	for p := first; ; p += PageSize {
		if _, ok := m.pages[p]; !ok {
			m.pages[p] = &page{}
		}
		if p == last {
			break
		}
	}
}

// IsMapped reports whether every byte of [addr, addr+size) is mapped.
func (m *Memory) IsMapped(addr, size uint32) bool {
	for i := uint32(0); i < size; i++ {
		if _, ok := m.pages[(addr+i)&^(PageSize-1)]; !ok {
			return false
		}
	}
	return true
}

// LoadProgram maps and copies data to addr.
func (m *Memory) LoadProgram(addr uint32, data []byte) {
	m.Map(addr, uint32(len(data)))
	_ = m.WriteBytes(addr, data)
}

func (m *Memory) byteAt(addr uint32, size int, write bool) (*byte, error) {
	p, ok := m.pages[addr&^(PageSize-1)]
	if !ok {
		return nil, &MemoryFaultError{Addr: addr, Size: size, Write: write}
	}
	return &p[addr&(PageSize-1)], nil
}

// ReadBytes copies size bytes starting at addr.
func (m *Memory) ReadBytes(addr uint32, size int) ([]byte, error) {
	ret := make([]byte, size)
	for i := range ret {
		b, err := m.byteAt(addr+uint32(i), size, false)
		if err != nil {
			return nil, err
		}
		ret[i] = *b
	}
	return ret, nil
}

// WriteBytes copies data to addr.
func (m *Memory) WriteBytes(addr uint32, data []byte) error {
	for i, v := range data {
		b, err := m.byteAt(addr+uint32(i), len(data), true)
		if err != nil {
			return err
		}
		*b = v
	}
	return nil
}

// Read8 reads a byte.
func (m *Memory) Read8(addr uint32) (uint8, error) {
	b, err := m.byteAt(addr, 1, false)
	if err != nil {
		return 0, err
	}
	return *b, nil
}

// Read16 reads a little-endian word.
func (m *Memory) Read16(addr uint32) (uint16, error) {
	data, err := m.ReadBytes(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(data), nil
}

// Read32 reads a little-endian dword.
func (m *Memory) Read32(addr uint32) (uint32, error) {
	data, err := m.ReadBytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

// Read64 reads a little-endian qword.
func (m *Memory) Read64(addr uint32) (uint64, error) {
	data, err := m.ReadBytes(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

// Write8 writes a byte.
func (m *Memory) Write8(addr uint32, v uint8) error {
	b, err := m.byteAt(addr, 1, true)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Write16 writes a little-endian word.
func (m *Memory) Write16(addr uint32, v uint16) error {
	return m.WriteBytes(addr, binary.LittleEndian.AppendUint16(nil, v))
}

// Write32 writes a little-endian dword.
func (m *Memory) Write32(addr uint32, v uint32) error {
	return m.WriteBytes(addr, binary.LittleEndian.AppendUint32(nil, v))
}

// Write64 writes a little-endian qword.
func (m *Memory) Write64(addr uint32, v uint64) error {
	return m.WriteBytes(addr, binary.LittleEndian.AppendUint64(nil, v))
}

// ReadCString reads a NUL-terminated string of at most maxLen bytes.
func (m *Memory) ReadCString(addr uint32, maxLen int) (string, error) {
	var ret []byte
	for i := 0; i < maxLen; i++ {
		b, err := m.Read8(addr + uint32(i))
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		ret = append(ret, b)
	}
	return string(ret), nil
}

// SetSymbol names addr.
func (m *Memory) SetSymbol(name string, addr uint32) {
	m.symbols[name] = addr
}

// Symbol looks up a named address.
func (m *Memory) Symbol(name string) (uint32, bool) {
	addr, ok := m.symbols[name]
	return addr, ok
}

// Symbols returns a copy of every named address keyed by address.
func (m *Memory) Symbols() map[uint32]string {
	ret := make(map[uint32]string, len(m.symbols))
	for name, addr := range m.symbols {
		ret[addr] = name
	}
	return ret
}

// MoveFrom replaces the contents of m with those of other, which must not
// be used afterwards.
func (m *Memory) MoveFrom(other *Memory) {
	m.pages = other.pages
	m.symbols = other.symbols
}

// Region is a contiguous run of mapped pages.
type Region struct {
	Addr uint32
	Size uint32
}

// Regions returns the mapped address ranges in ascending order.
func (m *Memory) Regions() []Region {
	addrs := make([]uint32, 0, len(m.pages))
	for a := range m.pages {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var ret []Region
	for _, a := range addrs {
		if n := len(ret); n > 0 && ret[n-1].Addr+ret[n-1].Size == a {
			ret[n-1].Size += PageSize
			continue
		}
		ret = append(ret, Region{Addr: a, Size: PageSize})
	}
	return ret
}

// ExportState writes every mapped page and symbol to w.
//
// Layout: u32 nPages, nPages×(u32 addr, PageSize bytes), u32 nSymbols,
// nSymbols×(u32 addr, u16 len, name).
func (m *Memory) ExportState(w io.Writer) error {
	addrs := make([]uint32, 0, len(m.pages))
	for a := range m.pages {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	if err := binary.Write(w, binary.LittleEndian, uint32(len(addrs))); err != nil {
		return err
	}
	for _, a := range addrs {
		if err := binary.Write(w, binary.LittleEndian, a); err != nil {
			return err
		}
		if _, err := w.Write(m.pages[a][:]); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(m.symbols))
	for name := range m.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(names))); err != nil {
		return err
	}
	for _, name := range names {
		if err := binary.Write(w, binary.LittleEndian, m.symbols[name]); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(name))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, name); err != nil {
			return err
		}
	}
	return nil
}

// ImportState replaces the contents of m with a dump made by ExportState.
func (m *Memory) ImportState(r io.Reader) error {
	var nPages uint32
	if err := binary.Read(r, binary.LittleEndian, &nPages); err != nil {
		return fmt.Errorf("reading page count: %w", err)
	}
	pages := make(map[uint32]*page)
	for i := uint32(0); i < nPages; i++ {
		var addr uint32
		if err := binary.Read(r, binary.LittleEndian, &addr); err != nil {
			return fmt.Errorf("reading page address: %w", err)
		}
		p := &page{}
		if _, err := io.ReadFull(r, p[:]); err != nil {
			return fmt.Errorf("reading page %08X: %w", addr, err)
		}
		pages[addr&^(PageSize-1)] = p
	}

	var nSymbols uint32
	if err := binary.Read(r, binary.LittleEndian, &nSymbols); err != nil {
		return fmt.Errorf("reading symbol count: %w", err)
	}
	symbols := make(map[string]uint32)
	for i := uint32(0); i < nSymbols; i++ {
		var addr uint32
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &addr); err != nil {
			return fmt.Errorf("reading symbol: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return fmt.Errorf("reading symbol: %w", err)
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(r, name); err != nil {
			return fmt.Errorf("reading symbol: %w", err)
		}
		symbols[string(name)] = addr
	}

	m.pages = pages
	m.symbols = symbols
	return nil
}
