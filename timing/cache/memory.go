package cache

import (
	"github.com/sarchlab/x86emu/emu"
)

// CachedMemory is an emu.MemoryContext that charges every access against a
// cache. Data is read from and written to the wrapped memory; the cache
// only decides the cost.
type CachedMemory struct {
	mem   emu.MemoryContext
	cache *Cache

	// stall accumulates miss penalties since the last TakeStall.
	stall uint64
}

// NewCachedMemory wraps mem with c as its first cache level.
func NewCachedMemory(mem emu.MemoryContext, c *Cache) *CachedMemory {
	return &CachedMemory{mem: mem, cache: c}
}

// Cache returns the first cache level.
func (m *CachedMemory) Cache() *Cache {
	return m.cache
}

// Unwrap returns the wrapped memory.
func (m *CachedMemory) Unwrap() emu.MemoryContext {
	return m.mem
}

// TakeStall returns the cycles lost to misses since the previous call and
// resets the count.
func (m *CachedMemory) TakeStall() uint64 {
	s := m.stall
	m.stall = 0
	return s
}

func (m *CachedMemory) charge(r AccessResult) {
	if !r.Hit && r.Latency > m.cache.config.HitLatency {
		m.stall += r.Latency - m.cache.config.HitLatency
	}
}

// Faulting accesses never reach the cache.

func (m *CachedMemory) Read8(addr uint32) (uint8, error) {
	v, err := m.mem.Read8(addr)
	if err == nil {
		m.charge(m.cache.Read(addr, 1))
	}
	return v, err
}

func (m *CachedMemory) Read16(addr uint32) (uint16, error) {
	v, err := m.mem.Read16(addr)
	if err == nil {
		m.charge(m.cache.Read(addr, 2))
	}
	return v, err
}

func (m *CachedMemory) Read32(addr uint32) (uint32, error) {
	v, err := m.mem.Read32(addr)
	if err == nil {
		m.charge(m.cache.Read(addr, 4))
	}
	return v, err
}

func (m *CachedMemory) Write8(addr uint32, v uint8) error {
	err := m.mem.Write8(addr, v)
	if err == nil {
		m.charge(m.cache.Write(addr, 1))
	}
	return err
}

func (m *CachedMemory) Write16(addr uint32, v uint16) error {
	err := m.mem.Write16(addr, v)
	if err == nil {
		m.charge(m.cache.Write(addr, 2))
	}
	return err
}

func (m *CachedMemory) Write32(addr uint32, v uint32) error {
	err := m.mem.Write32(addr, v)
	if err == nil {
		m.charge(m.cache.Write(addr, 4))
	}
	return err
}

type mapper interface {
	Map(addr, size uint32)
}

// Map forwards to the wrapped memory so brk keeps working.
func (m *CachedMemory) Map(addr, size uint32) {
	if mm, ok := m.mem.(mapper); ok {
		mm.Map(addr, size)
	}
}

type symbolTable interface {
	Symbols() map[uint32]string
	Symbol(name string) (uint32, bool)
}

// Symbols forwards to the wrapped memory.
func (m *CachedMemory) Symbols() map[uint32]string {
	if st, ok := m.mem.(symbolTable); ok {
		return st.Symbols()
	}
	return nil
}

// Symbol forwards to the wrapped memory.
func (m *CachedMemory) Symbol(name string) (uint32, bool) {
	if st, ok := m.mem.(symbolTable); ok {
		return st.Symbol(name)
	}
	return 0, false
}
