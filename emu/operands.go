package emu

import (
	"errors"

	"github.com/sarchlab/x86emu/insts"
)

type instStream struct {
	e *Emulator
}

func (s instStream) ReadByte() (byte, error) {
	b, err := s.e.mem.Read8(s.e.regs.EIP)
	if err != nil {
		return 0, err
	}
	s.e.regs.EIP++
	s.e.fetched++
	return b, nil
}

func (e *Emulator) fetch8() (uint8, error) {
	return insts.FetchU8(instStream{e})
}

func (e *Emulator) fetch16() (uint16, error) {
	return insts.FetchU16(instStream{e})
}

func (e *Emulator) fetch32() (uint32, error) {
	return insts.FetchU32(instStream{e})
}

// fetchImm fetches an immediate of the given operand width.
func (e *Emulator) fetchImm(width uint8) (uint32, error) {
	switch width {
	case 8:
		v, err := e.fetch8()
		return uint32(v), err
	case 16:
		v, err := e.fetch16()
		return uint32(v), err
	case 32:
		return e.fetch32()
	}
	panic(InvalidRegisterSizeError{Width: width})
}

// fetchSImm8 fetches a byte and sign-extends it to 32 bits.
func (e *Emulator) fetchSImm8() (uint32, error) {
	v, err := e.fetch8()
	return uint32(int32(int8(v))), err
}

func (e *Emulator) fetchRM() (insts.DecodedRM, error) {
	rm, err := insts.FetchAndDecodeRM(instStream{e}, e.overrides)
	if errors.Is(err, insts.ErrAddressSizeOverride) {
		err = &DecodeError{EIP: e.instStart, Err: err}
	}
	return rm, err
}

func (e *Emulator) operandWidth() uint8 {
	return e.overrides.OperandWidth()
}

// byteOrOperandWidth returns 8 for even opcodes and the operand width for
// odd ones, the usual encoding of the w bit.
func (e *Emulator) byteOrOperandWidth(opcode uint8) uint8 {
	if opcode&1 == 0 {
		return 8
	}
	return e.operandWidth()
}

type symbolTable interface {
	Symbol(name string) (uint32, bool)
}

func (e *Emulator) segmentBase(seg insts.Segment) uint32 {
	if e.segmentBaseSet[seg] {
		return e.segmentBases[seg]
	}
	if seg == insts.SegmentFS {
		if st, ok := e.mem.(symbolTable); ok {
			if addr, ok := st.Symbol("fs"); ok {
				return addr
			}
		}
	}
	return 0
}

// ResolveMemEA computes segment base + base + index*scale + disp. The base
// and index registers are read through the tracked accessors.
func (e *Emulator) ResolveMemEA(rm insts.DecodedRM) uint32 {
	return e.resolveEA(rm, e.overrides.Segment, true)
}

// ResolveMemEAUntraced is ResolveMemEA without marking register reads.
func (e *Emulator) ResolveMemEAUntraced(rm insts.DecodedRM) uint32 {
	return e.resolveEA(rm, e.overrides.Segment, false)
}

func (e *Emulator) resolveEA(rm insts.DecodedRM, seg insts.Segment, traced bool) uint32 {
	if !rm.HasMemRef() {
		panic("register operand has no effective address")
	}
	read := e.regs.ReadUnreported32
	if traced {
		read = e.regs.Read32
	}

	addr := e.segmentBase(seg)
	if rm.EAReg >= 0 {
		addr += read(uint8(rm.EAReg))
	}
	if rm.EAIndexScale > 0 {
		addr += read(uint8(rm.EAIndexReg)) * uint32(rm.EAIndexScale)
	}
	return addr + uint32(rm.EADisp)
}

func (e *Emulator) noteMemory(addr uint32, size uint8, write bool, low, high uint64) {
	if e.logMemory {
		e.memoryLog = append(e.memoryLog, MemoryAccess{Addr: addr, Size: size, IsWrite: write})
	}
	if e.tracer != nil {
		e.tracer.ReportAccess(e.instructionCount, MemoryTarget(addr, size), write, low, high)
	}
}

func (e *Emulator) load(addr uint32, width uint8) (uint32, error) {
	switch width {
	case 8:
		v, err := e.mem.Read8(addr)
		return uint32(v), err
	case 16:
		v, err := e.mem.Read16(addr)
		return uint32(v), err
	case 32:
		return e.mem.Read32(addr)
	}
	panic(InvalidRegisterSizeError{Width: width})
}

func (e *Emulator) store(addr uint32, width uint8, v uint32) error {
	switch width {
	case 8:
		return e.mem.Write8(addr, uint8(v))
	case 16:
		return e.mem.Write16(addr, uint16(v))
	case 32:
		return e.mem.Write32(addr, v)
	}
	panic(InvalidRegisterSizeError{Width: width})
}

func (e *Emulator) readMem(addr uint32, width uint8) (uint32, error) {
	v, err := e.load(addr, width)
	if err != nil {
		return 0, err
	}
	e.noteMemory(addr, width/8, false, uint64(v), 0)
	return v, nil
}

func (e *Emulator) writeMem(addr uint32, width uint8, v uint32) error {
	if err := e.store(addr, width, v); err != nil {
		return err
	}
	e.noteMemory(addr, width/8, true, uint64(v)&uint64(widthMask(width)), 0)
	return nil
}

// readMemXMM reads 32, 64 or 128 bits, zero-extended into an XMMReg.
func (e *Emulator) readMemXMM(addr uint32, width uint8) (XMMReg, error) {
	var ret XMMReg
	for i := 0; i < int(width/32); i++ {
		v, err := e.load(addr+uint32(4*i), 32)
		if err != nil {
			return XMMReg{}, err
		}
		ret.SetLane(4, i, uint64(v))
	}
	e.noteMemory(addr, width/8, false, ret.Low(), ret.High())
	return ret, nil
}

func (e *Emulator) writeMemXMM(addr uint32, width uint8, v XMMReg) error {
	for i := 0; i < int(width/32); i++ {
		if err := e.store(addr+uint32(4*i), 32, uint32(v.Lane(4, i))); err != nil {
			return err
		}
	}
	low, high := v.Low(), v.High()
	switch width {
	case 32:
		low &= 0xFFFFFFFF
		high = 0
	case 64:
		high = 0
	}
	e.noteMemory(addr, width/8, true, low, high)
	return nil
}

// readRM reads the EA operand.
func (e *Emulator) readRM(rm insts.DecodedRM, width uint8) (uint32, error) {
	if rm.HasMemRef() {
		return e.readMem(e.ResolveMemEA(rm), width)
	}
	return e.regs.Read(uint8(rm.EAReg), width), nil
}

// writeRM writes the EA operand.
func (e *Emulator) writeRM(rm insts.DecodedRM, width uint8, v uint32) error {
	if rm.HasMemRef() {
		return e.writeMem(e.ResolveMemEA(rm), width, v)
	}
	e.regs.Write(uint8(rm.EAReg), width, v)
	return nil
}

func (e *Emulator) readNonEA(rm insts.DecodedRM, width uint8) uint32 {
	return e.regs.Read(uint8(rm.NonEAReg), width)
}

func (e *Emulator) writeNonEA(rm insts.DecodedRM, width uint8, v uint32) {
	e.regs.Write(uint8(rm.NonEAReg), width, v)
}

func (e *Emulator) readRMXMM(rm insts.DecodedRM, width uint8) (XMMReg, error) {
	if rm.HasMemRef() {
		return e.readMemXMM(e.ResolveMemEA(rm), width)
	}
	return e.regs.ReadXMM(uint8(rm.EAReg), width), nil
}

func (e *Emulator) writeRMXMM(rm insts.DecodedRM, width uint8, v XMMReg) error {
	if rm.HasMemRef() {
		return e.writeMemXMM(e.ResolveMemEA(rm), width, v)
	}
	e.regs.WriteXMM(uint8(rm.EAReg), width, v)
	return nil
}

// push stores v below esp. esp only moves once the store succeeded.
func (e *Emulator) push(width uint8, v uint32) error {
	esp := e.regs.Read32(insts.ESP) - uint32(width/8)
	if err := e.writeMem(esp, width, v); err != nil {
		return err
	}
	e.regs.Write32(insts.ESP, esp)
	return nil
}

func (e *Emulator) pop(width uint8) (uint32, error) {
	esp := e.regs.Read32(insts.ESP)
	v, err := e.readMem(esp, width)
	if err != nil {
		return 0, err
	}
	e.regs.Write32(insts.ESP, esp+uint32(width/8))
	return v, nil
}

func widthMask(width uint8) uint32 {
	if width >= 32 {
		return 0xFFFFFFFF
	}
	return 1<<width - 1
}

func msb(v uint32, width uint8) bool {
	return v&(1<<(width-1)) != 0
}

func signExtend(v uint32, width uint8) uint32 {
	switch width {
	case 8:
		return uint32(int32(int8(v)))
	case 16:
		return uint32(int32(int16(v)))
	}
	return v
}
