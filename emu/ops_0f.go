package emu

import (
	"fmt"

	"github.com/sarchlab/x86emu/insts"
)

var prefetchNames = [4]string{"prefetchnta", "prefetcht0", "prefetcht1", "prefetcht2"}

// execNopRM implements 0F 18-1F: the prefetch hints and multi-byte nop.
// The operand is decoded but never accessed.
func execNopRM(e *Emulator, _ uint8) error {
	_, err := e.fetchRM()
	return err
}

func dasmNopRM(s *DisassemblyState) string {
	rm := s.fetchRM()
	name := "nop"
	if s.Opcode == 0x18 && rm.NonEAReg < 4 {
		name = prefetchNames[rm.NonEAReg]
	}
	name = mnemonic(name)
	if name[len(name)-1] != ' ' {
		name += " "
	}
	return name + s.eaString(rm, 8, 0)
}

// execRdtsc implements 0F 31. Queued overrides are returned first, then the
// instruction count shifted by the time base.
func execRdtsc(e *Emulator, _ uint8) error {
	var v uint64
	if len(e.tscOverrides) > 0 {
		v = e.tscOverrides[0]
		e.tscOverrides = e.tscOverrides[1:]
	} else {
		v = e.instructionCount + e.tscOffset
	}
	e.regs.Write32(insts.EDX, uint32(v>>32))
	e.regs.Write32(insts.EAX, uint32(v))
	return nil
}

// cpuid leaf 0 identifies as GenuineIntel with leaf 1 as the highest leaf.
const (
	cpuidMaxLeaf    = 1
	cpuidVendorEBX  = 0x756E6547 // "Genu"
	cpuidVendorEDX  = 0x49656E69 // "ineI"
	cpuidVendorECX  = 0x6C65746E // "ntel"
	cpuidSignature  = 0x000005F0
	cpuidFeatureEDX = 0x06808001 // fpu, cmov, mmx, sse, sse2

	cpuidARMSignature  = 0x00000F4A
	cpuidARMBrand      = 0x00040000
	cpuidARMFeatureECX = 0x02880203
	cpuidARMFeatureEDX = 0x17808111
)

// execCpuid implements 0F A2 for leaves 0 and 1.
func execCpuid(e *Emulator, _ uint8) error {
	leaf := e.regs.Read32(insts.EAX)
	var eax, ebx, ecx, edx uint32
	switch leaf {
	case 0:
		eax, ebx, ecx, edx = cpuidMaxLeaf, cpuidVendorEBX, cpuidVendorECX, cpuidVendorEDX
	case 1:
		if e.behavior == BehaviorWindowsARMEmulator {
			eax, ebx, ecx, edx = cpuidARMSignature, cpuidARMBrand, cpuidARMFeatureECX, cpuidARMFeatureEDX
		} else {
			eax, ebx, ecx, edx = cpuidSignature, 0, 0, cpuidFeatureEDX
		}
	default:
		return e.decodeError("unsupported cpuid leaf %08X", leaf)
	}
	e.regs.Write32(insts.EAX, eax)
	e.regs.Write32(insts.EBX, ebx)
	e.regs.Write32(insts.ECX, ecx)
	e.regs.Write32(insts.EDX, edx)
	return nil
}

var fixedNames = map[uint8]string{
	0x31: "rdtsc",
	0xA2: "cpuid",
}

func dasmFixed(s *DisassemblyState) string {
	if name, ok := fixedNames[s.Opcode]; ok {
		return name
	}
	return fmt.Sprintf(".unknown  0F%02X", s.Opcode)
}
