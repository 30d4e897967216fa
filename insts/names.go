package insts

import (
	"fmt"
	"strings"
)

var regNames8 = [8]string{"al", "cl", "dl", "bl", "ah", "ch", "dh", "bh"}
var regNames16 = [8]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di"}
var regNames32 = [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

// Register indices as encoded in ModRM and opcode bytes.
const (
	EAX = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
)

// RegName returns the assembler name of integer register which at the given
// operand width (8, 16 or 32).
func RegName(which int8, width uint8) string {
	if which < 0 || which > 7 {
		panic(fmt.Sprintf("invalid register index %d", which))
	}
	switch width {
	case 8:
		return regNames8[which]
	case 16:
		return regNames16[which]
	case 32:
		return regNames32[which]
	default:
		panic(fmt.Sprintf("invalid operand size %d", width))
	}
}

// XMMName returns "xmm0" through "xmm7".
func XMMName(which int8) string {
	if which < 0 || which > 7 {
		panic(fmt.Sprintf("invalid register index %d", which))
	}
	return fmt.Sprintf("xmm%d", which)
}

var conditionNames = [16]string{
	"o", "no", "b", "ae", "e", "ne", "be", "a",
	"s", "ns", "pe", "po", "l", "ge", "le", "g",
}

// ConditionName returns the mnemonic suffix for a 4-bit condition code.
func ConditionName(cc uint8) string {
	return conditionNames[cc&0x0F]
}

// RegisterRef names a register partition parsed from text.
type RegisterRef struct {
	Index int8
	// Width is 8, 16 or 32 for integer registers and 128 for xmm registers.
	Width uint8
	XMM   bool
	Flags bool
}

// ParseRegister parses names such as "eax", "ah", "si", "xmm3" or "eflags".
func ParseRegister(name string) (RegisterRef, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "eflags" || name == "flags" {
		return RegisterRef{Index: -1, Width: 32, Flags: true}, nil
	}
	for i := int8(0); i < 8; i++ {
		switch name {
		case regNames32[i]:
			return RegisterRef{Index: i, Width: 32}, nil
		case regNames16[i]:
			return RegisterRef{Index: i, Width: 16}, nil
		case regNames8[i]:
			return RegisterRef{Index: i, Width: 8}, nil
		case XMMName(i):
			return RegisterRef{Index: i, Width: 128, XMM: true}, nil
		}
	}
	return RegisterRef{}, fmt.Errorf("unknown register name %q", name)
}
