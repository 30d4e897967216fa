package insts

import (
	"fmt"
	"strings"
)

// StrFlags adjust how operands are rendered.
type StrFlags uint8

// Operand rendering flags.
const (
	EAFirst StrFlags = 1 << iota
	EAXMM
	NonEAXMM
	SuppressOperandSize
)

func sizeWord(width uint8) string {
	switch width {
	case 8:
		return "byte "
	case 16:
		return "word "
	case 32:
		return "dword "
	case 64:
		return "qword "
	case 128:
		return "oword "
	default:
		return fmt.Sprintf("(%02X) ", width)
	}
}

// EAString renders the EA operand. A memory reference is rendered as
// "dword fs:[ebx + ecx * 4 + 00000010]".
func (rm DecodedRM) EAString(width uint8, fl StrFlags, seg Segment) string {
	if !rm.HasMemRef() {
		if fl&EAXMM != 0 {
			return XMMName(rm.EAReg)
		}
		return RegName(rm.EAReg, width)
	}

	var tokens []string
	if rm.EAReg >= 0 {
		tokens = append(tokens, RegName(rm.EAReg, 32))
	}
	if rm.EAIndexScale > 0 {
		if len(tokens) > 0 {
			tokens = append(tokens, "+")
		}
		tokens = append(tokens, RegName(rm.EAIndexReg, 32))
		if rm.EAIndexScale > 1 {
			tokens = append(tokens, "*", fmt.Sprintf("%d", rm.EAIndexScale))
		}
	}
	// A bare displacement is printed even when it is zero.
	switch {
	case len(tokens) == 0:
		tokens = append(tokens, fmt.Sprintf("%08X", uint32(rm.EADisp)))
	case rm.EADisp < 0:
		tokens = append(tokens, "-", fmt.Sprintf("%08X", uint32(-rm.EADisp)))
	case rm.EADisp > 0:
		tokens = append(tokens, "+", fmt.Sprintf("%08X", uint32(rm.EADisp)))
	}

	var sb strings.Builder
	if fl&SuppressOperandSize == 0 {
		sb.WriteString(sizeWord(width))
	}
	if seg != SegmentNone {
		sb.WriteString(seg.String())
		sb.WriteByte(':')
	}
	sb.WriteByte('[')
	sb.WriteString(strings.Join(tokens, " "))
	sb.WriteByte(']')
	return sb.String()
}

// NonEAString renders the reg-field operand.
func (rm DecodedRM) NonEAString(width uint8, fl StrFlags) string {
	if fl&NonEAXMM != 0 {
		return XMMName(rm.NonEAReg)
	}
	return RegName(rm.NonEAReg, width)
}

// RMString renders both operands, reg field first unless EAFirst is set.
func (rm DecodedRM) RMString(eaWidth, nonEAWidth uint8, fl StrFlags, seg Segment) string {
	ea := rm.EAString(eaWidth, fl, seg)
	nonEA := rm.NonEAString(nonEAWidth, fl)
	if fl&EAFirst != 0 {
		return ea + ", " + nonEA
	}
	return nonEA + ", " + ea
}
