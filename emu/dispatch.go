package emu

import (
	"fmt"
)

// OpClass groups opcodes by the kind of work they do, for timing models.
type OpClass uint8

// Opcode classes.
const (
	ClassOther OpClass = iota
	ClassALU
	ClassMultiply
	ClassDivide
	ClassBranch
	ClassDataMove
	ClassStack
	ClassString
	ClassInterrupt
	ClassSIMD
)

var opClassNames = [...]string{
	ClassOther:     "other",
	ClassALU:       "alu",
	ClassMultiply:  "multiply",
	ClassDivide:    "divide",
	ClassBranch:    "branch",
	ClassDataMove:  "data_move",
	ClassStack:     "stack",
	ClassString:    "string",
	ClassInterrupt: "interrupt",
	ClassSIMD:      "simd",
}

func (c OpClass) String() string {
	if int(c) < len(opClassNames) {
		return opClassNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// OpcodeInfo describes the last opcode dispatched. For group opcodes the
// class is refined by the routine once the sub-opcode is known.
type OpcodeInfo struct {
	Opcode   uint8
	Extended bool
	Class    OpClass
}

type execFunc func(e *Emulator, opcode uint8) error

type dasmFunc func(s *DisassemblyState) string

// opcodeImpl pairs the execution and disassembly routines of an opcode.
// Both are nil for opcodes that are not implemented.
type opcodeImpl struct {
	exec  execFunc
	dasm  dasmFunc
	class OpClass
}

var (
	primaryOpcodes  [256]opcodeImpl
	extendedOpcodes [256]opcodeImpl
)

func setOpcodes(table *[256]opcodeImpl, first, last uint8, exec execFunc, dasm dasmFunc, class OpClass) {
	for op := int(first); op <= int(last); op++ {
		table[op] = opcodeImpl{exec: exec, dasm: dasm, class: class}
	}
}

func init() {
	p := &primaryOpcodes

	for row := uint8(0); row < 4; row++ {
		base := row << 4
		setOpcodes(p, base, base+5, execMath, dasmMath, ClassALU)
		setOpcodes(p, base+8, base+0x0D, execMath, dasmMath, ClassALU)
	}
	for op := range segmentPrefixes {
		setOpcodes(p, op, op, execPrefix, dasmPrefix, ClassOther)
	}
	for _, op := range []uint8{0x66, 0x67, 0x9B, 0xF0, 0xF2, 0xF3} {
		setOpcodes(p, op, op, execPrefix, dasmPrefix, ClassOther)
	}
	setOpcodes(p, 0x0F, 0x0F, exec0FExtensions, dasm0FExtensions, ClassOther)

	setOpcodes(p, 0x27, 0x27, execDaa, dasmSimple, ClassALU)
	setOpcodes(p, 0x2F, 0x2F, execDas, dasmSimple, ClassALU)
	setOpcodes(p, 0x37, 0x37, execAaa, dasmSimple, ClassALU)
	setOpcodes(p, 0x3F, 0x3F, execAas, dasmSimple, ClassALU)

	setOpcodes(p, 0x40, 0x4F, execIncDec, dasmIncDec, ClassALU)
	setOpcodes(p, 0x50, 0x5F, execPushPop, dasmPushPop, ClassStack)
	setOpcodes(p, 0x60, 0x60, execPusha, dasmPushaPopa, ClassStack)
	setOpcodes(p, 0x61, 0x61, execPopa, dasmPushaPopa, ClassStack)
	setOpcodes(p, 0x68, 0x68, execPushImm, dasmPushImm, ClassStack)
	setOpcodes(p, 0x69, 0x69, execIMulImm, dasmIMulImm, ClassMultiply)
	setOpcodes(p, 0x6A, 0x6A, execPushImm, dasmPushImm, ClassStack)
	setOpcodes(p, 0x6B, 0x6B, execIMulImm, dasmIMulImm, ClassMultiply)
	setOpcodes(p, 0x70, 0x7F, execJcc, dasmJcc, ClassBranch)

	setOpcodes(p, 0x80, 0x83, execImmMath, dasmImmMath, ClassALU)
	setOpcodes(p, 0x84, 0x85, execTestRM, dasmTestRM, ClassALU)
	setOpcodes(p, 0x86, 0x87, execXchgRM, dasmXchgRM, ClassDataMove)
	setOpcodes(p, 0x88, 0x8B, execMovRM, dasmMovRM, ClassDataMove)
	setOpcodes(p, 0x8D, 0x8D, execLea, dasmLea, ClassALU)
	setOpcodes(p, 0x8F, 0x8F, execPopRM, dasmPopRM, ClassStack)
	setOpcodes(p, 0x90, 0x97, execXchgEAX, dasmXchgEAX, ClassDataMove)
	setOpcodes(p, 0x98, 0x98, execCbwCwde, dasmSignExtendEAX, ClassALU)
	setOpcodes(p, 0x99, 0x99, execCwdCdq, dasmSignExtendEAX, ClassALU)
	setOpcodes(p, 0x9C, 0x9C, execPushf, dasmPushfPopf, ClassStack)
	setOpcodes(p, 0x9D, 0x9D, execPopf, dasmPushfPopf, ClassStack)
	setOpcodes(p, 0x9E, 0x9E, execSahf, dasmSimple, ClassALU)
	setOpcodes(p, 0x9F, 0x9F, execLahf, dasmSimple, ClassALU)

	setOpcodes(p, 0xA0, 0xA3, execMovMemAbs, dasmMovMemAbs, ClassDataMove)
	setOpcodes(p, 0xA4, 0xA7, execStringOp, dasmStringOp, ClassString)
	setOpcodes(p, 0xA8, 0xA9, execTestEAXImm, dasmTestEAXImm, ClassALU)
	setOpcodes(p, 0xAA, 0xAF, execStringOp, dasmStringOp, ClassString)
	setOpcodes(p, 0xB0, 0xBF, execMovImm, dasmMovImm, ClassDataMove)

	setOpcodes(p, 0xC0, 0xC1, execShiftGroup, dasmShiftGroup, ClassALU)
	setOpcodes(p, 0xC2, 0xC3, execRet, dasmRet, ClassBranch)
	setOpcodes(p, 0xC6, 0xC7, execMovRMImm, dasmMovRMImm, ClassDataMove)
	setOpcodes(p, 0xC8, 0xC8, execEnter, dasmEnter, ClassStack)
	setOpcodes(p, 0xC9, 0xC9, execLeave, dasmSimple, ClassStack)
	setOpcodes(p, 0xCC, 0xCD, execInt, dasmInt, ClassInterrupt)

	setOpcodes(p, 0xD0, 0xD3, execShiftGroup, dasmShiftGroup, ClassALU)
	setOpcodes(p, 0xD4, 0xD4, execAam, dasmAamAad, ClassDivide)
	setOpcodes(p, 0xD5, 0xD5, execAad, dasmAamAad, ClassMultiply)
	setOpcodes(p, 0xE3, 0xE3, execJecxz, dasmJecxz, ClassBranch)
	setOpcodes(p, 0xE8, 0xE9, execCallJmp, dasmCallJmp, ClassBranch)
	setOpcodes(p, 0xEB, 0xEB, execJmpShort, dasmJmpShort, ClassBranch)

	setOpcodes(p, 0xF4, 0xF4, execPrivileged, dasmSimple, ClassOther)
	setOpcodes(p, 0xF5, 0xF5, execCmc, dasmSimple, ClassALU)
	setOpcodes(p, 0xF6, 0xF7, execMiscMath, dasmMiscMath, ClassALU)
	setOpcodes(p, 0xF8, 0xF8, execClc, dasmSimple, ClassALU)
	setOpcodes(p, 0xF9, 0xF9, execStc, dasmSimple, ClassALU)
	setOpcodes(p, 0xFA, 0xFB, execPrivileged, dasmSimple, ClassOther)
	setOpcodes(p, 0xFC, 0xFC, execCld, dasmSimple, ClassALU)
	setOpcodes(p, 0xFD, 0xFD, execStd, dasmSimple, ClassALU)
	setOpcodes(p, 0xFE, 0xFF, execIncDecMisc, dasmIncDecMisc, ClassALU)

	x := &extendedOpcodes
	setOpcodes(x, 0x10, 0x11, execMovXMM, dasmMovXMM, ClassSIMD)
	setOpcodes(x, 0x18, 0x1F, execNopRM, dasmNopRM, ClassOther)
	setOpcodes(x, 0x31, 0x31, execRdtsc, dasmFixed, ClassOther)
	setOpcodes(x, 0x40, 0x4F, execCmov, dasmCmov, ClassDataMove)
	setOpcodes(x, 0x6E, 0x6E, execMovdToXMM, dasmMovdToXMM, ClassSIMD)
	setOpcodes(x, 0x7E, 0x7F, execMovqMovdqXMM, dasmMovqMovdqXMM, ClassSIMD)
	setOpcodes(x, 0x80, 0x8F, execJcc, dasmJcc, ClassBranch)
	setOpcodes(x, 0x90, 0x9F, execSetcc, dasmSetcc, ClassALU)
	setOpcodes(x, 0xA2, 0xA2, execCpuid, dasmFixed, ClassOther)
	setOpcodes(x, 0xA3, 0xA3, execBitTest, dasmBitTest, ClassALU)
	setOpcodes(x, 0xA4, 0xA5, execShldShrd, dasmShldShrd, ClassALU)
	setOpcodes(x, 0xAB, 0xAB, execBitTest, dasmBitTest, ClassALU)
	setOpcodes(x, 0xAC, 0xAD, execShldShrd, dasmShldShrd, ClassALU)
	setOpcodes(x, 0xAF, 0xAF, execIMulRM, dasmIMulRM, ClassMultiply)
	setOpcodes(x, 0xB3, 0xB3, execBitTest, dasmBitTest, ClassALU)
	setOpcodes(x, 0xB6, 0xB7, execMovzxMovsx, dasmMovzxMovsx, ClassDataMove)
	setOpcodes(x, 0xBA, 0xBA, execBitTestImm, dasmBitTestImm, ClassALU)
	setOpcodes(x, 0xBB, 0xBB, execBitTest, dasmBitTest, ClassALU)
	setOpcodes(x, 0xBC, 0xBD, execBsfBsr, dasmBsfBsr, ClassALU)
	setOpcodes(x, 0xBE, 0xBF, execMovzxMovsx, dasmMovzxMovsx, ClassDataMove)
	setOpcodes(x, 0xC0, 0xC1, execXadd, dasmXadd, ClassALU)
	setOpcodes(x, 0xC8, 0xCF, execBswap, dasmBswap, ClassALU)
	setOpcodes(x, 0xD6, 0xD6, execMovqStore, dasmMovqStore, ClassSIMD)
	setOpcodes(x, 0xEF, 0xEF, execPxor, dasmPxor, ClassSIMD)

	if err := OpcodeTableConsistent(); err != nil {
		panic(err)
	}
}

// OpcodeTableConsistent checks that every opcode has either both an
// execution and a disassembly routine or neither.
func OpcodeTableConsistent() error {
	tables := []struct {
		name  string
		table *[256]opcodeImpl
	}{
		{"primary", &primaryOpcodes},
		{"0F", &extendedOpcodes},
	}
	for _, t := range tables {
		for op, impl := range t.table {
			if (impl.exec == nil) != (impl.dasm == nil) {
				return fmt.Errorf("%s opcode %02X has only one of exec and dasm", t.name, op)
			}
		}
	}
	return nil
}

// IsImplemented reports whether an opcode has an execution routine.
func IsImplemented(opcode uint8, extended bool) bool {
	if extended {
		return extendedOpcodes[opcode].exec != nil
	}
	return primaryOpcodes[opcode].exec != nil
}
