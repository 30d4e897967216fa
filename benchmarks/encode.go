package benchmarks

import "encoding/binary"

// BuildProgram concatenates encoded instructions.
func BuildProgram(instrs ...[]byte) []byte {
	var program []byte
	for _, inst := range instrs {
		program = append(program, inst...)
	}
	return program
}

func imm32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func modRMReg(reg, rm uint8) byte {
	return 0xC0 | reg<<3 | rm
}

// modRMDisp8 addresses [base+disp]. base must not be ESP or EBP.
func modRMDisp8(reg, base uint8) byte {
	return 0x40 | reg<<3 | base
}

// EncodeMovImm encodes MOV r32, imm32.
func EncodeMovImm(reg uint8, imm uint32) []byte {
	return append([]byte{0xB8 + reg}, imm32(imm)...)
}

// EncodeAddImm encodes ADD r32, imm8 (sign-extended).
func EncodeAddImm(reg uint8, imm int8) []byte {
	return []byte{0x83, modRMReg(0, reg), byte(imm)}
}

// EncodeSubImm encodes SUB r32, imm8 (sign-extended).
func EncodeSubImm(reg uint8, imm int8) []byte {
	return []byte{0x83, modRMReg(5, reg), byte(imm)}
}

// EncodeCmpImm encodes CMP r32, imm8 (sign-extended).
func EncodeCmpImm(reg uint8, imm int8) []byte {
	return []byte{0x83, modRMReg(7, reg), byte(imm)}
}

// EncodeAddReg encodes ADD dst, src.
func EncodeAddReg(dst, src uint8) []byte {
	return []byte{0x01, modRMReg(src, dst)}
}

// EncodeImulReg encodes IMUL dst, src.
func EncodeImulReg(dst, src uint8) []byte {
	return []byte{0x0F, 0xAF, modRMReg(dst, src)}
}

// EncodeInc encodes INC r32.
func EncodeInc(reg uint8) []byte {
	return []byte{0x40 + reg}
}

// EncodeDec encodes DEC r32.
func EncodeDec(reg uint8) []byte {
	return []byte{0x48 + reg}
}

// EncodeStore encodes MOV [base+disp], src.
func EncodeStore(base uint8, disp int8, src uint8) []byte {
	return []byte{0x89, modRMDisp8(src, base), byte(disp)}
}

// EncodeLoad encodes MOV dst, [base+disp].
func EncodeLoad(dst, base uint8, disp int8) []byte {
	return []byte{0x8B, modRMDisp8(dst, base), byte(disp)}
}

// EncodeJcc encodes a short conditional jump. rel counts from the end of
// the jump.
func EncodeJcc(cc uint8, rel int8) []byte {
	return []byte{0x70 + cc&0xF, byte(rel)}
}

// EncodeJmp encodes a short unconditional jump.
func EncodeJmp(rel int8) []byte {
	return []byte{0xEB, byte(rel)}
}

// EncodeCall encodes CALL rel32. rel counts from the end of the call.
func EncodeCall(rel int32) []byte {
	return append([]byte{0xE8}, imm32(uint32(rel))...)
}

// EncodeRet encodes RET.
func EncodeRet() []byte {
	return []byte{0xC3}
}

// EncodeExit encodes the Linux exit system call. The status is taken from
// ebx.
func EncodeExit() []byte {
	return BuildProgram(EncodeMovImm(0, 1), []byte{0xCD, 0x80})
}

// Condition codes for EncodeJcc.
const (
	CondE  uint8 = 0x4
	CondNE uint8 = 0x5
	CondL  uint8 = 0xC
	CondGE uint8 = 0xD
)
