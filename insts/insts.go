// Package insts provides IA-32 instruction-stream decoding helpers.
//
// The package decodes the pieces of an instruction that are shared by every
// opcode: prefix overrides, the ModRM/SIB addressing bytes and immediate
// operands. Opcode semantics live in package emu; insts only knows how to pull
// bytes from a stream and describe them.
//
// Usage:
//
//	r := bytes.NewReader([]byte{0x44, 0x8B, 0x10}) // [ebx + ecx*4 + 0x10]
//	rm, err := insts.FetchAndDecodeRM(r, insts.Overrides{})
//	fmt.Println(rm.EAString(32, 0, insts.SegmentNone))
package insts
