package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"

	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/loader"
)

func newDisasmCmd() *cobra.Command {
	var (
		raw  bool
		base string
		gnu  bool
	)

	cmd := &cobra.Command{
		Use:   "disasm <program>",
		Short: "Disassemble the executable segments of a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := loadProgram(args[0], raw, base)
			if err != nil {
				return err
			}
			return disassembleProgram(cmd.OutOrStdout(), prog, gnu)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Treat the program as a flat binary")
	cmd.Flags().StringVar(&base, "base", "", "Load address of a flat binary (default 0x400000)")
	cmd.Flags().BoolVar(&gnu, "gnu", false, "Also list the code in GNU syntax for comparison")
	return cmd
}

func disassembleProgram(w io.Writer, prog *loader.Program, gnu bool) error {
	labels := symbolLabels(prog.Symbols)
	for _, seg := range prog.Segments {
		if seg.Flags&loader.SegmentFlagExecute == 0 || len(seg.Data) == 0 {
			continue
		}
		fmt.Fprintf(w, "// segment at %08X, %d bytes\n", seg.VirtAddr, len(seg.Data))
		if _, err := io.WriteString(w, emu.Disassemble(seg.Data, seg.VirtAddr, labels)); err != nil {
			return err
		}
		if gnu {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "// GNU syntax")
			gnuListing(w, seg.Data, seg.VirtAddr)
		}
	}
	return nil
}

// gnuListing decodes data with x86asm, one instruction per line. Bytes it
// cannot decode are listed singly.
func gnuListing(w io.Writer, data []byte, addr uint32) {
	for pos := 0; pos < len(data); {
		pc := addr + uint32(pos)
		inst, err := x86asm.Decode(data[pos:], 32)
		if err != nil || inst.Len == 0 {
			fmt.Fprintf(w, "%08X %02X  (bad)\n", pc, data[pos])
			pos++
			continue
		}
		fmt.Fprintf(w, "%08X %-24s %s\n", pc, fmt.Sprintf("% X", data[pos:pos+inst.Len]),
			x86asm.GNUSyntax(inst, uint64(pc), nil))
		pos += inst.Len
	}
}
