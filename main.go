// Package main is a placeholder for the repository root.
//
// The emulator's command line lives in ./cmd/x86emu:
//
//	go run ./cmd/x86emu run <program>
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("x86emu - 32-bit x86 user-mode emulator")
	fmt.Println("")
	fmt.Println("Usage: x86emu <command> [options]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  run         Execute a program until it exits")
	fmt.Println("  disasm      Disassemble the executable segments of a program")
	fmt.Println("  checkpoint  Inspect and resume saved checkpoints")
	fmt.Println("  bench       Run the timing microbenchmarks")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/x86emu' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/x86emu' instead.")
	}
}
