// Command x86emu runs, traces and disassembles 32-bit x86 programs.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/x86emu/log"
)

// exitCodeError carries a non-zero guest exit status out of a command.
type exitCodeError int64

func (e exitCodeError) Error() string {
	return fmt.Sprintf("program exited with code %d", int64(e))
}

func main() {
	root := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		var exit exitCodeError
		if errors.As(err, &exit) {
			os.Exit(int(exit))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "x86emu",
		Short: "32-bit x86 user-mode emulator",
		Long: `x86emu executes i386 Linux programs and flat binaries instruction by
instruction, with optional tracing, data provenance, scripting, checkpoints
and a cache timing model.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.InitLogger(logLevel)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log level (trace, debug, info, warn, error, crit)")

	rootCmd.AddCommand(
		newRunCmd(),
		newDisasmCmd(),
		newCheckpointCmd(),
		newBenchCmd(),
	)
	return rootCmd
}
