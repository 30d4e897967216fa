package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"

	"github.com/sarchlab/x86emu/checkpoint"
	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/log"
	"github.com/sarchlab/x86emu/script"
	"github.com/sarchlab/x86emu/timing/core"
	"github.com/sarchlab/x86emu/timing/latency"
)

type runOptions struct {
	raw             bool
	base            string
	behavior        string
	maxInstructions uint64
	trace           bool
	traceSources    bool
	why             []string
	script          string
	timing          bool
	timingConfig    string
	checkpointDB    string
	checkpointName  string
	checkpointEvery uint64
	restore         bool
	timeBase        uint64
	setTimeBase     bool
	cpuProfile      string
	memProfile      string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Execute a program until it exits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.setTimeBase = cmd.Flags().Changed("time-base")
			stop, err := startProfiling(opts.cpuProfile)
			if err != nil {
				return err
			}
			code, err := runProgram(opts, args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			stop()
			if err != nil {
				return err
			}
			if err := writeHeapProfile(opts.memProfile); err != nil {
				return err
			}
			if code != 0 {
				return exitCodeError(code)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.raw, "raw", false, "Treat the program as a flat binary")
	f.StringVar(&opts.base, "base", "", "Load address of a flat binary (default 0x400000)")
	f.StringVar(&opts.behavior, "behavior", "specification", "Semantics variant (specification, windows-arm-emu)")
	f.Uint64Var(&opts.maxInstructions, "max-instructions", 0, "Stop after this many instructions (0 = no limit)")
	f.BoolVar(&opts.trace, "trace", false, "Print the CPU state before every instruction")
	f.BoolVar(&opts.traceSources, "trace-sources", false, "Track data provenance")
	f.StringSliceVar(&opts.why, "why", nil, "Print the provenance of a register or address at exit (implies --trace-sources)")
	f.StringVar(&opts.script, "script", "", "Starlark file defining on_step and on_interrupt")
	f.BoolVar(&opts.timing, "timing", false, "Run under the cache timing model and report cycles")
	f.StringVar(&opts.timingConfig, "timing-config", "", "Timing configuration JSON file")
	f.StringVar(&opts.checkpointDB, "checkpoint-db", "", "LevelDB directory for checkpoints")
	f.StringVar(&opts.checkpointName, "checkpoint-name", "run", "Name checkpoints are stored under")
	f.Uint64Var(&opts.checkpointEvery, "checkpoint-every", 0, "Checkpoint interval in instructions (0 = only at exit)")
	f.BoolVar(&opts.restore, "restore", false, "Resume from the latest checkpoint of --checkpoint-name")
	f.Uint64Var(&opts.timeBase, "time-base", 0, "Initial rdtsc value")
	f.StringVar(&opts.cpuProfile, "cpuprofile", "", "Write a CPU profile of the emulator to this file")
	f.StringVar(&opts.memProfile, "memprofile", "", "Write a heap profile to this file at exit")
	return cmd
}

// runProgram executes path and returns the guest exit code.
func runProgram(opts *runOptions, path string, stdin io.Reader, stdout, stderr io.Writer) (int64, error) {
	prog, err := loadProgram(path, opts.raw, opts.base)
	if err != nil {
		return -1, err
	}
	behavior, err := emu.ParseBehavior(opts.behavior)
	if err != nil {
		return -1, err
	}

	mem := emu.NewMemory()
	if err := prog.LoadInto(mem); err != nil {
		return -1, err
	}

	linux := emu.NewLinuxSyscallHandler(stdout, stderr)
	linux.SetStdin(stdin)
	linux.SetBreak(prog.End())
	var handler emu.SyscallHandler = linux

	var hooks []emu.DebugHook
	if opts.trace {
		hooks = append(hooks, traceHook(stdout))
	}
	if opts.script != "" {
		s, err := script.Load(opts.script, nil)
		if err != nil {
			return -1, err
		}
		hooks = append(hooks, s.DebugHook())
		handler = s.SyscallHandler(handler)
	}

	var store *checkpoint.Store
	if opts.checkpointDB != "" {
		if store, err = checkpoint.Open(opts.checkpointDB); err != nil {
			return -1, err
		}
		defer func() { _ = store.Close() }()
		hooks = append(hooks, store.Hook(opts.checkpointName, opts.checkpointEvery, mem))
	}

	emuOpts := []emu.EmulatorOption{
		emu.WithBehavior(behavior),
		emu.WithEntryPoint(prog.EntryPoint),
		emu.WithStackPointer(prog.InitialSP),
		emu.WithMaxInstructions(opts.maxInstructions),
		emu.WithDataSourceTracing(opts.traceSources || len(opts.why) > 0),
		emu.WithSyscallHandler(handler),
		emu.WithDebugHook(emu.ChainDebugHooks(hooks...)),
		emu.WithLogger(log.Root()),
	}

	var c *core.Core
	var e *emu.Emulator
	if opts.timing {
		config := latency.DefaultTimingConfig()
		if opts.timingConfig != "" {
			if config, err = latency.LoadConfig(opts.timingConfig); err != nil {
				return -1, err
			}
		}
		if err := config.Validate(); err != nil {
			return -1, fmt.Errorf("invalid timing config: %w", err)
		}
		c = core.NewCore(mem, config, emuOpts...)
		e = c.Emulator()
	} else {
		e = emu.NewEmulator(mem, emuOpts...)
	}

	if opts.restore {
		if store == nil {
			return -1, fmt.Errorf("--restore needs --checkpoint-db")
		}
		if _, err := store.RestoreLatest(opts.checkpointName, e, mem); err != nil {
			return -1, err
		}
	}
	if opts.setTimeBase {
		e.SetTimeBase(opts.timeBase)
	}
	if opts.trace {
		e.PrintStateHeader(stdout)
	}

	var code int64
	if c != nil {
		code, err = c.Run()
	} else {
		code, err = execute(e)
	}
	if errors.Is(err, emu.ErrMaxInstructions) {
		log.Warn(log.EmuModule, "instruction limit reached", "instructions", e.InstructionCount())
		code, err = 0, nil
	}
	if err != nil {
		return -1, fmt.Errorf("%s: %w", faultContext(e), err)
	}

	if store != nil && opts.checkpointEvery == 0 {
		if _, err := store.Save(opts.checkpointName, e, mem); err != nil {
			return -1, err
		}
	}
	for _, what := range opts.why {
		if err := e.Tracer().PrintSourceTrace(stdout, what, 0); err != nil {
			return -1, err
		}
	}
	if c != nil {
		printTimingReport(stderr, c.Stats())
	}
	return code, nil
}

func execute(e *emu.Emulator) (int64, error) {
	for {
		result := e.Step()
		if result.Exited {
			return result.ExitCode, nil
		}
		if result.Err != nil {
			return -1, result.Err
		}
	}
}

// startProfiling starts a CPU profile written to path and returns the
// function stopping it. An empty path disables profiling.
func startProfiling(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start CPU profile: %w", err)
	}
	return func() {
		pprof.StopCPUProfile()
		_ = f.Close()
	}, nil
}

func writeHeapProfile(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile: %w", err)
	}
	defer func() { _ = f.Close() }()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}

func traceHook(w io.Writer) emu.DebugHook {
	return func(e *emu.Emulator) error {
		e.PrintState(w)
		return nil
	}
}

func printTimingReport(w io.Writer, stats core.Stats) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Total Instructions: %d\n", stats.Instructions)
	fmt.Fprintf(w, "Total Cycles: %d\n", stats.Cycles)
	fmt.Fprintf(w, "CPI: %.2f\n", stats.CPI())
	fmt.Fprintf(w, "Stall Cycles: %d\n", stats.StallCycles)
	fmt.Fprintf(w, "Taken Branches: %d\n", stats.TakenBranches)
	fmt.Fprintf(w, "L1 Hits: %d\n", stats.CacheHits)
	fmt.Fprintf(w, "L1 Misses: %d\n", stats.CacheMisses)
}
