package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/x86emu/checkpoint"
	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/log"
)

func newCheckpointCmd() *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and resume saved checkpoints",
	}
	cmd.PersistentFlags().StringVar(&db, "db", "", "LevelDB directory holding the checkpoints")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [name]",
			Short: "List checkpoints, optionally only those of one run",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name := ""
				if len(args) == 1 {
					name = args[0]
				}
				return withStore(db, func(s *checkpoint.Store) error {
					return listCheckpoints(cmd.OutOrStdout(), s, name)
				})
			},
		},
		newCheckpointRestoreCmd(&db),
		&cobra.Command{
			Use:   "delete <name> <cycle>",
			Short: "Delete one checkpoint",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cycle, err := strconv.ParseUint(args[1], 0, 64)
				if err != nil {
					return fmt.Errorf("invalid cycle %q: %w", args[1], err)
				}
				return withStore(db, func(s *checkpoint.Store) error {
					return s.Delete(args[0], cycle)
				})
			},
		},
	)
	return cmd
}

func newCheckpointRestoreCmd(db *string) *cobra.Command {
	var (
		run             bool
		maxInstructions uint64
	)

	cmd := &cobra.Command{
		Use:   "restore <name> [cycle]",
		Short: "Print the CPU state of a checkpoint, the latest one by default",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code int64
			err := withStore(*db, func(s *checkpoint.Store) error {
				mem := emu.NewMemory()
				e := emu.NewEmulator(mem, emu.WithLogger(log.Root()),
					emu.WithMaxInstructions(maxInstructions))

				if len(args) == 2 {
					cycle, err := strconv.ParseUint(args[1], 0, 64)
					if err != nil {
						return fmt.Errorf("invalid cycle %q: %w", args[1], err)
					}
					if err := s.Restore(args[0], cycle, e, mem); err != nil {
						return err
					}
				} else if _, err := s.RestoreLatest(args[0], e, mem); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				e.PrintStateHeader(out)
				e.PrintState(out)
				if !run {
					return nil
				}

				linux := emu.NewLinuxSyscallHandler(out, cmd.ErrOrStderr())
				linux.SetStdin(cmd.InOrStdin())
				// The break is not saved; resume it above the lowest mapping,
				// which is where the program image lives.
				if regions := mem.Regions(); len(regions) > 0 {
					linux.SetBreak(regions[0].Addr + regions[0].Size)
				}
				e.SetSyscallHandler(linux)

				var err error
				code, err = execute(e)
				if errors.Is(err, emu.ErrMaxInstructions) {
					code, err = 0, nil
				}
				if err != nil {
					return fmt.Errorf("%s: %w", faultContext(e), err)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if code != 0 {
				return exitCodeError(code)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&run, "run", false, "Continue execution from the checkpoint")
	cmd.Flags().Uint64Var(&maxInstructions, "max-instructions", 0, "Stop after this many instructions (0 = no limit)")
	return cmd
}

func withStore(path string, fn func(*checkpoint.Store) error) error {
	s, err := checkpoint.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(s)
}

func listCheckpoints(w io.Writer, s *checkpoint.Store, name string) error {
	infos, err := s.List(name)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCYCLE\tBYTES\tVERSION")
	for _, info := range infos {
		size, err := s.Size(info.Name, info.Cycle)
		if err != nil {
			return err
		}
		version, err := s.Version(info.Name, info.Cycle)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", info.Name, info.Cycle, size, version)
	}
	return tw.Flush()
}
