// Command gcore is the host-side ATE runtime of spec §6.4: it drives a
// board profile, a pattern compiler, and the layered transport over the
// character device, exposed as a scripting shell (run a .lua file, or
// drop into an interactive REPL). Adapted from the teacher's main.go,
// which parsed a couple of positional flags and wired a handful of
// subsystems together by hand; gcore instead dispatches through a cobra
// command tree, the style the rest of the retrieved corpus uses for
// multi-verb CLIs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/geminicomplex/gcore/internal/cli"
	"github.com/geminicomplex/gcore/internal/gclog"
	"github.com/geminicomplex/gcore/internal/persist"
	"github.com/geminicomplex/gcore/internal/program"
	"github.com/geminicomplex/gcore/internal/script"
	"github.com/geminicomplex/gcore/internal/transport"
)

type rootFlags struct {
	devicePath string
	profile    string
	baseDir    string
	dbPath     string
	jobID      int64
	prgmName   string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "gcore",
		Short: "ATE host runtime: pattern compiler, device transport, and program shell",
	}
	root.PersistentFlags().StringVar(&flags.devicePath, "device", "/dev/gcore0", "character device path")
	root.PersistentFlags().StringVar(&flags.profile, "profile", "", "board profile JSON path, applied before the script/REPL starts")
	root.PersistentFlags().StringVar(&flags.baseDir, "base-dir", "", "sandbox root for stimulus/script file paths (unset disables sandboxing)")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "optional SQLite database path for run persistence (§4.6.1)")
	root.PersistentFlags().Int64Var(&flags.jobID, "job-id", 0, "job id to log stims under, when --db is set")
	root.PersistentFlags().StringVar(&flags.prgmName, "prgm", "default", "program name to log stims under, when --db is set")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug-level logging")

	root.AddCommand(newReplCmd(flags))
	root.AddCommand(newRunCmd(flags))
	return root
}

func newReplCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive Lua shell over the program runtime's verb table",
		RunE: func(cmd *cobra.Command, args []string) error {
			it, teardown, err := bootstrap(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer teardown()

			code, err := cli.New(it, os.Stdout).Run()
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <script.lua>",
		Short: "Run a batch Lua script against the program runtime and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			it, teardown, err := bootstrap(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer teardown()

			code, _, err := it.RunFile(args[0])
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
}

// bootstrap wires one gcore invocation's device lock, transport, optional
// persistence, and program runtime into a script.Interpreter, and returns
// a teardown func releasing them in reverse order.
func bootstrap(ctx context.Context, flags *rootFlags) (*script.Interpreter, func(), error) {
	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	}
	log := gclog.New(os.Stderr, level)

	lock, err := cli.Acquire(flags.devicePath)
	if err != nil {
		return nil, nil, err
	}

	dev, err := transport.OpenDevice(flags.devicePath)
	if err != nil {
		lock.Release()
		return nil, nil, fmt.Errorf("gcore: opening device %q: %w", flags.devicePath, err)
	}
	tr := transport.New(dev, log)

	var store *persist.Store
	var p program.Persister
	if flags.dbPath != "" {
		store, err = persist.Open(ctx, flags.dbPath, flags.jobID, flags.prgmName, log)
		if err != nil {
			dev.Close()
			lock.Release()
			return nil, nil, err
		}
		p = store
	}

	prg := program.New(tr, flags.baseDir, p, log)
	if flags.profile != "" {
		if err := prg.SetProfile(flags.profile); err != nil {
			if store != nil {
				store.Close()
			}
			dev.Close()
			lock.Release()
			return nil, nil, err
		}
	}

	it := script.New(ctx, prg, log)
	teardown := func() {
		it.Close()
		if store != nil {
			store.Close()
		}
		dev.Close()
		lock.Release()
	}
	return it, teardown, nil
}
