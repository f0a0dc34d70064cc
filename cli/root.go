// Package cli is the taskboard command-line surface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskboard/app"
	"taskboard/config"
	"taskboard/store"
)

// env is shared by every command of one invocation.
type env struct {
	configPath string

	cfg      *config.Config
	logger   *slog.Logger
	svc      *store.Service
	closeLog func() error
}

// NewRootCmd builds the command tree. Running it without a subcommand opens
// the interactive board.
func NewRootCmd(version string) *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:   "taskboard",
		Short: "Personal task board with durable local storage",
		Long: `taskboard keeps a prioritized, categorized task list in a local store.

Run without arguments to open the interactive board, or use the subcommands
below from scripts. Several instances may run against the same store; each
picks up the others' saves.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return e.teardown()
		},
		RunE: e.runTUI,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&e.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/taskboard/config.yaml)")
	flags.String("backend", "", "storage backend: file, sqlite or memory")
	flags.String("path", "", "storage directory")
	flags.String("key", "", "storage key")
	flags.String("checksum", "", "checksum for new saves: sha256 or blake3")
	flags.Duration("timeout", 0, "timeout for each storage operation")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-file", "", "write logs to this file")
	flags.Bool("no-sync", false, "do not follow saves made by other instances")

	root.AddCommand(
		e.tuiCmd(),
		e.addCmd(),
		e.listCmd(),
		e.doneCmd(),
		e.editCmd(),
		e.rmCmd(),
		e.moveCmd(),
		e.clearCompletedCmd(),
		e.statsCmd(),
		e.exportCmd(),
		e.importCmd(),
		e.resetCmd(),
		e.statusCmd(),
		e.watchCmd(),
		e.configCmd(),
	)
	return root
}

// Execute runs the root command and reports errors on stderr.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func (e *env) setup(cmd *cobra.Command) error {
	switch cmd.Name() {
	case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return nil
	}
	cfg, err := config.Load(e.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg

	interactive := cmd.Name() == "tui" || cmd.Name() == "taskboard"
	logger, closeLog, err := NewLogger(cfg.Log, cmd.ErrOrStderr(), interactive)
	if err != nil {
		return err
	}
	e.logger = logger
	e.closeLog = closeLog

	if cmd.Name() == "config" {
		return nil
	}
	svc, err := OpenService(cfg, logger)
	if err != nil {
		// The board still works without storage; it just cannot save.
		if interactive && errors.Is(err, store.ErrUnavailable) {
			logger.Warn("storage unavailable, starting without persistence", "error", err)
			return nil
		}
		return err
	}
	e.svc = svc
	return nil
}

func (e *env) teardown() error {
	var errs []error
	if e.svc != nil {
		errs = append(errs, e.svc.Close())
	}
	if e.closeLog != nil {
		errs = append(errs, e.closeLog())
	}
	return errors.Join(errs...)
}

// load reads the stored board. A corrupt record still yields a usable
// state, so the error is only logged; other failures abort the command.
func (e *env) load(ctx context.Context) (*app.State, error) {
	st, err := e.svc.Load(ctx, app.WithLogger(e.logger))
	if err != nil {
		if errors.Is(err, store.ErrCorrupted) {
			e.logger.Warn("stored board was corrupt", "error", err)
			return st, nil
		}
		return nil, err
	}
	return st, nil
}

func (e *env) save(ctx context.Context, st *app.State) error {
	return e.svc.Save(ctx, st)
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
