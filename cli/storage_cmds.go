package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"taskboard/app"
	"taskboard/event"
	"taskboard/model"
	"taskboard/store"
)

func (e *env) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the stored envelope to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := e.svc.Export(cmd.Context())
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return errors.New("nothing stored yet")
				}
				return err
			}
			if len(args) == 0 || args[0] == "-" {
				_, err := out(cmd).Write(append(raw, '\n'))
				return err
			}
			if err := os.WriteFile(args[0], raw, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s to %s\n", humanize.Bytes(uint64(len(raw))), args[0])
			return nil
		},
	}
}

func (e *env) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the stored board with an exported envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw []byte
				err error
			)
			if args[0] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			if err := e.svc.Import(cmd.Context(), raw); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Imported %s\n", humanize.Bytes(uint64(len(raw))))
			return nil
		},
	}
}

func (e *env) resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stored board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes every task; rerun with --yes to confirm")
			}
			if err := e.svc.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), "Storage cleared.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func (e *env) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Describe the storage backend and stored record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := out(cmd)
			fmt.Fprintf(w, "Backend:   %s (%s)\n", e.cfg.Storage.Backend, e.cfg.Storage.Path)
			fmt.Fprintf(w, "Key:       %s\n", e.svc.Key())
			fmt.Fprintf(w, "Available: %t\n", e.svc.IsAvailable(cmd.Context()))

			info, err := e.svc.Info(cmd.Context())
			if err != nil {
				return err
			}
			if !info.Exists {
				fmt.Fprintln(w, "Record:    none")
				return nil
			}
			fmt.Fprintf(w, "Record:    %s of %s\n", humanize.Bytes(uint64(info.Size)), humanize.Bytes(uint64(e.cfg.Storage.MaxBytes)))
			if info.Problem != "" {
				fmt.Fprintf(w, "Problem:   %s\n", info.Problem)
				return nil
			}
			fmt.Fprintf(w, "Version:   %s\n", info.Version)
			if ts, err := time.Parse(model.TimestampLayout, info.Timestamp); err == nil {
				fmt.Fprintf(w, "Saved:     %s (%s)\n", ts.Local().Format(time.DateTime), humanize.Time(ts))
			}
			fmt.Fprintf(w, "Tasks:     %d\n", info.Tasks)
			fmt.Fprintf(w, "Checksum:  %s, %s\n", info.Algorithm, validity(info.ChecksumValid))
			return nil
		},
	}
}

func validity(ok bool) string {
	if ok {
		return "valid"
	}
	return "MISMATCH"
}

func (e *env) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the board whenever another instance saves it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := e.load(ctx)
			if err != nil {
				return err
			}
			w := out(cmd)
			printSummary(w, st)

			st.Subscribe(func(ev event.Event) {
				if ev.Kind == event.SyncApplied {
					printSummary(w, st)
				}
			})
			stop, err := e.svc.Bind(ctx, st)
			if err != nil {
				return err
			}
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
}

func printSummary(w io.Writer, st *app.State) {
	s := st.Stats()
	fmt.Fprintf(w, "%s  %d tasks, %d done (%d%%)\n", time.Now().Format(time.TimeOnly), s.Total, s.Completed, s.CompletionRate)
	for _, t := range st.Tasks() {
		printTask(w, t, false)
	}
}

func (e *env) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(e.cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = out(cmd).Write(data)
			return err
		},
	}
}
