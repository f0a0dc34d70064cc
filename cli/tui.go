package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"taskboard/app"
	"taskboard/store"
	"taskboard/tui"
)

const storageUnavailableStatus = "Storage unavailable; changes are not saved"

// stdioIsTerminal reports whether the board can take over the terminal.
var stdioIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func (e *env) tuiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive board (default)",
		Args:  cobra.NoArgs,
		RunE:  e.runTUI,
	}
}

func (e *env) runTUI(cmd *cobra.Command, args []string) error {
	if !stdioIsTerminal() {
		return errors.New("the interactive board needs a terminal; see 'taskboard --help' for scripting commands")
	}

	st, svc, startup, err := e.openBoard(cmd.Context())
	if err != nil {
		return err
	}
	return tui.Run(cmd.Context(), st, svc, tui.Options{
		Sync:          e.cfg.Sync.Enabled,
		StartupStatus: startup,
		Logger:        e.logger,
	})
}

// openBoard loads the board for an interactive session. When storage
// cannot be used the session starts empty with no service, so nothing it
// does can overwrite the stored board once storage comes back.
func (e *env) openBoard(ctx context.Context) (*app.State, *store.Service, string, error) {
	if e.svc == nil {
		return app.New(app.WithLogger(e.logger)), nil, storageUnavailableStatus, nil
	}

	st, err := e.svc.Load(ctx, app.WithLogger(e.logger))
	switch {
	case err == nil:
		return st, e.svc, "", nil
	case errors.Is(err, store.ErrCorrupted):
		if len(st.Tasks()) == 0 {
			return st, e.svc, "Stored board was corrupt; started empty", nil
		}
		return st, e.svc, "Stored board was corrupt; started from the newest good copy", nil
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, store.ErrTimeout):
		e.logger.Warn("storage unavailable, starting without persistence", "error", err)
		return app.New(app.WithLogger(e.logger)), nil, storageUnavailableStatus, nil
	default:
		return nil, nil, "", fmt.Errorf("load board: %w", err)
	}
}
