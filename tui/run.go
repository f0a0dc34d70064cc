package tui

import (
	"context"
	"errors"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"taskboard/app"
	"taskboard/event"
	"taskboard/store"
)

// Options configures Run.
type Options struct {
	// Sync follows saves made by other instances.
	Sync          bool
	StartupStatus string
	Logger        *slog.Logger
}

// Run shows the board until the user quits or ctx is done. A nil svc runs
// the board without persistence.
func Run(ctx context.Context, st *app.State, svc *store.Service, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	m := NewModel(ctx, st, svc, opts.StartupStatus)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	// Send blocks until the program loop reads the message, and events can be
	// published from inside Update, so forwarding happens off the caller's
	// goroutine.
	unsubscribe := st.Subscribe(func(ev event.Event) {
		switch ev.Kind {
		case event.SyncApplied:
			go p.Send(syncMsg{})
		case event.IntegrityWarning, event.Corrupted, event.Recovered:
			go p.Send(storageMsg{ev: ev})
		}
	})
	defer unsubscribe()

	if opts.Sync && svc != nil {
		stop, err := svc.Bind(ctx, st)
		switch {
		case errors.Is(err, store.ErrWatchNotSupported):
			logger.Info("backend cannot report changes, sync disabled")
		case err != nil:
			logger.Warn("starting sync failed", "error", err)
		default:
			defer stop()
		}
	}

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
