package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/notify"
	"github.com/dmitrijs2005/finkeeper/internal/client/syncer"
	"github.com/dmitrijs2005/finkeeper/internal/client/transport"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
	"github.com/spf13/cobra"
)

const (
	feedBaseBackoff = time.Second
	feedMaxBackoff  = 30 * time.Second
	// a subscription that lasted this long resets the reconnect backoff
	feedStableAfter = time.Minute
)

// focusSignal makes a running daemon sync right away, e.g. from a
// window-manager hook: kill -USR1 <pid>.
var focusSignal os.Signal = syscall.SIGUSR1

func newDaemonCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the background sync scheduler in the foreground",
		Long: `Run the sync scheduler until interrupted.

A round runs every --sync-interval while the server is reachable, shortly
after the server becomes reachable again, after local changes made by this or
another finkeeper process, when the server's change feed reports a push from
another device, and on SIGUSR1. Failed rounds are retried with
exponential backoff.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.app.runBackground(ctx)
		},
	}
}

// runBackground runs the sync engine, the peer-change watcher, the change
// feed subscription and the focus signal handler until ctx is done.
func (a *App) runBackground(ctx context.Context) error {
	a.logger.Info(ctx, "starting sync daemon", "client_id", a.clientID, "server", a.cfg.ServerAddr, "transport", a.cfg.Transport)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.engine.Run(ctx)
	}()

	if p := a.store.NotifyPath(); p != "" {
		w := notify.NewWatcher(p, 200*time.Millisecond, a.engine.Notify, a.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				a.logger.Warn(ctx, "peer change watcher stopped", "error", err)
			}
		}()
	}

	if addr := a.cfg.ChangeFeedAddr(); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.watchChanges(ctx, a.cfg.FeedOptions(a.clientID))
		}()
	}

	focus := make(chan os.Signal, 1)
	signal.Notify(focus, focusSignal)
	defer signal.Stop(focus)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-focus:
				a.engine.Focus()
			}
		}
	}()

	wg.Wait()
	a.logger.Info(ctx, "sync daemon stopped")
	return nil
}

// watchChanges keeps a change feed subscription open, reconnecting with
// backoff, and turns every event into a sync trigger.
func (a *App) watchChanges(ctx context.Context, o transport.Options) {
	attempt := 0
	for {
		started := time.Now()
		err := transport.Watch(ctx, o, func(ev syncapi.ChangeEvent) {
			a.logger.Debug(ctx, "remote change", "server_time", ev.ServerTime)
			a.engine.RemoteChanged()
		})
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, common.ErrUnauthorized) {
			a.logger.Warn(ctx, "change feed rejected the access token, not retrying")
			return
		}
		if time.Since(started) >= feedStableAfter {
			attempt = 0
		}
		d := syncer.Backoff(attempt, feedBaseBackoff, feedMaxBackoff)
		attempt++
		a.logger.Debug(ctx, "change feed disconnected", "error", err, "retry_in", d)

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
