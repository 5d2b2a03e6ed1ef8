package cli

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/config"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/finkeeper/internal/client/services"
	"github.com/dmitrijs2005/finkeeper/internal/client/store"
	"github.com/dmitrijs2005/finkeeper/internal/client/syncer"
	"github.com/dmitrijs2005/finkeeper/internal/client/transport"
	"github.com/dmitrijs2005/finkeeper/internal/logging"
)

// App owns the long-lived client components for the duration of a command.
type App struct {
	cfg       *config.Config
	store     *store.Store
	ledger    *services.Ledger
	engine    *syncer.Engine
	transport transport.Transport
	logger    logging.Logger
	clientID  string
	logCloser io.Closer
	now       func() time.Time
}

// NewApp opens the local store and wires the ledger, transport and sync
// engine. Logs go to logOut unless cfg.LogFile is set.
func NewApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*App, error) {
	a := &App{cfg: cfg, now: time.Now}

	if cfg.LogFile != "" {
		fw := logging.NewFileWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		a.logCloser = fw
		logOut = fw
	}
	a.logger = logging.New(logOut, logging.Options{Format: cfg.LogFormat, Level: cfg.LogLevel})

	s, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		a.closeLog()
		return nil, err
	}
	a.store = s

	repos := repomanager.NewSQLiteRepositoryManager()
	st, err := repos.SyncState(s.DB()).Init(ctx)
	if err != nil {
		_ = a.Close()
		return nil, store.Unavailable(err)
	}
	a.clientID = st.ClientID

	tr, err := transport.New(cfg.TransportOptions(st.ClientID))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.transport = tr

	a.ledger = services.NewLedger(s.DB(), repos, services.LedgerOptions{
		ClientID:   st.ClientID,
		NotifyPath: s.NotifyPath(),
		OnMutation: a.notifyEngine,
		MaxRetries: cfg.MaxRetries,
		Logger:     a.logger,
	})

	a.engine = syncer.NewEngine(s.DB(), repos, tr, syncer.Options{
		Interval:             cfg.SyncInterval,
		MaxRetries:           cfg.MaxRetries,
		ForceMaxRetries:      cfg.ForceMaxRetries,
		OnlineCheckInterval:  cfg.OnlineCheckInterval,
		OnlineDebounce:       cfg.OnlineDebounce,
		NotifyPath:           s.NotifyPath(),
		Housekeeping:         a.housekeeping,
		HousekeepingInterval: cfg.HousekeepingInterval,
		Logger:               a.logger,
	})

	return a, nil
}

func (a *App) notifyEngine() {
	if a.engine != nil {
		a.engine.Notify()
	}
}

func (a *App) housekeeping(ctx context.Context) error {
	n, err := a.ledger.PurgeQueue(ctx, a.cfg.SyncedRetention, a.cfg.PoisonRetention)
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.Info(ctx, "purged change queue", "removed", n)
	}
	return nil
}

func (a *App) closeLog() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

func (a *App) Close() error {
	var errs []error
	if a.transport != nil {
		errs = append(errs, a.transport.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	a.closeLog()
	return errors.Join(errs...)
}
