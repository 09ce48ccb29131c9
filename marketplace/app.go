// Package marketplace assembles the auction core: ledger store, bid
// engine, settlement sweeper and notification fan-out.
package marketplace

import (
	"context"
	"fmt"

	"github.com/gavelworks/gavel/marketplace/auction"
	"github.com/gavelworks/gavel/marketplace/database"
	"github.com/gavelworks/gavel/marketplace/database/repositories"
)

// App owns every long-lived component. There are no package-level
// singletons; everything is constructed here and injected downward.
type App struct {
	Cfg Config

	DB       *database.DB
	Ledger   *repositories.LedgerStore
	Locks    *auction.KeyLock
	Cache    *auction.Cache
	Notifier *auction.Notifier

	Engine    *auction.Engine
	Sweeper   *auction.Sweeper
	Lifecycle *auction.Lifecycle
}

func New(ctx context.Context, cfg Config) (*App, error) {
	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := db.InitializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ledger := repositories.NewLedgerStore(db.BunDB())
	// One lock instance serves both mutators of an auction row: the
	// engine during the active phase and the sweeper at expiry.
	locks := auction.NewKeyLock(cfg.Engine.LockWait.Std())
	cache := auction.NewCache(cfg.Cache.Size, cfg.Cache.TTL.Std())
	notifier := auction.NewNotifier(ledger)

	app := &App{
		Cfg:      cfg,
		DB:       db,
		Ledger:   ledger,
		Locks:    locks,
		Cache:    cache,
		Notifier: notifier,

		Engine: auction.NewEngine(ledger, locks, notifier, cache),
		Sweeper: auction.NewSweeper(ledger, locks, notifier, cache, ledger, auction.SweeperConfig{
			Interval:        cfg.Sweeper.Interval.Std(),
			BatchSize:       cfg.Sweeper.BatchSize,
			Parallelism:     cfg.Sweeper.Parallelism,
			EndingSoonEvery: cfg.Sweeper.EndingSoonEvery,
		}),
		Lifecycle: auction.NewLifecycle(ledger, ledger, auction.NewReferenceGenerator(), cache),
	}
	return app, nil
}

func (a *App) Close() {
	if a.Notifier != nil {
		a.Notifier.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
