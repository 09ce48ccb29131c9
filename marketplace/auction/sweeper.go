package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/gavelworks/gavel/marketplace/database/models"
)

const (
	defaultSweepInterval    = time.Minute
	defaultSweepBatchSize   = 50
	defaultSweepParallelism = 4
	defaultEndingSoonEvery  = 5 // ticks
	endingSoonWindow        = time.Hour
)

// EndingSoonWatch pairs a watcher with an auction closing inside the
// heads-up window.
type EndingSoonWatch struct {
	UserID    int64
	AuctionID int64
	Title     string
	EndTime   time.Time
}

// WatchSource feeds the advisory ending-soon sweep. Optional.
type WatchSource interface {
	WatchedEndingSoon(ctx context.Context, now time.Time, window time.Duration, limit int) ([]EndingSoonWatch, error)
}

type SweeperConfig struct {
	Interval        time.Duration
	BatchSize       int
	Parallelism     int
	EndingSoonEvery int // in ticks; 0 disables
}

func (c *SweeperConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = defaultSweepInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultSweepBatchSize
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaultSweepParallelism
	}
}

// Sweeper drives the periodic settlement and activation passes. One
// instance runs per process; ticks never overlap because the loop is
// synchronous, and two sweepers racing the same auction are excluded by
// the key lock plus the ledger's status guard.
type Sweeper struct {
	ledger Ledger
	locks  *KeyLock
	sink   EventSink
	cache  *Cache
	watch  WatchSource // may be nil
	cfg    SweeperConfig
	now    func() time.Time
	ticks  uint64
}

func NewSweeper(ledger Ledger, locks *KeyLock, sink EventSink, cache *Cache, watch WatchSource, cfg SweeperConfig) *Sweeper {
	if ledger == nil {
		panic("auction: sweeper requires a ledger")
	}
	if locks == nil {
		panic("auction: sweeper requires a key lock")
	}
	if sink == nil {
		sink = NopSink{}
	}
	cfg.applyDefaults()
	return &Sweeper{
		ledger: ledger,
		locks:  locks,
		sink:   sink,
		cache:  cache,
		watch:  watch,
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetClock replaces the wall-clock source; share it with the engine.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run loops until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.Info("Settlement sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("batch_size", s.cfg.BatchSize))

	for {
		select {
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				slog.Error("Sweep tick failed", slog.Any("error", err))
			}
		case <-ctx.Done():
			slog.Info("Settlement sweeper stopped")
			return
		}
	}
}

// Sweep performs one tick: activate scheduled auctions, settle the
// expired batch, and occasionally nudge watchers. A failure on one
// auction never aborts the rest; the auction stays active and is picked
// up again next tick.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.now()
	s.ticks++

	if n, err := s.ledger.ActivateScheduled(ctx, now); err != nil {
		slog.Error("Failed to activate scheduled auctions", slog.Any("error", err))
	} else if n > 0 {
		slog.Info("Activated scheduled auctions", slog.Int64("count", n))
	}

	expired, err := s.ledger.ExpiredAuctions(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to select expired auctions: %w", err)
	}

	if len(expired) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Parallelism)
		for _, a := range expired {
			a := a
			g.Go(func() error {
				if err := s.settleOne(gctx, a.ID, now); err != nil {
					slog.Error("Failed to settle auction",
						slog.Int64("auction_id", a.ID),
						slog.String("reference", a.ReferenceCode),
						slog.Any("error", err))
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	if s.watch != nil && s.cfg.EndingSoonEvery > 0 && s.ticks%uint64(s.cfg.EndingSoonEvery) == 0 {
		s.notifyEndingSoon(ctx, now)
	}

	return nil
}

// settleOne resolves a single expired auction exactly once. The re-read
// under the lock plus the ledger's status guard make a second pass over
// an already transitioned auction a no-op.
func (s *Sweeper) settleOne(ctx context.Context, auctionID int64, now time.Time) error {
	if err := s.locks.Acquire(ctx, auctionID); err != nil {
		if errors.Is(err, ErrBusy) {
			// A bid holds the section; the auction stays selected for
			// the next tick.
			return nil
		}
		return err
	}

	var settled *AuctionSettled
	err := func() error {
		defer s.locks.Release(auctionID)

		a, err := s.ledger.AuctionByID(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.Status != models.AuctionStatusActive {
			return nil // another sweep got here first
		}
		if now.Before(a.EndTime) {
			// A last-moment bid extended the close after selection.
			return nil
		}

		winning, err := s.ledger.WinningBid(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("failed to read winning bid: %w", err)
		}

		hasBids := winning != nil
		outcome := OutcomeEnded
		if hasBids && MetReserve(a) {
			outcome = OutcomeSold
		}

		st := &Settlement{
			Auction:   a,
			Outcome:   outcome,
			SettledAt: now,
		}
		if outcome == OutcomeSold {
			st.WinnerID = winning.BidderID
			st.FinalPrice = a.CurrentBid.Decimal
			st.Reference = uuid.NewString()
		}

		ok, err := s.ledger.Settle(ctx, st)
		if err != nil {
			return fmt.Errorf("failed to settle: %w", err)
		}
		if !ok {
			return nil
		}

		if s.cache != nil {
			s.cache.Invalidate(auctionID)
		}

		ev := AuctionSettled{
			AuctionID: a.ID,
			SellerID:  a.SellerID,
			Title:     a.Title,
			Outcome:   outcome,
			SettledAt: now,
		}
		if outcome == OutcomeSold {
			ev.WinnerID = st.WinnerID
			ev.FinalPrice = decimal.NewNullDecimal(st.FinalPrice)
		}
		settled = &ev

		slog.Info("Auction settled",
			slog.Int64("auction_id", a.ID),
			slog.String("reference", a.ReferenceCode),
			slog.String("outcome", string(outcome)))
		return nil
	}()
	if err != nil {
		return err
	}

	// Advisory fan-out happens outside the lock; its failure cannot
	// roll back the settlement.
	if settled != nil {
		s.sink.OnAuctionSettled(ctx, *settled)
	}
	return nil
}

func (s *Sweeper) notifyEndingSoon(ctx context.Context, now time.Time) {
	watches, err := s.watch.WatchedEndingSoon(ctx, now, endingSoonWindow, 100)
	if err != nil {
		slog.Error("Failed to select ending-soon watchers", slog.Any("error", err))
		return
	}
	for _, w := range watches {
		s.sink.OnAuctionEnding(ctx, AuctionEnding{
			AuctionID: w.AuctionID,
			UserID:    w.UserID,
			Title:     w.Title,
			EndTime:   w.EndTime,
		})
	}
}
