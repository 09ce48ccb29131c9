package auction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gavelworks/gavel/marketplace/database/models"
)

// Engine validates and commits bid attempts. The whole validate-then-
// write sequence for one auction runs inside that auction's exclusive
// section: two bids computed against the same stale current bid can
// never both commit.
type Engine struct {
	ledger Ledger
	locks  *KeyLock
	sink   EventSink
	cache  *Cache
	now    func() time.Time
}

func NewEngine(ledger Ledger, locks *KeyLock, sink EventSink, cache *Cache) *Engine {
	if ledger == nil {
		panic("auction: engine requires a ledger")
	}
	if locks == nil {
		panic("auction: engine requires a key lock")
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Engine{
		ledger: ledger,
		locks:  locks,
		sink:   sink,
		cache:  cache,
		now:    time.Now,
	}
}

// SetClock replaces the wall-clock source. The sweeper must share the
// same source; wire both from one place.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

type PlaceBidParams struct {
	AuctionID int64
	BidderID  int64
	Amount    decimal.Decimal
	// MaxAmount is an optional proxy ceiling, stored but not acted on.
	MaxAmount decimal.NullDecimal
	Origin    Origin
}

type BidReceipt struct {
	BidID      int64
	CurrentBid decimal.Decimal
	BidCount   int
	EndTime    time.Time
	Extended   bool
}

// PlaceBid runs one bid attempt end to end. Validation failures come
// back as taxonomy errors (see errors.go); ErrBusy means the auction's
// section could not be entered within the bounded wait and the caller
// should retry.
func (e *Engine) PlaceBid(ctx context.Context, p PlaceBidParams) (*BidReceipt, error) {
	if err := e.locks.Acquire(ctx, p.AuctionID); err != nil {
		return nil, err
	}
	defer e.locks.Release(p.AuctionID)

	now := e.now()

	a, err := e.ledger.AuctionByID(ctx, p.AuctionID)
	if err != nil {
		return nil, err
	}

	if a.Status != models.AuctionStatusActive {
		return nil, ErrAuctionNotActive
	}
	// The clock is authoritative over a possibly stale status row.
	if !now.Before(a.EndTime) {
		return nil, ErrAuctionEnded
	}
	if a.SellerID == p.BidderID {
		return nil, ErrSelfBidForbidden
	}

	min := MinimumBid(a)
	if p.Amount.Cmp(min) < 0 {
		return nil, &BidTooLowError{Minimum: min}
	}

	prev, err := e.ledger.WinningBid(ctx, p.AuctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read winning bid: %w", err)
	}
	if prev != nil && prev.BidderID == p.BidderID {
		return nil, ErrAlreadyWinning
	}

	maxAmount := p.Amount
	isProxy := false
	if p.MaxAmount.Valid && p.MaxAmount.Decimal.Cmp(p.Amount) > 0 {
		maxAmount = p.MaxAmount.Decimal
		isProxy = true
	}

	commit := &BidCommit{
		Auction:   a,
		BidderID:  p.BidderID,
		Amount:    p.Amount,
		MaxAmount: maxAmount,
		IsProxy:   isProxy,
		Origin:    p.Origin,
		PlacedAt:  now,
	}

	// Sniping protection, evaluated against the pre-update end time and
	// committed in the same unit as the bid.
	extended := ShouldAutoExtend(a, now)
	if extended {
		commit.NewEndTime = ExtendedEnd(a)
	}

	bidID, err := e.ledger.CommitBid(ctx, commit)
	if err != nil {
		// A commit can still lose to a concurrent state change in the
		// store; keep that a plain validation outcome.
		if IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to commit bid: %w", err)
	}

	receipt := &BidReceipt{
		BidID:      bidID,
		CurrentBid: p.Amount,
		BidCount:   a.BidCount + 1,
		EndTime:    a.EndTime,
		Extended:   extended,
	}
	if extended {
		receipt.EndTime = commit.NewEndTime
	}

	// Everything below is best-effort and must not fail the bid.
	if err := e.ledger.IncrementUserBids(ctx, p.BidderID); err != nil {
		slog.Warn("Failed to bump bidder counter",
			slog.Int64("bidder_id", p.BidderID),
			slog.Any("error", err))
	}
	if e.cache != nil {
		e.cache.Invalidate(p.AuctionID)
	}

	ev := BidAccepted{
		AuctionID:  p.AuctionID,
		BidID:      bidID,
		BidderID:   p.BidderID,
		Amount:     p.Amount,
		BidCount:   receipt.BidCount,
		EndTime:    receipt.EndTime,
		Extended:   extended,
		AcceptedAt: now,
	}
	if prev != nil {
		ev.PreviousWinnerID = prev.BidderID
	}
	e.sink.OnBidAccepted(ctx, ev)

	slog.Info("Bid accepted",
		slog.Int64("auction_id", p.AuctionID),
		slog.Int64("bid_id", bidID),
		slog.Int64("bidder_id", p.BidderID),
		slog.String("amount", p.Amount.StringFixed(2)),
		slog.Bool("extended", extended))

	return receipt, nil
}
