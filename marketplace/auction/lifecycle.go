package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gavelworks/gavel/marketplace/database/models"
)

const (
	MinListingDuration = time.Minute
	MaxListingDuration = 30 * 24 * time.Hour

	defaultListingDuration = 7 * 24 * time.Hour
	defaultAutoExtendTrig  = 60  // seconds before close
	defaultAutoExtendDur   = 120 // seconds added
)

// DefaultBidIncrement applies when the seller does not pick one.
var DefaultBidIncrement = decimal.NewFromFloat(5.00)

var (
	errEmptyTitle      = errors.New("listing title is required")
	errBadStartPrice   = errors.New("starting price must be positive")
	errBadDuration     = errors.New("listing duration out of range")
	errReserveTooLow   = errors.New("reserve price must not be below the starting price")
	errBadBidIncrement = errors.New("bid increment must be positive")
)

// Listings is the plain CRUD slice of the store used by the lifecycle
// operations; none of it carries concurrency contracts beyond the
// guarded cancel.
type Listings interface {
	CreateAuction(ctx context.Context, a *models.Auction) error
	AuctionByReference(ctx context.Context, code string) (*models.Auction, error)
	// CancelAuction flips an auction to cancelled only while it is
	// still cancellable (not terminal, no bids) and reports whether a
	// row was updated.
	CancelAuction(ctx context.Context, id int64) (bool, error)
}

// Lifecycle covers seller-side listing operations: creation, lookup and
// cancellation. Settlement of a live listing belongs to the Sweeper.
type Lifecycle struct {
	ledger   Ledger
	listings Listings
	refs     *ReferenceGenerator
	cache    *Cache
	now      func() time.Time
}

func NewLifecycle(ledger Ledger, listings Listings, refs *ReferenceGenerator, cache *Cache) *Lifecycle {
	if ledger == nil {
		panic("auction: lifecycle requires a ledger")
	}
	if listings == nil {
		panic("auction: lifecycle requires a listings store")
	}
	if refs == nil {
		refs = NewReferenceGenerator()
	}
	return &Lifecycle{
		ledger:   ledger,
		listings: listings,
		refs:     refs,
		cache:    cache,
		now:      time.Now,
	}
}

func (l *Lifecycle) SetClock(now func() time.Time) {
	l.now = now
}

type CreateListingParams struct {
	SellerID      int64
	Title         string
	StartingPrice decimal.Decimal
	ReservePrice  decimal.NullDecimal
	// BuyNowPrice is stored for display; the engine does not act on it.
	BuyNowPrice  decimal.NullDecimal
	BidIncrement decimal.Decimal // zero means DefaultBidIncrement

	Duration         time.Duration // zero means seven days
	StartImmediately bool
	StartTime        time.Time // ignored when StartImmediately

	AutoExtend         bool
	AutoExtendTrigger  int // seconds; zero means default
	AutoExtendDuration int // seconds; zero means default
}

// CreateListing validates and persists a new listing. Status is active
// for an immediate start, scheduled when a future start time is given,
// draft otherwise.
func (l *Lifecycle) CreateListing(ctx context.Context, p CreateListingParams) (*models.Auction, error) {
	if p.Title == "" {
		return nil, errEmptyTitle
	}
	if p.StartingPrice.Sign() <= 0 {
		return nil, errBadStartPrice
	}
	if p.ReservePrice.Valid && p.ReservePrice.Decimal.Cmp(p.StartingPrice) < 0 {
		return nil, errReserveTooLow
	}

	increment := p.BidIncrement
	if increment.IsZero() {
		increment = DefaultBidIncrement
	}
	if increment.Sign() <= 0 {
		return nil, errBadBidIncrement
	}

	duration := p.Duration
	if duration == 0 {
		duration = defaultListingDuration
	}
	if duration < MinListingDuration || duration > MaxListingDuration {
		return nil, errBadDuration
	}

	now := l.now()
	start := now
	status := models.AuctionStatusActive
	switch {
	case p.StartImmediately:
	case !p.StartTime.IsZero():
		start = p.StartTime
		status = models.AuctionStatusScheduled
	default:
		status = models.AuctionStatusDraft
	}

	code, err := l.refs.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to generate listing reference: %w", err)
	}

	trigger := p.AutoExtendTrigger
	if trigger <= 0 {
		trigger = defaultAutoExtendTrig
	}
	extension := p.AutoExtendDuration
	if extension <= 0 {
		extension = defaultAutoExtendDur
	}

	a := &models.Auction{
		ReferenceCode:      code,
		SellerID:           p.SellerID,
		Title:              p.Title,
		StartingPrice:      p.StartingPrice,
		ReservePrice:       p.ReservePrice,
		BuyNowPrice:        p.BuyNowPrice,
		BidIncrement:       increment,
		Status:             status,
		StartTime:          start,
		EndTime:            start.Add(duration),
		AutoExtend:         p.AutoExtend,
		AutoExtendTrigger:  trigger,
		AutoExtendDuration: extension,
	}

	if err := l.listings.CreateAuction(ctx, a); err != nil {
		l.refs.Forget(code)
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	slog.Info("Listing created",
		slog.Int64("auction_id", a.ID),
		slog.String("reference", a.ReferenceCode),
		slog.Int64("seller_id", a.SellerID),
		slog.String("status", string(a.Status)))

	return a, nil
}

// GetListing reads through the cache.
func (l *Lifecycle) GetListing(ctx context.Context, id int64) (*models.Auction, error) {
	if l.cache != nil {
		if a, ok := l.cache.Get(id); ok {
			return a, nil
		}
	}
	a, err := l.ledger.AuctionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		l.cache.Put(a)
	}
	return a, nil
}

// GetListingByReference resolves the short code.
func (l *Lifecycle) GetListingByReference(ctx context.Context, code string) (*models.Auction, error) {
	return l.listings.AuctionByReference(ctx, code)
}

// CancelListing lets the seller withdraw a listing that has not
// attracted bids and has not reached a terminal state.
func (l *Lifecycle) CancelListing(ctx context.Context, auctionID, sellerID int64) error {
	a, err := l.ledger.AuctionByID(ctx, auctionID)
	if err != nil {
		return err
	}
	if a.SellerID != sellerID {
		return ErrNotSeller
	}
	if a.Status.Terminal() {
		return ErrAuctionNotActive
	}
	if a.BidCount > 0 {
		return ErrCancelWithBids
	}

	ok, err := l.listings.CancelAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("failed to cancel listing: %w", err)
	}
	if !ok {
		// Raced a bid or a settlement between the read and the update.
		return ErrCancelWithBids
	}

	if l.cache != nil {
		l.cache.Invalidate(auctionID)
	}

	slog.Info("Listing cancelled",
		slog.Int64("auction_id", auctionID),
		slog.String("reference", a.ReferenceCode))
	return nil
}
