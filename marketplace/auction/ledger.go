package auction

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gavelworks/gavel/marketplace/database/models"
)

// Origin is the audit metadata recorded with every bid.
type Origin struct {
	IPAddress string
	UserAgent string
}

// BidCommit is the atomic unit of a bid acceptance: insert the new
// winning bid, flip the previous winner to outbid, update the auction
// aggregates, and (when NewEndTime is set) push the close forward. All
// of it commits or none of it does.
type BidCommit struct {
	Auction   *models.Auction
	BidderID  int64
	Amount    decimal.Decimal
	MaxAmount decimal.Decimal
	IsProxy   bool
	Origin    Origin
	PlacedAt  time.Time

	// NewEndTime is the auto-extended close time; zero means the close
	// is unchanged.
	NewEndTime time.Time
}

type Outcome string

const (
	OutcomeSold  Outcome = "sold"
	OutcomeEnded Outcome = "ended"
)

// Settlement is the atomic unit of an expiry transition: the status
// flip plus, for a sale, the bid outcomes, the transaction record and
// the win/sale counters.
type Settlement struct {
	Auction    *models.Auction
	Outcome    Outcome
	WinnerID   int64
	FinalPrice decimal.Decimal
	Reference  string
	SettledAt  time.Time
}

// Ledger is the persistence contract required from the store. The bun
// implementation backs it with row locks and transactions; the
// in-memory implementation backs it with a mutex. Either must satisfy
// the same properties, because callers serialize per auction through
// KeyLock before touching it.
type Ledger interface {
	// AuctionByID returns the auction or ErrAuctionNotFound.
	AuctionByID(ctx context.Context, id int64) (*models.Auction, error)

	// WinningBid returns the bid currently flagged winning for the
	// auction, or nil when there is none.
	WinningBid(ctx context.Context, auctionID int64) (*models.Bid, error)

	// CommitBid applies the whole bid unit and returns the new bid id.
	CommitBid(ctx context.Context, c *BidCommit) (int64, error)

	// ExpiredAuctions selects up to limit auctions still marked active
	// whose end time has passed.
	ExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]*models.Auction, error)

	// Settle applies the settlement unit. It is guarded on the auction
	// still being active and reports false, without error, when another
	// sweep got there first.
	Settle(ctx context.Context, s *Settlement) (bool, error)

	// ActivateScheduled promotes scheduled auctions whose start time
	// has arrived and returns how many were promoted.
	ActivateScheduled(ctx context.Context, now time.Time) (int64, error)

	// IncrementUserBids bumps the bidder's aggregate counter. Callers
	// treat failures as best-effort.
	IncrementUserBids(ctx context.Context, userID int64) error
}
