package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type BidStatus string

const (
	BidStatusActive    BidStatus = "active"
	BidStatusOutbid    BidStatus = "outbid"
	BidStatusWon       BidStatus = "won"
	BidStatusLost      BidStatus = "lost"
	BidStatusCancelled BidStatus = "cancelled"
)

type Bid struct {
	bun.BaseModel `bun:"table:bids,alias:b"`

	ID        int64 `bun:"id,pk,autoincrement"`
	AuctionID int64 `bun:"auction_id,notnull"`
	BidderID  int64 `bun:"bidder_id,notnull"`

	Amount decimal.Decimal `bun:"amount,notnull"`
	// MaxAmount is the proxy ceiling. It is persisted but never consulted
	// for automatic re-bidding; it defaults to Amount.
	MaxAmount decimal.Decimal `bun:"max_amount,notnull"`
	IsProxy   bool            `bun:"is_proxy,notnull,default:false"`

	// At most one bid per auction carries IsWinning=true.
	IsWinning bool      `bun:"is_winning,notnull,default:false"`
	Status    BidStatus `bun:"status,notnull"`

	// Origin metadata, kept for fraud/audit review only.
	IPAddress string `bun:"ip_address"`
	UserAgent string `bun:"user_agent"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
