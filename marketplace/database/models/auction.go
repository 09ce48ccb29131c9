package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type AuctionStatus string

const (
	AuctionStatusDraft     AuctionStatus = "draft"
	AuctionStatusScheduled AuctionStatus = "scheduled"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusCancelled AuctionStatus = "cancelled"
	AuctionStatusSold      AuctionStatus = "sold"
)

// Terminal reports whether no further status transition is allowed.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionStatusEnded || s == AuctionStatusCancelled || s == AuctionStatusSold
}

type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID            int64  `bun:"id,pk,autoincrement"`
	ReferenceCode string `bun:"reference_code,notnull,unique"`
	SellerID      int64  `bun:"seller_id,notnull"`
	Title         string `bun:"title,notnull"`

	StartingPrice decimal.Decimal     `bun:"starting_price,notnull"`
	ReservePrice  decimal.NullDecimal `bun:"reserve_price"`
	BuyNowPrice   decimal.NullDecimal `bun:"buy_now_price"`
	BidIncrement  decimal.Decimal     `bun:"bid_increment,notnull"`

	// CurrentBid is null until the first accepted bid; the effective
	// price of a bidless auction is StartingPrice.
	CurrentBid decimal.NullDecimal `bun:"current_bid"`
	BidCount   int                 `bun:"bid_count,notnull,default:0"`

	Status    AuctionStatus `bun:"status,notnull"`
	StartTime time.Time     `bun:"start_time,notnull"`
	// EndTime only ever moves forward (auto-extend).
	EndTime time.Time `bun:"end_time,notnull"`

	AutoExtend         bool `bun:"auto_extend,notnull,default:false"`
	AutoExtendTrigger  int  `bun:"auto_extend_trigger,notnull,default:60"`
	AutoExtendDuration int  `bun:"auto_extend_duration,notnull,default:120"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// EffectivePrice is what the next bidder is bidding against.
func (a *Auction) EffectivePrice() decimal.Decimal {
	if a.CurrentBid.Valid {
		return a.CurrentBid.Decimal
	}
	return a.StartingPrice
}
