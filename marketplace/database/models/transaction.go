package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Transaction is the settlement record written exactly once when an
// auction closes as sold.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions,alias:t"`

	ID        int64  `bun:"id,pk,autoincrement"`
	Reference string `bun:"reference,notnull,unique"`
	AuctionID int64  `bun:"auction_id,notnull,unique"`
	BuyerID   int64  `bun:"buyer_id,notnull"`
	SellerID  int64  `bun:"seller_id,notnull"`

	FinalPrice  decimal.Decimal `bun:"final_price,notnull"`
	TotalAmount decimal.Decimal `bun:"total_amount,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type NotificationType string

const (
	NotificationOutbid        NotificationType = "outbid"
	NotificationAuctionWon    NotificationType = "auction_won"
	NotificationAuctionSold   NotificationType = "auction_sold"
	NotificationAuctionEnding NotificationType = "auction_ending"
)

// Notification is an advisory fan-out record; it is written outside the
// atomic units and may be lost without affecting auction state.
type Notification struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID        int64            `bun:"id,pk,autoincrement"`
	UserID    int64            `bun:"user_id,notnull"`
	Type      NotificationType `bun:"notification_type,notnull"`
	Title     string           `bun:"title,notnull"`
	Message   string           `bun:"message,notnull"`
	Link      string           `bun:"link"`
	IsRead    bool             `bun:"is_read,notnull,default:false"`
	CreatedAt time.Time        `bun:"created_at,notnull,default:current_timestamp"`
}

// WatchEntry marks a user watching an auction; display plumbing only.
type WatchEntry struct {
	bun.BaseModel `bun:"table:watchlist,alias:w"`

	ID        int64     `bun:"id,pk,autoincrement"`
	UserID    int64     `bun:"user_id,notnull"`
	AuctionID int64     `bun:"auction_id,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
