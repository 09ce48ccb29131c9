package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID       int64  `bun:"id,pk,autoincrement"`
	Username string `bun:"username,notnull,unique"`
	Email    string `bun:"email,notnull,unique"`

	// TotalBids is bumped best-effort after a bid commits; the win and
	// sale counters move inside the settlement unit.
	TotalBids  int64 `bun:"total_bids,notnull,default:0"`
	TotalWins  int64 `bun:"total_wins,notnull,default:0"`
	TotalSales int64 `bun:"total_sales,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
