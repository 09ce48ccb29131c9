// Package auction implements the bid-acceptance engine, the auction
// lifecycle, and the settlement sweep for the marketplace.
package auction

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gavelworks/gavel/marketplace/database/models"
)

// Time logic shared by the bid engine and the settlement sweeper. Both
// sides must agree on these boundaries, so nothing here touches wall
// clock or mutable state; callers pass now in.

// IsActive reports whether bids can be accepted at now. EndTime is an
// exclusive boundary: a bid arriving exactly at EndTime is too late.
func IsActive(a *models.Auction, now time.Time) bool {
	return a.Status == models.AuctionStatusActive && now.Before(a.EndTime)
}

// TimeRemaining returns the time left until close, never negative.
func TimeRemaining(a *models.Auction, now time.Time) time.Duration {
	rem := a.EndTime.Sub(now)
	if rem < 0 {
		return 0
	}
	return rem
}

// ShouldAutoExtend reports whether a bid accepted at now lands inside
// the sniping-protection window. The window is measured against the
// pre-update EndTime; the remaining time must still be positive.
func ShouldAutoExtend(a *models.Auction, now time.Time) bool {
	if !a.AutoExtend {
		return false
	}
	rem := a.EndTime.Sub(now)
	return rem > 0 && rem < time.Duration(a.AutoExtendTrigger)*time.Second
}

// ExtendedEnd returns the pushed-forward close time. The extension is
// relative to the old EndTime, not to the bid time.
func ExtendedEnd(a *models.Auction) time.Time {
	return a.EndTime.Add(time.Duration(a.AutoExtendDuration) * time.Second)
}

// MinimumBid is the smallest acceptable bid amount: one increment above
// the current bid, or the starting price when no bid exists yet.
func MinimumBid(a *models.Auction) decimal.Decimal {
	if a.CurrentBid.Valid {
		return a.CurrentBid.Decimal.Add(a.BidIncrement)
	}
	return a.StartingPrice
}

// MetReserve reports whether the final price clears the seller's floor.
// An unset reserve always clears.
func MetReserve(a *models.Auction) bool {
	if !a.ReservePrice.Valid {
		return true
	}
	return a.CurrentBid.Valid && a.CurrentBid.Decimal.Cmp(a.ReservePrice.Decimal) >= 0
}
