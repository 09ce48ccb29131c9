package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Validation failures are expected, user-facing outcomes of a bid
// attempt. They must not be logged as system errors.
var (
	ErrAuctionNotFound  = errors.New("auction not found")
	ErrAuctionNotActive = errors.New("auction is not active")
	ErrAuctionEnded     = errors.New("auction has ended")
	ErrSelfBidForbidden = errors.New("seller cannot bid on their own auction")
	ErrAlreadyWinning   = errors.New("you are already the highest bidder")
	ErrBidTooLow        = errors.New("bid amount too low")

	ErrCancelWithBids = errors.New("cannot cancel auction with active bids")
	ErrNotSeller      = errors.New("only the seller can modify the auction")
)

// ErrBusy means the per-auction lock could not be acquired within the
// bounded wait. The attempt is safe to retry.
var ErrBusy = errors.New("auction is busy, retry")

// BidTooLowError reports the computed minimum so callers can surface it.
type BidTooLowError struct {
	Minimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid too low: minimum bid is %s", e.Minimum.StringFixed(2))
}

func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}

// IsValidation reports whether err is a rejected-bid outcome rather
// than a system failure.
func IsValidation(err error) bool {
	for _, v := range []error{
		ErrAuctionNotFound,
		ErrAuctionNotActive,
		ErrAuctionEnded,
		ErrSelfBidForbidden,
		ErrAlreadyWinning,
		ErrBidTooLow,
		ErrCancelWithBids,
		ErrNotSeller,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the caller should retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
