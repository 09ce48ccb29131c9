package auction_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelworks/gavel/marketplace/auction"
	"github.com/gavelworks/gavel/marketplace/database/models"
	"github.com/gavelworks/gavel/marketplace/database/repositories"
)

const sellerID = int64(1)

func money(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// captureSink records every emitted event for inspection.
type captureSink struct {
	mu      sync.Mutex
	bids    []auction.BidAccepted
	settled []auction.AuctionSettled
	ending  []auction.AuctionEnding
}

func (s *captureSink) OnBidAccepted(_ context.Context, ev auction.BidAccepted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids = append(s.bids, ev)
}

func (s *captureSink) OnAuctionSettled(_ context.Context, ev auction.AuctionSettled) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, ev)
}

func (s *captureSink) OnAuctionEnding(_ context.Context, ev auction.AuctionEnding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ending = append(s.ending, ev)
}

func (s *captureSink) settledEvents() []auction.AuctionSettled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auction.AuctionSettled(nil), s.settled...)
}

func (s *captureSink) endingEvents() []auction.AuctionEnding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auction.AuctionEnding(nil), s.ending...)
}

func seedActive(ml *repositories.MemoryLedger, now, end time.Time) *models.Auction {
	return ml.SeedAuction(&models.Auction{
		ReferenceCode:      "TESTREF1",
		SellerID:           sellerID,
		Title:              "vintage rangefinder",
		StartingPrice:      money(100),
		BidIncrement:       money(5),
		Status:             models.AuctionStatusActive,
		StartTime:          now.Add(-time.Hour),
		EndTime:            end,
		AutoExtend:         true,
		AutoExtendTrigger:  60,
		AutoExtendDuration: 120,
	})
}

func newTestEngine(ml *repositories.MemoryLedger, now time.Time, sink auction.EventSink) *auction.Engine {
	e := auction.NewEngine(ml, auction.NewKeyLock(5*time.Second), sink, nil)
	e.SetClock(fixedClock(now))
	return e
}

func TestPlaceBidValidation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		seed    func(ml *repositories.MemoryLedger) int64
		params  func(id int64) auction.PlaceBidParams
		wantErr error
	}{
		{
			name: "auction_not_found",
			seed: func(ml *repositories.MemoryLedger) int64 { return 999 },
			params: func(id int64) auction.PlaceBidParams {
				return auction.PlaceBidParams{AuctionID: id, BidderID: 2, Amount: money(100)}
			},
			wantErr: auction.ErrAuctionNotFound,
		},
		{
			name: "auction_not_active",
			seed: func(ml *repositories.MemoryLedger) int64 {
				a := seedActive(ml, now, now.Add(time.Hour))
				a.Status = models.AuctionStatusDraft
				return ml.SeedAuction(a).ID
			},
			params: func(id int64) auction.PlaceBidParams {
				return auction.PlaceBidParams{AuctionID: id, BidderID: 2, Amount: money(100)}
			},
			wantErr: auction.ErrAuctionNotActive,
		},
		{
			name: "auction_ended_exactly_at_close",
			seed: func(ml *repositories.MemoryLedger) int64 {
				return seedActive(ml, now, now).ID
			},
			params: func(id int64) auction.PlaceBidParams {
				return auction.PlaceBidParams{AuctionID: id, BidderID: 2, Amount: money(100)}
			},
			wantErr: auction.ErrAuctionEnded,
		},
		{
			name: "auction_ended_stale_status",
			seed: func(ml *repositories.MemoryLedger) int64 {
				// Status still says active but the clock has passed the
				// close; the clock wins.
				return seedActive(ml, now, now.Add(-time.Second)).ID
			},
			params: func(id int64) auction.PlaceBidParams {
				return auction.PlaceBidParams{AuctionID: id, BidderID: 2, Amount: money(100)}
			},
			wantErr: auction.ErrAuctionEnded,
		},
		{
			name: "self_bid",
			seed: func(ml *repositories.MemoryLedger) int64 {
				return seedActive(ml, now, now.Add(time.Hour)).ID
			},
			params: func(id int64) auction.PlaceBidParams {
				return auction.PlaceBidParams{AuctionID: id, BidderID: sellerID, Amount: money(100)}
			},
			wantErr: auction.ErrSelfBidForbidden,
		},
		{
			name: "first_bid_below_starting_price",
			seed: func(ml *repositories.MemoryLedger) int64 {
				return seedActive(ml, now, now.Add(time.Hour)).ID
			},
			params: func(id int64) auction.PlaceBidParams {
				return auction.PlaceBidParams{AuctionID: id, BidderID: 2, Amount: money(99.99)}
			},
			wantErr: auction.ErrBidTooLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ml := repositories.NewMemoryLedger()
			id := tt.seed(ml)
			e := newTestEngine(ml, now, nil)

			receipt, err := e.PlaceBid(ctx, tt.params(id))
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, receipt)
			assert.True(t, auction.IsValidation(err))
		})
	}
}

func TestPlaceBidMinimumIsIncrementAboveCurrent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ml := repositories.NewMemoryLedger()
	a := seedActive(ml, now, now.Add(time.Hour))
	e := newTestEngine(ml, now, nil)

	_, err := e.PlaceBid(ctx, auction.PlaceBidParams{AuctionID: a.ID, BidderID: 2, Amount: money(100)})
	require.NoError(t, err)

	// Current bid 100, increment 5: 103 is short of the 105 floor.
	_, err = e.PlaceBid(ctx, auction.PlaceBidParams{AuctionID: a.ID, BidderID: 3, Amount: money(103)})
	var tooLow *auction.BidTooLowError
	require.ErrorAs(t, err, &tooLow)
	assert.True(t, tooLow.Minimum.Equal(money(105)), "got minimum %s", tooLow.Minimum)

	receipt, err := e.PlaceBid(ctx, auction.PlaceBidParams{AuctionID: a.ID, BidderID: 3, Amount: money(105)})
	require.NoError(t, err)
	assert.True(t, receipt.CurrentBid.Equal(money(105)))
}

func TestPlaceBidFirstBid(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ml := repositories.NewMemoryLedger()
	a := seedActive(ml, now, now.Add(time.Hour))
	sink := &captureSink{}
	e := newTestEngine(ml, now, sink)

	receipt, err := e.PlaceBid(ctx, auction.PlaceBidParams{
		AuctionID: a.ID,
		BidderID:  2,
		Amount:    money(100),
		Origin:    auction.Origin{IPAddress: "203.0.113.9", UserAgent: "test"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.BidCount)
	assert.False(t, receipt.Extended)
	assert.Equal(t, a.EndTime, receipt.EndTime)

	stored, err := ml.AuctionByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentBid.Valid)
	assert.True(t, stored.CurrentBid.Decimal.Equal(money(100)))
	assert.Equal(t, 1, stored.BidCount)

	bids := ml.Bids(a.ID)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].IsWinning)
	assert.Equal(t, models.BidStatusActive, bids[0].Status)
	assert.Equal(t, "203.0.113.9", bids[0].IPAddress)

	assert.Equal(t, int64(1), ml.User(2).TotalBids)

	require.Len(t, sink.bids, 1)
	assert.Zero(t, sink.bids[0].PreviousWinnerID)
}

func TestPlaceBidOutbidsPreviousWinner(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ml := repositories.NewMemoryLedger()
	a := seedActive(ml, now, now.Add(time.Hour))
	sink := &captureSink{}
	e := newTestEngine(ml, now, sink)

	_, err := e.PlaceBid(ctx, auction.PlaceBidParams{AuctionID: a.ID, BidderID: 2, Amount: money(100)})
	require.NoError(t, err)
	_, err = e.PlaceBid(ctx, auction.PlaceBidParams{AuctionID: a.ID, BidderID: 3, Amount: money(105)})
	require.NoError(t, err)

	bids := ml.Bids(a.ID)
	require.Len(t, bids, 2)
	assert.False(t, bids[0].IsWinning)
	assert.Equal(t, models.BidStatusOutbid, bids[0].Status)
	assert.True(t, bids[1].IsWinning)
	assert.Equal(t, models.BidStatusActive, bids[1].Status)

	require.Len(t, sink.bids, 2)
	assert.Equal(t, int64(2), sink.bids[1].PreviousWinnerID)
}

func TestPlaceBidAlreadyWinning(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ml := repositories.NewMemoryLedger()
	a := seedActive(ml, now, now.Add(time.Hour))
	e := newTestEngine(ml, now, nil)

	_, err := e.PlaceBid(ctx, auction.PlaceBidParams{AuctionID: a.ID, BidderID: 2, Amount: money(100)})
	require.NoError(t, err)

	_, err = e.PlaceBid(ctx, auction.PlaceBidParams{AuctionID: a.ID, BidderID: 2, Amount: money(110)})
	assert.ErrorIs(t, err, auction.ErrAlreadyWinning)

	stored, err := ml.AuctionByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.BidCount, "the rejected raise must not be recorded")
}

func TestPlaceBidAutoExtend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("inside_window", func(t *testing.T) {
		ml := repositories.NewMemoryLedger()
		end := now.Add(30 * time.Second)
		a := seedActive(ml, now, end)
		e := newTestEngine(ml, now, nil)

		receipt, err := e.PlaceBid(ctx, auction.PlaceBidParams{AuctionID: a.ID, BidderID: 2, Amount: money(100)})
		require.NoError(t, err)
		assert.True(t, receipt.Extended)
		// The extension is anchored to the old close, not the bid time.
		assert.Equal(t, end.Add(120*time.Second), receipt.EndTime)

		stored, err := ml.AuctionByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, end.Add(120*time.Second), stored.EndTime)
	})

	t.Run("outside_window", func(t *testing.T) {
		ml := repositories.NewMemoryLedger()
		end := now.Add(2 * time.Minute)
		a := seedActive(ml, now, end)
		e := newTestEngine(ml, now, nil)

		receipt, err := e.PlaceBid(ctx, auction.PlaceBidParams{AuctionID: a.ID, BidderID: 2, Amount: money(100)})
		require.NoError(t, err)
		assert.False(t, receipt.Extended)
		assert.Equal(t, end, receipt.EndTime)

		stored, err := ml.AuctionByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, end, stored.EndTime)
	})

	t.Run("disabled", func(t *testing.T) {
		ml := repositories.NewMemoryLedger()
		end := now.Add(30 * time.Second)
		a := seedActive(ml, now, end)
		a.AutoExtend = false
		a = ml.SeedAuction(a)
		e := newTestEngine(ml, now, nil)

		receipt, err := e.PlaceBid(ctx, auction.PlaceBidParams{AuctionID: a.ID, BidderID: 2, Amount: money(100)})
		require.NoError(t, err)
		assert.False(t, receipt.Extended)
		assert.Equal(t, end, receipt.EndTime)
	})
}

func TestPlaceBidProxyCeilingStored(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ml := repositories.NewMemoryLedger()
	a := seedActive(ml, now, now.Add(time.Hour))
	e := newTestEngine(ml, now, nil)

	_, err := e.PlaceBid(ctx, auction.PlaceBidParams{
		AuctionID: a.ID,
		BidderID:  2,
		Amount:    money(100),
		MaxAmount: decimal.NewNullDecimal(money(500)),
	})
	require.NoError(t, err)

	bids := ml.Bids(a.ID)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].IsProxy)
	assert.True(t, bids[0].MaxAmount.Equal(money(500)))

	// The ceiling is stored only; the visible price stays at the bid.
	stored, err := ml.AuctionByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentBid.Decimal.Equal(money(100)))
}

func TestPlaceBidBusy(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ml := repositories.NewMemoryLedger()
	a := seedActive(ml, now, now.Add(time.Hour))

	locks := auction.NewKeyLock(20 * time.Millisecond)
	e := auction.NewEngine(ml, locks, nil, nil)
	e.SetClock(fixedClock(now))

	require.NoError(t, locks.Acquire(ctx, a.ID))
	defer locks.Release(a.ID)

	_, err := e.PlaceBid(ctx, auction.PlaceBidParams{AuctionID: a.ID, BidderID: 2, Amount: money(100)})
	require.ErrorIs(t, err, auction.ErrBusy)
	assert.True(t, auction.IsRetryable(err))

	bids := ml.Bids(a.ID)
	assert.Empty(t, bids, "a busy rejection must leave no trace")
}

// cancellingLedger withdraws the auction between the engine's read and
// its commit, the way a cancel racing through another process would.
type cancellingLedger struct {
	*repositories.MemoryLedger
}

func (l *cancellingLedger) CommitBid(ctx context.Context, c *auction.BidCommit) (int64, error) {
	_, _ = l.MemoryLedger.CancelAuction(ctx, c.Auction.ID)
	return l.MemoryLedger.CommitBid(ctx, c)
}

func TestPlaceBidLosesToConcurrentCancel(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ml := repositories.NewMemoryLedger()
	a := seedActive(ml, now, now.Add(time.Hour))

	e := auction.NewEngine(&cancellingLedger{MemoryLedger: ml}, auction.NewKeyLock(time.Second), nil, nil)
	e.SetClock(fixedClock(now))

	_, err := e.PlaceBid(ctx, auction.PlaceBidParams{AuctionID: a.ID, BidderID: 2, Amount: money(100)})
	require.ErrorIs(t, err, auction.ErrAuctionNotActive)
	assert.True(t, auction.IsValidation(err))
	// The bidder sees the plain outcome, not an internal failure.
	assert.EqualError(t, err, "auction is not active")
	assert.Empty(t, ml.Bids(a.ID))
}

// Concurrent bidders hammering one auction must never produce two
// winning bids or a price that moved by less than the increment.
func TestPlaceBidConcurrentMonotonicPrice(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ml := repositories.NewMemoryLedger()
	a := seedActive(ml, now, now.Add(time.Hour))
	e := newTestEngine(ml, now, nil)

	const bidders = 24
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			amount := money(100).Add(money(5).Mul(decimal.NewFromInt(int64(n))))
			_, err := e.PlaceBid(ctx, auction.PlaceBidParams{
				AuctionID: a.ID,
				BidderID:  int64(100 + n),
				Amount:    amount,
			})
			if err != nil {
				assert.True(t, auction.IsValidation(err), "unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	bids := ml.Bids(a.ID)
	require.NotEmpty(t, bids)

	winners := 0
	prev := decimal.Zero
	for i, b := range bids {
		if b.IsWinning {
			winners++
		}
		if i > 0 {
			assert.True(t, b.Amount.Sub(prev).Cmp(money(5)) >= 0,
				"bid %d moved the price by less than the increment", i)
		}
		prev = b.Amount
	}
	assert.Equal(t, 1, winners, "exactly one winning bid")

	stored, err := ml.AuctionByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, len(bids), stored.BidCount)
	assert.True(t, stored.CurrentBid.Decimal.Equal(bids[len(bids)-1].Amount))
}
