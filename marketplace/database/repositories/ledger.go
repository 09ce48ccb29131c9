// Package repositories contains the bun-backed store implementations
// plus an in-memory ledger used by tests.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/gavelworks/gavel/marketplace/auction"
	"github.com/gavelworks/gavel/marketplace/database/models"
)

// LedgerStore is the PostgreSQL ledger. Multi-row units run in
// serializable transactions with the auction row taken FOR UPDATE, so
// the store upholds the same exclusivity across processes that the
// in-process key lock provides within one.
type LedgerStore struct {
	db *bun.DB
}

var _ auction.Ledger = (*LedgerStore)(nil)
var _ auction.Listings = (*LedgerStore)(nil)
var _ auction.WatchSource = (*LedgerStore)(nil)
var _ auction.NotificationStore = (*LedgerStore)(nil)

func NewLedgerStore(db *bun.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func serializable() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}

func (s *LedgerStore) AuctionByID(ctx context.Context, id int64) (*models.Auction, error) {
	a := new(models.Auction)
	err := s.db.NewSelect().
		Model(a).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auction.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

func (s *LedgerStore) WinningBid(ctx context.Context, auctionID int64) (*models.Bid, error) {
	b := new(models.Bid)
	err := s.db.NewSelect().
		Model(b).
		Where("auction_id = ? AND is_winning = TRUE", auctionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get winning bid: %w", err)
	}
	return b, nil
}

func (s *LedgerStore) CommitBid(ctx context.Context, c *auction.BidCommit) (int64, error) {
	bid := &models.Bid{
		AuctionID: c.Auction.ID,
		BidderID:  c.BidderID,
		Amount:    c.Amount,
		MaxAmount: c.MaxAmount,
		IsProxy:   c.IsProxy,
		IsWinning: true,
		Status:    models.BidStatusActive,
		IPAddress: c.Origin.IPAddress,
		UserAgent: c.Origin.UserAgent,
		CreatedAt: c.PlacedAt,
	}

	err := s.db.RunInTx(ctx, serializable(), func(ctx context.Context, tx bun.Tx) error {
		// Re-take the row lock inside the transaction; the in-process
		// key lock does not cover other writers of the same database.
		locked := new(models.Auction)
		if err := tx.NewSelect().
			Model(locked).
			Where("id = ?", c.Auction.ID).
			For("UPDATE").
			Scan(ctx); err != nil {
			return fmt.Errorf("failed to lock auction: %w", err)
		}
		if locked.Status != models.AuctionStatusActive {
			return auction.ErrAuctionNotActive
		}

		if _, err := tx.NewInsert().Model(bid).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert bid: %w", err)
		}

		if _, err := tx.NewUpdate().
			Model((*models.Bid)(nil)).
			Set("is_winning = FALSE").
			Set("status = ?", models.BidStatusOutbid).
			Where("auction_id = ? AND id != ? AND is_winning = TRUE", c.Auction.ID, bid.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to flip previous winning bid: %w", err)
		}

		q := tx.NewUpdate().
			Model((*models.Auction)(nil)).
			Set("current_bid = ?", c.Amount).
			Set("bid_count = bid_count + 1").
			Set("updated_at = ?", c.PlacedAt).
			Where("id = ?", c.Auction.ID)
		if !c.NewEndTime.IsZero() {
			q = q.Set("end_time = ?", c.NewEndTime)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to update auction: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return bid.ID, nil
}

func (s *LedgerStore) ExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := s.db.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusActive).
		Where("end_time <= ?", now).
		Order("end_time ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired auctions: %w", err)
	}
	return auctions, nil
}

func (s *LedgerStore) Settle(ctx context.Context, st *auction.Settlement) (bool, error) {
	settled := false
	err := s.db.RunInTx(ctx, serializable(), func(ctx context.Context, tx bun.Tx) error {
		// The status guard makes the transition exactly-once: a second
		// sweep matches zero rows and backs off.
		res, err := tx.NewUpdate().
			Model((*models.Auction)(nil)).
			Set("status = ?", models.AuctionStatus(st.Outcome)).
			Set("updated_at = ?", st.SettledAt).
			Where("id = ? AND status = ?", st.Auction.ID, models.AuctionStatusActive).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update auction status: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return nil
		}
		settled = true

		if st.Outcome != auction.OutcomeSold {
			return nil
		}

		if _, err := tx.NewUpdate().
			Model((*models.Bid)(nil)).
			Set("status = ?", models.BidStatusWon).
			Where("auction_id = ? AND is_winning = TRUE", st.Auction.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to mark winning bid: %w", err)
		}

		if _, err := tx.NewUpdate().
			Model((*models.Bid)(nil)).
			Set("status = ?", models.BidStatusLost).
			Where("auction_id = ? AND is_winning = FALSE", st.Auction.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to mark losing bids: %w", err)
		}

		txn := &models.Transaction{
			Reference:   st.Reference,
			AuctionID:   st.Auction.ID,
			BuyerID:     st.WinnerID,
			SellerID:    st.Auction.SellerID,
			FinalPrice:  st.FinalPrice,
			TotalAmount: st.FinalPrice,
			CreatedAt:   st.SettledAt,
		}
		if _, err := tx.NewInsert().Model(txn).Exec(ctx); err != nil {
			return fmt.Errorf("failed to create transaction record: %w", err)
		}

		if _, err := tx.NewUpdate().
			Model((*models.User)(nil)).
			Set("total_wins = total_wins + 1").
			Where("id = ?", st.WinnerID).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to update winner stats: %w", err)
		}
		if _, err := tx.NewUpdate().
			Model((*models.User)(nil)).
			Set("total_sales = total_sales + 1").
			Where("id = ?", st.Auction.SellerID).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to update seller stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return settled, nil
}

func (s *LedgerStore) ActivateScheduled(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionStatusActive).
		Set("updated_at = ?", now).
		Where("status = ? AND start_time <= ?", models.AuctionStatusScheduled, now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to activate scheduled auctions: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

func (s *LedgerStore) IncrementUserBids(ctx context.Context, userID int64) error {
	_, err := s.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("total_bids = total_bids + 1").
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to increment user bid count: %w", err)
	}
	return nil
}

func (s *LedgerStore) CreateAuction(ctx context.Context, a *models.Auction) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	if _, err := s.db.NewInsert().Model(a).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

func (s *LedgerStore) AuctionByReference(ctx context.Context, code string) (*models.Auction, error) {
	a := new(models.Auction)
	err := s.db.NewSelect().
		Model(a).
		Where("reference_code = ?", code).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auction.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction by reference: %w", err)
	}
	return a, nil
}

func (s *LedgerStore) CancelAuction(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionStatusCancelled).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND bid_count = 0", id).
		Where("status IN (?)", bun.In([]models.AuctionStatus{
			models.AuctionStatusDraft,
			models.AuctionStatusScheduled,
			models.AuctionStatusActive,
		})).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to cancel auction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

func (s *LedgerStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if _, err := s.db.NewInsert().Model(n).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (s *LedgerStore) WatchedEndingSoon(ctx context.Context, now time.Time, window time.Duration, limit int) ([]auction.EndingSoonWatch, error) {
	var rows []struct {
		UserID    int64     `bun:"user_id"`
		AuctionID int64     `bun:"auction_id"`
		Title     string    `bun:"title"`
		EndTime   time.Time `bun:"end_time"`
	}

	err := s.db.NewSelect().
		ColumnExpr("w.user_id").
		ColumnExpr("a.id AS auction_id").
		ColumnExpr("a.title").
		ColumnExpr("a.end_time").
		TableExpr("watchlist AS w").
		Join("JOIN auctions AS a ON a.id = w.auction_id").
		Where("a.status = ?", models.AuctionStatusActive).
		Where("a.end_time > ? AND a.end_time <= ?", now, now.Add(window)).
		Where(`NOT EXISTS (
			SELECT 1 FROM notifications n
			WHERE n.user_id = w.user_id
			AND n.notification_type = ?
			AND n.link = '/auction/' || a.id
			AND n.created_at > ?
		)`, models.NotificationAuctionEnding, now.Add(-2*time.Hour)).
		Limit(limit).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to select ending-soon watchers: %w", err)
	}

	watches := make([]auction.EndingSoonWatch, 0, len(rows))
	for _, r := range rows {
		watches = append(watches, auction.EndingSoonWatch{
			UserID:    r.UserID,
			AuctionID: r.AuctionID,
			Title:     r.Title,
			EndTime:   r.EndTime,
		})
	}
	return watches, nil
}
