package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gavelworks/gavel/marketplace/auction"
	"github.com/gavelworks/gavel/marketplace/database/models"
)

// MemoryLedger is a concurrency-safe in-memory ledger. It honors the
// same contract as LedgerStore (atomic bid unit, status-guarded
// settlement, idempotent batch select), which is what lets the engine
// and sweeper property tests run without a live database.
type MemoryLedger struct {
	mu sync.Mutex

	auctions      map[int64]*models.Auction
	bids          map[int64][]*models.Bid // auction id -> bids in arrival order
	users         map[int64]*models.User
	transactions  []*models.Transaction
	notifications []*models.Notification

	nextAuctionID int64
	nextBidID     int64
}

var _ auction.Ledger = (*MemoryLedger)(nil)
var _ auction.Listings = (*MemoryLedger)(nil)
var _ auction.NotificationStore = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		auctions: make(map[int64]*models.Auction),
		bids:     make(map[int64][]*models.Bid),
		users:    make(map[int64]*models.User),
	}
}

func copyAuction(a *models.Auction) *models.Auction {
	cp := *a
	return &cp
}

func copyBid(b *models.Bid) *models.Bid {
	cp := *b
	return &cp
}

func (m *MemoryLedger) user(id int64) *models.User {
	u, ok := m.users[id]
	if !ok {
		u = &models.User{ID: id}
		m.users[id] = u
	}
	return u
}

func (m *MemoryLedger) AuctionByID(_ context.Context, id int64) (*models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[id]
	if !ok {
		return nil, auction.ErrAuctionNotFound
	}
	return copyAuction(a), nil
}

func (m *MemoryLedger) WinningBid(_ context.Context, auctionID int64) (*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.bids[auctionID] {
		if b.IsWinning {
			return copyBid(b), nil
		}
	}
	return nil, nil
}

func (m *MemoryLedger) CommitBid(_ context.Context, c *auction.BidCommit) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[c.Auction.ID]
	if !ok {
		return 0, auction.ErrAuctionNotFound
	}
	if a.Status != models.AuctionStatusActive {
		return 0, auction.ErrAuctionNotActive
	}

	for _, b := range m.bids[a.ID] {
		if b.IsWinning {
			b.IsWinning = false
			b.Status = models.BidStatusOutbid
		}
	}

	m.nextBidID++
	bid := &models.Bid{
		ID:        m.nextBidID,
		AuctionID: a.ID,
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
	m.bids[a.ID] = append(m.bids[a.ID], bid)

	a.CurrentBid.Valid = true
	a.CurrentBid.Decimal = c.Amount
	a.BidCount++
	a.UpdatedAt = c.PlacedAt
	if !c.NewEndTime.IsZero() {
		a.EndTime = c.NewEndTime
	}

	return bid.ID, nil
}

func (m *MemoryLedger) ExpiredAuctions(_ context.Context, now time.Time, limit int) ([]*models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*models.Auction
	for _, a := range m.auctions {
		if a.Status == models.AuctionStatusActive && !a.EndTime.After(now) {
			expired = append(expired, copyAuction(a))
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].EndTime.Before(expired[j].EndTime)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (m *MemoryLedger) Settle(_ context.Context, st *auction.Settlement) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[st.Auction.ID]
	if !ok {
		return false, auction.ErrAuctionNotFound
	}
	if a.Status != models.AuctionStatusActive {
		return false, nil
	}

	a.Status = models.AuctionStatus(st.Outcome)
	a.UpdatedAt = st.SettledAt

	if st.Outcome != auction.OutcomeSold {
		return true, nil
	}

	for _, b := range m.bids[a.ID] {
		if b.IsWinning {
			b.Status = models.BidStatusWon
		} else {
			b.Status = models.BidStatusLost
		}
	}

	m.transactions = append(m.transactions, &models.Transaction{
		ID:          int64(len(m.transactions) + 1),
		Reference:   st.Reference,
		AuctionID:   a.ID,
		BuyerID:     st.WinnerID,
		SellerID:    a.SellerID,
		FinalPrice:  st.FinalPrice,
		TotalAmount: st.FinalPrice,
		CreatedAt:   st.SettledAt,
	})

	m.user(st.WinnerID).TotalWins++
	m.user(a.SellerID).TotalSales++

	return true, nil
}

func (m *MemoryLedger) ActivateScheduled(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, a := range m.auctions {
		if a.Status == models.AuctionStatusScheduled && !a.StartTime.After(now) {
			a.Status = models.AuctionStatusActive
			a.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryLedger) IncrementUserBids(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.user(userID).TotalBids++
	return nil
}

func (m *MemoryLedger) CreateAuction(_ context.Context, a *models.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAuctionID++
	a.ID = m.nextAuctionID
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.auctions[a.ID] = copyAuction(a)
	return nil
}

func (m *MemoryLedger) AuctionByReference(_ context.Context, code string) (*models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.auctions {
		if a.ReferenceCode == code {
			return copyAuction(a), nil
		}
	}
	return nil, auction.ErrAuctionNotFound
}

func (m *MemoryLedger) CancelAuction(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[id]
	if !ok {
		return false, nil
	}
	if a.Status.Terminal() || a.BidCount > 0 {
		return false, nil
	}
	a.Status = models.AuctionStatusCancelled
	a.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryLedger) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n.ID = int64(len(m.notifications) + 1)
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	m.notifications = append(m.notifications, n)
	return nil
}

// Test inspection helpers.

// SeedAuction inserts an auction as-is, assigning an id when missing.
func (m *MemoryLedger) SeedAuction(a *models.Auction) *models.Auction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == 0 {
		m.nextAuctionID++
		a.ID = m.nextAuctionID
	} else if a.ID > m.nextAuctionID {
		m.nextAuctionID = a.ID
	}
	m.auctions[a.ID] = copyAuction(a)
	return copyAuction(a)
}

// Bids returns all bids for one auction in arrival order.
func (m *MemoryLedger) Bids(auctionID int64) []*models.Bid {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Bid, 0, len(m.bids[auctionID]))
	for _, b := range m.bids[auctionID] {
		out = append(out, copyBid(b))
	}
	return out
}

// Transactions returns all settlement records.
func (m *MemoryLedger) Transactions() []*models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Transaction, 0, len(m.transactions))
	for _, t := range m.transactions {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// User returns a copy of the user's aggregate counters.
func (m *MemoryLedger) User(id int64) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()

	return *m.user(id)
}

// Notifications returns all persisted notification rows.
func (m *MemoryLedger) Notifications() []*models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		cp := *n
		out = append(out, &cp)
	}
	return out
}
