package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gavelworks/gavel/marketplace/database/models"
)

// BidAccepted is broadcast after a bid commit.
type BidAccepted struct {
	AuctionID        int64
	BidID            int64
	BidderID         int64
	PreviousWinnerID int64 // zero when this is the first bid
	Amount           decimal.Decimal
	BidCount         int
	EndTime          time.Time
	Extended         bool
	AcceptedAt       time.Time
}

// AuctionSettled is broadcast after an expiry transition commits.
type AuctionSettled struct {
	AuctionID  int64
	SellerID   int64
	Title      string
	Outcome    Outcome
	WinnerID   int64               // zero when no sale
	FinalPrice decimal.NullDecimal // unset when no sale
	SettledAt  time.Time
}

// AuctionEnding is an advisory heads-up for watchers.
type AuctionEnding struct {
	AuctionID int64
	UserID    int64
	Title     string
	EndTime   time.Time
}

// EventSink is the outbound boundary consumed by the notification and
// broadcast layers. Implementations must not block the caller and must
// never fail a committed bid or settlement.
type EventSink interface {
	OnBidAccepted(ctx context.Context, ev BidAccepted)
	OnAuctionSettled(ctx context.Context, ev AuctionSettled)
	OnAuctionEnding(ctx context.Context, ev AuctionEnding)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) OnBidAccepted(context.Context, BidAccepted) {}

func (NopSink) OnAuctionSettled(context.Context, AuctionSettled) {}

func (NopSink) OnAuctionEnding(context.Context, AuctionEnding) {}

// NotificationStore persists advisory notification rows.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Event is what subscribers receive; exactly one field is set.
type Event struct {
	Bid     *BidAccepted
	Settled *AuctionSettled
	Ending  *AuctionEnding
}

// Notifier fans events out to live subscribers and writes persistent
// notification rows. Both paths are fire-and-forget: a slow subscriber
// drops events, a failed insert is logged and forgotten.
type Notifier struct {
	store NotificationStore // may be nil

	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewNotifier(store NotificationStore) *Notifier {
	return &Notifier{
		store: store,
		subs:  make(map[int]chan Event),
	}
}

// Subscribe registers a live listener. The returned cancel func must be
// called when the listener goes away.
func (n *Notifier) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		if _, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(ch)
		}
		n.mu.Unlock()
	}
	return ch, cancel
}

func (n *Notifier) publish(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; the event is advisory.
		}
	}
}

func (n *Notifier) persist(note *models.Notification) {
	if n.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.store.CreateNotification(ctx, note); err != nil {
			slog.Error("Failed to persist notification",
				slog.Int64("user_id", note.UserID),
				slog.String("notification_type", string(note.Type)),
				slog.Any("error", err))
		}
	}()
}

func (n *Notifier) OnBidAccepted(_ context.Context, ev BidAccepted) {
	n.publish(Event{Bid: &ev})

	if ev.PreviousWinnerID != 0 && ev.PreviousWinnerID != ev.BidderID {
		n.persist(&models.Notification{
			UserID:  ev.PreviousWinnerID,
			Type:    models.NotificationOutbid,
			Title:   "You've been outbid!",
			Message: fmt.Sprintf("Someone outbid you on auction #%d", ev.AuctionID),
			Link:    fmt.Sprintf("/auction/%d", ev.AuctionID),
		})
	}
}

func (n *Notifier) OnAuctionSettled(_ context.Context, ev AuctionSettled) {
	n.publish(Event{Settled: &ev})

	if ev.Outcome != OutcomeSold {
		return
	}
	price := ev.FinalPrice.Decimal.StringFixed(2)
	n.persist(&models.Notification{
		UserID:  ev.WinnerID,
		Type:    models.NotificationAuctionWon,
		Title:   "You won the auction!",
		Message: fmt.Sprintf("You won %q for $%s", ev.Title, price),
		Link:    fmt.Sprintf("/auction/%d", ev.AuctionID),
	})
	n.persist(&models.Notification{
		UserID:  ev.SellerID,
		Type:    models.NotificationAuctionSold,
		Title:   "Your auction sold",
		Message: fmt.Sprintf("%q sold for $%s", ev.Title, price),
		Link:    fmt.Sprintf("/auction/%d", ev.AuctionID),
	})
}

func (n *Notifier) OnAuctionEnding(_ context.Context, ev AuctionEnding) {
	n.publish(Event{Ending: &ev})

	n.persist(&models.Notification{
		UserID:  ev.UserID,
		Type:    models.NotificationAuctionEnding,
		Title:   "Auction ending soon",
		Message: fmt.Sprintf("%q is ending soon", ev.Title),
		Link:    fmt.Sprintf("/auction/%d", ev.AuctionID),
	})
}

// Close drops all subscribers.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
