/*
store.go - Persistence interface for consumers, balances, and history

PURPOSE:
  The processor and the facts engine talk to storage through this
  capability interface. The in-memory implementation (loyalty/store)
  backs tests and demos; the SQLite implementation (store/sqlite) is the
  file-backed production store.

CONTRACT:
  - Operations for a single consumer are serialized by the caller (the
    processor holds a per-consumer lock). Implementations must still be
    safe for concurrent use across consumers.
  - Balance reads of unknown consumers return a zeroed balance; profile
    reads return ErrConsumerNotFound; writes implicitly create.
  - AppendHistory rejects a duplicate eventId with ErrDuplicateEvent.
*/
package loyalty

import (
	"context"
	"math"
	"time"
)

// ConsumerStore persists consumers, balances, and the append-only history
// ledger, and answers the derived queries the facts catalog needs.
type ConsumerStore interface {
	// GetConsumer returns the stored profile or ErrConsumerNotFound.
	GetConsumer(ctx context.Context, id ConsumerID) (*Consumer, error)

	// PutConsumer creates or replaces a profile.
	PutConsumer(ctx context.Context, c *Consumer) error

	// GetBalance returns the consumer's balance, zeroed when the consumer
	// has never been written.
	GetBalance(ctx context.Context, id ConsumerID) (Balance, error)

	// UpdateBalance atomically replaces the balance record, creating the
	// consumer implicitly when unknown.
	UpdateBalance(ctx context.Context, id ConsumerID, b Balance) error

	// AppendHistory appends one immutable record. A record whose EventID
	// already exists anywhere in history fails with ErrDuplicateEvent.
	AppendHistory(ctx context.Context, ev *HistoryEvent) error

	// HasEvent reports whether an eventId exists in history.
	HasEvent(ctx context.Context, eventID string) (bool, error)

	// HistoryForConsumer returns the consumer's records, newest first.
	HistoryForConsumer(ctx context.Context, id ConsumerID) ([]HistoryEvent, error)

	// PurchaseCount counts PURCHASE history records for the consumer.
	PurchaseCount(ctx context.Context, id ConsumerID) (int64, error)

	// FirstPurchaseAt returns the event timestamp of the earliest PURCHASE
	// record, or nil when the consumer has none.
	FirstPurchaseAt(ctx context.Context, id ConsumerID) (*time.Time, error)

	// DaysSinceFirstPurchase returns DaysSince(firstPurchase, asOf), or 0
	// when the consumer has no prior purchase.
	DaysSinceFirstPurchase(ctx context.Context, id ConsumerID, asOf time.Time) (int64, error)
}

// DaysSince returns the whole days elapsed from first to asOf, floored.
// Both store implementations derive DaysSinceFirstPurchase with it.
func DaysSince(first, asOf time.Time) int64 {
	hours := asOf.Sub(first).Hours()
	return int64(math.Floor(hours / 24))
}
