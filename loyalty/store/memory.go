// Package store provides the in-memory ConsumerStore implementation used
// by tests, demos, and single-process runs without a database file.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps consumers, balances, and history in process. History is held
// sorted by event timestamp; the eventIDs set enforces global eventId
// uniqueness. Safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	consumers map[loyalty.ConsumerID]loyalty.Consumer
	balances  map[loyalty.ConsumerID]loyalty.Balance
	history   map[loyalty.ConsumerID][]loyalty.HistoryEvent
	eventIDs  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		consumers: make(map[loyalty.ConsumerID]loyalty.Consumer),
		balances:  make(map[loyalty.ConsumerID]loyalty.Balance),
		history:   make(map[loyalty.ConsumerID][]loyalty.HistoryEvent),
		eventIDs:  make(map[string]bool),
	}
}

var _ loyalty.ConsumerStore = (*Memory)(nil)

func (m *Memory) GetConsumer(_ context.Context, id loyalty.ConsumerID) (*loyalty.Consumer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.consumers[id]
	if !ok {
		return nil, loyalty.ErrConsumerNotFound
	}
	out := cloneConsumer(c)
	return &out, nil
}

func (m *Memory) PutConsumer(_ context.Context, c *loyalty.Consumer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consumers[c.ID] = cloneConsumer(*c)
	return nil
}

func (m *Memory) GetBalance(_ context.Context, id loyalty.ConsumerID) (loyalty.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Unknown consumers read as a fresh zeroed balance.
	return m.balances[id], nil
}

func (m *Memory) UpdateBalance(_ context.Context, id loyalty.ConsumerID, b loyalty.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balances[id] = b
	return nil
}

func (m *Memory) AppendHistory(_ context.Context, ev *loyalty.HistoryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.eventIDs[ev.EventID] {
		return &loyalty.DuplicateEventError{EventID: ev.EventID}
	}

	record := cloneHistory(*ev)
	events := m.history[ev.ConsumerID]

	// Binary search for the insertion point keeps history sorted by event
	// timestamp without re-sorting on every read.
	i := sort.Search(len(events), func(i int) bool {
		return events[i].Timestamp.After(record.Timestamp)
	})
	events = append(events, loyalty.HistoryEvent{})
	copy(events[i+1:], events[i:])
	events[i] = record
	m.history[ev.ConsumerID] = events

	m.eventIDs[ev.EventID] = true
	return nil
}

func (m *Memory) HasEvent(_ context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eventIDs[eventID], nil
}

func (m *Memory) HistoryForConsumer(_ context.Context, id loyalty.ConsumerID) ([]loyalty.HistoryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.history[id]
	out := make([]loyalty.HistoryEvent, len(events))
	for i, ev := range events {
		// Reverse: stored ascending, served newest first.
		out[len(events)-1-i] = cloneHistory(ev)
	}
	return out, nil
}

func (m *Memory) PurchaseCount(_ context.Context, id loyalty.ConsumerID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, ev := range m.history[id] {
		if ev.EventType == loyalty.EventPurchase {
			n++
		}
	}
	return n, nil
}

func (m *Memory) FirstPurchaseAt(_ context.Context, id loyalty.ConsumerID) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ev := range m.history[id] {
		if ev.EventType == loyalty.EventPurchase {
			ts := ev.Timestamp
			return &ts, nil
		}
	}
	return nil, nil
}

func (m *Memory) DaysSinceFirstPurchase(ctx context.Context, id loyalty.ConsumerID, asOf time.Time) (int64, error) {
	first, err := m.FirstPurchaseAt(ctx, id)
	if err != nil {
		return 0, err
	}
	if first == nil {
		return 0, nil
	}
	return loyalty.DaysSince(*first, asOf), nil
}

// =============================================================================
// COPY HELPERS - Stored records never alias caller memory
// =============================================================================

func cloneConsumer(c loyalty.Consumer) loyalty.Consumer {
	out := c
	if c.BirthDate != nil {
		bd := *c.BirthDate
		out.BirthDate = &bd
	}
	if c.Tags != nil {
		out.Tags = append([]string(nil), c.Tags...)
	}
	return out
}

func cloneHistory(ev loyalty.HistoryEvent) loyalty.HistoryEvent {
	out := ev
	if ev.PointBreakdown != nil {
		out.PointBreakdown = append([]loyalty.BreakdownEntry(nil), ev.PointBreakdown...)
	}
	return out
}
