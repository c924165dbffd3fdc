package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/loyalty/store"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

func birthDate(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func record(consumer loyalty.ConsumerID, eventID string, et loyalty.EventType, ts time.Time) *loyalty.HistoryEvent {
	return &loyalty.HistoryEvent{
		ID:         "rec-" + eventID,
		ConsumerID: consumer,
		EventID:    eventID,
		EventType:  et,
		Timestamp:  ts,
		Market:     loyalty.MarketHK,
		RecordedAt: ts.Add(time.Second),
	}
}

// =============================================================================
// CONSUMERS
// =============================================================================

func TestMemory_ConsumerRoundTrip(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	in := &loyalty.Consumer{
		ID:        "consumer-1",
		Market:    loyalty.MarketJP,
		BirthDate: birthDate(1991, time.July, 4),
		IsVIP:     true,
		Tags:      []string{"beauty-insider", "early-adopter"},
	}
	if err := m.PutConsumer(ctx, in); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := m.GetConsumer(ctx, "consumer-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != in.ID || got.Market != in.Market || !got.IsVIP {
		t.Errorf("consumer = %+v", got)
	}
	if got.BirthDate == nil || !got.BirthDate.Equal(*in.BirthDate) {
		t.Errorf("birth date = %v, want %v", got.BirthDate, in.BirthDate)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "beauty-insider" {
		t.Errorf("tags = %v", got.Tags)
	}
}

func TestMemory_UnknownConsumerIsNotFound(t *testing.T) {
	m := store.NewMemory()

	_, err := m.GetConsumer(context.Background(), "nobody")
	if !loyalty.IsNotFound(err) {
		t.Errorf("expected a not-found error, got %v", err)
	}
}

func TestMemory_ConsumerCopiesDoNotAlias(t *testing.T) {
	// GIVEN: A stored consumer
	// WHEN: The caller mutates the record it put or the record it got
	// THEN: The stored state stays untouched

	m := store.NewMemory()
	ctx := context.Background()

	in := &loyalty.Consumer{
		ID:        "consumer-1",
		Market:    loyalty.MarketHK,
		BirthDate: birthDate(1990, time.March, 22),
		Tags:      []string{"original"},
	}
	if err := m.PutConsumer(ctx, in); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	in.Tags[0] = "mutated-after-put"
	*in.BirthDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

	got, err := m.GetConsumer(ctx, "consumer-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Tags[0] != "original" {
		t.Errorf("stored tags follow caller mutation: %v", got.Tags)
	}
	if got.BirthDate.Year() != 1990 {
		t.Errorf("stored birth date follows caller mutation: %v", got.BirthDate)
	}

	got.Tags[0] = "mutated-after-get"
	again, _ := m.GetConsumer(ctx, "consumer-1")
	if again.Tags[0] != "original" {
		t.Errorf("stored tags follow reader mutation: %v", again.Tags)
	}
}

// =============================================================================
// BALANCES
// =============================================================================

func TestMemory_BalanceDefaultsAndUpdate(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	// Unknown consumers read as zero, not as an error.
	b, err := m.GetBalance(ctx, "fresh")
	if err != nil || b != (loyalty.Balance{}) {
		t.Errorf("fresh balance = %+v (err %v), want zero", b, err)
	}

	want := loyalty.Balance{
		Total:            5000,
		Available:        3200,
		Used:             1800,
		AccountVersion:   7,
		TransactionCount: 7,
	}
	if err := m.UpdateBalance(ctx, "fresh", want); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	b, err = m.GetBalance(ctx, "fresh")
	if err != nil || b != want {
		t.Errorf("balance = %+v (err %v), want %+v", b, err, want)
	}
}

// =============================================================================
// HISTORY
// =============================================================================

func TestMemory_AppendRejectsDuplicateEventID(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	ts := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)

	if err := m.AppendHistory(ctx, record("consumer-1", "evt-1", loyalty.EventPurchase, ts)); err != nil {
		t.Fatalf("first append failed: %v", err)
	}

	err := m.AppendHistory(ctx, record("consumer-1", "evt-1", loyalty.EventPurchase, ts.Add(time.Hour)))
	if !errors.Is(err, loyalty.ErrDuplicateEvent) {
		t.Errorf("same-consumer replay: got %v", err)
	}

	// Uniqueness is global, not per consumer.
	err = m.AppendHistory(ctx, record("consumer-2", "evt-1", loyalty.EventPurchase, ts))
	if !errors.Is(err, loyalty.ErrDuplicateEvent) {
		t.Errorf("cross-consumer replay: got %v", err)
	}

	if history, _ := m.HistoryForConsumer(ctx, "consumer-1"); len(history) != 1 {
		t.Errorf("history grew on rejected appends: %d records", len(history))
	}
}

func TestMemory_HasEvent(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	if has, _ := m.HasEvent(ctx, "evt-1"); has {
		t.Error("empty store claims to have evt-1")
	}

	ts := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)
	if err := m.AppendHistory(ctx, record("consumer-1", "evt-1", loyalty.EventPurchase, ts)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if has, _ := m.HasEvent(ctx, "evt-1"); !has {
		t.Error("appended event not visible to HasEvent")
	}
	if has, _ := m.HasEvent(ctx, "evt-2"); has {
		t.Error("unknown event id reported as present")
	}
}

func TestMemory_HistoryServedNewestFirst(t *testing.T) {
	// GIVEN: Events appended out of timestamp order
	// WHEN: History is read back
	// THEN: Records come newest first regardless of insertion order

	m := store.NewMemory()
	ctx := context.Background()

	t1 := time.Date(2025, time.January, 10, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)
	t3 := t1.Add(48 * time.Hour)

	for _, ev := range []*loyalty.HistoryEvent{
		record("consumer-1", "evt-mid", loyalty.EventPurchase, t2),
		record("consumer-1", "evt-old", loyalty.EventPurchase, t1),
		record("consumer-1", "evt-new", loyalty.EventPurchase, t3),
	} {
		if err := m.AppendHistory(ctx, ev); err != nil {
			t.Fatalf("append %s failed: %v", ev.EventID, err)
		}
	}

	history, err := m.HistoryForConsumer(ctx, "consumer-1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	want := []string{"evt-new", "evt-mid", "evt-old"}
	if len(history) != len(want) {
		t.Fatalf("history has %d records, want %d", len(history), len(want))
	}
	for i, id := range want {
		if history[i].EventID != id {
			t.Errorf("history[%d] = %s, want %s", i, history[i].EventID, id)
		}
	}
}

func TestMemory_HistoryCopiesDoNotAlias(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	ev := record("consumer-1", "evt-1", loyalty.EventPurchase, time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC))
	ev.PointBreakdown = []loyalty.BreakdownEntry{{RuleName: "base", Points: 500}}
	if err := m.AppendHistory(ctx, ev); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	first, _ := m.HistoryForConsumer(ctx, "consumer-1")
	first[0].PointBreakdown[0].Points = 999999

	second, _ := m.HistoryForConsumer(ctx, "consumer-1")
	if second[0].PointBreakdown[0].Points != 500 {
		t.Errorf("stored breakdown follows reader mutation: %+v", second[0].PointBreakdown)
	}
}

// =============================================================================
// PURCHASE QUERIES
// =============================================================================

func TestMemory_PurchaseQueries(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	t1 := time.Date(2025, time.February, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)
	t3 := t1.Add(96 * time.Hour)

	// Insert the later purchase first; the sorted history must still report
	// t1 as the first purchase.
	for _, ev := range []*loyalty.HistoryEvent{
		record("consumer-1", "evt-late", loyalty.EventPurchase, t3),
		record("consumer-1", "evt-redeem", loyalty.EventRedemption, t2),
		record("consumer-1", "evt-early", loyalty.EventPurchase, t1),
	} {
		if err := m.AppendHistory(ctx, ev); err != nil {
			t.Fatalf("append %s failed: %v", ev.EventID, err)
		}
	}

	count, err := m.PurchaseCount(ctx, "consumer-1")
	if err != nil || count != 2 {
		t.Errorf("purchase count = %d (err %v), want 2", count, err)
	}

	first, err := m.FirstPurchaseAt(ctx, "consumer-1")
	if err != nil || first == nil || !first.Equal(t1) {
		t.Errorf("first purchase = %v (err %v), want %v", first, err, t1)
	}

	// 45 full days plus a few hours floors to 45.
	days, err := m.DaysSinceFirstPurchase(ctx, "consumer-1", t1.Add(45*24*time.Hour+6*time.Hour))
	if err != nil || days != 45 {
		t.Errorf("days since first purchase = %d (err %v), want 45", days, err)
	}
}

func TestMemory_PurchaseQueriesOnEmptyHistory(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	if count, err := m.PurchaseCount(ctx, "nobody"); err != nil || count != 0 {
		t.Errorf("purchase count = %d (err %v), want 0", count, err)
	}
	if first, err := m.FirstPurchaseAt(ctx, "nobody"); err != nil || first != nil {
		t.Errorf("first purchase = %v (err %v), want nil", first, err)
	}
	days, err := m.DaysSinceFirstPurchase(ctx, "nobody", time.Now())
	if err != nil || days != 0 {
		t.Errorf("days since first purchase = %d (err %v), want 0", days, err)
	}
}
