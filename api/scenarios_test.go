/*
scenarios_test.go - Tests for the demo catalog and seed data

Tests that the built-in demo rules parse, cover every event type and
market, and that a realistic event sequence lands on the expected ledger.
*/
package api

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/loyalty/store"
	"github.com/warp/loyalty-engine/rewards"
)

func TestDemoRules_ParseAndCover(t *testing.T) {
	// GIVEN: The built-in demo catalog
	rules, err := DemoRules()
	if err != nil {
		t.Fatalf("Demo rules failed to parse: %v", err)
	}
	if len(rules) != 12 {
		t.Fatalf("Expected 12 demo rules, got %d", len(rules))
	}

	seen := make(map[string]bool)
	for _, r := range rules {
		if seen[r.Name] {
			t.Errorf("Duplicate rule name %s", r.Name)
		}
		seen[r.Name] = true
		if !r.Active {
			t.Errorf("Demo rule %s should be active", r.Name)
		}
	}

	// WHEN: Indexing them into a catalog
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog, err := factory.NewStaticCatalog(rules, logger)
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}

	// THEN: Every event type has at least one applicable rule in every market
	eventTypes := []loyalty.EventType{
		loyalty.EventPurchase, loyalty.EventRegistration, loyalty.EventRecycle,
		loyalty.EventConsultation, loyalty.EventAdjustment, loyalty.EventRedemption,
	}
	markets := []loyalty.Market{loyalty.MarketJP, loyalty.MarketHK, loyalty.MarketTW}

	for _, et := range eventTypes {
		for _, m := range markets {
			if len(catalog.RulesFor(m, et)) == 0 {
				t.Errorf("No demo rule applies to %s in %s", et, m)
			}
		}
	}
}

func TestSeedDemo_WritesProfiles(t *testing.T) {
	// GIVEN: An empty store
	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	// WHEN: Seeding
	if err := SeedDemo(ctx, mem, logger); err != nil {
		t.Fatalf("SeedDemo failed: %v", err)
	}

	// THEN: Every demo profile is readable with its distinguishing traits
	vera, err := mem.GetConsumer(ctx, "vip-vera")
	if err != nil {
		t.Fatalf("vip-vera not seeded: %v", err)
	}
	if !vera.IsVIP {
		t.Error("vip-vera should be VIP")
	}

	yuki, err := mem.GetConsumer(ctx, "yuki-jp")
	if err != nil {
		t.Fatalf("yuki-jp not seeded: %v", err)
	}
	if yuki.BirthDate == nil || yuki.BirthDate.Month() != time.March {
		t.Errorf("yuki-jp should have a March birth date, got %v", yuki.BirthDate)
	}
	if yuki.Market != loyalty.MarketJP {
		t.Errorf("yuki-jp should be JP, got %s", yuki.Market)
	}

	for _, id := range []loyalty.ConsumerID{"alice-hk", "mei-tw"} {
		if _, err := mem.GetConsumer(ctx, id); err != nil {
			t.Errorf("%s not seeded: %v", id, err)
		}
	}
}

func TestDemoCatalog_EventSequence(t *testing.T) {
	// GIVEN: The demo catalog and one consumer's realistic event sequence
	rules, err := DemoRules()
	if err != nil {
		t.Fatalf("Demo rules failed to parse: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog, err := factory.NewStaticCatalog(rules, logger)
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}

	mem := store.NewMemory()
	processor := loyalty.NewProcessor(mem, catalog, loyalty.StandardFacts(), rewards.NewCalculator(), logger)
	ctx := context.Background()

	now := time.Now().UTC()
	steps := []struct {
		name       string
		input      *loyalty.EventInput
		wantPoints int64
	}{
		{
			// Registration bonus: 500.
			name: "registration",
			input: &loyalty.EventInput{
				EventID: "seq-reg", EventType: loyalty.EventRegistration,
				Market: loyalty.MarketHK, ConsumerID: "shopper",
				Timestamp: now.Add(-72 * time.Hour),
			},
			wantPoints: 500,
		},
		{
			// First purchase over the basket threshold: 5500 base + 300 bonus.
			name: "big first purchase",
			input: &loyalty.EventInput{
				EventID: "seq-p1", EventType: loyalty.EventPurchase,
				Market: loyalty.MarketHK, ConsumerID: "shopper",
				Timestamp:  now.Add(-48 * time.Hour),
				Attributes: map[string]any{"amount": 5500.0},
			},
			wantPoints: 5800,
		},
		{
			// Repeat purchase a day later: 1000 base + 1000 doubling bonus.
			name: "repeat purchase within window",
			input: &loyalty.EventInput{
				EventID: "seq-p2", EventType: loyalty.EventPurchase,
				Market: loyalty.MarketHK, ConsumerID: "shopper",
				Timestamp:  now.Add(-24 * time.Hour),
				Attributes: map[string]any{"amount": 1000.0},
			},
			wantPoints: 2000,
		},
		{
			// Recycling 12 bottles, capped at 10 per year: 50.
			name: "recycling capped",
			input: &loyalty.EventInput{
				EventID: "seq-rc", EventType: loyalty.EventRecycle,
				Market: loyalty.MarketHK, ConsumerID: "shopper",
				Timestamp:  now,
				Attributes: map[string]any{"recycledCount": 12},
			},
			wantPoints: 50,
		},
		{
			// Consultation bonus: 150.
			name: "consultation",
			input: &loyalty.EventInput{
				EventID: "seq-c", EventType: loyalty.EventConsultation,
				Market: loyalty.MarketHK, ConsumerID: "shopper",
				Timestamp: now,
			},
			wantPoints: 150,
		},
		{
			// Manager claws back 200 points.
			name: "negative adjustment",
			input: &loyalty.EventInput{
				EventID: "seq-a", EventType: loyalty.EventAdjustment,
				Market: loyalty.MarketHK, ConsumerID: "shopper",
				Timestamp:  now,
				Attributes: map[string]any{"adjustedPoints": -200},
			},
			wantPoints: -200,
		},
		{
			// Redemption of 500 points.
			name: "redemption",
			input: &loyalty.EventInput{
				EventID: "seq-rd", EventType: loyalty.EventRedemption,
				Market: loyalty.MarketHK, ConsumerID: "shopper",
				Timestamp:  now,
				Attributes: map[string]any{"redemptionPoints": 500},
			},
			wantPoints: -500,
		},
	}

	// WHEN: Processing the sequence in order
	for _, step := range steps {
		resp, err := processor.ProcessEvent(ctx, step.input)
		if err != nil {
			t.Fatalf("Step %q failed: %v", step.name, err)
		}
		if resp.TotalPointsAwarded != step.wantPoints {
			t.Errorf("Step %q: expected %d points, got %d",
				step.name, step.wantPoints, resp.TotalPointsAwarded)
		}
		if len(resp.Errors) != 0 {
			t.Errorf("Step %q: unexpected soft errors: %+v", step.name, resp.Errors)
		}
	}

	// THEN: The final ledger reflects every transition
	balance, err := mem.GetBalance(ctx, "shopper")
	if err != nil {
		t.Fatalf("Failed to read final balance: %v", err)
	}
	if balance.Total != 8500 {
		t.Errorf("Expected total 8500, got %d", balance.Total)
	}
	if balance.Available != 7800 {
		t.Errorf("Expected available 7800, got %d", balance.Available)
	}
	if balance.Used != 700 {
		t.Errorf("Expected used 700, got %d", balance.Used)
	}
	if balance.TransactionCount != 7 {
		t.Errorf("Expected 7 transactions, got %d", balance.TransactionCount)
	}
	if balance.AccountVersion != 7 {
		t.Errorf("Expected account version 7, got %d", balance.AccountVersion)
	}

	history, err := mem.HistoryForConsumer(ctx, "shopper")
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(history) != 7 {
		t.Errorf("Expected 7 history records, got %d", len(history))
	}
}
