/*
processor.go - The end-to-end event pipeline

PURPOSE:
  ProcessEvent drives one event through the full pipeline: validate,
  reject duplicates, serialize per consumer, snapshot the balance, run the
  applicable rules against a bound fact set, turn matched outcomes into
  breakdown entries, apply the signed total to the balance, persist, and
  shape the response.

PIPELINE (in order):
   1. Validate the input
   2. Reject duplicate eventId
   3. Acquire the per-consumer lock
   4. Read the balance snapshot
   5. Load rules for {market, eventType}
   6. Bind the facts engine to the event
   7. Run the rule engine (matched outcomes, priority-ordered)
   8. Calculate a breakdown entry per outcome, sum the signed points
   9. Apply the total to the balance
  10. Persist history + balance (balance rolled back if history fails)
  11. Release the lock
  12. Return the response

GUARANTEES:
  - Zero matches still persist: the history records the event and the
    balance counters advance.
  - Deadline expiry before the commit writes nothing; after the commit the
    response is always formed.
  - Soft failures (unknown fact/operator, calculation errors) never abort
    the run; they appear in the response's errors list.

SEE ALSO:
  - rule.go: The matching run
  - store.go: The persistence contract, including duplicate rejection
*/
package loyalty

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/warp/loyalty-engine/metrics"
)

// RuleSource supplies the rules applicable to an event. The factory
// package's catalog implements it with an atomically swappable snapshot.
type RuleSource interface {
	RulesFor(market Market, eventType EventType) []Rule
}

// Calculator turns one matched rule outcome into a breakdown entry. On
// error the returned entry must still be usable with zero points; the
// processor appends it and records a soft error.
type Calculator interface {
	Calculate(ev *EventInput, matched MatchedEvent) (BreakdownEntry, error)
}

type Processor struct {
	store  ConsumerStore
	rules  RuleSource
	facts  *Facts
	engine *Engine
	calc   Calculator
	locks  *LockMap
	logger *slog.Logger

	// now is the clock used by validation; tests pin it.
	now func() time.Time
}

func NewProcessor(store ConsumerStore, rules RuleSource, facts *Facts, calc Calculator, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:  store,
		rules:  rules,
		facts:  facts,
		engine: NewEngine(logger),
		calc:   calc,
		locks:  NewLockMap(),
		logger: logger,
		now:    time.Now,
	}
}

// SweepLocks drops per-consumer lock entries idle for at least idleFor and
// reports how many were removed. Meant for a periodic maintenance ticker.
func (p *Processor) SweepLocks(idleFor time.Duration) int {
	removed := p.locks.Sweep(idleFor)
	metrics.Pipeline().SetLockEntries(p.locks.Len())
	return removed
}

// ProcessEvent runs the pipeline for one event. Hard failures return an
// error (validation, duplicate, store, timeout); soft per-rule failures
// land in the response's Errors list alongside a 200-equivalent result.
func (p *Processor) ProcessEvent(ctx context.Context, input *EventInput) (*EventResponse, error) {
	started := time.Now()

	if err := validateInput(input, p.now()); err != nil {
		p.observe(input, "rejected")
		return nil, err
	}

	// Step 2: duplicate pre-check. The store's uniqueness constraint is the
	// backstop for races that slip past this read.
	dup, err := p.store.HasEvent(ctx, input.EventID)
	if err != nil {
		p.observe(input, "store_error")
		return nil, err
	}
	if dup {
		p.observe(input, "duplicate")
		return nil, &DuplicateEventError{EventID: input.EventID}
	}

	// Steps 3-11 run under the consumer's lock: two events for the same
	// consumer are fully ordered.
	p.locks.Lock(input.ConsumerID)
	defer p.locks.Unlock(input.ConsumerID)

	if err := deadlineExpired(ctx, "post-lock"); err != nil {
		p.observe(input, "timeout")
		return nil, err
	}

	before, err := p.store.GetBalance(ctx, input.ConsumerID)
	if err != nil {
		p.observe(input, "store_error")
		return nil, err
	}

	applicable := p.rules.RulesFor(input.Market, input.EventType)
	fs := p.facts.Bind(input, p.store)

	matched, softErrors, err := p.engine.Run(ctx, applicable, fs)
	if err != nil {
		p.observe(input, "store_error")
		return nil, err
	}

	breakdown := make([]BreakdownEntry, 0, len(matched))
	var total int64
	for _, m := range matched {
		entry, calcErr := p.calc.Calculate(input, m)
		if calcErr != nil {
			softErrors = append(softErrors, ProcessingError{
				RuleName: m.RuleName,
				Code:     CodeCalculation,
				Message:  calcErr.Error(),
			})
			p.logger.Warn("calculation failed",
				"rule", m.RuleName,
				"calculation_type", m.Event.Type,
				"event_id", input.EventID,
				"error", calcErr)
		}
		breakdown = append(breakdown, entry)
		total += entry.Points
		metrics.Pipeline().ObserveRuleMatch(m.RuleName)
	}
	for _, soft := range softErrors {
		metrics.Pipeline().ObserveSoftError(string(soft.Code))
	}

	after := before.Apply(total)

	// Commit gate: nothing may be written once the deadline has passed.
	if err := deadlineExpired(ctx, "pre-commit"); err != nil {
		p.observe(input, "timeout")
		return nil, err
	}

	record := &HistoryEvent{
		ID:                 uuid.NewString(),
		ConsumerID:         input.ConsumerID,
		EventID:            input.EventID,
		EventType:          input.EventType,
		Timestamp:          input.Timestamp,
		Market:             input.Market,
		Channel:            input.Channel,
		ProductLine:        input.ProductLine,
		TotalPointsAwarded: total,
		PointBreakdown:     breakdown,
		ResultingBalance:   after,
		RecordedAt:         time.Now().UTC(),
	}

	if err := p.store.UpdateBalance(ctx, input.ConsumerID, after); err != nil {
		p.observe(input, "store_error")
		return nil, err
	}
	if err := p.store.AppendHistory(ctx, record); err != nil {
		if rbErr := p.store.UpdateBalance(ctx, input.ConsumerID, before); rbErr != nil {
			p.logger.Error("balance rollback failed",
				"consumer_id", input.ConsumerID,
				"event_id", input.EventID,
				"error", rbErr)
		}
		if errors.Is(err, ErrDuplicateEvent) {
			p.observe(input, "duplicate")
			return nil, err
		}
		p.observe(input, "store_error")
		return nil, err
	}

	if softErrors == nil {
		softErrors = []ProcessingError{}
	}
	resp := &EventResponse{
		ConsumerID:         input.ConsumerID,
		EventID:            input.EventID,
		EventType:          input.EventType,
		TotalPointsAwarded: total,
		PointBreakdown:     breakdown,
		Errors:             softErrors,
		ResultingBalance:   after,
	}

	p.observe(input, "processed")
	metrics.Pipeline().AddPoints(string(input.Market), total)
	metrics.Pipeline().ObserveDuration(string(input.EventType), time.Since(started))
	p.logger.Info("event processed",
		"event_id", input.EventID,
		"consumer_id", input.ConsumerID,
		"event_type", input.EventType,
		"market", input.Market,
		"matched_rules", len(matched),
		"soft_errors", len(softErrors),
		"points", total,
		"duration", time.Since(started))

	return resp, nil
}

func (p *Processor) observe(input *EventInput, status string) {
	et, market := "invalid", "invalid"
	if input != nil {
		if input.EventType.Valid() {
			et = string(input.EventType)
		}
		if input.Market.Valid() {
			market = string(input.Market)
		}
	}
	metrics.Pipeline().ObserveEvent(et, market, status)
}

// =============================================================================
// VALIDATION
// =============================================================================

// validateInput enforces the structural contract: required fields, enum
// membership, consumerId length, and the timestamp bound of now + 24h.
func validateInput(input *EventInput, now time.Time) error {
	if input == nil {
		return &ValidationError{Field: "event", Reason: "is missing"}
	}
	if strings.TrimSpace(input.EventID) == "" {
		return &ValidationError{Field: "eventId", Reason: "must not be empty"}
	}
	if !input.EventType.Valid() {
		return &ValidationError{Field: "eventType", Reason: "is not a recognized event type"}
	}
	if !input.Market.Valid() {
		return &ValidationError{Field: "market", Reason: "is not a recognized market"}
	}
	if n := utf8.RuneCountInString(string(input.ConsumerID)); n < 1 || n > 100 {
		return &ValidationError{Field: "consumerId", Reason: "must be between 1 and 100 characters"}
	}
	if input.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "must be a valid instant"}
	}
	if input.Timestamp.After(now.Add(24 * time.Hour)) {
		return &ValidationError{Field: "timestamp", Reason: "must not be more than 24 hours in the future"}
	}
	return nil
}

func deadlineExpired(ctx context.Context, stage string) error {
	if ctx.Err() != nil {
		return &TimeoutError{Stage: stage}
	}
	return nil
}
