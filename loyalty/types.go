/*
Package loyalty provides the core loyalty rules engine.

PURPOSE:
  This package contains the domain types and algorithms for processing
  loyalty events: a facts engine resolving named values from an event and
  consumer state, a rule engine matching declarative condition trees, and
  an event processor that aggregates matched rewards into a per-consumer
  point balance.

KEY CONCEPTS IN THIS FILE (types.go):
  - EventInput: An incoming business event (purchase, registration, ...)
  - Rule / RuleEvent: A declarative rule and the outcome it emits on match
  - Consumer / Balance: Profile and the (total, available, used) ledger
  - BreakdownEntry: One matched rule's contribution to the awarded points
  - HistoryEvent: The immutable record appended per processed event

DESIGN PRINCIPLES:
  1. Immutability: History records are appended, never modified
  2. Integer points: Every award is floor-truncated; balances hold int64
  3. Type Safety: Strong typing for consumer IDs, markets, event types
  4. Determinism: Responses depend only on the event, the rule catalog,
     and the consumer snapshot read before the event

USAGE:
  input := &loyalty.EventInput{
      EventID:    "evt-001",
      EventType:  loyalty.EventPurchase,
      Market:     loyalty.MarketHK,
      ConsumerID: "consumer-123",
      Timestamp:  time.Now(),
      Attributes: map[string]any{"amount": 2000.0},
  }
  resp, err := processor.ProcessEvent(ctx, input)

SEE ALSO:
  - facts.go: Fact resolver registry and per-event memoization
  - condition.go: Condition trees and comparison operators
  - rule.go: Rule matching and priority ordering
  - processor.go: The end-to-end event pipeline
*/
package loyalty

import (
	"fmt"
	"time"
)

// =============================================================================
// IDENTIFIERS AND ENUMS
// =============================================================================

type ConsumerID string

type EventType string

const (
	EventPurchase     EventType = "PURCHASE"
	EventRegistration EventType = "REGISTRATION"
	EventRecycle      EventType = "RECYCLE"
	EventConsultation EventType = "CONSULTATION"
	EventAdjustment   EventType = "ADJUSTMENT"
	EventRedemption   EventType = "REDEMPTION"
)

func (t EventType) Valid() bool {
	switch t {
	case EventPurchase, EventRegistration, EventRecycle,
		EventConsultation, EventAdjustment, EventRedemption:
		return true
	}
	return false
}

func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

type Market string

const (
	MarketJP Market = "JP"
	MarketHK Market = "HK"
	MarketTW Market = "TW"
)

func (m Market) Valid() bool {
	switch m {
	case MarketJP, MarketHK, MarketTW:
		return true
	}
	return false
}

func ParseMarket(s string) (Market, error) {
	m := Market(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown market %q", s)
	}
	return m, nil
}

// =============================================================================
// EVENT INPUT - The external event submitted for processing
// =============================================================================

// EventInput is a single business event. Context and Attributes are opaque
// mappings whose recognized keys are exposed through the facts catalog.
type EventInput struct {
	EventID     string
	EventType   EventType
	Timestamp   time.Time
	Market      Market
	Channel     string
	ProductLine string
	ConsumerID  ConsumerID

	// Context carries request metadata: storeId, campaignCode, externalId,
	// adminId, ...
	Context map[string]any

	// Attributes carries event payload: amount, srpAmount, currency,
	// skuList, recycledCount, skinTestDate, adjustedPoints,
	// redemptionPoints, comboTag, ...
	Attributes map[string]any
}

// Attribute returns the named attribute and whether it was present.
func (e *EventInput) Attribute(key string) (any, bool) {
	if e.Attributes == nil {
		return nil, false
	}
	v, ok := e.Attributes[key]
	return v, ok
}

// ContextValue returns the named context entry and whether it was present.
func (e *EventInput) ContextValue(key string) (any, bool) {
	if e.Context == nil {
		return nil, false
	}
	v, ok := e.Context[key]
	return v, ok
}

// =============================================================================
// RULES - Declarative condition trees with a symbolic outcome
// =============================================================================

// RuleEvent is the outcome a rule emits when its conditions match. Type
// selects a calculator formula; Params feeds it.
type RuleEvent struct {
	Type   string
	Params map[string]any
}

// Rule is one catalog entry. Priority orders matched outcomes (lower runs
// earlier); scoping slices restrict the rule to specific markets, channels,
// or product lines when non-empty.
type Rule struct {
	Name         string
	Priority     int
	Active       bool
	Markets      []Market
	Channels     []string
	ProductLines []string
	Conditions   Condition
	Event        RuleEvent
}

// AppliesTo reports whether the rule's scoping admits the event. Empty
// scoping slices admit everything; conditions are not consulted here.
func (r *Rule) AppliesTo(ev *EventInput) bool {
	if len(r.Markets) > 0 && !containsMarket(r.Markets, ev.Market) {
		return false
	}
	if len(r.Channels) > 0 && !containsString(r.Channels, ev.Channel) {
		return false
	}
	if len(r.ProductLines) > 0 && !containsString(r.ProductLines, ev.ProductLine) {
		return false
	}
	return true
}

func containsMarket(ms []Market, m Market) bool {
	for _, x := range ms {
		if x == m {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// MatchedEvent is one rule's outcome collected during a run, carrying the
// ordering key used to sort the final list.
type MatchedEvent struct {
	RuleName string
	Priority int
	Event    RuleEvent
}

// =============================================================================
// CONSUMER AND BALANCE
// =============================================================================

// Consumer is the stored profile. Balance and history live beside it in the
// store; derived values (purchase count, first purchase) are computed from
// history, never stored.
type Consumer struct {
	ID        ConsumerID
	Market    Market
	BirthDate *time.Time
	IsVIP     bool
	Tags      []string
}

// BirthMonth returns the month of the consumer's birth date, if known.
func (c *Consumer) BirthMonth() (time.Month, bool) {
	if c == nil || c.BirthDate == nil {
		return 0, false
	}
	return c.BirthDate.Month(), true
}

// Balance is the per-consumer point ledger. Outside of redemptions,
// available + used == total holds after every transition.
type Balance struct {
	Total            int64
	Available        int64
	Used             int64
	AccountVersion   int64
	TransactionCount int64
}

// Apply returns the balance after awarding the signed point total of one
// event. Non-negative awards accrue to total and available. Negative awards
// redeem: total is preserved, available is reduced (floored at zero) and
// used grows by the full requested amount. Version and transaction counters
// advance on every call, including zero awards.
func (b Balance) Apply(points int64) Balance {
	next := b
	if points >= 0 {
		next.Total += points
		next.Available += points
	} else {
		r := -points
		if next.Available < r {
			next.Available = 0
		} else {
			next.Available -= r
		}
		next.Used += r
	}
	next.TransactionCount++
	next.AccountVersion++
	return next
}

// =============================================================================
// REWARD BREAKDOWN - Per-matched-rule contribution
// =============================================================================

// Category groups breakdown entries for reporting. The calculator package
// defines the concrete values and the mapping from calculation types.
type Category string

// Computation is the audit trace of one formula application: the template
// with values inlined, the rule params actually consulted, and the floored
// result.
type Computation struct {
	CalculationType string
	Formula         string
	Inputs          map[string]any
	Result          int64
}

// CampaignDetails is attached to entries produced under a campaign code.
type CampaignDetails struct {
	CampaignCode string
}

// BreakdownEntry is one matched rule's signed contribution to the event's
// awarded points.
type BreakdownEntry struct {
	RuleName        string
	Type            string
	Category        Category
	Points          int64
	Description     string
	Computation     Computation
	CampaignDetails *CampaignDetails
}

// =============================================================================
// HISTORY AND RESPONSE
// =============================================================================

// HistoryEvent is the immutable record appended once per processed event.
// ID is a generated record identifier; EventID is the caller-supplied
// idempotency key and is unique across all history.
type HistoryEvent struct {
	ID                 string
	ConsumerID         ConsumerID
	EventID            string
	EventType          EventType
	Timestamp          time.Time
	Market             Market
	Channel            string
	ProductLine        string
	TotalPointsAwarded int64
	PointBreakdown     []BreakdownEntry
	ResultingBalance   Balance
	RecordedAt         time.Time
}

// ErrorCode classifies soft failures reported in a response's error list.
type ErrorCode string

const (
	CodeUnknownFact     ErrorCode = "UNKNOWN_FACT"
	CodeUnknownOperator ErrorCode = "UNKNOWN_OPERATOR"
	CodeCalculation     ErrorCode = "CALCULATION_ERROR"
	CodeRuleEval        ErrorCode = "RULE_EVALUATION_ERROR"
)

// ProcessingError is a per-rule soft failure. The run continues; the entry
// makes the skip observable to the caller.
type ProcessingError struct {
	RuleName string
	Code     ErrorCode
	Message  string
}

// EventResponse is the result of processing one event. Errors lists
// per-rule soft failures and is present even on success.
type EventResponse struct {
	ConsumerID         ConsumerID
	EventID            string
	EventType          EventType
	TotalPointsAwarded int64
	PointBreakdown     []BreakdownEntry
	Errors             []ProcessingError
	ResultingBalance   Balance
}
