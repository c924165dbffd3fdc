/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Events:
    ProcessEventRequest, EventResponseDTO, BreakdownEntryDTO,
    ComputationDTO, CampaignDetailsDTO, ProcessingErrorDTO

  Consumers:
    ConsumerDTO, UpsertConsumerRequest, ConsumerBalanceDTO,
    HistoryDTO, HistoryEventDTO

  Rules:
    RuleDTO, RuleListDTO, ReloadResultDTO

WIRE FORMAT:
  Field names are camelCase (consumerId, totalPointsAwarded). Timestamps
  are RFC 3339 strings; birth dates are YYYY-MM-DD. The pointBreakdown
  and errors arrays are always present in responses, never null.

VALIDATION:
  Enum membership, consumerId length, and the timestamp bound live in the
  processor. DTOs only parse shapes: the timestamp string and the birth
  date are converted here because wire layouts are an API concern.

SEE ALSO:
  - handlers.go: Uses these types
  - loyalty/types.go: The domain model these map to
*/
package api

import (
	"strings"
	"time"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// EVENT REQUEST
// =============================================================================

// ProcessEventRequest is the request body of POST /api/events/process.
type ProcessEventRequest struct {
	EventID     string         `json:"eventId"`
	EventType   string         `json:"eventType"`
	Timestamp   string         `json:"timestamp"`
	Market      string         `json:"market"`
	Channel     string         `json:"channel,omitempty"`
	ProductLine string         `json:"productLine,omitempty"`
	ConsumerID  string         `json:"consumerId"`
	Context     map[string]any `json:"context,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// timestampLayouts are the accepted event timestamp shapes, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ToEventInput converts the wire request into the domain input. A missing
// timestamp maps to the zero time so the processor's validation reports it;
// a present but unparseable one fails here, since the layout is a wire
// concern the processor never sees.
func (req *ProcessEventRequest) ToEventInput() (*loyalty.EventInput, error) {
	input := &loyalty.EventInput{
		EventID:     req.EventID,
		EventType:   loyalty.EventType(req.EventType),
		Market:      loyalty.Market(req.Market),
		Channel:     req.Channel,
		ProductLine: req.ProductLine,
		ConsumerID:  loyalty.ConsumerID(req.ConsumerID),
		Context:     req.Context,
		Attributes:  req.Attributes,
	}

	if s := strings.TrimSpace(req.Timestamp); s != "" {
		ts, ok := parseTimestamp(s)
		if !ok {
			return nil, &loyalty.ValidationError{
				Field:  "timestamp",
				Reason: "is not an ISO-8601 instant",
			}
		}
		input.Timestamp = ts
	}

	return input, nil
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// =============================================================================
// EVENT RESPONSE TYPES
// =============================================================================

// BalanceDTO is the point ledger as rendered inside responses.
type BalanceDTO struct {
	Total            int64 `json:"total"`
	Available        int64 `json:"available"`
	Used             int64 `json:"used"`
	AccountVersion   int64 `json:"accountVersion"`
	TransactionCount int64 `json:"transactionCount"`
}

// ConsumerBalanceDTO is the balance endpoint's response, the ledger plus
// its owner.
type ConsumerBalanceDTO struct {
	ConsumerID       string `json:"consumerId"`
	Total            int64  `json:"total"`
	Available        int64  `json:"available"`
	Used             int64  `json:"used"`
	AccountVersion   int64  `json:"accountVersion"`
	TransactionCount int64  `json:"transactionCount"`
}

// ComputationDTO is the audit trace of one formula application.
type ComputationDTO struct {
	CalculationType string         `json:"calculationType"`
	Formula         string         `json:"formula"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	Result          int64          `json:"result"`
}

// CampaignDetailsDTO is attached to entries produced under a campaign code.
type CampaignDetailsDTO struct {
	CampaignCode string `json:"campaignCode"`
}

// BreakdownEntryDTO is one matched rule's contribution to the award.
type BreakdownEntryDTO struct {
	RuleName        string              `json:"ruleName"`
	Type            string              `json:"type"`
	Category        string              `json:"category"`
	Points          int64               `json:"points"`
	Description     string              `json:"description,omitempty"`
	Computation     ComputationDTO      `json:"computation"`
	CampaignDetails *CampaignDetailsDTO `json:"campaignDetails,omitempty"`
}

// ProcessingErrorDTO is one per-rule soft failure.
type ProcessingErrorDTO struct {
	RuleName string `json:"ruleName,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// EventResponseDTO is the result of processing one event.
type EventResponseDTO struct {
	ConsumerID         string               `json:"consumerId"`
	EventID            string               `json:"eventId"`
	EventType          string               `json:"eventType"`
	TotalPointsAwarded int64                `json:"totalPointsAwarded"`
	PointBreakdown     []BreakdownEntryDTO  `json:"pointBreakdown"`
	Errors             []ProcessingErrorDTO `json:"errors"`
	ResultingBalance   BalanceDTO           `json:"resultingBalance"`
}

// =============================================================================
// CONSUMER AND HISTORY TYPES
// =============================================================================

// ConsumerDTO represents a consumer profile in API responses.
type ConsumerDTO struct {
	ConsumerID string   `json:"consumerId"`
	Market     string   `json:"market"`
	BirthDate  string   `json:"birthDate,omitempty"`
	IsVIP      bool     `json:"isVip"`
	Tags       []string `json:"tags,omitempty"`
}

// UpsertConsumerRequest is the body of PUT /api/consumers/{id}.
type UpsertConsumerRequest struct {
	Market    string   `json:"market"`
	BirthDate string   `json:"birthDate,omitempty"`
	IsVIP     bool     `json:"isVip"`
	Tags      []string `json:"tags,omitempty"`
}

// HistoryEventDTO is one immutable processed-event record.
type HistoryEventDTO struct {
	EventID            string              `json:"eventId"`
	EventType          string              `json:"eventType"`
	Timestamp          string              `json:"timestamp"`
	Market             string              `json:"market"`
	Channel            string              `json:"channel,omitempty"`
	ProductLine        string              `json:"productLine,omitempty"`
	TotalPointsAwarded int64               `json:"totalPointsAwarded"`
	PointBreakdown     []BreakdownEntryDTO `json:"pointBreakdown"`
	ResultingBalance   BalanceDTO          `json:"resultingBalance"`
	RecordedAt         string              `json:"recordedAt"`
}

// HistoryDTO is the history endpoint's response, newest record first.
type HistoryDTO struct {
	ConsumerID string            `json:"consumerId"`
	Events     []HistoryEventDTO `json:"events"`
	Count      int               `json:"count"`
}

// =============================================================================
// RULE CATALOG TYPES
// =============================================================================

// RuleEventDTO is the outcome a rule emits on match.
type RuleEventDTO struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// RuleDTO represents one catalog rule. Conditions marshal back into the
// same grammar the catalog files are written in; the field is typed any so
// responses also decode (loyalty.Condition is an interface and cannot be a
// json.Unmarshal target).
type RuleDTO struct {
	Name         string       `json:"name"`
	Priority     int          `json:"priority"`
	Active       bool         `json:"active"`
	Markets      []string     `json:"markets,omitempty"`
	Channels     []string     `json:"channels,omitempty"`
	ProductLines []string     `json:"productLines,omitempty"`
	Conditions   any          `json:"conditions,omitempty"`
	Event        RuleEventDTO `json:"event"`
}

// RuleListDTO wraps a rule projection with its size.
type RuleListDTO struct {
	Rules []RuleDTO `json:"rules"`
	Count int       `json:"count"`
}

// ReloadResultDTO is the response of POST /api/rules/reload.
type ReloadResultDTO struct {
	Reloaded bool `json:"reloaded"`
	Rules    int  `json:"rules"`
}

// HealthDTO is the response of GET /api/health.
type HealthDTO struct {
	Status string `json:"status"`
	Rules  int    `json:"rules"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toBalanceDTO(b loyalty.Balance) BalanceDTO {
	return BalanceDTO{
		Total:            b.Total,
		Available:        b.Available,
		Used:             b.Used,
		AccountVersion:   b.AccountVersion,
		TransactionCount: b.TransactionCount,
	}
}

func toBreakdownEntryDTO(e loyalty.BreakdownEntry) BreakdownEntryDTO {
	dto := BreakdownEntryDTO{
		RuleName:    e.RuleName,
		Type:        e.Type,
		Category:    string(e.Category),
		Points:      e.Points,
		Description: e.Description,
		Computation: ComputationDTO{
			CalculationType: e.Computation.CalculationType,
			Formula:         e.Computation.Formula,
			Inputs:          e.Computation.Inputs,
			Result:          e.Computation.Result,
		},
	}
	if e.CampaignDetails != nil {
		dto.CampaignDetails = &CampaignDetailsDTO{CampaignCode: e.CampaignDetails.CampaignCode}
	}
	return dto
}

func toBreakdownDTOs(entries []loyalty.BreakdownEntry) []BreakdownEntryDTO {
	dtos := make([]BreakdownEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toBreakdownEntryDTO(e)
	}
	return dtos
}

func toProcessingErrorDTOs(errs []loyalty.ProcessingError) []ProcessingErrorDTO {
	dtos := make([]ProcessingErrorDTO, len(errs))
	for i, e := range errs {
		dtos[i] = ProcessingErrorDTO{
			RuleName: e.RuleName,
			Code:     string(e.Code),
			Message:  e.Message,
		}
	}
	return dtos
}

func toEventResponseDTO(resp *loyalty.EventResponse) EventResponseDTO {
	return EventResponseDTO{
		ConsumerID:         string(resp.ConsumerID),
		EventID:            resp.EventID,
		EventType:          string(resp.EventType),
		TotalPointsAwarded: resp.TotalPointsAwarded,
		PointBreakdown:     toBreakdownDTOs(resp.PointBreakdown),
		Errors:             toProcessingErrorDTOs(resp.Errors),
		ResultingBalance:   toBalanceDTO(resp.ResultingBalance),
	}
}

func toHistoryEventDTO(ev loyalty.HistoryEvent) HistoryEventDTO {
	return HistoryEventDTO{
		EventID:            ev.EventID,
		EventType:          string(ev.EventType),
		Timestamp:          ev.Timestamp.Format(time.RFC3339),
		Market:             string(ev.Market),
		Channel:            ev.Channel,
		ProductLine:        ev.ProductLine,
		TotalPointsAwarded: ev.TotalPointsAwarded,
		PointBreakdown:     toBreakdownDTOs(ev.PointBreakdown),
		ResultingBalance:   toBalanceDTO(ev.ResultingBalance),
		RecordedAt:         ev.RecordedAt.Format(time.RFC3339),
	}
}

func toConsumerDTO(c *loyalty.Consumer) ConsumerDTO {
	dto := ConsumerDTO{
		ConsumerID: string(c.ID),
		Market:     string(c.Market),
		IsVIP:      c.IsVIP,
		Tags:       c.Tags,
	}
	if c.BirthDate != nil {
		dto.BirthDate = c.BirthDate.Format("2006-01-02")
	}
	return dto
}

func toRuleDTO(r loyalty.Rule) RuleDTO {
	return RuleDTO{
		Name:         r.Name,
		Priority:     r.Priority,
		Active:       r.Active,
		Markets:      marketStrings(r.Markets),
		Channels:     r.Channels,
		ProductLines: r.ProductLines,
		Conditions:   r.Conditions,
		Event: RuleEventDTO{
			Type:   r.Event.Type,
			Params: r.Event.Params,
		},
	}
}

func toRuleListDTO(rules []loyalty.Rule) RuleListDTO {
	dtos := make([]RuleDTO, len(rules))
	for i, r := range rules {
		dtos[i] = toRuleDTO(r)
	}
	return RuleListDTO{Rules: dtos, Count: len(dtos)}
}

func marketStrings(ms []loyalty.Market) []string {
	if len(ms) == 0 {
		return nil
	}
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}
