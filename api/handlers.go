/*
handlers.go - HTTP API handlers for the loyalty rules engine

PURPOSE:
  Exposes the loyalty engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Events:
    POST   /api/events/process            Process a business event

  Consumers:
    GET    /api/consumers/{id}            Get consumer profile
    PUT    /api/consumers/{id}            Create or replace a profile
    GET    /api/consumers/{id}/balance    Get the point balance
    GET    /api/consumers/{id}/history    Get processed-event history

  Rules:
    GET    /api/rules                     Full active catalog
    GET    /api/rules/defaults            Non-campaign rules (?market=&eventType=)
    GET    /api/rules/campaigns           Campaign rules (same filters)
    POST   /api/rules/reload              Re-read the rule directory

  Operational:
    GET    /api/health                    Liveness probe

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Consumer, balance, and history persistence
  - Processor: The end-to-end event pipeline
  - Catalog: The hot-swappable rule catalog

REQUEST FLOW:
  1. Parse HTTP request
  2. Convert DTO to domain input
  3. Call domain logic (processor, store, catalog)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Domain errors map to HTTP statuses with errors.Is:
  - 400: Validation errors, invalid input
  - 404: Consumer not found
  - 409: Duplicate eventId (idempotency conflict)
  - 504: Deadline expired before the commit point
  - 500: Store failures and everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - loyalty/processor.go: The pipeline behind POST /api/events/process
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     loyalty.ConsumerStore
	Processor *loyalty.Processor
	Catalog   *factory.Catalog
	Logger    *slog.Logger
}

// NewHandler creates a new handler. A nil logger falls back to the default.
func NewHandler(store loyalty.ConsumerStore, processor *loyalty.Processor, catalog *factory.Catalog, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:     store,
		Processor: processor,
		Catalog:   catalog,
		Logger:    logger,
	}
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// ProcessEvent runs one event through the pipeline.
// POST /api/events/process
func (h *Handler) ProcessEvent(w http.ResponseWriter, r *http.Request) {
	var req ProcessEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	input, err := req.ToEventInput()
	if err != nil {
		writeDomainError(w, "Event rejected", err)
		return
	}

	resp, err := h.Processor.ProcessEvent(r.Context(), input)
	if err != nil {
		writeDomainError(w, "Event rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, toEventResponseDTO(resp))
}

// =============================================================================
// CONSUMER HANDLERS
// =============================================================================

// GetConsumer returns a stored profile.
// GET /api/consumers/{id}
func (h *Handler) GetConsumer(w http.ResponseWriter, r *http.Request) {
	id := loyalty.ConsumerID(chi.URLParam(r, "id"))

	consumer, err := h.Store.GetConsumer(r.Context(), id)
	if err != nil {
		if !loyalty.IsNotFound(err) {
			h.Logger.Error("consumer read failed", "consumer_id", id, "error", err)
		}
		writeDomainError(w, "Failed to get consumer", err)
		return
	}

	writeJSON(w, http.StatusOK, toConsumerDTO(consumer))
}

// UpsertConsumer creates or replaces a profile.
// PUT /api/consumers/{id}
func (h *Handler) UpsertConsumer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if n := utf8.RuneCountInString(id); n < 1 || n > 100 {
		writeError(w, http.StatusBadRequest, "Consumer id must be between 1 and 100 characters", nil)
		return
	}

	var req UpsertConsumerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	market, err := loyalty.ParseMarket(req.Market)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid market (use JP, HK, or TW)", err)
		return
	}

	consumer := &loyalty.Consumer{
		ID:     loyalty.ConsumerID(id),
		Market: market,
		IsVIP:  req.IsVIP,
		Tags:   req.Tags,
	}
	if req.BirthDate != "" {
		bd, err := time.Parse("2006-01-02", req.BirthDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid birthDate format (use YYYY-MM-DD)", err)
			return
		}
		consumer.BirthDate = &bd
	}

	if err := h.Store.PutConsumer(r.Context(), consumer); err != nil {
		h.Logger.Error("consumer write failed", "consumer_id", id, "error", err)
		writeDomainError(w, "Failed to save consumer", err)
		return
	}

	writeJSON(w, http.StatusOK, toConsumerDTO(consumer))
}

// GetBalance returns the consumer's point ledger, zeroed for consumers
// that have never been written.
// GET /api/consumers/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := loyalty.ConsumerID(chi.URLParam(r, "id"))

	balance, err := h.Store.GetBalance(r.Context(), id)
	if err != nil {
		h.Logger.Error("balance read failed", "consumer_id", id, "error", err)
		writeDomainError(w, "Failed to read balance", err)
		return
	}

	writeJSON(w, http.StatusOK, ConsumerBalanceDTO{
		ConsumerID:       string(id),
		Total:            balance.Total,
		Available:        balance.Available,
		Used:             balance.Used,
		AccountVersion:   balance.AccountVersion,
		TransactionCount: balance.TransactionCount,
	})
}

// GetHistory returns the consumer's processed events, newest first.
// GET /api/consumers/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := loyalty.ConsumerID(chi.URLParam(r, "id"))

	events, err := h.Store.HistoryForConsumer(r.Context(), id)
	if err != nil {
		h.Logger.Error("history read failed", "consumer_id", id, "error", err)
		writeDomainError(w, "Failed to read history", err)
		return
	}

	dtos := make([]HistoryEventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toHistoryEventDTO(ev)
	}

	writeJSON(w, http.StatusOK, HistoryDTO{
		ConsumerID: string(id),
		Events:     dtos,
		Count:      len(dtos),
	})
}

// =============================================================================
// RULE CATALOG HANDLERS
// =============================================================================

// ListRules returns the full active catalog.
// GET /api/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toRuleListDTO(h.Catalog.Rules()))
}

// ListDefaultRules returns the always-on (non-campaign) rules, optionally
// narrowed by ?market= and ?eventType=.
// GET /api/rules/defaults
func (h *Handler) ListDefaultRules(w http.ResponseWriter, r *http.Request) {
	h.writeFilteredRules(w, r, h.Catalog.Defaults())
}

// ListCampaignRules returns the campaign rules, same filters as defaults.
// GET /api/rules/campaigns
func (h *Handler) ListCampaignRules(w http.ResponseWriter, r *http.Request) {
	h.writeFilteredRules(w, r, h.Catalog.Campaigns())
}

// writeFilteredRules applies the optional ?market= and ?eventType= query
// filters to a rule projection and serializes it.
func (h *Handler) writeFilteredRules(w http.ResponseWriter, r *http.Request, rules []loyalty.Rule) {
	var market loyalty.Market
	if q := r.URL.Query().Get("market"); q != "" {
		m, err := loyalty.ParseMarket(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid market filter (use JP, HK, or TW)", err)
			return
		}
		market = m
	}

	var eventType loyalty.EventType
	if q := r.URL.Query().Get("eventType"); q != "" {
		t, err := loyalty.ParseEventType(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid eventType filter", err)
			return
		}
		eventType = t
	}

	writeJSON(w, http.StatusOK, toRuleListDTO(factory.FilterRules(rules, market, eventType)))
}

// ReloadRules re-reads the rule directory and swaps the catalog snapshot.
// A failed reload keeps the previous snapshot serving.
// POST /api/rules/reload
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.Reload(); err != nil {
		h.Logger.Error("rule reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Rule reload failed", err)
		return
	}

	writeJSON(w, http.StatusOK, ReloadResultDTO{
		Reloaded: true,
		Rules:    h.Catalog.Len(),
	})
}

// =============================================================================
// OPERATIONAL HANDLERS
// =============================================================================

// Health reports liveness and the active catalog size.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthDTO{
		Status: "ok",
		Rules:  h.Catalog.Len(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError classifies a domain error into an HTTP status and a
// stable machine-readable code.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{
		Error:   message,
		Code:    codeForError(err),
		Details: err.Error(),
	}
	writeJSON(w, statusForError(err), resp)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, loyalty.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, loyalty.ErrDuplicateEvent):
		return http.StatusConflict
	case errors.Is(err, loyalty.ErrConsumerNotFound):
		return http.StatusNotFound
	case errors.Is(err, loyalty.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func codeForError(err error) string {
	switch {
	case errors.Is(err, loyalty.ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, loyalty.ErrDuplicateEvent):
		return "DUPLICATE_EVENT"
	case errors.Is(err, loyalty.ErrConsumerNotFound):
		return "CONSUMER_NOT_FOUND"
	case errors.Is(err, loyalty.ErrTimeout):
		return "TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}
