/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements loyalty.ConsumerStore using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  consumers: Consumer profiles (market, birth date, VIP flag, tags)
  balances:  One row per consumer, updated in place on every event
  history:   Immutable record of processed events with JSON breakdowns

INDEXES:
  idx_history_event_id:      UNIQUE, backstop for event deduplication
  idx_history_consumer_time: History reads and derived purchase facts

ERROR MAPPING:
  Infrastructure failures are wrapped in loyalty.StoreError so callers can
  classify them with errors.Is(err, loyalty.ErrStore). A unique-constraint
  violation on event_id surfaces as loyalty.DuplicateEventError instead -
  a replayed event is a client problem, not a storage problem.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - loyalty/store.go: Interface definition
  - loyalty/store/memory.go: In-memory implementation for tests and demos
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/loyalty-engine/loyalty"
)

// Store implements loyalty.ConsumerStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ loyalty.ConsumerStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Consumer profiles
	CREATE TABLE IF NOT EXISTS consumers (
		id TEXT PRIMARY KEY,
		market TEXT NOT NULL,
		birth_date TEXT,
		is_vip BOOLEAN NOT NULL DEFAULT FALSE,
		tags_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Balances (one row per consumer, updated in place)
	CREATE TABLE IF NOT EXISTS balances (
		consumer_id TEXT PRIMARY KEY,
		total INTEGER NOT NULL DEFAULT 0,
		available INTEGER NOT NULL DEFAULT 0,
		used INTEGER NOT NULL DEFAULT 0,
		account_version INTEGER NOT NULL DEFAULT 0,
		transaction_count INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	-- Processed events (append-only)
	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		consumer_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		market TEXT NOT NULL,
		channel TEXT,
		product_line TEXT,
		total_points INTEGER NOT NULL,
		breakdown_json TEXT NOT NULL,
		balance_json TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);

	-- CRITICAL: Enforce event-level idempotency. The processor checks for
	-- duplicates before acquiring the consumer lock; this index is the
	-- backstop that closes the race between two replays of the same event.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_history_event_id
		ON history(event_id);

	-- History reads and derived facts (purchaseCount, first purchase) scan
	-- per consumer ordered by event time (hot path)
	CREATE INDEX IF NOT EXISTS idx_history_consumer_time
		ON history(consumer_id, timestamp DESC);

	CREATE INDEX IF NOT EXISTS idx_history_consumer_type
		ON history(consumer_id, event_type);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONSUMER PROFILES
// =============================================================================

// GetConsumer retrieves a consumer profile by ID.
func (s *Store) GetConsumer(ctx context.Context, id loyalty.ConsumerID) (*loyalty.Consumer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c         loyalty.Consumer
		market    string
		birthDate sql.NullString
		tagsJSON  sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT id, market, birth_date, is_vip, tags_json FROM consumers WHERE id = ?",
		string(id),
	).Scan(&c.ID, &market, &birthDate, &c.IsVIP, &tagsJSON)

	if err == sql.ErrNoRows {
		return nil, loyalty.ErrConsumerNotFound
	}
	if err != nil {
		return nil, &loyalty.StoreError{Op: "consumer.get", Err: err}
	}

	c.Market = loyalty.Market(market)
	if birthDate.Valid && birthDate.String != "" {
		t, err := time.Parse("2006-01-02", birthDate.String)
		if err != nil {
			return nil, &loyalty.StoreError{Op: "consumer.get", Err: err}
		}
		c.BirthDate = &t
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &c.Tags); err != nil {
			return nil, &loyalty.StoreError{Op: "consumer.get", Err: err}
		}
	}

	return &c, nil
}

// PutConsumer creates or replaces a consumer profile.
func (s *Store) PutConsumer(ctx context.Context, c *loyalty.Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var birthDate sql.NullString
	if c.BirthDate != nil {
		birthDate = sql.NullString{String: c.BirthDate.Format("2006-01-02"), Valid: true}
	}

	var tagsJSON sql.NullString
	if len(c.Tags) > 0 {
		raw, err := json.Marshal(c.Tags)
		if err != nil {
			return &loyalty.StoreError{Op: "consumer.put", Err: err}
		}
		tagsJSON = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO consumers (id, market, birth_date, is_vip, tags_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			market = excluded.market,
			birth_date = excluded.birth_date,
			is_vip = excluded.is_vip,
			tags_json = excluded.tags_json,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		string(c.ID), string(c.Market), birthDate, c.IsVIP, tagsJSON, now, now,
	)
	if err != nil {
		return &loyalty.StoreError{Op: "consumer.put", Err: err}
	}
	return nil
}

// =============================================================================
// BALANCES
// =============================================================================

// GetBalance returns the stored balance for a consumer. Consumers without a
// row read as a fresh zeroed balance.
func (s *Store) GetBalance(ctx context.Context, id loyalty.ConsumerID) (loyalty.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b loyalty.Balance
	err := s.db.QueryRowContext(ctx,
		`SELECT total, available, used, account_version, transaction_count
		 FROM balances WHERE consumer_id = ?`,
		string(id),
	).Scan(&b.Total, &b.Available, &b.Used, &b.AccountVersion, &b.TransactionCount)

	if err == sql.ErrNoRows {
		return loyalty.Balance{}, nil
	}
	if err != nil {
		return loyalty.Balance{}, &loyalty.StoreError{Op: "balance.get", Err: err}
	}
	return b, nil
}

// UpdateBalance writes the balance row for a consumer.
func (s *Store) UpdateBalance(ctx context.Context, id loyalty.ConsumerID, b loyalty.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO balances (consumer_id, total, available, used, account_version, transaction_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(consumer_id) DO UPDATE SET
			total = excluded.total,
			available = excluded.available,
			used = excluded.used,
			account_version = excluded.account_version,
			transaction_count = excluded.transaction_count,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		string(id), b.Total, b.Available, b.Used, b.AccountVersion, b.TransactionCount,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return &loyalty.StoreError{Op: "balance.update", Err: err}
	}
	return nil
}

// =============================================================================
// HISTORY
// =============================================================================

// AppendHistory records a processed event. Returns loyalty.DuplicateEventError
// when the eventId has already been recorded.
func (s *Store) AppendHistory(ctx context.Context, ev *loyalty.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	breakdownJSON, err := json.Marshal(ev.PointBreakdown)
	if err != nil {
		return &loyalty.StoreError{Op: "history.append", Err: err}
	}
	balanceJSON, err := json.Marshal(ev.ResultingBalance)
	if err != nil {
		return &loyalty.StoreError{Op: "history.append", Err: err}
	}

	query := `
		INSERT INTO history
		(id, consumer_id, event_id, event_type, timestamp, market, channel, product_line,
		 total_points, breakdown_json, balance_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		ev.ID,
		string(ev.ConsumerID),
		ev.EventID,
		string(ev.EventType),
		ev.Timestamp.UTC().Format(time.RFC3339),
		string(ev.Market),
		nullString(ev.Channel),
		nullString(ev.ProductLine),
		ev.TotalPointsAwarded,
		string(breakdownJSON),
		string(balanceJSON),
		ev.RecordedAt.UTC().Format(time.RFC3339),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return &loyalty.DuplicateEventError{EventID: ev.EventID}
		}
		return &loyalty.StoreError{Op: "history.append", Err: err}
	}

	return nil
}

// HasEvent checks whether an eventId has already been processed.
func (s *Store) HasEvent(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM history WHERE event_id = ?",
		eventID,
	).Scan(&count)
	if err != nil {
		return false, &loyalty.StoreError{Op: "event.exists", Err: err}
	}
	return count > 0, nil
}

// HistoryForConsumer returns processed events for a consumer, newest first.
func (s *Store) HistoryForConsumer(ctx context.Context, id loyalty.ConsumerID) ([]loyalty.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, consumer_id, event_id, event_type, timestamp, market, channel, product_line,
		       total_points, breakdown_json, balance_json, recorded_at
		FROM history
		WHERE consumer_id = ?
		ORDER BY timestamp DESC, rowid DESC
	`

	rows, err := s.db.QueryContext(ctx, query, string(id))
	if err != nil {
		return nil, &loyalty.StoreError{Op: "history.query", Err: err}
	}
	defer rows.Close()

	var events []loyalty.HistoryEvent
	for rows.Next() {
		ev, err := scanHistoryEvent(rows)
		if err != nil {
			return nil, &loyalty.StoreError{Op: "history.query", Err: err}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &loyalty.StoreError{Op: "history.query", Err: err}
	}
	return events, nil
}

func scanHistoryEvent(rows *sql.Rows) (loyalty.HistoryEvent, error) {
	var (
		ev            loyalty.HistoryEvent
		consumerID    string
		eventType     string
		timestamp     string
		market        string
		channel       sql.NullString
		productLine   sql.NullString
		breakdownJSON string
		balanceJSON   string
		recordedAt    string
	)

	err := rows.Scan(
		&ev.ID, &consumerID, &ev.EventID, &eventType, &timestamp, &market,
		&channel, &productLine, &ev.TotalPointsAwarded, &breakdownJSON, &balanceJSON, &recordedAt,
	)
	if err != nil {
		return ev, fmt.Errorf("failed to scan history event: %w", err)
	}

	ev.ConsumerID = loyalty.ConsumerID(consumerID)
	ev.EventType = loyalty.EventType(eventType)
	ev.Market = loyalty.Market(market)
	ev.Channel = channel.String
	ev.ProductLine = productLine.String
	ev.Timestamp, _ = time.Parse(time.RFC3339, timestamp)
	ev.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)

	if err := json.Unmarshal([]byte(breakdownJSON), &ev.PointBreakdown); err != nil {
		return ev, fmt.Errorf("failed to decode breakdown: %w", err)
	}
	if err := json.Unmarshal([]byte(balanceJSON), &ev.ResultingBalance); err != nil {
		return ev, fmt.Errorf("failed to decode balance: %w", err)
	}

	return ev, nil
}

// =============================================================================
// DERIVED FACTS
// =============================================================================

// PurchaseCount returns the number of recorded purchase events for a consumer.
func (s *Store) PurchaseCount(ctx context.Context, id loyalty.ConsumerID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM history WHERE consumer_id = ? AND event_type = ?",
		string(id), string(loyalty.EventPurchase),
	).Scan(&n)
	if err != nil {
		return 0, &loyalty.StoreError{Op: "purchase.count", Err: err}
	}
	return n, nil
}

// FirstPurchaseAt returns the event timestamp of the consumer's earliest
// recorded purchase, or nil when none exists.
func (s *Store) FirstPurchaseAt(ctx context.Context, id loyalty.ConsumerID) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var timestamp string
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp FROM history
		 WHERE consumer_id = ? AND event_type = ?
		 ORDER BY timestamp ASC LIMIT 1`,
		string(id), string(loyalty.EventPurchase),
	).Scan(&timestamp)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &loyalty.StoreError{Op: "purchase.first", Err: err}
	}

	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return nil, &loyalty.StoreError{Op: "purchase.first", Err: err}
	}
	return &t, nil
}

// DaysSinceFirstPurchase returns whole days elapsed between the consumer's
// first purchase and asOf. Zero when the consumer has never purchased.
func (s *Store) DaysSinceFirstPurchase(ctx context.Context, id loyalty.ConsumerID, asOf time.Time) (int64, error) {
	first, err := s.FirstPurchaseAt(ctx, id)
	if err != nil {
		return 0, err
	}
	if first == nil {
		return 0, nil
	}
	return loyalty.DaysSince(*first, asOf), nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
