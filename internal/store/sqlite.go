// ABOUTME: SQLite implementation of the Repository interface using modernc.org/sqlite.
// ABOUTME: Single conversation_states table with JSON columns, WAL mode, automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/switchboard-hq/switchboard/internal/state"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
// Parent directories are created if needed; the schema is created on first
// open.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL improves concurrent read behavior while a writer is active.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversation_states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			channel TEXT NOT NULL,
			email_id TEXT,
			thread_id TEXT,
			call_id TEXT,
			phone_number TEXT,
			call_direction TEXT,
			contact_identifier TEXT NOT NULL,
			contact_name TEXT,
			classification TEXT,
			status TEXT NOT NULL,
			events TEXT NOT NULL DEFAULT '[]',
			last_checkpoint TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			completed_at TEXT,
			timeout_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_states_email_id
			ON conversation_states(email_id);

		CREATE INDEX IF NOT EXISTS idx_states_call_id
			ON conversation_states(call_id);

		CREATE INDEX IF NOT EXISTS idx_states_thread_id
			ON conversation_states(thread_id);

		CREATE INDEX IF NOT EXISTS idx_states_contact
			ON conversation_states(contact_identifier, created_at);

		CREATE INDEX IF NOT EXISTS idx_states_status_updated
			ON conversation_states(status, updated_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}

const stateColumns = `id, session_id, channel, email_id, thread_id, call_id, phone_number,
	call_direction, contact_identifier, contact_name, classification, status,
	events, last_checkpoint, metadata, created_at, updated_at, completed_at, timeout_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*state.ConversationState, error) {
	var cs state.ConversationState
	var emailID, threadID, callID, phoneNumber, callDirection sql.NullString
	var contactName, classification sql.NullString
	var eventsJSON, metadataJSON string
	var checkpointJSON sql.NullString
	var createdAt, updatedAt string
	var completedAt, timeoutAt sql.NullString

	err := row.Scan(
		&cs.ID,
		&cs.SessionID,
		&cs.Channel,
		&emailID,
		&threadID,
		&callID,
		&phoneNumber,
		&callDirection,
		&cs.ContactIdentifier,
		&contactName,
		&classification,
		&cs.Status,
		&eventsJSON,
		&checkpointJSON,
		&metadataJSON,
		&createdAt,
		&updatedAt,
		&completedAt,
		&timeoutAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation state: %w", err)
	}

	cs.EmailID = emailID.String
	cs.ThreadID = threadID.String
	cs.CallID = callID.String
	cs.PhoneNumber = phoneNumber.String
	cs.CallDirection = state.CallDirection(callDirection.String)
	cs.ContactName = contactName.String
	cs.Classification = state.Classification(classification.String)

	if err := json.Unmarshal([]byte(eventsJSON), &cs.Events); err != nil {
		return nil, fmt.Errorf("unmarshaling events: %w", err)
	}
	if checkpointJSON.Valid && checkpointJSON.String != "" {
		var cp state.Checkpoint
		if err := json.Unmarshal([]byte(checkpointJSON.String), &cp); err != nil {
			return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
		}
		cs.LastCheckpoint = &cp
	}
	if err := json.Unmarshal([]byte(metadataJSON), &cs.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}

	if cs.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if cs.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		cs.CompletedAt = &t
	}
	if timeoutAt.Valid {
		t, err := parseTime(timeoutAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing timeout_at: %w", err)
		}
		cs.TimeoutAt = &t
	}

	return &cs, nil
}

func marshalJSONColumns(cs *state.ConversationState) (events, checkpoint, metadata string, err error) {
	evBytes, err := json.Marshal(cs.Events)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling events: %w", err)
	}
	metaBytes, err := json.Marshal(cs.Metadata)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling metadata: %w", err)
	}
	checkpoint = ""
	if cs.LastCheckpoint != nil {
		cpBytes, err := json.Marshal(cs.LastCheckpoint)
		if err != nil {
			return "", "", "", fmt.Errorf("marshaling checkpoint: %w", err)
		}
		checkpoint = string(cpBytes)
	}
	return string(evBytes), checkpoint, string(metaBytes), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// Create inserts a new conversation state and returns the row ID.
func (s *SQLiteStore) Create(ctx context.Context, cs *state.ConversationState) (int64, error) {
	events, checkpoint, metadata, err := marshalJSONColumns(cs)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO conversation_states (
			session_id, channel, email_id, thread_id, call_id, phone_number,
			call_direction, contact_identifier, contact_name, classification,
			status, events, last_checkpoint, metadata,
			created_at, updated_at, completed_at, timeout_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		cs.SessionID,
		string(cs.Channel),
		nullable(cs.EmailID),
		nullable(cs.ThreadID),
		nullable(cs.CallID),
		nullable(cs.PhoneNumber),
		nullable(string(cs.CallDirection)),
		cs.ContactIdentifier,
		nullable(cs.ContactName),
		nullable(string(cs.Classification)),
		string(cs.Status),
		events,
		nullable(checkpoint),
		metadata,
		formatTime(cs.CreatedAt),
		formatTime(cs.UpdatedAt),
		nullableTime(cs.CompletedAt),
		nullableTime(cs.TimeoutAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return 0, ErrDuplicateSession
		}
		return 0, fmt.Errorf("inserting conversation state: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading insert id: %w", err)
	}
	cs.ID = id

	s.logger.Debug("created conversation state",
		"session_id", cs.SessionID,
		"channel", cs.Channel,
		"contact", cs.ContactIdentifier,
	)
	return id, nil
}

func (s *SQLiteStore) findOne(ctx context.Context, where string, args ...any) (*state.ConversationState, error) {
	query := "SELECT " + stateColumns + " FROM conversation_states WHERE " + where
	return scanState(s.db.QueryRowContext(ctx, query, args...))
}

// FindBySessionID returns the session or ErrNotFound.
func (s *SQLiteStore) FindBySessionID(ctx context.Context, sessionID string) (*state.ConversationState, error) {
	return s.findOne(ctx, "session_id = ?", sessionID)
}

// FindByEmailID returns the session for an email message ID or ErrNotFound.
func (s *SQLiteStore) FindByEmailID(ctx context.Context, emailID string) (*state.ConversationState, error) {
	return s.findOne(ctx, "email_id = ? ORDER BY created_at DESC, id DESC LIMIT 1", emailID)
}

// FindByCallID returns the session for a call ID or ErrNotFound.
func (s *SQLiteStore) FindByCallID(ctx context.Context, callID string) (*state.ConversationState, error) {
	return s.findOne(ctx, "call_id = ? ORDER BY created_at DESC, id DESC LIMIT 1", callID)
}

// FindByThreadID returns the most recently created session for a thread,
// or ErrNotFound.
func (s *SQLiteStore) FindByThreadID(ctx context.Context, threadID string) (*state.ConversationState, error) {
	return s.findOne(ctx, "thread_id = ? ORDER BY created_at DESC, id DESC LIMIT 1", threadID)
}

// FindByContact returns a contact's sessions, newest first.
func (s *SQLiteStore) FindByContact(ctx context.Context, contactIdentifier string, limit int, channel state.Channel) ([]*state.ConversationState, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + stateColumns + " FROM conversation_states WHERE contact_identifier = ?"
	args := []any{contactIdentifier}
	if channel != "" {
		query += " AND channel = ?"
		args = append(args, string(channel))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	return s.queryStates(ctx, query, args...)
}

// FindIncomplete returns in_progress/timeout sessions older than maxAge.
func (s *SQLiteStore) FindIncomplete(ctx context.Context, maxAge time.Duration) ([]*state.ConversationState, error) {
	cutoff := formatTime(time.Now().UTC().Add(-maxAge))
	query := "SELECT " + stateColumns + ` FROM conversation_states
		WHERE status IN ('in_progress', 'timeout') AND updated_at < ?
		ORDER BY updated_at DESC, id DESC`
	return s.queryStates(ctx, query, cutoff)
}

func (s *SQLiteStore) queryStates(ctx context.Context, query string, args ...any) ([]*state.ConversationState, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversation states: %w", err)
	}
	defer rows.Close()

	var out []*state.ConversationState
	for rows.Next() {
		cs, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation states: %w", err)
	}
	return out, nil
}

// Update rewrites the full session row.
func (s *SQLiteStore) Update(ctx context.Context, cs *state.ConversationState) error {
	events, checkpoint, metadata, err := marshalJSONColumns(cs)
	if err != nil {
		return err
	}

	query := `
		UPDATE conversation_states SET
			channel = ?, email_id = ?, thread_id = ?, call_id = ?,
			phone_number = ?, call_direction = ?, contact_identifier = ?,
			contact_name = ?, classification = ?, status = ?,
			events = ?, last_checkpoint = ?, metadata = ?,
			updated_at = ?, completed_at = ?, timeout_at = ?
		WHERE session_id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		string(cs.Channel),
		nullable(cs.EmailID),
		nullable(cs.ThreadID),
		nullable(cs.CallID),
		nullable(cs.PhoneNumber),
		nullable(string(cs.CallDirection)),
		cs.ContactIdentifier,
		nullable(cs.ContactName),
		nullable(string(cs.Classification)),
		string(cs.Status),
		events,
		nullable(checkpoint),
		metadata,
		formatTime(cs.UpdatedAt),
		nullableTime(cs.CompletedAt),
		nullableTime(cs.TimeoutAt),
		cs.SessionID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// withSession runs mutate against the session inside one transaction, then
// writes the modified row back. This is what makes event appends and
// checkpoint overwrites individually atomic.
func (s *SQLiteStore) withSession(ctx context.Context, sessionID string, mutate func(*state.ConversationState)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := "SELECT " + stateColumns + " FROM conversation_states WHERE session_id = ?"
	cs, err := scanState(tx.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		return err
	}

	mutate(cs)

	events, checkpoint, metadata, err := marshalJSONColumns(cs)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversation_states SET
			status = ?, events = ?, last_checkpoint = ?, metadata = ?,
			updated_at = ?, completed_at = ?, timeout_at = ?
		WHERE session_id = ?`,
		string(cs.Status),
		events,
		nullable(checkpoint),
		metadata,
		formatTime(cs.UpdatedAt),
		nullableTime(cs.CompletedAt),
		nullableTime(cs.TimeoutAt),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("writing conversation state: %w", err)
	}

	return tx.Commit()
}

// AppendEvent atomically appends one event to the session's log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, sessionID string, ev state.Event) error {
	return s.withSession(ctx, sessionID, func(cs *state.ConversationState) {
		cs.ApplyEvent(ev)
	})
}

// UpdateCheckpoint atomically overwrites the session's last checkpoint.
func (s *SQLiteStore) UpdateCheckpoint(ctx context.Context, sessionID string, cp state.Checkpoint) error {
	return s.withSession(ctx, sessionID, func(cs *state.ConversationState) {
		cs.SetCheckpoint(cp)
	})
}

// MarkCompleted transitions the session to completed.
func (s *SQLiteStore) MarkCompleted(ctx context.Context, sessionID string) error {
	return s.withSession(ctx, sessionID, func(cs *state.ConversationState) {
		cs.MarkCompleted()
	})
}

// MarkTimeout transitions the session to timeout.
func (s *SQLiteStore) MarkTimeout(ctx context.Context, sessionID string, timeoutAt time.Time) error {
	return s.withSession(ctx, sessionID, func(cs *state.ConversationState) {
		cs.MarkTimeout(timeoutAt)
	})
}

// Statistics aggregates counters for sessions created inside [start, end].
func (s *SQLiteStore) Statistics(ctx context.Context, start, end time.Time, channel state.Channel) (*Statistics, error) {
	query := `SELECT status, channel, metadata, created_at, completed_at
		FROM conversation_states WHERE created_at >= ? AND created_at <= ?`
	args := []any{formatTime(start), formatTime(end)}
	if channel != "" {
		query += " AND channel = ?"
		args = append(args, string(channel))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying statistics: %w", err)
	}
	defer rows.Close()

	stats := &Statistics{
		ByStatus:  make(map[string]int),
		ByChannel: make(map[string]int),
	}
	var durationSum float64
	var durationCount int

	for rows.Next() {
		var status, ch, metadataJSON, createdAt string
		var completedAt sql.NullString
		if err := rows.Scan(&status, &ch, &metadataJSON, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning statistics row: %w", err)
		}

		stats.TotalConversations++
		stats.ByStatus[status]++
		stats.ByChannel[ch]++

		var meta state.Metadata
		if err := json.Unmarshal([]byte(metadataJSON), &meta); err == nil {
			stats.TotalLLMCalls += meta.LLMCalls
			stats.TotalTokens += meta.TotalTokens
		}

		if completedAt.Valid {
			created, err1 := parseTime(createdAt)
			completed, err2 := parseTime(completedAt.String)
			if err1 == nil && err2 == nil {
				durationSum += float64(completed.Sub(created).Milliseconds())
				durationCount++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating statistics rows: %w", err)
	}

	if durationCount > 0 {
		stats.AvgDurationMS = durationSum / float64(durationCount)
	}
	return stats, nil
}

// DeleteOlderThan removes terminal sessions older than age.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := formatTime(time.Now().UTC().Add(-age))
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM conversation_states
		WHERE status IN ('completed', 'error', 'timeout') AND updated_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}

	if n > 0 {
		s.logger.Info("deleted old sessions", "count", n)
	}
	return int(n), nil
}
