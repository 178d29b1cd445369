package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrValidActionsExist is returned by InsertActions when the message still
// has a valid cache entry. Use ReplaceActions to swap it atomically.
var ErrValidActionsExist = errors.New("message already has valid actions")

// ActionEntry is one row of the action cache.
type ActionEntry struct {
	ID          int64           `json:"id"`
	MessageID   string          `json:"message_id"`
	Payload     json.RawMessage `json:"payload"`
	GeneratedAt time.Time       `json:"generated_at"`
	IsValid     bool            `json:"is_valid"`
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func invalidateActions(db execer, messageID string) (int64, error) {
	res, err := db.Exec(`UPDATE action_cache SET is_valid = 0 WHERE message_id = ? AND is_valid = 1`, messageID)
	if err != nil {
		return 0, fmt.Errorf("invalidate actions for %s: %w", messageID, err)
	}
	return res.RowsAffected()
}

func insertActions(db execer, messageID string, payload json.RawMessage, at time.Time) (int64, error) {
	if !json.Valid(payload) {
		return 0, fmt.Errorf("insert actions for %s: payload is not valid JSON", messageID)
	}
	res, err := db.Exec(`
		INSERT INTO action_cache (message_id, payload, generated_at, is_valid)
		VALUES (?, ?, ?, 1)`, messageID, string(payload), formatTime(at))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("insert actions for %s: %w", messageID, ErrValidActionsExist)
		}
		return 0, fmt.Errorf("insert actions for %s: %w", messageID, err)
	}
	return res.LastInsertId()
}

// InvalidateActions marks every valid entry for messageID invalid and
// returns how many rows changed. History is kept.
func (s *Store) InvalidateActions(messageID string) (int64, error) {
	return invalidateActions(s.db, messageID)
}

// InsertActions appends a valid entry. It fails with ErrValidActionsExist if
// one is already present.
func (s *Store) InsertActions(messageID string, payload json.RawMessage) (int64, error) {
	return insertActions(s.db, messageID, payload, time.Now())
}

// ReplaceActions invalidates prior entries and inserts payload as the new
// valid entry in one transaction, so readers see either the old entry or
// the new one.
func (s *Store) ReplaceActions(messageID string, payload json.RawMessage) (int64, error) {
	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := invalidateActions(tx, messageID); err != nil {
			return err
		}
		var err error
		id, err = insertActions(tx, messageID, payload, time.Now())
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ValidActions returns the current entry for messageID, or ErrNotFound.
func (s *Store) ValidActions(messageID string) (*ActionEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, message_id, payload, generated_at, is_valid
		FROM action_cache WHERE message_id = ? AND is_valid = 1`, messageID)
	entry, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("valid actions for %s: %w", messageID, err)
	}
	return entry, nil
}

// ActionHistory returns every entry for messageID, oldest first.
func (s *Store) ActionHistory(messageID string) ([]ActionEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, message_id, payload, generated_at, is_valid
		FROM action_cache WHERE message_id = ? ORDER BY id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("action history for %s: %w", messageID, err)
	}
	defer rows.Close()

	var out []ActionEntry
	for rows.Next() {
		entry, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

func scanAction(row rowScanner) (*ActionEntry, error) {
	var (
		e           ActionEntry
		payload     string
		generatedAt string
	)
	if err := row.Scan(&e.ID, &e.MessageID, &payload, &generatedAt, &e.IsValid); err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	e.GeneratedAt = parseTime(generatedAt)
	return &e, nil
}
