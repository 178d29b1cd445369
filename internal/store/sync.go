package store

import (
	"fmt"
	"time"
)

// Sync types recorded in sync_metadata.
const (
	SyncTypeFull        = "full"
	SyncTypeHeadersOnly = "headers_only"
)

// SyncRun is one recorded ingestion run.
type SyncRun struct {
	ID            int64     `json:"id"`
	SyncedAt      time.Time `json:"synced_at"`
	EmailsSynced  int64     `json:"emails_synced"`
	EmailsSkipped int64     `json:"emails_skipped"`
	EmailsFailed  int64     `json:"emails_failed"`
	SyncType      string    `json:"sync_type"`
	Error         string    `json:"error,omitempty"`
}

// RecordSync appends an ingestion run and returns its ID. A zero SyncedAt
// is recorded as now.
func (s *Store) RecordSync(run SyncRun) (int64, error) {
	if run.SyncedAt.IsZero() {
		run.SyncedAt = time.Now()
	}
	if run.SyncType == "" {
		run.SyncType = SyncTypeFull
	}
	res, err := s.db.Exec(`
		INSERT INTO sync_metadata (synced_at, emails_synced, emails_skipped, emails_failed, sync_type, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(run.SyncedAt), run.EmailsSynced, run.EmailsSkipped, run.EmailsFailed, run.SyncType, run.Error)
	if err != nil {
		return 0, fmt.Errorf("record sync: %w", err)
	}
	return res.LastInsertId()
}

// LastSync returns the most recent run, or nil if none was recorded.
func (s *Store) LastSync() (*SyncRun, error) {
	runs, err := s.RecentSyncs(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// RecentSyncs returns up to limit runs, newest first.
func (s *Store) RecentSyncs(limit int) ([]SyncRun, error) {
	rows, err := s.db.Query(`
		SELECT id, synced_at, emails_synced, emails_skipped, emails_failed, sync_type, error
		FROM sync_metadata ORDER BY synced_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent syncs: %w", err)
	}
	defer rows.Close()

	var out []SyncRun
	for rows.Next() {
		var (
			run      SyncRun
			syncedAt string
		)
		err := rows.Scan(&run.ID, &syncedAt, &run.EmailsSynced, &run.EmailsSkipped, &run.EmailsFailed, &run.SyncType, &run.Error)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		run.SyncedAt = parseTime(syncedAt)
		out = append(out, run)
	}
	return out, rows.Err()
}
