// Package ingest mirrors remote mail into the local store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesm/mailhub/internal/imap"
	"github.com/wesm/mailhub/internal/search"
	"github.com/wesm/mailhub/internal/store"
)

// JobName is the scheduler key of the periodic ingestion job.
const JobName = "ingest"

// Searcher is the remote side of an ingestion run.
type Searcher interface {
	Search(ctx context.Context, criteria search.Criteria, opts imap.SearchOptions) ([]imap.Result, error)
}

// Options configures an ingestion run.
type Options struct {
	// Query is a provider-native raw query (e.g. "newer_than:7d").
	Query string

	// Limit caps the number of messages fetched; zero uses the client default.
	Limit int

	// Folders to search; empty uses the client's configured folders.
	Folders []string

	// HeadersOnly skips body downloads. Messages already stored are left
	// alone so their bodies are not replaced with empty ones.
	HeadersOnly bool
}

// Summary describes one run.
type Summary struct {
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Fetched   int           `json:"fetched"`
	Synced    int           `json:"synced"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	SyncType  string        `json:"sync_type"`
}

// Syncer runs ingestion.
type Syncer struct {
	client Searcher
	store  *store.Store
	logger *slog.Logger
	opts   Options
}

// New creates a Syncer.
func New(client Searcher, st *store.Store, opts Options) *Syncer {
	return &Syncer{
		client: client,
		store:  st,
		logger: slog.Default(),
		opts:   opts,
	}
}

// WithLogger sets the logger.
func (s *Syncer) WithLogger(logger *slog.Logger) *Syncer {
	s.logger = logger
	return s
}

// Run searches the remote mailbox, upserts every result and records the run
// in the sync metadata, including failed runs.
func (s *Syncer) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{StartTime: time.Now(), SyncType: store.SyncTypeFull}
	if s.opts.HeadersOnly {
		summary.SyncType = store.SyncTypeHeadersOnly
	}

	criteria := search.Criteria{
		Limit:    s.opts.Limit,
		Folders:  s.opts.Folders,
		RawQuery: s.opts.Query,
	}
	results, err := s.client.Search(ctx, criteria, imap.SearchOptions{HeadersOnly: s.opts.HeadersOnly})
	if err != nil {
		s.record(summary, err)
		return nil, fmt.Errorf("search remote mailbox: %w", err)
	}
	summary.Fetched = len(results)

	existing := map[string]bool{}
	if s.opts.HeadersOnly && len(results) > 0 {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.Email.MessageID
		}
		if existing, err = s.store.ExistingMessageIDs(ids); err != nil {
			s.record(summary, err)
			return nil, err
		}
	}

	for i := range results {
		if err := ctx.Err(); err != nil {
			s.record(summary, err)
			return nil, err
		}
		r := &results[i]
		if existing[r.Email.MessageID] {
			summary.Skipped++
			continue
		}
		if err := s.store.UpsertEmail(&r.Email, r.Attachments); err != nil {
			summary.Failed++
			s.logger.Warn("failed to store message", "message_id", r.Email.MessageID, "error", err)
			continue
		}
		summary.Synced++
	}

	s.record(summary, nil)
	s.logger.Info("sync complete",
		"type", summary.SyncType,
		"fetched", summary.Fetched,
		"synced", summary.Synced,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", summary.Duration.Round(time.Millisecond))
	return summary, nil
}

func (s *Syncer) record(summary *Summary, runErr error) {
	summary.Duration = time.Since(summary.StartTime)
	run := store.SyncRun{
		SyncedAt:      summary.StartTime,
		EmailsSynced:  int64(summary.Synced),
		EmailsSkipped: int64(summary.Skipped),
		EmailsFailed:  int64(summary.Failed),
		SyncType:      summary.SyncType,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if _, err := s.store.RecordSync(run); err != nil {
		s.logger.Warn("failed to record sync run", "error", err)
	}
}
