package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wesm/mailhub/internal/search"
)

// Email is the canonical record of one remote message. Address lists are
// stored as single comma-delimited strings of `Name <addr>` entries.
type Email struct {
	MessageID       string    `json:"message_id"`
	ThreadID        string    `json:"thread_id,omitempty"`
	InReplyTo       string    `json:"in_reply_to,omitempty"`
	UID             uint32    `json:"uid,omitempty"`
	Folder          string    `json:"folder"`
	Date            time.Time `json:"date"`
	Subject         string    `json:"subject"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Cc              string    `json:"cc,omitempty"`
	Bcc             string    `json:"bcc,omitempty"`
	ReplyTo         string    `json:"reply_to,omitempty"`
	BodyText        string    `json:"body_text"`
	BodyHTML        string    `json:"body_html,omitempty"`
	Snippet         string    `json:"snippet"`
	IsRead          bool      `json:"is_read"`
	IsStarred       bool      `json:"is_starred"`
	IsImportant     bool      `json:"is_important"`
	IsDraft         bool      `json:"is_draft"`
	IsSent          bool      `json:"is_sent"`
	IsTrash         bool      `json:"is_trash"`
	IsSpam          bool      `json:"is_spam"`
	Size            int64     `json:"size"`
	AttachmentCount int       `json:"attachment_count"`
	HasAttachments  bool      `json:"has_attachments"`
	Labels          []string  `json:"labels"`
}

// Attachment is attachment metadata owned by one Email.
type Attachment struct {
	ID          int64  `json:"id"`
	MessageID   string `json:"message_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ContentID   string `json:"content_id,omitempty"`
	IsInline    bool   `json:"is_inline"`
}

// EmailWithActions is an Email joined with its current recommendations.
type EmailWithActions struct {
	Email
	Actions            json.RawMessage `json:"actions,omitempty"`
	ActionsGeneratedAt *time.Time      `json:"actions_generated_at,omitempty"`
}

const emailColumns = `
	e.message_id, e.thread_id, e.in_reply_to, e.uid, e.folder, e.sent_at,
	e.subject, e.from_addr, e.to_addrs, e.cc_addrs, e.bcc_addrs, e.reply_to,
	e.body_text, e.body_html, e.snippet,
	e.is_read, e.is_starred, e.is_important, e.is_draft, e.is_sent, e.is_trash, e.is_spam,
	e.size_bytes, e.attachment_count, e.has_attachments, e.labels`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEmail reads emailColumns plus any extra destinations.
func scanEmail(row rowScanner, extra ...any) (Email, error) {
	var (
		e      Email
		sentAt string
		labels string
	)
	dest := []any{
		&e.MessageID, &e.ThreadID, &e.InReplyTo, &e.UID, &e.Folder, &sentAt,
		&e.Subject, &e.From, &e.To, &e.Cc, &e.Bcc, &e.ReplyTo,
		&e.BodyText, &e.BodyHTML, &e.Snippet,
		&e.IsRead, &e.IsStarred, &e.IsImportant, &e.IsDraft, &e.IsSent, &e.IsTrash, &e.IsSpam,
		&e.Size, &e.AttachmentCount, &e.HasAttachments, &labels,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Email{}, err
	}
	e.Date = parseTime(sentAt)
	if labels != "" {
		if err := json.Unmarshal([]byte(labels), &e.Labels); err != nil {
			return Email{}, fmt.Errorf("decode labels for %s: %w", e.MessageID, err)
		}
	}
	return e, nil
}

// UpsertEmail inserts or overwrites an email keyed by message ID and
// replaces its attachments, all in one transaction.
func (s *Store) UpsertEmail(e *Email, atts []Attachment) error {
	if e.MessageID == "" {
		return errors.New("upsert email: empty message id")
	}
	labels := e.Labels
	if labels == nil {
		labels = []string{}
	}
	labelJSON, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}

	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO emails (
				message_id, thread_id, in_reply_to, uid, folder, sent_at,
				subject, from_addr, to_addrs, cc_addrs, bcc_addrs, reply_to,
				body_text, body_html, snippet,
				is_read, is_starred, is_important, is_draft, is_sent, is_trash, is_spam,
				size_bytes, attachment_count, has_attachments, labels, ingested_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO UPDATE SET
				thread_id = excluded.thread_id,
				in_reply_to = excluded.in_reply_to,
				uid = excluded.uid,
				folder = excluded.folder,
				sent_at = excluded.sent_at,
				subject = excluded.subject,
				from_addr = excluded.from_addr,
				to_addrs = excluded.to_addrs,
				cc_addrs = excluded.cc_addrs,
				bcc_addrs = excluded.bcc_addrs,
				reply_to = excluded.reply_to,
				body_text = excluded.body_text,
				body_html = excluded.body_html,
				snippet = excluded.snippet,
				is_read = excluded.is_read,
				is_starred = excluded.is_starred,
				is_important = excluded.is_important,
				is_draft = excluded.is_draft,
				is_sent = excluded.is_sent,
				is_trash = excluded.is_trash,
				is_spam = excluded.is_spam,
				size_bytes = excluded.size_bytes,
				attachment_count = excluded.attachment_count,
				has_attachments = excluded.has_attachments,
				labels = excluded.labels,
				ingested_at = excluded.ingested_at`,
			e.MessageID, e.ThreadID, e.InReplyTo, e.UID, e.Folder, formatTime(e.Date),
			e.Subject, e.From, e.To, e.Cc, e.Bcc, e.ReplyTo,
			e.BodyText, e.BodyHTML, e.Snippet,
			e.IsRead, e.IsStarred, e.IsImportant, e.IsDraft, e.IsSent, e.IsTrash, e.IsSpam,
			e.Size, e.AttachmentCount, e.HasAttachments, string(labelJSON), formatTime(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("upsert email %s: %w", e.MessageID, err)
		}

		if _, err := tx.Exec(`DELETE FROM attachments WHERE message_id = ?`, e.MessageID); err != nil {
			return fmt.Errorf("clear attachments: %w", err)
		}
		for _, a := range atts {
			_, err := tx.Exec(`
				INSERT INTO attachments (message_id, filename, content_type, size_bytes, content_id, is_inline)
				VALUES (?, ?, ?, ?, ?, ?)`,
				e.MessageID, a.Filename, a.ContentType, a.Size, a.ContentID, a.IsInline)
			if err != nil {
				return fmt.Errorf("insert attachment %q: %w", a.Filename, err)
			}
		}
		return nil
	})
}

// GetEmail returns one email, or ErrNotFound.
func (s *Store) GetEmail(messageID string) (*Email, error) {
	row := s.db.QueryRow(`SELECT `+emailColumns+` FROM emails e WHERE e.message_id = ?`, messageID)
	e, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email %s: %w", messageID, err)
	}
	return &e, nil
}

// Attachments lists the attachments of one email.
func (s *Store) Attachments(messageID string) ([]Attachment, error) {
	rows, err := s.db.Query(`
		SELECT id, message_id, filename, content_type, size_bytes, content_id, is_inline
		FROM attachments WHERE message_id = ? ORDER BY id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.ContentType, &a.Size, &a.ContentID, &a.IsInline); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ExistingMessageIDs returns the subset of ids already stored.
func (s *Store) ExistingMessageIDs(ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	err := queryInChunks(s.db, ids, `SELECT message_id FROM emails WHERE message_id IN (%s)`,
		func(rows *sql.Rows) error {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			found[id] = true
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("existing message ids: %w", err)
	}
	return found, nil
}

// ListRecent returns up to limit emails, newest first by sent time, each
// joined with its valid action cache entry if one exists.
func (s *Store) ListRecent(limit int) ([]EmailWithActions, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+emailColumns+`, a.payload, a.generated_at
		FROM emails e
		LEFT JOIN action_cache a ON a.message_id = e.message_id AND a.is_valid = 1
		ORDER BY e.sent_at DESC, e.message_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()

	var out []EmailWithActions
	for rows.Next() {
		var payload, generatedAt sql.NullString
		e, err := scanEmail(rows, &payload, &generatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		ewa := EmailWithActions{Email: e}
		if payload.Valid {
			ewa.Actions = json.RawMessage(payload.String)
			t := parseTime(generatedAt.String)
			ewa.ActionsGeneratedAt = &t
		}
		out = append(out, ewa)
	}
	return out, rows.Err()
}

// SearchEmails runs criteria against the local store. A raw query is
// resolved first; multiple From or To values are OR-combined.
func (s *Store) SearchEmails(c search.Criteria) ([]Email, error) {
	c = c.Resolve(nil)

	var (
		where []string
		args  []any
	)
	anyLike := func(column string, values []string) {
		var ors []string
		for _, v := range values {
			ors = append(ors, "LOWER(e."+column+") LIKE ?")
			args = append(args, "%"+strings.ToLower(v)+"%")
		}
		if len(ors) > 0 {
			where = append(where, "("+strings.Join(ors, " OR ")+")")
		}
	}
	anyLike("from_addr", c.From)
	anyLike("to_addrs", c.To)
	if c.Subject != "" {
		where = append(where, "LOWER(e.subject) LIKE ?")
		args = append(args, "%"+strings.ToLower(c.Subject)+"%")
	}
	if c.Since != nil {
		where = append(where, "e.sent_at >= ?")
		args = append(args, formatTime(*c.Since))
	}
	if c.Before != nil {
		where = append(where, "e.sent_at < ?")
		args = append(args, formatTime(*c.Before))
	}
	if c.UnreadOnly {
		where = append(where, "e.is_read = 0")
	}
	if len(c.Folders) > 0 {
		ph := make([]string, len(c.Folders))
		for i, f := range c.Folders {
			ph[i] = "?"
			args = append(args, f)
		}
		where = append(where, "e.folder IN ("+strings.Join(ph, ",")+")")
	}

	query := `SELECT ` + emailColumns + ` FROM emails e`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY e.sent_at DESC, e.message_id DESC"
	if c.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, c.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search emails: %w", err)
	}
	defer rows.Close()

	var out []Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
