package imap

import (
	"fmt"
	stdmime "mime"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
)

// fetched is one message as returned by a UID FETCH.
type fetched struct {
	UID          imap.UID
	Flags        []imap.Flag
	Envelope     *imap.Envelope
	InternalDate time.Time
	Size         int64
	Raw          []byte // nil for headers-only fetches
}

// Folder is one selectable mailbox on the server.
type Folder struct {
	Name  string   `json:"name"`
	Attrs []string `json:"attrs,omitempty"`
}

// session is one authenticated server connection. The protocol serializes
// commands per connection, so a session is used by one operation at a time.
type session interface {
	Select(folder string) error
	Unselect() error
	SearchUIDs(criteria *imap.SearchCriteria) ([]imap.UID, error)
	Fetch(uid imap.UID, headersOnly bool) (*fetched, error)
	ListFolders() ([]Folder, error)
	Logout() error
}

// serverSession is a session backed by a live go-imap client.
type serverSession struct {
	conn *imapclient.Client
}

func dialServer(cfg *Config, password string) (session, error) {
	opts := &imapclient.Options{
		WordDecoder: &stdmime.WordDecoder{CharsetReader: charset.Reader},
	}
	addr := cfg.Addr()

	var (
		conn *imapclient.Client
		err  error
	)
	switch {
	case cfg.TLS:
		conn, err = imapclient.DialTLS(addr, opts)
	case cfg.STARTTLS:
		conn, err = imapclient.DialStartTLS(addr, opts)
	default:
		conn, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := authenticate(conn, cfg, password); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &serverSession{conn: conn}, nil
}

func (s *serverSession) Select(folder string) error {
	if _, err := s.conn.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("SELECT %q: %w", folder, err)
	}
	return nil
}

func (s *serverSession) Unselect() error {
	if err := s.conn.Unselect().Wait(); err != nil {
		return fmt.Errorf("UNSELECT: %w", err)
	}
	return nil
}

func (s *serverSession) SearchUIDs(criteria *imap.SearchCriteria) ([]imap.UID, error) {
	data, err := s.conn.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("UID SEARCH: %w", err)
	}
	return data.AllUIDs(), nil
}

func (s *serverSession) Fetch(uid imap.UID, headersOnly bool) (*fetched, error) {
	opts := &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		Envelope:     true,
		InternalDate: true,
		RFC822Size:   true,
	}
	// PEEK leaves \Seen untouched on the server.
	section := &imap.FetchItemBodySection{Peek: true}
	if !headersOnly {
		opts.BodySection = []*imap.FetchItemBodySection{section}
	}

	msgs, err := s.conn.Fetch(imap.UIDSetNum(uid), opts).Collect()
	if err != nil {
		return nil, fmt.Errorf("UID FETCH %d: %w", uid, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("UID FETCH %d: message not found", uid)
	}

	buf := msgs[0]
	f := &fetched{
		UID:          buf.UID,
		Flags:        buf.Flags,
		Envelope:     buf.Envelope,
		InternalDate: buf.InternalDate,
		Size:         buf.RFC822Size,
	}
	if !headersOnly {
		f.Raw = buf.FindBodySection(section)
		if len(f.Raw) == 0 {
			return nil, fmt.Errorf("UID FETCH %d: empty body", uid)
		}
	}
	return f, nil
}

func (s *serverSession) ListFolders() ([]Folder, error) {
	items, err := s.conn.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("LIST: %w", err)
	}
	var out []Folder
	for _, item := range items {
		f := Folder{Name: item.Mailbox}
		selectable := true
		for _, a := range item.Attrs {
			if a == imap.MailboxAttrNoSelect {
				selectable = false
			}
			f.Attrs = append(f.Attrs, string(a))
		}
		if selectable {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *serverSession) Logout() error {
	err := s.conn.Logout().Wait()
	_ = s.conn.Close()
	return err
}
