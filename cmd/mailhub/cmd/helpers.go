package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/wesm/mailhub/internal/actions"
	"github.com/wesm/mailhub/internal/agent"
	"github.com/wesm/mailhub/internal/config"
	"github.com/wesm/mailhub/internal/imap"
	"github.com/wesm/mailhub/internal/ingest"
	"github.com/wesm/mailhub/internal/store"
	"golang.org/x/term"
)

// openStore opens the database and brings the schema up to date.
func openStore() (*store.Store, error) {
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func imapConfig() *imap.Config {
	return &imap.Config{
		Host:       cfg.IMAP.Host,
		Port:       cfg.IMAP.Port,
		TLS:        cfg.IMAP.TLS,
		STARTTLS:   cfg.IMAP.STARTTLS,
		Username:   cfg.IMAP.Username,
		Auth:       cfg.IMAP.Auth,
		Folders:    cfg.IMAP.Folders,
		FetchLimit: cfg.IMAP.FetchLimit,
	}
}

// imapPassword returns the configured password, prompting on an interactive
// terminal when none is set. Set interactive to false where stdin carries
// protocol traffic.
func imapPassword(icfg *imap.Config, interactive bool) (string, error) {
	if cfg.IMAP.Password != "" {
		return cfg.IMAP.Password, nil
	}
	fd := os.Stdin.Fd()
	if !interactive || !isatty.IsTerminal(fd) {
		return "", fmt.Errorf("IMAP password not configured; set %s or [imap] password in %s",
			config.EnvIMAPPassword, cfg.ConfigPath)
	}

	fmt.Fprintf(os.Stderr, "Password for %s@%s: ", icfg.Username, icfg.Host)
	raw, err := term.ReadPassword(int(fd))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("password is required")
	}
	return string(raw), nil
}

// newIMAPClient builds a client from config. No connection is made yet.
func newIMAPClient(interactive bool) (*imap.Client, error) {
	icfg := imapConfig()
	if err := icfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w\n\nConfigure the mailbox in %s:\n\n  [imap]\n  host = \"imap.example.com\"\n  username = \"you@example.com\"", err, cfg.ConfigPath)
	}
	password, err := imapPassword(icfg, interactive)
	if err != nil {
		return nil, err
	}
	return imap.NewClient(icfg, password, imap.WithLogger(logger)), nil
}

func newAgent() (*agent.OllamaAgent, error) {
	a, err := agent.NewOllamaAgent(cfg.Agent.Server, cfg.Agent.Model, "")
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return a, nil
}

func newGenerator(s *store.Store, collab agent.Collaborator) *actions.Generator {
	return actions.NewGenerator(s, collab,
		actions.WithLogger(logger),
		actions.WithRelatedLimit(cfg.Agent.RelatedLimit),
		actions.WithMaxBodyLen(cfg.Agent.MaxBodyLen),
	)
}

func ingestOptions() ingest.Options {
	return ingest.Options{
		Query:       cfg.Ingest.Query,
		Limit:       cfg.Ingest.Limit,
		HeadersOnly: cfg.Ingest.HeadersOnly,
	}
}

// fit truncates s to width display cells, padding is left to tabwriter.
func fit(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "…")
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// emailRow is one line of an email table.
type emailRow struct {
	ID      string
	Date    time.Time
	From    string
	Subject string
	Extra   string
}

func writeEmailTable(out io.Writer, rows []emailRow, extraHeader string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := "DATE\tFROM\tSUBJECT\tID"
	if extraHeader != "" {
		header += "\t" + extraHeader
	}
	fmt.Fprintln(w, header)
	for _, r := range rows {
		line := fmt.Sprintf("%s\t%s\t%s\t%s", formatDate(r.Date), fit(r.From, 30), fit(r.Subject, 50), r.ID)
		if extraHeader != "" {
			line += "\t" + r.Extra
		}
		fmt.Fprintln(w, line)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nShowing %d results\n", len(rows))
	return nil
}
