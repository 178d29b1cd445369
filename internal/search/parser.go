package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// operatorFn applies one operator:value pair to the criteria.
type operatorFn func(c *Criteria, value string, now time.Time)

var operators = map[string]operatorFn{
	"from": func(c *Criteria, v string, _ time.Time) {
		c.From = append(c.From, strings.ToLower(v))
	},
	"to": func(c *Criteria, v string, _ time.Time) {
		c.To = append(c.To, strings.ToLower(v))
	},
	"subject": func(c *Criteria, v string, _ time.Time) {
		if c.Subject != "" {
			c.Subject += " "
		}
		c.Subject += v
	},
	"newer_than": func(c *Criteria, v string, now time.Time) {
		if t := parseRelativeDate(v, now); t != nil {
			c.Since = t
		}
	},
	"after": func(c *Criteria, v string, now time.Time) {
		if t := parseRelativeDate(v, now); t != nil {
			c.Since = t
		} else if t := parseDate(v); t != nil {
			c.Since = t
		}
	},
	"older_than": func(c *Criteria, v string, now time.Time) {
		if t := parseRelativeDate(v, now); t != nil {
			c.Before = t
		}
	},
	"before": func(c *Criteria, v string, _ time.Time) {
		if t := parseDate(v); t != nil {
			c.Before = t
		}
	},
	"is": func(c *Criteria, v string, _ time.Time) {
		if strings.EqualFold(v, "unread") {
			c.UnreadOnly = true
		}
	},
}

// Parser translates provider-native raw queries.
type Parser struct {
	Now func() time.Time // time source for relative dates
}

// NewParser returns a Parser using the current UTC time.
func NewParser() *Parser {
	return &Parser{Now: func() time.Time { return time.Now().UTC() }}
}

// ParseRaw extracts field:value tokens from a raw provider query.
//
// Recognized operators:
//   - from:, to: address filters (repeatable, OR-combined)
//   - subject: bare word or "quoted phrase"
//   - newer_than:, after: relative dates (7d, 2w, 3m, 1y); after: also
//     accepts YYYY-MM-DD and YYYY/MM/DD
//   - before:, older_than: the upper date bound
//   - is:unread
//
// Anything else, including bare words, is ignored. A query with nothing
// recognizable yields empty criteria, which matches all messages.
func (p *Parser) ParseRaw(raw string) Criteria {
	var c Criteria
	now := time.Now().UTC()
	if p != nil && p.Now != nil {
		now = p.Now()
	}
	for _, token := range tokenize(raw) {
		idx := strings.Index(token, ":")
		if idx <= 0 || token[0] == '"' {
			continue
		}
		op := strings.ToLower(token[:idx])
		value := unquote(token[idx+1:])
		if value == "" {
			continue
		}
		if handler, ok := operators[op]; ok {
			handler(&c, value, now)
		}
	}
	return c
}

// ParseRaw parses raw with the default parser.
func ParseRaw(raw string) Criteria {
	return NewParser().ParseRaw(raw)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// tokenize splits on whitespace, keeping op:"quoted value" and standalone
// "quoted phrases" as single tokens. Standalone phrases keep their quotes
// so the caller can tell them apart from operators.
func tokenize(s string) []string {
	var (
		tokens  []string
		current strings.Builder
		inQuote bool
	)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			current.WriteRune(r)
			inQuote = !inQuote
			if !inQuote {
				flush()
			}
		case (r == ' ' || r == '\t' || r == '\n') && !inQuote:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

var dateFormats = []string{"2006-01-02", "2006/01/02"}

func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	for _, format := range dateFormats {
		if t, err := time.Parse(format, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

var relativeDateRe = regexp.MustCompile(`^(\d+)([dwmy])$`)

// parseRelativeDate turns 7d, 2w, 1m or 1y into an absolute time before now.
func parseRelativeDate(value string, now time.Time) *time.Time {
	match := relativeDateRe.FindStringSubmatch(strings.TrimSpace(strings.ToLower(value)))
	if match == nil {
		return nil
	}
	amount, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}

	var t time.Time
	switch match[2] {
	case "d":
		t = now.AddDate(0, 0, -amount)
	case "w":
		t = now.AddDate(0, 0, -amount*7)
	case "m":
		t = now.AddDate(0, -amount, 0)
	case "y":
		t = now.AddDate(-amount, 0, 0)
	}
	return &t
}
