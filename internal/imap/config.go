// Package imap is the remote mail client: it searches an IMAP mailbox and
// normalizes matching messages into store records.
package imap

import (
	"fmt"
	"net/url"
)

// Auth mechanisms.
const (
	AuthLogin = "login"
	AuthPlain = "plain"
)

// DefaultFetchLimit caps a search when neither the criteria nor the config
// set a limit.
const DefaultFetchLimit = 50

// Config holds connection settings for an IMAP server.
type Config struct {
	Host       string
	Port       int
	TLS        bool // implicit TLS (IMAPS, port 993)
	STARTTLS   bool // STARTTLS upgrade (port 143)
	Username   string
	Auth       string   // AuthLogin (default) or AuthPlain
	Folders    []string // searched when criteria name none
	FetchLimit int
}

func (c *Config) port() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.TLS {
		return 993
	}
	return 143
}

// Addr returns "host:port".
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.port())
}

// Identifier returns a display string like "imaps://user@host:993".
func (c *Config) Identifier() string {
	scheme := "imap"
	if c.TLS {
		scheme = "imaps"
	}
	return fmt.Sprintf("%s://%s@%s:%d", scheme, url.PathEscape(c.Username), c.Host, c.port())
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("imap host is not configured")
	}
	if c.Username == "" {
		return fmt.Errorf("imap username is not configured")
	}
	switch c.Auth {
	case "", AuthLogin, AuthPlain:
	default:
		return fmt.Errorf("unsupported imap auth %q (expected %q or %q)", c.Auth, AuthLogin, AuthPlain)
	}
	return nil
}
