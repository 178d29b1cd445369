package imap

import (
	"fmt"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
)

// authenticate logs conn in with LOGIN or AUTHENTICATE PLAIN.
func authenticate(conn *imapclient.Client, cfg *Config, password string) error {
	if cfg.Auth == AuthPlain {
		if err := conn.Authenticate(sasl.NewPlainClient("", cfg.Username, password)); err != nil {
			return fmt.Errorf("IMAP AUTHENTICATE PLAIN: %w", err)
		}
		return nil
	}
	if err := conn.Login(cfg.Username, password).Wait(); err != nil {
		return fmt.Errorf("IMAP login: %w", err)
	}
	return nil
}
