package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func tokensCommand() *cli.Command {
	return &cli.Command{
		Name:   "tokens",
		Usage:  "Exchange the configured credentials for tokens",
		Action: tokensAction,
	}
}

func tokensAction(c *cli.Context) error {
	cfg, err := loadConfig(c, nil)
	if err != nil {
		return err
	}
	s, err := newSession(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	defer s.close()

	creds := cfg.PixelnetCredentials()
	failed := 0
	for _, cred := range creds {
		tok, err := s.fetcher.Fetch(c.Context, cred)
		if err != nil {
			failed++
			s.logger.Warn("token exchange failed", zap.Uint32("uid", cred.AccountID), zap.Error(err))
			continue
		}
		printToken(c.App.Writer, tok.AccountID, tok.Bytes)
	}

	ok := len(creds) - failed
	s.logger.Info("token exchange finished", zap.Int("ok", ok), zap.Int("failed", failed))
	if ok == 0 {
		return cli.Exit("no credential produced a token", exitFailure)
	}
	return nil
}

// printToken writes the uid and a masked token, enough to tell tokens apart.
func printToken(w io.Writer, uid uint32, token []byte) {
	fmt.Fprintf(w, "%d\tok\t%x%s\n", uid, token[:min(len(token), 4)], strings.Repeat("*", 24))
}
