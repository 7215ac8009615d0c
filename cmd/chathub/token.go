package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Strob0t/chathub/internal/config"
	"github.com/Strob0t/chathub/internal/domain/chat"
	"github.com/Strob0t/chathub/internal/service"
)

// runToken prints a signed access token for local testing.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id to embed as the token subject (required)")
	name := fs.String("name", "", "display name")
	ttl := fs.Duration("ttl", 0, "token lifetime (default: auth.token_ttl)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: chathub token --user <id> [--name <display>] [--ttl 1h]

Prints an access token signed with auth.jwt_secret. Pass it as
"Authorization: Bearer <token>" or as ?access_token=<token> on /ws.
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		fs.Usage()
		return errors.New("--user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	if *ttl > 0 {
		cfg.Auth.TokenTTL = *ttl
	}

	authSvc := service.NewAuthService(&cfg.Auth, nil)
	token, exp, err := authSvc.IssueToken(chat.Identity{UserID: *userID, Name: *name})
	if err != nil {
		return err
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	return nil
}
