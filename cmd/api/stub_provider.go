package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/providertest"
)

type stubOptions struct {
	addr         string
	clientID     string
	clientSecret string
	users        []string
}

func newStubProviderCmd() *cobra.Command {
	opts := stubOptions{}
	cmd := &cobra.Command{
		Use:   "stub-provider",
		Short: "Run a local stand-in for the Sherpa OAuth provider",
		Example: `  sherpa-broker stub-provider --user kari@example.com:secret
  OAUTH_DOMAIN=http://127.0.0.1:8432 sherpa-broker serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			lg, err := newLogger()
			if err != nil {
				return err
			}
			defer lg.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := newStub(ctx, opts, lg.Sugar())
			if err != nil {
				return err
			}
			defer p.Close()

			srv := &http.Server{Addr: opts.addr, Handler: p.Handler(), ReadHeaderTimeout: 10 * time.Second}
			return run(ctx, srv, lg.Sugar())
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8432", "listen address")
	cmd.Flags().StringVar(&opts.clientID, "client-id", envOr("OAUTH_CLIENT_ID", "local"), "accepted OAuth client id")
	cmd.Flags().StringVar(&opts.clientSecret, "client-secret", envOr("OAUTH_CLIENT_SECRET", "local"), "accepted OAuth client secret")
	cmd.Flags().StringArrayVar(&opts.users, "user", nil, "seed user as email:password (repeatable)")
	return cmd
}

// newStub builds the provider and seeds its users.
func newStub(ctx context.Context, opts stubOptions, sugar *zap.SugaredLogger) (*providertest.Provider, error) {
	p, err := providertest.New(providertest.Config{ClientID: opts.clientID, ClientSecret: opts.clientSecret}, sugar)
	if err != nil {
		return nil, err
	}
	for _, entry := range opts.users {
		email, password, ok := strings.Cut(entry, ":")
		if !ok || email == "" || password == "" {
			p.Close()
			return nil, fmt.Errorf("invalid --user %q, want email:password", entry)
		}
		u, err := p.AddUser(ctx, email, password, "", "")
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("seed user %s: %w", email, err)
		}
		sugar.Infow("seeded user", "id", u.ID, "email", u.Email)
	}
	return p, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
