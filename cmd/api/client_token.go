package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/config"
)

func newClientTokenCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "client-token",
		Short: "Print the cached client token, acquiring one if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			lg, err := newLogger()
			if err != nil {
				return err
			}
			defer lg.Sync()

			ctx := cmd.Context()
			c, err := wire(ctx, cfg, lg.Sugar())
			if err != nil {
				return err
			}
			defer c.close()

			if refresh {
				if _, err := c.broker.Tokens().Refresh(ctx); err != nil {
					return err
				}
			}
			tok, err := c.broker.ClientTokenSource(ctx).Token()
			if err != nil {
				return err
			}
			out := map[string]any{
				"access_token": tok.AccessToken,
				"token_type":   tok.Type(),
			}
			if !tok.Expiry.IsZero() {
				out["expiry"] = tok.Expiry.Format(time.RFC3339)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "acquire a fresh token before printing")
	return cmd
}
