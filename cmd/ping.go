package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/coursegrab/internal/config"
	"github.com/example/coursegrab/internal/logging"
)

func newPingCmd(configPath *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Obtain a token and check it against the portal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Output: cmd.ErrOrStderr()})
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			cred, err := a.broker.Token(ctx, false)
			if err != nil {
				return err
			}
			if err := a.client.Verify(ctx, cred.Token); err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (token valid until %s)\n", cfg.Portal.BaseURL, cred.ValidUntil.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up after this long")
	return cmd
}
