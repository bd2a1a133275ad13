package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/flagsync/internal/api"
	"github.com/dgnsrekt/flagsync/internal/push"
	"github.com/dgnsrekt/flagsync/internal/storage"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the configured endpoints and credentials",
		Long: `Fetch flag definitions and segment memberships once and request a push
token, then print what was found. Nothing is kept running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			client := api.NewClient(cfg.API, cfg.Endpoints, logger.Named("api"))

			change, err := client.FetchSplitChanges(ctx, storage.NoChangeNumber)
			if err != nil {
				return fmt.Errorf("flag definitions: %w", err)
			}
			fmt.Fprintf(out, "flags: %d (change number %d)\n", len(change.Splits), change.Till)

			segments, err := client.FetchMySegments(ctx, cfg.API.UserKey)
			if err != nil {
				return fmt.Errorf("segments: %w", err)
			}
			fmt.Fprintf(out, "segments for %s: %v\n", cfg.API.UserKey, segments)

			if !cfg.Sync.StreamingEnabled {
				fmt.Fprintln(out, "streaming: disabled by configuration")
				return nil
			}

			result, err := push.NewAuthenticator(client, cfg.API.UserKey, logger.Named("push")).Authenticate(ctx)
			switch {
			case errors.Is(err, push.ErrStreamingDisabled):
				fmt.Fprintln(out, "streaming: disabled by the authority")
			case err != nil:
				logger.Debug("push authentication failed", zap.Error(err))
				return fmt.Errorf("push authentication: %w", err)
			default:
				fmt.Fprintf(out, "streaming: enabled, %d channels, token expires %s\n",
					len(result.Channels), result.Expiration.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
