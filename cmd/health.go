package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/picbreeder/host/internal/mirror"
)

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the companion server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.env()
			if err != nil {
				return err
			}
			defer logger.Sync()

			timeout := time.Duration(cfg.MirrorTimeoutMs) * time.Millisecond
			net := mirror.NewNetwork(mirror.NetworkOptions{
				Endpoint: cfg.MirrorEndpoint,
				Timeout:  timeout,
				Logger:   logger,
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			h, err := net.Health(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Companion:  %s\n", net.Endpoint())
			fmt.Fprintf(cmd.OutOrStdout(), "Status:     %s\n", h.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Images dir: %s\n", h.ImagesDir)
			return nil
		},
	}
}
