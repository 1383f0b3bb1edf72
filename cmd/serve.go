package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/picbreeder/host/internal/server"
)

// shutdownTimeout bounds how long in-flight saves may take on exit.
const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr, imagesDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the companion save server",
		Long: `Run the companion save server.

The server accepts POST /api/save-image from the network mirror, writes
<images-dir>/<sessionId>/<imageId>.png (plus a .json genome sidecar), and
streams an event per saved image on the /api/events WebSocket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.env()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if addr == "" {
				addr = cfg.Addr
			}
			if imagesDir == "" {
				imagesDir = cfg.ImagesDir
			}

			srv := server.New(server.Options{Addr: addr, ImagesDir: imagesDir, Logger: logger})
			if err := <-srv.StartAsync(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Companion server listening on http://%s\n", srv.Addr())
			fmt.Fprintf(cmd.OutOrStdout(), "Saving images to %s\n", srv.ImagesDir())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			logger.Info("shutting down companion server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("companion server shutdown incomplete", zap.Error(err))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:3001)")
	cmd.Flags().StringVar(&imagesDir, "images-dir", "", "directory to write images to (default <data-dir>/images)")
	return cmd
}
