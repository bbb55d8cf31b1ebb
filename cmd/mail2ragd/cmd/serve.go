package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mail2rag/internal/app"
	"github.com/Aman-CERP/mail2rag/internal/httpapi"
	"github.com/Aman-CERP/mail2rag/internal/state"
)

// shutdownGrace bounds how long serve waits for in-flight HTTP
// requests and mail jobs to finish once a shutdown signal arrives.
const shutdownGrace = 15 * time.Second

// newServeCmd creates the serve command: the long-running daemon that
// starts the HTTP API and, if mail is configured, the IMAP poll loop,
// and runs both until SIGINT/SIGTERM.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and mail ingestion loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := loadConfig()
			if err != nil {
				return fmt.Errorf("serve: load config: %w", err)
			}

			a, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("serve: construct app: %w", err)
			}
			defer a.Close()

			cursorStore, err := state.NewJSONFileStore(cfg.Paths.StateDir + "/cursor.json")
			if err != nil {
				return fmt.Errorf("serve: open cursor store: %w", err)
			}

			loop, sched, err := a.WithMailLoop(ctx, cursorStore)
			if err != nil {
				return fmt.Errorf("serve: construct mail loop: %w", err)
			}

			srv := httpapi.NewServer(a)
			go func() {
				logger.Info("serve: http api listening", "addr", cfg.HTTP.ListenAddr)
				if err := srv.Start(cfg.HTTP.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("serve: http api stopped", "error", err)
				}
			}()

			if loop != nil {
				go func() {
					logger.Info("serve: mail loop starting", "imap_host", cfg.Mail.IMAPHost)
					if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("serve: mail loop stopped", "error", err)
					}
				}()
			} else {
				logger.Info("serve: mail loop disabled, no imap_host configured")
			}

			<-ctx.Done()
			logger.Info("serve: shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("serve: http api shutdown error", "error", err)
			}
			if sched != nil {
				sched.Shutdown(shutdownGrace)
			}

			return nil
		},
	}
}
