package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"payment-settlement/internal/database"
)

var (
	serveMemory    bool
	serveMigrate   bool
	serveNoSweep   bool
	shutdownPeriod = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the reconciliation sweep",
	Long: `Run the settlement HTTP API with the background reconciliation sweep.

Examples:
  settlement serve
  settlement serve --migrate
  settlement serve --memory --no-sweep`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "keep orders in memory instead of Postgres")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply the schema before serving")
	serveCmd.Flags().BoolVar(&serveNoSweep, "no-sweep", false, "do not start the reconciliation sweep")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, serveMemory)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveMigrate && a.pool != nil {
		if err := database.Migrate(ctx, a.pool); err != nil {
			return err
		}
		a.logger.Info("schema applied")
	}

	var wg sync.WaitGroup
	if !serveNoSweep {
		w := a.worker()
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.server().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case serveErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownPeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown", "error", err)
	}
	wg.Wait()

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}
