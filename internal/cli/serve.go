package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/gluk-w/hopshell/internal/config"
	"github.com/gluk-w/hopshell/internal/handlers"
	"github.com/gluk-w/hopshell/internal/metrics"
	"github.com/gluk-w/hopshell/internal/shell"
)

func newServeCmd(_ *options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for a browser front-end",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = config.Cfg.ListenAddr
			}
			return serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides HOPSHELL_LISTEN_ADDR)")
	return cmd
}

func serve(ctx context.Context, addr string) error {
	events := shell.NewEventRing()
	m := metrics.NewMetrics()

	conn, err := openConnection(os.Stderr, events, m)
	if err != nil {
		return err
	}
	defer conn.Close()

	handlers.Session = conn.session
	handlers.Pods = handlers.NewPodService(conn.kube)
	handlers.Events = events
	handlers.Metrics = m
	handlers.AuditLog = conn.auditor
	log.Printf("Session %s initialized (%d hops, namespace %s)", conn.session.ID(), len(conn.rt.Shell.Hops), conn.kube.Namespace())

	var purge *cron.Cron
	if conn.auditor != nil {
		purge, err = conn.auditor.StartPurgeJob()
		if err != nil {
			return fmt.Errorf("start audit purge: %w", err)
		}
		log.Printf("Audit retention: %d days", conn.auditor.RetentionDays())
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-sigCtx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	log.Println("Shutting down...")

	if purge != nil {
		purge.Stop()
	}
	if err := conn.session.CancelStream(); err != nil {
		log.Printf("Cancel stream: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Println("Server stopped")
	return nil
}
