package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/clinical-agents/internal/archive"
	"github.com/joelkehle/clinical-agents/internal/httpapi"
	"github.com/joelkehle/clinical-agents/internal/render"
	"github.com/joelkehle/clinical-agents/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

var serveFlags struct {
	addr      string
	dbPath    string
	noArchive bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis HTTP API",
	Long: `Starts the HTTP API. Completed analyses are archived in SQLite unless
--no-archive is set. Without ANTHROPIC_API_KEY every stage runs its
deterministic fallback.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.addr, "addr", "", "Listen address (overrides CLINICAL_ADDR)")
	f.StringVar(&serveFlags.dbPath, "db", "", "SQLite archive path (overrides CLINICAL_DB_PATH)")
	f.BoolVar(&serveFlags.noArchive, "no-archive", false, "Do not persist analyses")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if serveFlags.addr != "" {
		cfg.Addr = serveFlags.addr
	}
	if serveFlags.dbPath != "" {
		cfg.DBPath = serveFlags.dbPath
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_, shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing_shutdown_failed", zap.Error(err))
		}
	}()

	pipeline, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	opts := []httpapi.Option{httpapi.WithLogger(logger)}
	if !serveFlags.noArchive {
		store, err := archive.Open(cfg.DBPath, archive.WithLogger(logger))
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, httpapi.WithArchive(store))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewServer(pipeline, render.Select(cfg.Render.ChromePath, logger), opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http_listen", zap.String("addr", cfg.Addr), zap.Bool("archive", !serveFlags.noArchive))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("http_stopped")
	return nil
}
