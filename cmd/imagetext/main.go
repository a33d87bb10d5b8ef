package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/iamanmiglani/Image-to-text/v1/config"
	"github.com/iamanmiglani/Image-to-text/v1/core"
	"github.com/iamanmiglani/Image-to-text/v1/metrics"
	"github.com/iamanmiglani/Image-to-text/v1/ocr"
	"github.com/iamanmiglani/Image-to-text/v1/presets"
	"github.com/iamanmiglani/Image-to-text/v1/render"
	"github.com/iamanmiglani/Image-to-text/v1/session"
	"github.com/iamanmiglani/Image-to-text/v1/web"
)

var addr = flag.String("addr", "", "Address to listen on (overrides IMAGETEXT_ADDR)")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("imagetext stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TraceStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
	}

	reg := metrics.NewRegistry()
	metrics.RegisterTurnMetrics(reg)
	metrics.RegisterPipelineMetrics(reg)

	stack, err := presets.Build(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Warn("close backend", "error", err)
		}
	}()

	var recognizer ocr.Recognizer
	tess, err := ocr.NewTesseract()
	if err != nil {
		logger.Warn("recognition engine unavailable; uploads will fail", "error", err)
		engineErr := err
		recognizer = ocr.RecognizerFunc(func(context.Context, []byte, []string) ([]string, error) {
			return nil, engineErr
		})
	} else {
		defer tess.Close()
		recognizer = tess
	}

	extractor := &ocr.Extractor{
		Normalizer: ocr.Normalizer{MaxPixels: cfg.MaxPixels},
		Recognizer: recognizer,
		Languages:  cfg.Languages,
		Logger:     logger,
	}
	app := core.New(stack.Coordinator(cfg, logger), extractor, stack.Artifacts,
		core.WithLogger(logger),
		core.WithArtifactTTL(cfg.ArtifactTTL),
		core.WithMaxEngineRun(cfg.MaxEngineRun),
		core.WithRenderer(session.FormatPDF, render.PDF{Optimize: cfg.OptimizePDF}),
	)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: web.New(app,
			web.WithLogger(logger),
			web.WithGatherer(reg),
			web.WithMaxUploadBytes(cfg.MaxUploadBytes),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("imagetext listening",
			"addr", cfg.Addr,
			"backend", cfg.Backend,
			"bus", cfg.Bus,
			"queue", cfg.QueueEnabled,
			"lease_ttl", cfg.LeaseTTL,
			"idle_timeout", cfg.IdleTimeout,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return app.Run(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
