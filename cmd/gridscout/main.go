// Scout daemon - captures watched windows, OCRs them one at a time and reports changes
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/gridscout/platform/internal/config"
	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/ocr/remote"
	"github.com/gridscout/platform/internal/ocr/tesseract"
	"github.com/gridscout/platform/internal/orchestrator"
	"github.com/gridscout/platform/internal/orchestrator/change"
	"github.com/gridscout/platform/internal/orchestrator/ocr"
	"github.com/gridscout/platform/internal/orchestrator/preprocess"
	"github.com/gridscout/platform/internal/orchestrator/report"
	"github.com/gridscout/platform/internal/orchestrator/scheduler"
	"github.com/gridscout/platform/internal/resilience"
	"github.com/gridscout/platform/internal/screen"
	"github.com/gridscout/platform/internal/screen/x11"
	"github.com/gridscout/platform/internal/server"
	"github.com/gridscout/platform/internal/sink"
	"github.com/gridscout/platform/internal/store"
)

type engine interface {
	ocr.Engine
	Close() error
}

func main() {
	listWindows := flag.Bool("list-windows", false, "print candidate windows and exit")
	flag.Parse()

	cfg := config.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	display, err := x11.Open(cfg.FrameInterval)
	if err != nil {
		slog.Error("failed to connect to X server", "error", err)
		os.Exit(1)
	}
	defer display.Close()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open scout store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	if *listWindows {
		if err := printWindows(display, st, cfg.WindowTitlePrefix); err != nil {
			slog.Error("failed to list windows", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpSink := sink.NewHTTP(cfg.ReportURL, cfg.ReportTimeout)
	clientErrors := sink.NewErrorReporter(httpSink, cfg.Version, cfg.ReportTimeout)

	// OCR engine: remote daemon or in-process Tesseract
	eng, err := openEngine(ctx, cfg)
	if err != nil {
		err = apperrors.Wrap(err, apperrors.OcrInitFailed, "initialise OCR")
		slog.Error("failed to initialise OCR", "error", err)
		clientErrors.Report(ctx, "", err)
		clientErrors.Wait()
		os.Exit(1)
	}
	defer func() { _ = eng.Close() }()
	recognizer := ocr.NewAdapter(eng)
	defer recognizer.Close()

	// Report sinks
	sinks := sink.Fanout{httpSink}
	if cfg.RedisURL != "" {
		rs, err := sink.NewRedis(ctx, cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			slog.Warn("redis sink disabled", "error", err)
		} else {
			defer func() { _ = rs.Close() }()
			sinks = append(sinks, rs)
		}
	}
	deduper := report.NewDeduper(sinks, cfg.KeepAlive, report.WithSendTimeout(cfg.ReportTimeout))

	sched := scheduler.New(scheduler.Config{
		Params:            preprocess.Params{Scale: cfg.Scale, Window: cfg.SauvolaWindow, K: cfg.SauvolaK},
		IdleBackoff:       cfg.IdleBackoff,
		FrameTimeout:      cfg.FrameTimeout,
		DisconnectPhrases: cfg.DisconnectPhrases,
		Version:           cfg.Version,
	}, change.NewDetector(cfg.ChangeMaxDistance), recognizer, deduper, clientErrors)

	orch := orchestrator.New(orchestrator.Options{
		TitlePrefix:  cfg.WindowTitlePrefix,
		PollInterval: cfg.PollInterval,
	}, display, display, sched, st)

	watchStartup(ctx, orch, clientErrors, cfg.ScoutsFile)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("scheduler error", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		orch.Run(ctx)
	}()

	// Start HTTP server
	srv := server.New(orch, deduper.Events())
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("scout daemon starting", "http", cfg.HTTPAddr, "report_url", httpSink.URL(), "sinks", len(sinks), "version", cfg.Version)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	wg.Wait()
	for _, key := range sched.Keys() {
		_ = orch.Unwatch(key, false)
	}
	deduper.Wait()
	clientErrors.Wait()
	slog.Info("shutdown complete")
}

func openEngine(ctx context.Context, cfg *config.Config) (engine, error) {
	if cfg.OCRAddr != "" {
		client, err := remote.Dial(cfg.OCRAddr)
		if err != nil {
			return nil, err
		}
		if err := client.WaitReady(ctx, resilience.DefaultRetryConfig()); err != nil {
			_ = client.Close()
			return nil, err
		}
		slog.Info("using OCR daemon", "addr", cfg.OCRAddr)
		return client, nil
	}

	eng, err := tesseract.New(tesseract.Config{
		TessdataPath: cfg.TessdataPath,
		Language:     cfg.OCRLanguage,
		Blacklist:    cfg.OCRBlacklist,
		DPI:          cfg.OCRDPI,
	})
	if err != nil {
		return nil, err
	}
	if err := eng.Probe(); err != nil {
		_ = eng.Close()
		return nil, err
	}
	slog.Info("using in-process tesseract", "version", eng.Version(), "language", cfg.OCRLanguage)
	return eng, nil
}

func watchStartup(ctx context.Context, orch *orchestrator.Manager, clientErrors *sink.ErrorReporter, path string) {
	specs, err := config.LoadScouts(path)
	if err != nil {
		slog.Warn("failed to load scouts file", "error", err)
		return
	}
	for _, s := range specs {
		if _, err := orch.Watch(ctx, s.Title); err != nil {
			slog.Warn("failed to watch startup scout", "title", s.Title, "error", err)
			if apperrors.IsCode(err, apperrors.CaptureStream) {
				clientErrors.Report(ctx, s.Title, err)
			}
			continue
		}
		m := screen.Margins{Left: s.Margins.Left, Top: s.Margins.Top, Right: s.Margins.Right, Bottom: s.Margins.Bottom}
		if m != (screen.Margins{}) {
			if err := orch.SetMargins(s.Title, m); err != nil {
				slog.Warn("failed to apply margins", "title", s.Title, "error", err)
			}
		}
		if s.System != "" {
			if err := orch.SetSystem(s.Title, s.System); err != nil {
				slog.Warn("failed to apply system", "title", s.Title, "error", err)
			}
		}
	}
}

func printWindows(lister screen.WindowLister, st *store.Store, prefix string) error {
	ctx, cancel := context.WithTimeout(context.Background(), orchestrator.ListTimeout)
	defer cancel()
	wins, err := lister.List(ctx)
	if err != nil {
		return err
	}
	recs, err := st.List()
	if err != nil {
		return err
	}
	saved := make(map[string]store.ScoutRecord, len(recs))
	for _, r := range recs {
		saved[r.Key] = r
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleColoredBright)
	t.AppendHeader(table.Row{"Window", "Title", "PID", "Minimized", "Saved Margins", "System"})
	for _, w := range wins {
		if !strings.HasPrefix(w.Title, prefix) {
			continue
		}
		margins, system := "-", ""
		if r, ok := saved[w.Title]; ok {
			m := r.Margins()
			margins = fmt.Sprintf("%d,%d,%d,%d", m.Left, m.Top, m.Right, m.Bottom)
			system = r.System
		}
		t.AppendRow(table.Row{fmt.Sprintf("0x%x", w.ID), w.Title, w.PID, w.Minimized, margins, system})
	}
	fmt.Println(t.Render())
	return nil
}
