// OCR daemon - serves Tesseract over gRPC so the scout daemon can run elsewhere
package main

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridscout/platform/internal/config"
	"github.com/gridscout/platform/internal/ocr/remote"
	"github.com/gridscout/platform/internal/ocr/tesseract"
)

func main() {
	cfg := config.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	eng, err := tesseract.New(tesseract.Config{
		TessdataPath: cfg.TessdataPath,
		Language:     cfg.OCRLanguage,
		Blacklist:    cfg.OCRBlacklist,
		DPI:          cfg.OCRDPI,
	})
	if err != nil {
		slog.Error("failed to create tesseract engine", "error", err)
		os.Exit(1)
	}
	defer func() { _ = eng.Close() }()
	if err := eng.Probe(); err != nil {
		slog.Error("tesseract probe failed", "tessdata", cfg.TessdataPath, "language", cfg.OCRLanguage, "error", err)
		os.Exit(1)
	}

	lis, err := net.Listen("tcp", cfg.OCRListenAddr)
	if err != nil {
		slog.Error("failed to listen", "addr", cfg.OCRListenAddr, "error", err)
		os.Exit(1)
	}

	// The engine serializes calls, so concurrent clients queue on it.
	srv := remote.NewServer(eng)

	go func() {
		slog.Info("OCR daemon starting", "addr", lis.Addr().String(), "tesseract", eng.Version(), "language", cfg.OCRLanguage)
		if err := srv.Serve(lis); err != nil {
			slog.Error("grpc server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	srv.Stop()
	slog.Info("shutdown complete")
}
