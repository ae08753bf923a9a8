// Package tesseract runs OCR in-process through libtesseract.
package tesseract

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"sync"

	"github.com/otiai10/gosseract/v2"

	apperrors "github.com/gridscout/platform/internal/errors"
)

// Config holds engine initialisation parameters.
type Config struct {
	TessdataPath string
	Language     string
	Blacklist    string
	DPI          int
}

// Engine wraps one gosseract client. The client is not safe for concurrent
// use, so calls are serialized.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New creates and configures an engine. Language data is loaded lazily; call
// Probe to fail fast at startup.
func New(cfg Config) (*Engine, error) {
	client := gosseract.NewClient()
	if err := configure(client, cfg); err != nil {
		client.Close()
		return nil, apperrors.Wrap(err, apperrors.OcrInitFailed, "configure tesseract")
	}
	return &Engine{client: client}, nil
}

func configure(c *gosseract.Client, cfg Config) error {
	if cfg.TessdataPath != "" {
		if err := c.SetTessdataPrefix(cfg.TessdataPath); err != nil {
			return err
		}
	}
	if cfg.Language != "" {
		if err := c.SetLanguage(cfg.Language); err != nil {
			return err
		}
	}
	if cfg.Blacklist != "" {
		if err := c.SetBlacklist(cfg.Blacklist); err != nil {
			return err
		}
	}
	if cfg.DPI > 0 {
		if err := c.SetVariable("user_defined_dpi", strconv.Itoa(cfg.DPI)); err != nil {
			return err
		}
	}
	return c.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK)
}

// Probe runs one recognition on a blank image so missing language data
// surfaces now rather than on the first frame.
func (e *Engine) Probe() error {
	var buf bytes.Buffer
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(color.White.Y >> 8)
	}
	if err := png.Encode(&buf, img); err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "encode probe image")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return apperrors.Wrap(err, apperrors.OcrInitFailed, "load probe image")
	}
	if _, err := e.client.Text(); err != nil {
		return apperrors.Wrap(err, apperrors.OcrInitFailed, "initialise tesseract")
	}
	return nil
}

// ExtractText recognizes text in an encoded image. The format is informational;
// Leptonica detects it from the data.
func (e *Engine) ExtractText(ctx context.Context, imageData []byte, format string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(imageData) == 0 {
		return "", apperrors.New(apperrors.InvalidArgument, "empty image")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.client.SetImageFromBytes(imageData); err != nil {
		return "", apperrors.Wrapf(err, apperrors.OcrFailure, "load %s image", format)
	}
	text, err := e.client.Text()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.OcrFailure, "recognize")
	}
	return text, nil
}

// Version returns the libtesseract version.
func (e *Engine) Version() string {
	return gosseract.Version()
}

// Close releases the client.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}
