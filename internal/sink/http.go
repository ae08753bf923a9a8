package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/orchestrator/report"
	"github.com/gridscout/platform/internal/resilience"
	"github.com/gridscout/platform/internal/trace"
)

// Paths appended to the configured base URL.
const (
	ReportPath = "api/report"
	ErrorPath  = "api/error"
)

// maxLoggedBody caps how much of the response body is logged.
const maxLoggedBody = 4096

// HTTP posts payloads as JSON.
type HTTP struct {
	url     string
	errURL  string
	client  *http.Client
	breaker *resilience.Breaker
}

// NewHTTP creates a sink posting to baseURL + ReportPath.
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HTTP{
		url:     baseURL + ReportPath,
		errURL:  baseURL + ErrorPath,
		client:  &http.Client{Timeout: timeout},
		breaker: resilience.New("report-sink", resilience.DefaultConfig()),
	}
}

// URL returns the endpoint reports are posted to.
func (h *HTTP) URL() string { return h.url }

// Breaker exposes the circuit breaker guarding the endpoint.
func (h *HTTP) Breaker() *resilience.Breaker { return h.breaker }

// Send implements report.Sender. Any non-2xx status is a failed send.
func (h *HTTP) Send(ctx context.Context, p report.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "encode report")
	}

	err = h.breaker.Execute(func() error { return h.post(ctx, h.url, body) })
	if errors.Is(err, resilience.ErrOpen) {
		return apperrors.Wrap(err, apperrors.ReportSend, "report endpoint unavailable")
	}
	return err
}

// ClientError is a local failure posted to ErrorPath so the server side can
// see scouts that stopped reporting.
type ClientError struct {
	Source  string    `json:"source,omitempty"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Version string    `json:"version"`
	Time    time.Time `json:"time"`
}

// NewClientError describes err for source; the code comes from the wrapped
// AppError when there is one.
func NewClientError(source string, err error, version string) ClientError {
	code := apperrors.Unknown
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	return ClientError{
		Source:  source,
		Code:    code.String(),
		Message: err.Error(),
		Version: version,
		Time:    time.Now().UTC(),
	}
}

// SendError posts e to ErrorPath through the same breaker as reports.
func (h *HTTP) SendError(ctx context.Context, e ClientError) error {
	body, err := json.Marshal(e)
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "encode client error")
	}
	err = h.breaker.Execute(func() error { return h.post(ctx, h.errURL, body) })
	if errors.Is(err, resilience.ErrOpen) {
		return apperrors.Wrap(err, apperrors.ReportSend, "error endpoint unavailable")
	}
	return err
}

func (h *HTTP) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "build report request")
	}
	req.Header.Set("Content-Type", "application/json")
	trace.InjectHeaders(ctx, req.Header)

	resp, err := h.client.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ReportSend, "post report")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.Newf(apperrors.ReportSend, "report endpoint returned %d", resp.StatusCode).
			WithMetadata("body", string(respBody))
	}
	trace.Logger(ctx).Debug("report accepted", "status", resp.StatusCode, "body", string(respBody))
	return nil
}
