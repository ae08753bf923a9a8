package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/resilience"
	"github.com/gridscout/platform/internal/trace"
)

// Client calls an OCR daemon. It implements ocr.Engine.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial creates a client for addr. The connection is established lazily; use
// WaitReady to confirm the daemon is serving.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(MaxImageBytes)),
	)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "dial OCR daemon %s", addr)
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ExtractText performs OCR on an encoded image.
func (c *Client) ExtractText(ctx context.Context, imageData []byte, format string) (string, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, formatKey, format)
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, extractMethod, wrapperspb.Bytes(imageData), out); err != nil {
		return "", apperrors.FromGRPCError(err)
	}
	return out.GetValue(), nil
}

// Check asks the daemon's health service whether OCR is serving.
func (c *Client) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return apperrors.FromGRPCError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return apperrors.Newf(apperrors.Unavailable, "OCR daemon status %s", resp.GetStatus())
	}
	return nil
}

// WaitReady retries Check with backoff. A daemon that never becomes ready is
// an initialisation failure.
func (c *Client) WaitReady(ctx context.Context, cfg resilience.RetryConfig) error {
	log := trace.Logger(ctx)
	err := resilience.Retry(ctx, cfg, func(attempt int) error {
		err := c.Check(ctx)
		if err != nil {
			log.Debug("OCR daemon not ready", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.OcrInitFailed, "OCR daemon not ready")
	}
	return nil
}
