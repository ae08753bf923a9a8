package remote

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/orchestrator/ocr"
	"github.com/gridscout/platform/internal/trace"
)

// Server exposes an engine over gRPC together with the health service.
type Server struct {
	engine ocr.Engine
	grpc   *grpc.Server
	health *health.Server
}

// NewServer creates a server for engine.
func NewServer(engine ocr.Engine) *Server {
	s := &Server{
		engine: engine,
		grpc: grpc.NewServer(
			grpc.UnaryInterceptor(trace.UnaryServerInterceptor()),
			grpc.MaxRecvMsgSize(MaxImageBytes),
		),
		health: health.NewServer(),
	}
	s.grpc.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks the service not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// ExtractText implements the OCR service.
func (s *Server) ExtractText(ctx context.Context, image *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	ctx, span := trace.StartSpan(ctx, "ocr_extract")
	defer span.End()

	format := "png"
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(formatKey); len(v) > 0 && v[0] != "" {
			format = v[0]
		}
	}
	span.SetAttr("format", format)
	span.SetAttr("bytes", len(image.GetValue()))

	if len(image.GetValue()) == 0 {
		return nil, apperrors.New(apperrors.InvalidArgument, "empty image")
	}
	text, err := s.engine.ExtractText(ctx, image.GetValue(), format)
	if err != nil {
		trace.Logger(ctx).Warn("OCR failed", "span", span, "error", err)
		if apperrors.IsCode(err, apperrors.OcrFailure) || apperrors.IsCode(err, apperrors.InvalidArgument) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.OcrFailure, "extract text")
	}
	return wrapperspb.String(text), nil
}
