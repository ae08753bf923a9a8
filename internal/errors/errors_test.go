package errors

import (
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestErrorString(t *testing.T) {
	err := New(InvalidCrop, "non-positive rectangle").WithMetadata("source", "EVE - Scout")
	want := "[INVALID_CROP] non-positive rectangle map[source:EVE - Scout]"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := fmt.Errorf("engine crashed")
	err := Wrap(cause, OcrFailure, "recognize")
	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("cycle: %w", New(OcrFailure, "empty result"))
	if !IsCode(err, OcrFailure) {
		t.Error("IsCode should see through fmt wrapping")
	}
	if IsCode(err, InvalidCrop) {
		t.Error("IsCode matched the wrong code")
	}
	if IsCode(fmt.Errorf("plain"), OcrFailure) {
		t.Error("IsCode matched a plain error")
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want codes.Code
	}{
		{InvalidCrop, codes.InvalidArgument},
		{OcrFailure, codes.Internal},
		{OcrInitFailed, codes.Unavailable},
		{NotFound, codes.NotFound},
		{ErrorCode(99), codes.Unknown},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x").GRPCCode(); got != tt.want {
			t.Errorf("GRPCCode(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestGRPCRoundTrip(t *testing.T) {
	orig := New(OcrFailure, "no text").WithMetadata("format", "png")
	got := FromGRPCError(orig.GRPCStatus().Err())

	if got.Code != OcrFailure {
		t.Errorf("Code = %v, want %v", got.Code, OcrFailure)
	}
	if got.Metadata["format"] != "png" {
		t.Errorf("Metadata[format] = %q, want png", got.Metadata["format"])
	}
}

func TestFromGRPCErrorPlain(t *testing.T) {
	got := FromGRPCError(fmt.Errorf("boom"))
	if got.Code != Unknown {
		t.Errorf("Code = %v, want %v", got.Code, Unknown)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(Unavailable, "down")) {
		t.Error("Unavailable should be retryable")
	}
	if !IsRetryable(New(ReportSend, "502")) {
		t.Error("ReportSend should be retryable")
	}
	if IsRetryable(New(InvalidCrop, "bad")) {
		t.Error("InvalidCrop should not be retryable")
	}
}

func TestCodeString(t *testing.T) {
	if got := CaptureStream.String(); got != "CAPTURE_STREAM" {
		t.Errorf("String() = %q, want CAPTURE_STREAM", got)
	}
	if got := parseCode("REPORT_SEND"); got != ReportSend {
		t.Errorf("parseCode = %v, want %v", got, ReportSend)
	}
}
