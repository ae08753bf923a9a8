// Package sink delivers scout reports to the report endpoint and to
// optional secondary consumers.
package sink

import (
	"context"
	"errors"

	"github.com/gridscout/platform/internal/orchestrator/report"
)

// Fanout sends each payload to every sink in order and joins their errors.
// The send counts as confirmed only when all sinks accepted it.
type Fanout []report.Sender

// Send implements report.Sender.
func (f Fanout) Send(ctx context.Context, p report.Payload) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
