package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/aiox-platform/genstudio/internal/metrics"
)

// Poller queries the provider for task status, one round trip per call.
// Cadence and termination belong to the caller.
type Poller struct {
	provider Provider
}

func NewPoller(provider Provider) *Poller {
	return &Poller{provider: provider}
}

// Query returns the normalized status of taskID.
func (p *Poller) Query(ctx context.Context, taskID string) (*PollResult, error) {
	r, err := p.provider.Query(ctx, taskID)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, fmt.Errorf("querying task %s: %w", taskID, err)
	}
	if !r.State.Valid() || r.State == StateTimedOut {
		return nil, &ProviderError{Message: fmt.Sprintf("unknown task state %q", r.State)}
	}

	res := Normalize(*r)
	metrics.PollsTotal.WithLabelValues(string(res.State)).Inc()
	return &res, nil
}
