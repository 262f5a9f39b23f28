package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cucumber/godog"

	"evv/pkg/evvclient"
)

type TestContext interface {
	Client() (*evvclient.Client, error)
	Record(clock *evvclient.ClockResponse, report *evvclient.SyncReport, err error)
	LastError() error
}

func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^I push (\d+) sync batches in a row$`, steps.pushBatches)
	ctx.Step(`^the last (\d+) batches should be rate limited$`, steps.lastBatchesLimited)
}

type ratelimitSteps struct {
	tc      TestContext
	results []error
}

func (s *ratelimitSteps) pushBatches(ctx context.Context, n int) error {
	c, err := s.tc.Client()
	if err != nil {
		return err
	}
	s.results = s.results[:0]
	for i := range n {
		report, err := c.Reconcile(ctx, []evvclient.SyncRecord{{
			Type:       "task",
			ID:         fmt.Sprintf("throttle-%d", i),
			ModifiedAt: time.Now().UTC(),
			Fields:     map[string]any{"completed": false},
		}})
		s.results = append(s.results, err)
		s.tc.Record(nil, report, err)
	}
	return nil
}

func (s *ratelimitSteps) lastBatchesLimited(_ context.Context, n int) error {
	if n > len(s.results) {
		return fmt.Errorf("only %d batches were sent", len(s.results))
	}
	cut := len(s.results) - n
	for i, err := range s.results {
		var apiErr *evvclient.APIError
		limited := errors.As(err, &apiErr) && apiErr.Code == "rate_limit_exceeded"
		if i < cut && err != nil {
			return fmt.Errorf("batch %d failed before the limit: %w", i+1, err)
		}
		if i >= cut && !limited {
			return fmt.Errorf("batch %d was not rate limited: %v", i+1, err)
		}
	}
	return nil
}
