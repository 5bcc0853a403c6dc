package cron

import (
	"context"
	"fmt"

	"github.com/tradelane/backend/pkg/logger"
)

type dispatchRetrier interface {
	RetryPending(ctx context.Context) error
}

// DispatchRetryJobParams configure the dispatch re-notification job.
type DispatchRetryJobParams struct {
	Logger   *logger.Logger
	Dispatch dispatchRetrier
}

// NewDispatchRetryJob re-notifies providers for dispatch requests that have
// gone unanswered.
func NewDispatchRetryJob(params DispatchRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Dispatch == nil {
		return nil, fmt.Errorf("dispatch service required")
	}
	return &dispatchRetryJob{logg: params.Logger, dispatch: params.Dispatch}, nil
}

type dispatchRetryJob struct {
	logg     *logger.Logger
	dispatch dispatchRetrier
}

func (j *dispatchRetryJob) Name() string { return "dispatch-retry" }

func (j *dispatchRetryJob) Run(ctx context.Context) error {
	if err := j.dispatch.RetryPending(ctx); err != nil {
		return fmt.Errorf("dispatch retry: %w", err)
	}
	j.logg.Info(ctx, "dispatch retry sweep complete")
	return nil
}
