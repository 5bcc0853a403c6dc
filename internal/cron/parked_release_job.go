package cron

import (
	"context"
	"fmt"

	"github.com/tradelane/backend/pkg/logger"
)

type parkedReleaseRetrier interface {
	RetryParkedReleases(ctx context.Context) error
}

// ParkedReleaseJobParams configure the parked-release sweep.
type ParkedReleaseJobParams struct {
	Logger *logger.Logger
	Escrow parkedReleaseRetrier
}

// NewParkedReleaseJob re-attempts releases that were parked waiting for
// seller payout details.
func NewParkedReleaseJob(params ParkedReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	return &parkedReleaseJob{logg: params.Logger, escrow: params.Escrow}, nil
}

type parkedReleaseJob struct {
	logg   *logger.Logger
	escrow parkedReleaseRetrier
}

func (j *parkedReleaseJob) Name() string { return "parked-release" }

func (j *parkedReleaseJob) Run(ctx context.Context) error {
	if err := j.escrow.RetryParkedReleases(ctx); err != nil {
		return fmt.Errorf("parked release sweep: %w", err)
	}
	j.logg.Info(ctx, "parked release sweep complete")
	return nil
}
