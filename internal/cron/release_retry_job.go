package cron

import (
	"context"
	"fmt"

	"github.com/tradelane/backend/pkg/logger"
)

type releaseReconciler interface {
	RetryStuckReleases(ctx context.Context) error
}

// ReleaseRetryJobParams configure the stuck-release reconciliation job.
type ReleaseRetryJobParams struct {
	Logger *logger.Logger
	Escrow releaseReconciler
}

// NewReleaseRetryJob polls the payout provider for transfers that were
// initiated but never confirmed by a webhook.
func NewReleaseRetryJob(params ReleaseRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	return &releaseRetryJob{logg: params.Logger, escrow: params.Escrow}, nil
}

type releaseRetryJob struct {
	logg   *logger.Logger
	escrow releaseReconciler
}

func (j *releaseRetryJob) Name() string { return "release-retry" }

func (j *releaseRetryJob) Run(ctx context.Context) error {
	if err := j.escrow.RetryStuckReleases(ctx); err != nil {
		return fmt.Errorf("release retry: %w", err)
	}
	j.logg.Info(ctx, "stuck release reconciliation complete")
	return nil
}
