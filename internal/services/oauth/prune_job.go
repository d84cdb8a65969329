package oauth

import (
	"context"
	"time"
)

const DefaultPruneInterval = 5 * time.Minute

// PruneJob periodically clears the DPoP replay store and expired codes.
type PruneJob struct {
	svc      Service
	interval time.Duration
}

func NewPruneJob(svc Service, interval time.Duration) *PruneJob {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &PruneJob{svc: svc, interval: interval}
}

func (j *PruneJob) Type() string { return "oauth_prune" }

func (j *PruneJob) Interval() time.Duration { return j.interval }

func (j *PruneJob) Run(ctx context.Context) error { return j.svc.Prune(ctx) }
