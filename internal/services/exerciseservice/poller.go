package exerciseservice

import (
	"context"
	"time"

	"github.com/yungbote/headless-lms/internal/platform/logger"
)

const DefaultPollInterval = 60 * time.Second

// Poller keeps every registered service's descriptor fresh.
type Poller struct {
	log      *logger.Logger
	registry Registry
	interval time.Duration
}

func NewPoller(baseLog *logger.Logger, registry Registry, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		log:      baseLog.With("job", "ExerciseServiceInfoPoller"),
		registry: registry,
		interval: interval,
	}
}

func (p *Poller) Type() string { return "exercise_service_info" }

func (p *Poller) Interval() time.Duration { return p.interval }

func (p *Poller) Run(ctx context.Context) error {
	n, err := p.registry.Refresh(ctx)
	if err != nil {
		return err
	}
	p.log.Debug("exercise service info refreshed", "services", n)
	return nil
}
