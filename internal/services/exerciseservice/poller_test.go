package exerciseservice

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
)

type countingRegistry struct {
	refreshes int
	err       error
}

func (r *countingRegistry) Resolve(context.Context, string) (*Endpoint, error) { return nil, nil }

func (r *countingRegistry) Refresh(context.Context) (int, error) {
	r.refreshes++
	return 3, r.err
}

func (r *countingRegistry) GenerateTaskSpecs(context.Context, *types.ExerciseTask) error { return nil }

func TestPollerRefreshesRegistry(t *testing.T) {
	reg := &countingRegistry{}
	p := NewPoller(testutil.Logger(t), reg, 0)
	if p.Interval() != DefaultPollInterval || p.Type() != "exercise_service_info" {
		t.Fatalf("poller = %s every %v", p.Type(), p.Interval())
	}
	if err := p.Run(context.Background()); err != nil || reg.refreshes != 1 {
		t.Fatalf("Run = %v, refreshes = %d", err, reg.refreshes)
	}
	reg.err = errors.New("db down")
	if err := p.Run(context.Background()); err == nil {
		t.Fatalf("expected refresh error to surface")
	}
}
