package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/yungbote/headless-lms/internal/jobs/runtime"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/envutil"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// Worker runs one handler on its interval, and early whenever the handler
// asks to be woken. It implements suture.Service.
type Worker struct {
	log     *logger.Logger
	handler runtime.Handler
	timeout time.Duration
}

func NewWorker(baseLog *logger.Logger, h runtime.Handler) *Worker {
	return &Worker{
		log:     baseLog.With("component", "JobWorker", "job_type", h.Type()),
		handler: h,
		timeout: envutil.Seconds("JOB_RUN_TIMEOUT_SECONDS", 10*time.Minute),
	}
}

func (w *Worker) String() string { return "job:" + w.handler.Type() }

func (w *Worker) Serve(ctx context.Context) error {
	interval := w.handler.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var wake <-chan struct{}
	if wk, ok := w.handler.(runtime.Wakeable); ok {
		wake = wk.Wakeups()
	}

	w.log.Info("Job worker started", "interval", interval.String())
	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Job worker stopped")
			return nil
		case <-ticker.C:
			w.runOnce(ctx)
		case <-wake:
			w.runOnce(ctx)
		}
	}
}

// runOnce never lets a handler error or panic escape; the next tick retries.
func (w *Worker) runOnce(ctx context.Context) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	status := "ok"
	func() {
		defer func() {
			if r := recover(); r != nil {
				status = "panic"
				w.log.Error("Job handler panic", "panic", r, "error", errFromRecover(r))
			}
		}()
		if err := w.handler.Run(runCtx); err != nil {
			status = "error"
			if ctx.Err() == nil {
				w.log.Warn("Job run failed", "error", err)
			}
		}
	}()
	observability.Current().ObserveWorker(w.handler.Type(), status, time.Since(start))
}

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }

// NewSupervisor builds a supervisor with one worker per registered handler.
func NewSupervisor(baseLog *logger.Logger, registry *runtime.Registry) *suture.Supervisor {
	log := baseLog.With("component", "JobSupervisor")
	sup := suture.New("jobs", suture.Spec{
		EventHook: func(ev suture.Event) {
			log.Warn("Supervisor event", "event", ev.String(), "type", int(ev.Type()))
		},
		FailureThreshold: float64(envutil.Int("JOB_FAILURE_THRESHOLD", 5)),
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          envutil.Seconds("JOB_SHUTDOWN_TIMEOUT_SECONDS", 10*time.Second),
	})
	for _, h := range registry.All() {
		sup.Add(NewWorker(baseLog, h))
	}
	return sup
}
