package email

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/repos"
	emailrepo "github.com/yungbote/headless-lms/internal/data/repos/email"
	types "github.com/yungbote/headless-lms/internal/domain"
	emaildomain "github.com/yungbote/headless-lms/internal/domain/email"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/sendgrid"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultBatchSize = 100
	DefaultSenders   = 8
	claimLease       = 5 * time.Minute
)

// Backoff is the wait after the nth failed attempt. A transient failure past
// the last step stops retrying.
var Backoff = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour, 6 * time.Hour}

type OutboxConfig struct {
	Interval  time.Duration
	BatchSize int
	Senders   int
}

func (c OutboxConfig) withDefaults() OutboxConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Senders <= 0 {
		c.Senders = DefaultSenders
	}
	return c
}

// Outbox drains email_deliveries through SendGrid.
type Outbox struct {
	db     *gorm.DB
	log    *logger.Logger
	repos  repos.Set
	runner aggregates.TxRunner
	mailer sendgrid.Client
	cfg    OutboxConfig
	wake   chan struct{}
	now    func() time.Time
}

func NewOutbox(db *gorm.DB, baseLog *logger.Logger, r repos.Set, mailer sendgrid.Client, cfg OutboxConfig) *Outbox {
	return &Outbox{
		db:     db,
		log:    baseLog.With("job", "EmailOutbox"),
		repos:  r,
		runner: aggregates.NewGormTxRunner(db),
		mailer: mailer,
		cfg:    cfg.withDefaults(),
		wake:   make(chan struct{}, 1),
		now:    time.Now,
	}
}

func (o *Outbox) Type() string { return "email_outbox" }

func (o *Outbox) Interval() time.Duration { return o.cfg.Interval }

func (o *Outbox) Wakeups() <-chan struct{} { return o.wake }

// Wake asks for a drain ahead of the next tick.
func (o *Outbox) Wake() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Outbox) Run(ctx context.Context) error {
	_, err := o.RunOnce(ctx)
	return err
}

// RunOnce claims one batch and returns how many deliveries were sent.
func (o *Outbox) RunOnce(ctx context.Context) (int, error) {
	ctx, span := observability.StartSpan(ctx, "email.outbox")
	defer span.End()

	var claimed []emailrepo.ClaimedDelivery
	err := aggregates.ExecuteWrite(ctx, o.deps(), "EmailOutbox.Claim", func(dbc dbctx.Context) error {
		var err error
		claimed, err = o.repos.EmailDeliveries.ClaimDue(dbc, o.cfg.BatchSize, claimLease)
		return err
	})
	if err != nil || len(claimed) == 0 {
		return 0, err
	}

	queue := make(chan emailrepo.ClaimedDelivery)
	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		for _, d := range claimed {
			select {
			case queue <- d:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < o.cfg.Senders; i++ {
		g.Go(func() error {
			for d := range queue {
				ok, err := o.deliver(gctx, d)
				if err != nil {
					return err
				}
				if ok {
					sent.Add(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(sent.Load()), err
	}
	o.log.Info("email outbox drained", "claimed", len(claimed), "sent", sent.Load())
	return int(sent.Load()), nil
}

// deliver sends one message and records the outcome. Send failures are
// recorded on the row; only bookkeeping failures are returned.
func (o *Outbox) deliver(ctx context.Context, d emailrepo.ClaimedDelivery) (bool, error) {
	msg, err := render(d)
	if err == nil {
		_, err = o.mailer.Send(ctx, msg)
	}
	dbc := dbctx.Context{Ctx: ctx, Tx: o.db.WithContext(ctx)}
	if err == nil {
		observability.Current().IncEmailDelivery("sent")
		return true, o.repos.EmailDeliveries.MarkSent(dbc, d.ID)
	}

	attempt := d.RetryCount + 1
	transient := sendgrid.IsTransient(err)
	var next *time.Time
	if transient && attempt <= len(Backoff) {
		at := o.now().Add(Backoff[attempt-1])
		next = &at
		observability.Current().IncEmailDelivery("retry")
	} else {
		observability.Current().IncEmailDelivery("failed")
	}
	o.log.Warn("email delivery failed",
		"email_delivery_id", d.ID,
		"template", d.Template,
		"attempt", attempt,
		"transient", transient,
		"error", err,
	)
	return false, o.repos.EmailDeliveries.RecordFailure(dbc, d.ID, attempt, err.Error(), transient, next)
}

func (o *Outbox) deps() aggregates.BaseDeps {
	return aggregates.BaseDeps{DB: o.db, Log: o.log, Runner: o.runner}
}

// render fills {{key}} placeholders of the template from the delivery's data.
func render(d emailrepo.ClaimedDelivery) (sendgrid.Message, error) {
	var content emaildomain.TemplateContent
	if err := json.Unmarshal(d.Content, &content); err != nil {
		return sendgrid.Message{}, fmt.Errorf("sendgrid: template %q has unreadable content: %w", d.Template, err)
	}
	pairs := make([]string, 0, 2*len(d.TemplateData))
	for k, v := range d.TemplateData {
		pairs = append(pairs, "{{"+k+"}}", fmt.Sprint(v))
	}
	r := strings.NewReplacer(pairs...)
	return sendgrid.Message{
		To:         sendgrid.Address{Email: d.Email},
		Subject:    r.Replace(d.Subject),
		Text:       r.Replace(content.Text),
		HTML:       r.Replace(content.HTML),
		CustomArgs: map[string]string{"email_delivery_id": d.ID.String()},
	}, nil
}

// Enqueue queues the template of the given type for a user. A course
// template wins over the global one.
func Enqueue(dbc dbctx.Context, r repos.Set, tt emaildomain.TemplateType, courseID *uuid.UUID, userID uuid.UUID, data map[string]any) (*types.EmailDelivery, error) {
	tmpl, err := r.EmailTemplates.GetByType(dbc, tt, courseID)
	if err != nil {
		return nil, err
	}
	return r.EmailDeliveries.Enqueue(dbc, &types.EmailDelivery{
		EmailTemplateID: tmpl.ID,
		UserID:          userID,
		TemplateData:    datatypes.JSONMap(data),
	})
}
