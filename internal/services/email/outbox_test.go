package email

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/repos"
	emailrepo "github.com/yungbote/headless-lms/internal/data/repos/email"
	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
	emaildomain "github.com/yungbote/headless-lms/internal/domain/email"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/sendgrid"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []sendgrid.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg sendgrid.Message) (*sendgrid.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msg)
	return &sendgrid.SendResult{StatusCode: 202}, nil
}

type outboxFixture struct {
	outbox *Outbox
	mailer *fakeMailer
	set    repos.Set
	dbc    dbctx.Context
	user   *types.User
	now    time.Time
}

func newOutboxFixture(t *testing.T) *outboxFixture {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	ctx := context.Background()
	set := repos.NewSet(tx, log)
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	_, err := set.EmailTemplates.Create(dbc, pkey.NewGenerate(), &types.EmailTemplate{
		Name:         "welcome",
		Subject:      "Hello {{name}}",
		TemplateType: emaildomain.TemplateEmailVerification,
		Content:      datatypes.NewJSONType(emaildomain.TemplateContent{Text: "Open {{link}}", HTML: "<a href=\"{{link}}\">verify</a>"}),
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	mailer := &fakeMailer{}
	f := &outboxFixture{
		outbox: NewOutbox(tx, log, set, mailer, OutboxConfig{Senders: 1}),
		mailer: mailer,
		set:    set,
		dbc:    dbc,
		user:   testutil.SeedUser(t, ctx, tx, "mail-"+uuid.NewString()[:8]+"@example.com"),
		now:    time.Now(),
	}
	f.outbox.now = func() time.Time { return f.now }
	return f
}

func (f *outboxFixture) enqueue(t *testing.T) *types.EmailDelivery {
	t.Helper()
	d, err := Enqueue(f.dbc, f.set, emaildomain.TemplateEmailVerification, nil, f.user.ID, map[string]any{"name": "Ada", "link": "https://lms.example.com/verify?t=x"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return d
}

func TestOutboxSendsAndMarksSent(t *testing.T) {
	f := newOutboxFixture(t)
	d := f.enqueue(t)

	sent, err := f.outbox.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sent != 1 || len(f.mailer.sent) != 1 {
		t.Fatalf("sent = %d, mailer = %d", sent, len(f.mailer.sent))
	}
	msg := f.mailer.sent[0]
	if msg.To.Email != f.user.Email || msg.Subject != "Hello Ada" || msg.Text != "Open https://lms.example.com/verify?t=x" {
		t.Fatalf("message = %+v", msg)
	}
	if msg.CustomArgs["email_delivery_id"] != d.ID.String() {
		t.Fatalf("custom args = %v", msg.CustomArgs)
	}
	got, err := f.set.EmailDeliveries.GetByID(f.dbc, d.ID)
	if err != nil || !got.Sent {
		t.Fatalf("delivery = %+v, %v", got, err)
	}
	if sent, err := f.outbox.RunOnce(context.Background()); err != nil || sent != 0 {
		t.Fatalf("second run = %d, %v", sent, err)
	}
}

func TestOutboxReschedulesTransientFailures(t *testing.T) {
	f := newOutboxFixture(t)
	d := f.enqueue(t)
	f.mailer.err = &sendgrid.HTTPError{StatusCode: 503, Body: "busy"}

	if _, err := f.outbox.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	got, err := f.set.EmailDeliveries.GetByID(f.dbc, d.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Sent || !got.Retryable || got.RetryCount != 1 || got.NextRetryAt == nil {
		t.Fatalf("delivery = %+v", got)
	}
	if want := f.now.Add(Backoff[0]); got.NextRetryAt.Sub(want).Abs() > time.Second {
		t.Fatalf("next retry = %v, want %v", got.NextRetryAt, want)
	}
	errs, err := f.set.EmailDeliveries.ListErrors(f.dbc, d.ID)
	if err != nil || len(errs) != 1 || !errs[0].Transient {
		t.Fatalf("errors = %+v, %v", errs, err)
	}
	if sent, _ := f.outbox.RunOnce(context.Background()); sent != 0 || len(f.mailer.sent) != 0 {
		t.Fatalf("rescheduled delivery must wait for its retry time")
	}
}

func TestOutboxStopsOnPermanentFailure(t *testing.T) {
	f := newOutboxFixture(t)
	d := f.enqueue(t)
	f.mailer.err = &sendgrid.HTTPError{StatusCode: 400, Body: "bad address"}

	if _, err := f.outbox.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	got, err := f.set.EmailDeliveries.GetByID(f.dbc, d.ID)
	if err != nil || got.Retryable || got.NextRetryAt != nil {
		t.Fatalf("delivery = %+v, %v", got, err)
	}
}

func TestOutboxGivesUpAfterLastBackoff(t *testing.T) {
	f := newOutboxFixture(t)
	d := f.enqueue(t)
	if err := f.dbc.Tx.Model(&types.EmailDelivery{}).Where("id = ?", d.ID).Update("retry_count", len(Backoff)).Error; err != nil {
		t.Fatalf("age delivery: %v", err)
	}
	f.mailer.err = &sendgrid.HTTPError{StatusCode: 502}

	if _, err := f.outbox.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	got, err := f.set.EmailDeliveries.GetByID(f.dbc, d.ID)
	if err != nil || got.Retryable || got.RetryCount != len(Backoff)+1 {
		t.Fatalf("delivery = %+v, %v", got, err)
	}
}

func TestRenderRejectsBrokenContent(t *testing.T) {
	_, err := render(emailrepo.ClaimedDelivery{Content: []byte("not json"), Template: "broken"})
	if err == nil || sendgrid.IsTransient(err) {
		t.Fatalf("broken template content must fail permanently, got %v", err)
	}
}
