package app

import (
	"fmt"
	"net/url"

	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/repos"
	"github.com/yungbote/headless-lms/internal/jobs/runtime"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/services/access"
	"github.com/yungbote/headless-lms/internal/services/account"
	"github.com/yungbote/headless-lms/internal/services/certificates"
	"github.com/yungbote/headless-lms/internal/services/chapterlock"
	"github.com/yungbote/headless-lms/internal/services/completion"
	"github.com/yungbote/headless-lms/internal/services/content"
	"github.com/yungbote/headless-lms/internal/services/email"
	"github.com/yungbote/headless-lms/internal/services/exerciseservice"
	"github.com/yungbote/headless-lms/internal/services/export"
	"github.com/yungbote/headless-lms/internal/services/grading"
	"github.com/yungbote/headless-lms/internal/services/oauth"
	"github.com/yungbote/headless-lms/internal/services/peerreview"
	"github.com/yungbote/headless-lms/internal/services/regrading"
	"github.com/yungbote/headless-lms/internal/services/studyregistry"
	"github.com/yungbote/headless-lms/internal/services/visits"
)

type Services struct {
	Access        access.Service
	Account       account.Service
	OAuth         oauth.Service
	Content       content.Service
	Registry      exerciseservice.Registry
	States        grading.StateService
	Pipeline      grading.Pipeline
	Dispatcher    grading.Dispatcher
	Regrading     regrading.Engine
	PeerReview    peerreview.Service
	Completions   completion.CompletionService
	ChapterLocks  chapterlock.ChapterLockService
	Certificates  certificates.CertificateService
	StudyRegistry studyregistry.Service
	Export        export.Service
	Visits        visits.VisitService

	// Jobs holds every background handler the supervisor runs.
	Jobs *runtime.Registry
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r repos.Set, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	peppers, err := oauth.ParsePeppers(cfg.OAuth.Peppers, cfg.OAuth.ActivePepperID)
	if err != nil {
		return Services{}, fmt.Errorf("oauth peppers: %w", err)
	}
	key, err := signingKey(log, cfg.OAuth)
	if err != nil {
		return Services{}, err
	}

	var outbox *email.Outbox
	var waker account.Waker
	if clients.Mailer != nil {
		outbox = email.NewOutbox(db, log, r, clients.Mailer, email.OutboxConfig{
			Interval: cfg.Workers.EmailInterval,
			Senders:  cfg.Workers.EmailSenders,
		})
		waker = outbox
	}

	acct, err := account.NewService(db, log, r, waker, account.Config{
		SessionSecret: []byte(cfg.Account.SessionSecret),
		SessionTTL:    cfg.Account.SessionTTL,
		VerifyURL:     cfg.Account.VerifyURL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("account service: %w", err)
	}

	client := exerciseservice.NewClient(log, cfg.ClientCfg)
	registry := exerciseservice.NewRegistry(db, log, r.ExerciseServices, client, clients.Cache)

	completions := completion.NewCompletionService(db, log, r)
	locks := chapterlock.NewChapterLockService(db, log, r.ChapterLocks, r.Courses, r.Structure)
	states := grading.NewStateService(db, log, r, completions)
	dispatcher := grading.NewDispatcher(db, log, r, registry, client, states, grading.DispatcherConfig{
		BatchSize:   cfg.Workers.GradingBatchSize,
		Concurrency: cfg.Workers.GradingParallel,
		Interval:    cfg.Workers.GradingInterval,
	})
	regrader := regrading.NewEngine(db, log, r, registry, client, states, cfg.Workers.RegradingInterval)
	oauthSvc := oauth.NewService(db, log, r, peppers, key, oauth.Config{
		Issuer:          cfg.OAuth.Issuer,
		AccessTokenTTL:  cfg.OAuth.AccessTokenTTL,
		RefreshTokenTTL: cfg.OAuth.RefreshTokenTTL,
		AuthCodeTTL:     cfg.OAuth.AuthCodeTTL,
		DPoPFutureSkew:  cfg.OAuth.DPoPFutureSkew,
		DPoPPastSkew:    cfg.OAuth.DPoPPastSkew,
		LoginURL:        cfg.OAuth.LoginURL,
		ConsentURL:      cfg.OAuth.ConsentURL,
	})

	jobs := runtime.NewRegistry()
	handlers := []runtime.Handler{
		dispatcher,
		regrader,
		visits.NewRollup(db, log, r, cfg.Workers.RollupInterval),
		oauth.NewPruneJob(oauthSvc, cfg.Workers.PruneInterval),
		exerciseservice.NewPoller(log, registry, cfg.Workers.PollInterval),
	}
	if outbox != nil {
		handlers = append(handlers, outbox)
	}
	for _, h := range handlers {
		if err := jobs.Register(h); err != nil {
			return Services{}, err
		}
	}

	return Services{
		Access:        access.NewService(db, log, r),
		Account:       acct,
		OAuth:         oauthSvc,
		Content:       content.NewService(db, log, r, registry, clients.Cache),
		Registry:      registry,
		States:        states,
		Pipeline:      grading.NewPipeline(db, log, r, states, locks, dispatcher),
		Dispatcher:    dispatcher,
		Regrading:     regrader,
		PeerReview:    peerreview.NewService(db, log, r, states),
		Completions:   completions,
		ChapterLocks:  locks,
		Certificates:  certificates.NewCertificateService(db, log, r, clients.Blobs),
		StudyRegistry: studyregistry.NewService(db, log, r),
		Export:        export.NewService(db, log, r),
		Visits:        visits.NewVisitService(db, log, r, clients.GeoIP),
		Jobs:          jobs,
	}, nil
}

// signingKey loads the configured RSA key. Outside production a missing key
// is replaced by an ephemeral one, which invalidates tokens on restart.
func signingKey(log *logger.Logger, cfg OAuthConfig) (*oauth.SigningKey, error) {
	if cfg.RSAPrivateKey != "" || cfg.RSAKeyFile != "" {
		key, err := oauth.LoadSigningKey(cfg.RSAPrivateKey, cfg.RSAKeyFile)
		if err != nil {
			return nil, fmt.Errorf("oauth signing key: %w", err)
		}
		return key, nil
	}
	if u, err := url.Parse(cfg.Issuer); err == nil && u.Scheme == "https" {
		return nil, fmt.Errorf("oauth signing key: OAUTH_RSA_PRIVATE_KEY_PEM or OAUTH_RSA_PRIVATE_KEY_PEM_FILE is required for %s", cfg.Issuer)
	}
	log.Warn("No OAuth signing key configured; generating an ephemeral key")
	return oauth.GenerateSigningKey()
}
