package exerciseservice

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/httpx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/redis"
)

const (
	infoCacheTTL = 5 * time.Minute
	// PollConcurrency bounds concurrent info fetches in one refresh pass.
	PollConcurrency = 10
)

// Endpoint is a registered service together with its advertised descriptor.
type Endpoint struct {
	Service types.ExerciseService     `json:"service"`
	Info    types.ExerciseServiceInfo `json:"info"`
}

func (e Endpoint) GradeURL() string {
	return httpx.JoinURL(e.Service.BaseURL(), e.Info.GradeEndpointPath)
}

func (e Endpoint) PublicSpecURL() string {
	return httpx.JoinURL(e.Service.BaseURL(), e.Info.PublicSpecEndpointPath)
}

func (e Endpoint) ModelSolutionSpecURL() string {
	return httpx.JoinURL(e.Service.BaseURL(), e.Info.ModelSolutionSpecEndpointPath)
}

// IframeURL is served to browsers, so it always uses the public address.
func (e Endpoint) IframeURL() string {
	return httpx.JoinURL(e.Service.PublicURL, e.Info.UserInterfaceIframePath)
}

// InfoURL is where a service publishes its descriptor.
func InfoURL(svc types.ExerciseService) string {
	return svc.BaseURL()
}

type Registry interface {
	// Resolve returns the endpoint registered for an exercise type.
	Resolve(ctx context.Context, exerciseType string) (*Endpoint, error)
	// Refresh fetches and stores the descriptor of every registered service.
	// Failures for one service are logged and do not stop the others.
	Refresh(ctx context.Context) (int, error)
	// GenerateTaskSpecs derives public_spec and model_solution_spec from the
	// task's private_spec through its service.
	GenerateTaskSpecs(ctx context.Context, task *types.ExerciseTask) error
}

type registry struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.ExerciseServiceRepo
	client Client
	cache  redis.Cache
}

func NewRegistry(db *gorm.DB, baseLog *logger.Logger, repo repos.ExerciseServiceRepo, client Client, cache redis.Cache) Registry {
	if cache == nil {
		cache = redis.Nop{}
	}
	return &registry{
		db:     db,
		log:    baseLog.With("service", "ExerciseServiceRegistry"),
		repo:   repo,
		client: client,
		cache:  cache,
	}
}

func cacheKey(slug string) string { return "exercise_service:" + slug }

func (r *registry) Resolve(ctx context.Context, exerciseType string) (*Endpoint, error) {
	ep, err := redis.GetOrLoad(ctx, r.cache, cacheKey(exerciseType), infoCacheTTL, func(ctx context.Context) (Endpoint, error) {
		dbc := dbctx.Context{Ctx: ctx}
		svc, err := r.repo.GetBySlug(dbc, exerciseType)
		if err != nil {
			return Endpoint{}, err
		}
		info, err := r.repo.GetInfo(dbc, svc.ID)
		if domainagg.IsCode(err, domainagg.CodeNotFound) {
			info, err = r.refreshOne(ctx, *svc)
		}
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Service: *svc, Info: *info}, nil
	})
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

func (r *registry) refreshOne(ctx context.Context, svc types.ExerciseService) (*types.ExerciseServiceInfo, error) {
	fetched, err := r.client.FetchInfo(ctx, svc.Slug, InfoURL(svc))
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeRetryable, "ExerciseServiceRegistry.refresh", err)
	}
	info, err := r.repo.UpsertInfo(dbctx.Context{Ctx: ctx}, &types.ExerciseServiceInfo{
		ExerciseServiceID:             svc.ID,
		ServiceName:                   fetched.ServiceName,
		UserInterfaceIframePath:       fetched.UserInterfaceIframePath,
		GradeEndpointPath:             fetched.GradeEndpointPath,
		PublicSpecEndpointPath:        fetched.PublicSpecEndpointPath,
		ModelSolutionSpecEndpointPath: fetched.ModelSolutionSpecEndpointPath,
		HasCustomView:                 fetched.HasCustomView,
	})
	if err != nil {
		return nil, err
	}
	r.cache.SetJSON(ctx, cacheKey(svc.Slug), Endpoint{Service: svc, Info: *info}, infoCacheTTL)
	return info, nil
}

func (r *registry) Refresh(ctx context.Context) (int, error) {
	services, err := r.repo.List(dbctx.Context{Ctx: ctx})
	if err != nil {
		return 0, err
	}
	refreshed := make([]bool, len(services))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(PollConcurrency)
	for i := range services {
		i, svc := i, services[i]
		g.Go(func() error {
			if _, err := r.refreshOne(gctx, svc); err != nil {
				r.log.Warn("exercise service info refresh failed", "exercise_type", svc.Slug, "error", err)
				return nil
			}
			refreshed[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	n := 0
	for _, ok := range refreshed {
		if ok {
			n++
		}
	}
	return n, nil
}

func (r *registry) GenerateTaskSpecs(ctx context.Context, task *types.ExerciseTask) error {
	ep, err := r.Resolve(ctx, task.ExerciseType)
	if err != nil {
		return err
	}
	private := json.RawMessage(task.PrivateSpec)
	public, err := r.client.GenerateSpec(ctx, ep.Service.Slug, ep.PublicSpecURL(), private)
	if err != nil {
		return domainagg.Wrap(domainagg.CodeRetryable, "ExerciseServiceRegistry.GenerateTaskSpecs", err)
	}
	model, err := r.client.GenerateSpec(ctx, ep.Service.Slug, ep.ModelSolutionSpecURL(), private)
	if err != nil {
		return domainagg.Wrap(domainagg.CodeRetryable, "ExerciseServiceRegistry.GenerateTaskSpecs", err)
	}
	task.PublicSpec = []byte(public)
	task.ModelSolutionSpec = []byte(model)
	return nil
}
