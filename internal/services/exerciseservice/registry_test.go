package exerciseservice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/yungbote/headless-lms/internal/data/repos/exercise"
	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/redis"
)

func TestRegistryRefreshAndResolve(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	ctx := context.Background()

	var infoCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		infoCalls.Add(1)
		_, _ = w.Write([]byte(`{"service_name":"Example","user_interface_iframe_path":"/ui","grade_endpoint_path":"/api/grade","public_spec_endpoint_path":"/api/public","model_solution_spec_endpoint_path":"/api/model","has_custom_view":false}`))
	}))
	defer srv.Close()

	svc := testutil.SeedExerciseService(t, ctx, tx, "example-refresh", srv.URL, 2)
	repo := exercise.NewServiceRepo(tx, log)
	reg := NewRegistry(tx, log, repo, NewClient(log, ClientConfig{}), redis.Nop{})

	ep, err := reg.Resolve(ctx, svc.Slug)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ep.GradeURL() != srv.URL+"/grade" {
		t.Fatalf("seeded grade url = %s", ep.GradeURL())
	}

	n, err := reg.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n < 1 || infoCalls.Load() < 1 {
		t.Fatalf("refresh did not reach the service: n=%d calls=%d", n, infoCalls.Load())
	}
	info, err := repo.GetInfo(dbctx.Context{Ctx: ctx}, svc.ID)
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if info.ServiceName != "Example" || info.GradeEndpointPath != "/api/grade" {
		t.Fatalf("info not upserted: %+v", info)
	}

	ep, err = reg.Resolve(ctx, svc.Slug)
	if err != nil {
		t.Fatalf("Resolve after refresh: %v", err)
	}
	if ep.GradeURL() != srv.URL+"/api/grade" {
		t.Fatalf("grade url after refresh = %s", ep.GradeURL())
	}
}

func TestResolveUnknownTypeIsNotFound(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	reg := NewRegistry(tx, log, exercise.NewServiceRepo(tx, log), NewClient(log, ClientConfig{}), nil)
	if _, err := reg.Resolve(context.Background(), "does-not-exist"); err == nil {
		t.Fatalf("expected error for unknown exercise type")
	}
}
