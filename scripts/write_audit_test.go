package main

import (
	"go/parser"
	"go/token"
	"testing"
)

const auditSource = `package demo

type service struct {
	repos repos.Set
}

func (s *service) Guarded(ctx context.Context) error {
	return aggregates.ExecuteWrite(ctx, s.deps(), "op", func(dbc dbctx.Context) error {
		_, err := s.repos.Courses.Create(dbc, pk, c)
		return err
	})
}

func (s *service) Unguarded(ctx context.Context) error {
	_, _ = s.repos.Courses.GetByID(dbctx.Context{Ctx: ctx}, id)
	return s.repos.Certificates.SetBlobPath(dbctx.Context{Ctx: ctx}, id, path)
}

func (s *service) ReadOnly(ctx context.Context) error {
	_, err := s.repos.Courses.GetByID(dbctx.Context{Ctx: ctx}, id)
	return err
}
`

func TestAuditFileClassifiesWrites(t *testing.T) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "demo.go", auditSource, 0)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := auditFile(fset, f, "demo.go")
	if len(got) != 2 {
		t.Fatalf("methods = %+v", got)
	}
	byName := map[string]methodReport{}
	for _, m := range got {
		byName[m.Method] = m
	}
	g := byName["Guarded"]
	if len(g.Writes) != 1 || !g.Writes[0].Guarded || g.Writes[0].Repo != "Courses" || g.Writes[0].Method != "Create" {
		t.Fatalf("Guarded = %+v", g)
	}
	u := byName["Unguarded"]
	if len(u.Writes) != 1 || u.Writes[0].Guarded || u.Writes[0].Method != "SetBlobPath" {
		t.Fatalf("Unguarded = %+v", u)
	}
}

func TestIsWrite(t *testing.T) {
	for m, want := range map[string]bool{"Create": true, "SoftDelete": true, "GetByID": false, "StreamUnregistered": false, "ClaimPending": true} {
		if got := isWrite(m); got != want {
			t.Fatalf("isWrite(%q) = %v", m, got)
		}
	}
}
