package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	userdomain "github.com/yungbote/headless-lms/internal/domain/user"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/services/oauth"
)

// defaultNamespace roots every seeded id unless the file names its own.
var defaultNamespace = uuid.MustParse("6f1c3c8e-6a39-5b0e-9d0a-2d7e1c4b9a51")

type SeedFile struct {
	Namespace        string         `yaml:"namespace"`
	ExerciseServices []SeedService  `yaml:"exercise_services"`
	Organizations    []SeedOrg      `yaml:"organizations"`
	Users            []SeedUser     `yaml:"users"`
	OAuthClients     []SeedOAuthApp `yaml:"oauth_clients"`
}

type SeedService struct {
	Name                  string `yaml:"name"`
	Slug                  string `yaml:"slug"`
	PublicURL             string `yaml:"public_url"`
	InternalURL           string `yaml:"internal_url"`
	MaxReprocessingAtOnce int    `yaml:"max_reprocessing_submissions_at_once"`
}

type SeedOrg struct {
	Slug    string       `yaml:"slug"`
	Name    string       `yaml:"name"`
	Courses []SeedCourse `yaml:"courses"`
}

type SeedCourse struct {
	Slug           string       `yaml:"slug"`
	Name           string       `yaml:"name"`
	LanguageCode   string       `yaml:"language_code"`
	ChapterLocking bool         `yaml:"chapter_locking"`
	Instances      []string     `yaml:"instances"`
	Modules        []SeedModule `yaml:"modules"`
}

type SeedModule struct {
	// Name is empty for the default module.
	Name                string        `yaml:"name"`
	Order               int           `yaml:"order"`
	AutomaticCompletion bool          `yaml:"automatic_completion"`
	PointsThreshold     *int          `yaml:"points_threshold"`
	ExercisesThreshold  *int          `yaml:"exercises_threshold"`
	EctsCredits         *float64      `yaml:"ects_credits"`
	Chapters            []SeedChapter `yaml:"chapters"`
}

type SeedChapter struct {
	Name   string     `yaml:"name"`
	Number int        `yaml:"number"`
	Pages  []SeedPage `yaml:"pages"`
}

type SeedPage struct {
	Path      string         `yaml:"path"`
	Title     string         `yaml:"title"`
	Content   any            `yaml:"content"`
	Exercises []SeedExercise `yaml:"exercises"`
}

type SeedExercise struct {
	Name         string     `yaml:"name"`
	ScoreMaximum int        `yaml:"score_maximum"`
	MaxTries     *int       `yaml:"max_tries_per_slide"`
	Tasks        []SeedTask `yaml:"tasks"`
}

type SeedTask struct {
	ExerciseType      string `yaml:"exercise_type"`
	Assignment        any    `yaml:"assignment"`
	PrivateSpec       any    `yaml:"private_spec"`
	PublicSpec        any    `yaml:"public_spec"`
	ModelSolutionSpec any    `yaml:"model_solution_spec"`
}

type SeedUser struct {
	Email     string     `yaml:"email"`
	Password  string     `yaml:"password"`
	FirstName string     `yaml:"first_name"`
	LastName  string     `yaml:"last_name"`
	Roles     []SeedRole `yaml:"roles"`
}

// SeedRole scopes by slug; both empty grants the role globally.
type SeedRole struct {
	Role         string `yaml:"role"`
	Organization string `yaml:"organization"`
	Course       string `yaml:"course"`
}

type SeedOAuthApp struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Name         string   `yaml:"name"`
	RedirectURIs []string `yaml:"redirect_uris"`
	GrantTypes   []string `yaml:"grant_types"`
	Scopes       []string `yaml:"scopes"`
	Confidential bool     `yaml:"confidential"`
	RequireDPoP  bool     `yaml:"require_dpop"`
}

func LoadSeedFile(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f SeedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &f, nil
}

func (f *SeedFile) Root() (pkey.Policy, error) {
	ns := defaultNamespace
	if strings.TrimSpace(f.Namespace) != "" {
		parsed, err := uuid.Parse(f.Namespace)
		if err != nil {
			return pkey.Policy{}, fmt.Errorf("namespace: %w", err)
		}
		ns = parsed
	}
	return pkey.NewV5(ns, "seed"), nil
}

// Counts reports how many rows a seed run inserted and skipped.
type Counts struct {
	Created int
	Skipped int
}

type seeder struct {
	log    *logger.Logger
	repos  repos.Set
	oauth  oauth.Service
	root   pkey.Policy
	counts Counts

	orgIDs    map[string]uuid.UUID
	courseIDs map[string]uuid.UUID
}

func newSeeder(log *logger.Logger, r repos.Set, oauthSvc oauth.Service, root pkey.Policy) *seeder {
	return &seeder{
		log:       log.With("component", "Seeder"),
		repos:     r,
		oauth:     oauthSvc,
		root:      root,
		orgIDs:    map[string]uuid.UUID{},
		courseIDs: map[string]uuid.UUID{},
	}
}

// Run inserts everything missing from f. Rows already present under their
// derived id are left untouched.
func (s *seeder) Run(ctx context.Context, db *gorm.DB, f *SeedFile) (Counts, error) {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		for _, svc := range f.ExerciseServices {
			if err := s.exerciseService(dbc, svc); err != nil {
				return err
			}
		}
		for _, o := range f.Organizations {
			if err := s.organization(dbc, o); err != nil {
				return err
			}
		}
		for _, u := range f.Users {
			if err := s.user(dbc, u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return s.counts, err
	}
	for _, c := range f.OAuthClients {
		if err := s.oauthClient(ctx, db, c); err != nil {
			return s.counts, err
		}
	}
	return s.counts, nil
}

func (s *seeder) exerciseService(dbc dbctx.Context, in SeedService) error {
	pk := s.root.Child("exercise-service:" + in.Slug)
	ok, err := exists[types.ExerciseService](dbc, pk)
	if err != nil || ok {
		return err
	}
	svc := &types.ExerciseService{
		Name:                             in.Name,
		Slug:                             in.Slug,
		PublicURL:                        in.PublicURL,
		MaxReprocessingSubmissionsAtOnce: max(in.MaxReprocessingAtOnce, 1),
	}
	if in.InternalURL != "" {
		svc.InternalURL = &in.InternalURL
	}
	if _, err := s.repos.ExerciseServices.Create(dbc, pk, svc); err != nil {
		return fmt.Errorf("exercise service %s: %w", in.Slug, err)
	}
	s.counts.Created++
	return nil
}

func (s *seeder) organization(dbc dbctx.Context, in SeedOrg) error {
	pk := s.root.Child("organization:" + in.Slug)
	s.orgIDs[in.Slug] = pk.Resolve()
	ok, err := exists[types.Organization](dbc, pk)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.repos.Organizations.Create(dbc, pk, &types.Organization{Slug: in.Slug, Name: in.Name}); err != nil {
			return fmt.Errorf("organization %s: %w", in.Slug, err)
		}
		s.counts.Created++
	}
	for _, c := range in.Courses {
		if err := s.course(dbc, pk, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *seeder) course(dbc dbctx.Context, org pkey.Policy, in SeedCourse) error {
	pk := org.Child("course:" + in.Slug)
	s.courseIDs[in.Slug] = pk.Resolve()
	ok, err := exists[types.Course](dbc, pk)
	if err != nil {
		return err
	}
	if !ok {
		course := &types.Course{
			OrganizationID:        org.Resolve(),
			Slug:                  in.Slug,
			Name:                  in.Name,
			LanguageCode:          in.LanguageCode,
			ChapterLockingEnabled: in.ChapterLocking,
		}
		if course.LanguageCode == "" {
			course.LanguageCode = "en-US"
		}
		if _, err := s.repos.Courses.Create(dbc, pk, course); err != nil {
			return fmt.Errorf("course %s: %w", in.Slug, err)
		}
		s.counts.Created++
	}

	instances := in.Instances
	if len(instances) == 0 {
		instances = []string{""}
	}
	for _, name := range instances {
		ipk := pk.Child("instance:" + name)
		if ok, err := exists[types.CourseInstance](dbc, ipk); err != nil || ok {
			s.skipIf(ok)
			if err != nil {
				return err
			}
			continue
		}
		inst := &types.CourseInstance{CourseID: pk.Resolve()}
		if name != "" {
			inst.Name = &name
		}
		if _, err := s.repos.Structure.CreateInstance(dbc, ipk, inst); err != nil {
			return fmt.Errorf("course %s instance %q: %w", in.Slug, name, err)
		}
		s.counts.Created++
	}

	for _, m := range in.Modules {
		if err := s.module(dbc, pk, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *seeder) module(dbc dbctx.Context, course pkey.Policy, in SeedModule) error {
	pk := course.Child("module:" + in.Name)
	ok, err := exists[types.CourseModule](dbc, pk)
	if err != nil {
		return err
	}
	if !ok {
		m := &types.CourseModule{
			CourseID:            course.Resolve(),
			OrderNumber:         in.Order,
			AutomaticCompletion: in.AutomaticCompletion,
			EctsCredits:         in.EctsCredits,
		}
		m.CompletionPointsThreshold = in.PointsThreshold
		m.CompletionNumberOfExercisesAttemptedThreshold = in.ExercisesThreshold
		if in.Name != "" {
			m.Name = &in.Name
		}
		if _, err := s.repos.Structure.CreateModule(dbc, pk, m); err != nil {
			return fmt.Errorf("module %q: %w", in.Name, err)
		}
		s.counts.Created++
	} else {
		s.counts.Skipped++
	}
	for _, ch := range in.Chapters {
		if err := s.chapter(dbc, course, pk, ch); err != nil {
			return err
		}
	}
	return nil
}

func (s *seeder) chapter(dbc dbctx.Context, course, module pkey.Policy, in SeedChapter) error {
	pk := course.Child(fmt.Sprintf("chapter:%d", in.Number))
	ok, err := exists[types.Chapter](dbc, pk)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.repos.Structure.CreateChapter(dbc, pk, &types.Chapter{
			CourseID:       course.Resolve(),
			CourseModuleID: module.Resolve(),
			Name:           in.Name,
			ChapterNumber:  in.Number,
		}); err != nil {
			return fmt.Errorf("chapter %d: %w", in.Number, err)
		}
		s.counts.Created++
	} else {
		s.counts.Skipped++
	}
	for i, p := range in.Pages {
		if err := s.page(dbc, course, pk, i, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *seeder) page(dbc dbctx.Context, course, chapter pkey.Policy, order int, in SeedPage) error {
	pk := course.Child("page:" + in.Path)
	ok, err := exists[types.Page](dbc, pk)
	if err != nil {
		return err
	}
	if ok {
		s.counts.Skipped++
	} else {
		body, err := toJSON(in.Content, "[]")
		if err != nil {
			return fmt.Errorf("page %s content: %w", in.Path, err)
		}
		courseID, chapterID := course.Resolve(), chapter.Resolve()
		if _, err := s.repos.Pages.Create(dbc, pk, &types.Page{
			CourseID:    &courseID,
			ChapterID:   &chapterID,
			URLPath:     in.Path,
			Title:       in.Title,
			Content:     body,
			OrderNumber: order,
		}, uuid.Nil); err != nil { // seeded history has no author
			return fmt.Errorf("page %s: %w", in.Path, err)
		}
		s.counts.Created++
	}
	for i, ex := range in.Exercises {
		if err := s.exercise(dbc, course, chapter, pk, i, ex); err != nil {
			return err
		}
	}
	return nil
}

func (s *seeder) exercise(dbc dbctx.Context, course, chapter, page pkey.Policy, order int, in SeedExercise) error {
	pk := page.Child("exercise:" + in.Name)
	ok, err := exists[types.Exercise](dbc, pk)
	if err != nil || ok {
		s.skipIf(ok)
		return err
	}
	courseID, chapterID := course.Resolve(), chapter.Resolve()
	ex := &types.Exercise{
		CourseID:           &courseID,
		PageID:             page.Resolve(),
		ChapterID:          &chapterID,
		Name:               in.Name,
		OrderNumber:        order,
		ScoreMaximum:       max(in.ScoreMaximum, 1),
		LimitNumberOfTries: in.MaxTries != nil,
		MaxTriesPerSlide:   in.MaxTries,
	}
	if _, err := s.repos.Exercises.Create(dbc, pk, ex); err != nil {
		return fmt.Errorf("exercise %s: %w", in.Name, err)
	}
	slidePK := pk.Child("slide:0")
	if _, err := s.repos.Exercises.CreateSlide(dbc, slidePK, &types.ExerciseSlide{ExerciseID: ex.ID}); err != nil {
		return fmt.Errorf("exercise %s slide: %w", in.Name, err)
	}
	for i, t := range in.Tasks {
		task, err := t.toTask(slidePK.Resolve(), i)
		if err != nil {
			return fmt.Errorf("exercise %s task %d: %w", in.Name, i, err)
		}
		if _, err := s.repos.Exercises.CreateTask(dbc, slidePK.Child(fmt.Sprintf("task:%d", i)), task); err != nil {
			return fmt.Errorf("exercise %s task %d: %w", in.Name, i, err)
		}
	}
	s.counts.Created++
	return nil
}

func (t SeedTask) toTask(slideID uuid.UUID, order int) (*types.ExerciseTask, error) {
	assignment, err := toJSON(t.Assignment, "[]")
	if err != nil {
		return nil, err
	}
	task := &types.ExerciseTask{
		ExerciseSlideID: slideID,
		ExerciseType:    t.ExerciseType,
		Assignment:      assignment,
		OrderNumber:     order,
	}
	for dst, src := range map[*datatypes.JSON]any{
		&task.PrivateSpec:       t.PrivateSpec,
		&task.PublicSpec:        t.PublicSpec,
		&task.ModelSolutionSpec: t.ModelSolutionSpec,
	} {
		if src == nil {
			continue
		}
		if *dst, err = toJSON(src, "null"); err != nil {
			return nil, err
		}
	}
	return task, nil
}

func (s *seeder) user(dbc dbctx.Context, in SeedUser) error {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	pk := s.root.Child("user:" + email)
	ok, err := exists[types.User](dbc, pk)
	if err != nil {
		return err
	}
	if !ok {
		u := &types.User{Email: email, EmailVerified: true}
		if in.FirstName != "" {
			u.FirstName = &in.FirstName
		}
		if in.LastName != "" {
			u.LastName = &in.LastName
		}
		if in.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			h := string(hash)
			u.PasswordHash = &h
		}
		if _, err := s.repos.User.Create(dbc, pk, u); err != nil {
			return fmt.Errorf("user %s: %w", email, err)
		}
		s.counts.Created++
	} else {
		s.counts.Skipped++
	}

	for _, r := range in.Roles {
		grant := &types.RoleGrant{UserID: pk.Resolve(), Role: userdomain.Role(r.Role)}
		if r.Organization != "" {
			id, found := s.orgIDs[r.Organization]
			if !found {
				return fmt.Errorf("user %s: unknown organization %q", email, r.Organization)
			}
			grant.OrganizationID = &id
		}
		if r.Course != "" {
			id, found := s.courseIDs[r.Course]
			if !found {
				return fmt.Errorf("user %s: unknown course %q", email, r.Course)
			}
			grant.CourseID = &id
		}
		has, err := s.repos.User.HasRole(dbc, grant.UserID, grant.Role, grant.OrganizationID, grant.CourseID)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := s.repos.User.GrantRole(dbc, grant); err != nil {
			return fmt.Errorf("user %s role %s: %w", email, r.Role, err)
		}
	}
	return nil
}

func (s *seeder) oauthClient(ctx context.Context, db *gorm.DB, in SeedOAuthApp) error {
	pk := s.root.Child("oauth-client:" + in.ClientID)
	ok, err := exists[types.OAuthClient](dbctx.Context{Ctx: ctx, Tx: db.WithContext(ctx)}, pk)
	if err != nil || ok {
		s.skipIf(ok)
		return err
	}
	reg, err := s.oauth.RegisterClient(ctx, pk, oauth.ClientRegistration{
		ClientID:     in.ClientID,
		ClientSecret: in.ClientSecret,
		ClientName:   in.Name,
		RedirectURIs: in.RedirectURIs,
		GrantTypes:   in.GrantTypes,
		Scopes:       in.Scopes,
		Confidential: in.Confidential,
		RequireDPoP:  in.RequireDPoP,
	})
	if err != nil {
		return fmt.Errorf("oauth client %s: %w", in.ClientID, err)
	}
	s.log.Info("OAuth client seeded", "client_id", reg.Client.ClientID)
	s.counts.Created++
	return nil
}

func (s *seeder) skipIf(ok bool) {
	if ok {
		s.counts.Skipped++
	}
}

// exists reports whether a row of T already holds the id pk resolves to,
// including soft-deleted rows.
func exists[T any](dbc dbctx.Context, pk pkey.Policy) (bool, error) {
	var n int64
	if err := dbc.Tx.Unscoped().Model(new(T)).Where("id = ?", pk.Resolve()).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func toJSON(v any, empty string) (datatypes.JSON, error) {
	if v == nil {
		return datatypes.JSON(empty), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
