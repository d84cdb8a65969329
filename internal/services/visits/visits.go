package visits

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"lukechampine.com/blake3"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/geoip"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/validate"
)

const hashingKeyBytes = 32

type NewVisit struct {
	PageID      uuid.UUID         `json:"page_id" validate:"required"`
	Referrer    string            `json:"referrer" validate:"omitempty,max=2048"`
	UtmSource   string            `json:"utm_source" validate:"omitempty,max=255"`
	UtmMedium   string            `json:"utm_medium" validate:"omitempty,max=255"`
	UtmCampaign string            `json:"utm_campaign" validate:"omitempty,max=255"`
	UtmTerm     string            `json:"utm_term" validate:"omitempty,max=255"`
	UtmContent  string            `json:"utm_content" validate:"omitempty,max=255"`
	UtmTags     map[string]string `json:"utm_tags" validate:"omitempty,max=32"`
	UserAgent   string            `json:"-"`
	IPAddress   string            `json:"-"`
}

type CourseStats struct {
	ByCourse  []types.VisitSummaryByCourse  `json:"by_course"`
	ByPage    []types.VisitSummaryByPage    `json:"by_page"`
	ByDevice  []types.VisitSummaryByDevice  `json:"by_device"`
	ByCountry []types.VisitSummaryByCountry `json:"by_country"`
}

type VisitService interface {
	// Record stores one anonymized page view. Nothing identifying the
	// visitor is kept beyond the per-day anonymous identifier.
	Record(ctx context.Context, in NewVisit) (*types.PageVisitDatum, error)
	CourseStats(ctx context.Context, courseID uuid.UUID, from, to time.Time) (*CourseStats, error)
}

type visitService struct {
	db      *gorm.DB
	log     *logger.Logger
	repos   repos.Set
	runner  aggregates.TxRunner
	country geoip.CountryMapper
	now     func() time.Time

	mu  sync.Mutex
	day string
	key []byte
}

func NewVisitService(db *gorm.DB, baseLog *logger.Logger, r repos.Set, country geoip.CountryMapper) VisitService {
	if country == nil {
		country = geoip.Nop{}
	}
	return &visitService{
		db:      db,
		log:     baseLog.With("service", "VisitService"),
		repos:   r,
		runner:  aggregates.NewGormTxRunner(db),
		country: country,
		now:     time.Now,
	}
}

func (s *visitService) Record(ctx context.Context, in NewVisit) (*types.PageVisitDatum, error) {
	const op = "VisitService.Record"
	if err := validate.Struct(op, in); err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx, Tx: s.db.WithContext(ctx)}
	page, err := s.repos.Pages.GetByID(dbc, in.PageID)
	if err != nil {
		return nil, err
	}
	key, err := s.hashingKey(dbc, s.now())
	if err != nil {
		return nil, err
	}

	owner := page.CourseID
	if owner == nil {
		owner = page.ExamID
	}
	client := ParseUserAgent(in.UserAgent)
	visit := &types.PageVisitDatum{
		CourseID:               page.CourseID,
		ExamID:                 page.ExamID,
		PageID:                 page.ID,
		Browser:                client.Browser,
		BrowserVersion:         client.BrowserVersion,
		OperatingSystem:        client.OperatingSystem,
		OperatingSystemVersion: client.OperatingSystemVersion,
		DeviceType:             client.DeviceType,
		IsBot:                  client.IsBot,
		Referrer:               optional(in.Referrer),
		UtmSource:              optional(in.UtmSource),
		UtmMedium:              optional(in.UtmMedium),
		UtmCampaign:            optional(in.UtmCampaign),
		UtmTerm:                optional(in.UtmTerm),
		UtmContent:             optional(in.UtmContent),
		AnonymousIdentifier:    AnonymousIdentifier(derefID(owner), key, in.UserAgent, in.IPAddress),
	}
	if c := s.country.Country(net.ParseIP(strings.TrimSpace(in.IPAddress))); c != "" {
		visit.Country = &c
	}
	if len(in.UtmTags) > 0 {
		raw, err := json.Marshal(in.UtmTags)
		if err != nil {
			return nil, aggregates.MapError(op, aggregates.ValidationError("utm_tags is not serializable"))
		}
		visit.UtmTags = datatypes.JSON(raw)
	}

	err = aggregates.ExecuteWrite(ctx, aggregates.BaseDeps{DB: s.db, Log: s.log, Runner: s.runner}, op, func(dbc dbctx.Context) error {
		_, err := s.repos.Visits.Insert(dbc, visit)
		return err
	})
	if err != nil {
		return nil, err
	}
	observability.Current().IncVisit(visit.IsBot)
	return visit, nil
}

// hashingKey returns the key for the UTC date of now. The database decides
// which candidate wins the day; the winner is remembered until the date changes.
func (s *visitService) hashingKey(dbc dbctx.Context, now time.Time) ([]byte, error) {
	day := now.UTC().Format(time.DateOnly)
	s.mu.Lock()
	if s.day == day && s.key != nil {
		key := s.key
		s.mu.Unlock()
		return key, nil
	}
	s.mu.Unlock()

	candidate := make([]byte, hashingKeyBytes)
	if _, err := rand.Read(candidate); err != nil {
		return nil, err
	}
	key, err := s.repos.Visits.GetOrCreateHashingKey(dbc, now, candidate)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.day, s.key = day, key
	s.mu.Unlock()
	return key, nil
}

// AnonymousIdentifier is hex(blake3(owner || key || user agent || ip)).
func AnonymousIdentifier(owner uuid.UUID, key []byte, userAgent, ip string) string {
	h := blake3.New(32, nil)
	h.Write(owner[:])
	h.Write(key)
	h.Write([]byte(userAgent))
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *visitService) CourseStats(ctx context.Context, courseID uuid.UUID, from, to time.Time) (*CourseStats, error) {
	if to.Before(from) {
		return nil, aggregates.MapError("VisitService.CourseStats", aggregates.ValidationError("to is before from"))
	}
	dbc := dbctx.Context{Ctx: ctx, Tx: s.db.WithContext(ctx)}
	out := &CourseStats{}
	var err error
	if out.ByCourse, err = s.repos.Rollups.ListCourseSummaries(dbc, courseID, from, to); err != nil {
		return nil, err
	}
	if out.ByPage, err = s.repos.Rollups.ListPageSummaries(dbc, courseID, from, to); err != nil {
		return nil, err
	}
	if out.ByDevice, err = s.repos.Rollups.ListDeviceSummaries(dbc, courseID, from, to); err != nil {
		return nil, err
	}
	if out.ByCountry, err = s.repos.Rollups.ListCountrySummaries(dbc, courseID, from, to); err != nil {
		return nil, err
	}
	return out, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func derefID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
