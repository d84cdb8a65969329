package content

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pagination"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type CourseRepo interface {
	// Create inserts the course together with its language group when
	// CourseLanguageGroupID is unset.
	Create(dbc dbctx.Context, pk pkey.Policy, course *types.Course) (*types.Course, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Course, error)
	GetBySlug(dbc dbctx.Context, slug string) (*types.Course, error)
	ListByOrganization(dbc dbctx.Context, orgID uuid.UUID, p pagination.Pagination) (pagination.Page[types.Course], error)
	ListByLanguageGroup(dbc dbctx.Context, groupID uuid.UUID) ([]types.Course, error)
	SoftDelete(dbc dbctx.Context, id uuid.UUID) error
}

type courseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCourseRepo(db *gorm.DB, baseLog *logger.Logger) CourseRepo {
	return &courseRepo{db: db, log: baseLog.With("repo", "CourseRepo")}
}

func (r *courseRepo) Create(dbc dbctx.Context, pk pkey.Policy, course *types.Course) (*types.Course, error) {
	transaction := dbc.DB(r.db)
	if course.CourseLanguageGroupID == uuid.Nil {
		group := &types.CourseLanguageGroup{ID: pk.Child("language-group").Resolve()}
		if err := transaction.Create(group).Error; err != nil {
			return nil, aggregates.MapError("CourseRepo.Create", err)
		}
		course.CourseLanguageGroupID = group.ID
	}
	course.ID = pk.Resolve()
	if err := transaction.Create(course).Error; err != nil {
		return nil, aggregates.MapError("CourseRepo.Create", err)
	}
	return course, nil
}

func (r *courseRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Course, error) {
	var c types.Course
	if err := dbc.DB(r.db).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, aggregates.MapError("CourseRepo.GetByID", err)
	}
	return &c, nil
}

func (r *courseRepo) GetBySlug(dbc dbctx.Context, slug string) (*types.Course, error) {
	var c types.Course
	if err := dbc.DB(r.db).Where("slug = ?", slug).First(&c).Error; err != nil {
		return nil, aggregates.MapError("CourseRepo.GetBySlug", err)
	}
	return &c, nil
}

func (r *courseRepo) ListByOrganization(dbc dbctx.Context, orgID uuid.UUID, p pagination.Pagination) (pagination.Page[types.Course], error) {
	q := dbc.DB(r.db).Model(&types.Course{}).Where("organization_id = ?", orgID).Order("name ASC, id ASC")
	page, err := pagination.Fetch[types.Course](q, p)
	if err != nil {
		return page, aggregates.MapError("CourseRepo.ListByOrganization", err)
	}
	return page, nil
}

func (r *courseRepo) ListByLanguageGroup(dbc dbctx.Context, groupID uuid.UUID) ([]types.Course, error) {
	out := []types.Course{}
	if err := dbc.DB(r.db).Where("course_language_group_id = ?", groupID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("CourseRepo.ListByLanguageGroup", err)
	}
	return out, nil
}

func (r *courseRepo) SoftDelete(dbc dbctx.Context, id uuid.UUID) error {
	res := dbc.DB(r.db).Where("id = ?", id).Delete(&types.Course{})
	if res.Error != nil {
		return aggregates.MapError("CourseRepo.SoftDelete", res.Error)
	}
	if res.RowsAffected == 0 {
		return aggregates.MapError("CourseRepo.SoftDelete", gorm.ErrRecordNotFound)
	}
	return nil
}
