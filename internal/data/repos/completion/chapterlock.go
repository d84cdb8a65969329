package completion

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/domain/completion"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type ChapterLockRepo interface {
	Upsert(dbc dbctx.Context, userID, chapterID, courseID uuid.UUID, status completion.ChapterLockingStatus) (*types.UserChapterLockingStatus, error)
	// Get returns the user's status for the chapter, or nil when none is stored.
	Get(dbc dbctx.Context, userID, chapterID uuid.UUID) (*types.UserChapterLockingStatus, error)
	ListForCourse(dbc dbctx.Context, userID, courseID uuid.UUID) ([]types.UserChapterLockingStatus, error)
}

type chapterLockRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChapterLockRepo(db *gorm.DB, baseLog *logger.Logger) ChapterLockRepo {
	return &chapterLockRepo{db: db, log: baseLog.With("repo", "ChapterLockRepo")}
}

func (r *chapterLockRepo) Upsert(dbc dbctx.Context, userID, chapterID, courseID uuid.UUID, status completion.ChapterLockingStatus) (*types.UserChapterLockingStatus, error) {
	var out types.UserChapterLockingStatus
	err := dbc.DB(r.db).Raw(`
		INSERT INTO user_chapter_locking_statuses (user_id, chapter_id, course_id, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT ON CONSTRAINT user_chapter_locking_statuses_user_chapter_key
		DO UPDATE SET status = EXCLUDED.status, updated_at = now()
		RETURNING *
	`, userID, chapterID, courseID, status).Scan(&out).Error
	if err != nil {
		return nil, aggregates.MapError("ChapterLockRepo.Upsert", err)
	}
	return &out, nil
}

func (r *chapterLockRepo) Get(dbc dbctx.Context, userID, chapterID uuid.UUID) (*types.UserChapterLockingStatus, error) {
	out := []types.UserChapterLockingStatus{}
	if err := dbc.DB(r.db).Where("user_id = ? AND chapter_id = ?", userID, chapterID).Limit(1).Find(&out).Error; err != nil {
		return nil, aggregates.MapError("ChapterLockRepo.Get", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (r *chapterLockRepo) ListForCourse(dbc dbctx.Context, userID, courseID uuid.UUID) ([]types.UserChapterLockingStatus, error) {
	out := []types.UserChapterLockingStatus{}
	if err := dbc.DB(r.db).Where("user_id = ? AND course_id = ?", userID, courseID).Find(&out).Error; err != nil {
		return nil, aggregates.MapError("ChapterLockRepo.ListForCourse", err)
	}
	return out, nil
}
