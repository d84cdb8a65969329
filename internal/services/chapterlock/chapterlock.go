package chapterlock

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/domain/completion"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type ChapterLockService interface {
	// Status resolves a user's status for a chapter. Without a stored row the
	// first chapter of the course counts as unlocked and the rest as not yet
	// unlocked. Courses without chapter locking report unlocked.
	Status(dbc dbctx.Context, userID, chapterID uuid.UUID) (completion.ChapterLockingStatus, error)
	// ExercisesLocked reports whether submissions to the chapter's exercises
	// must be rejected.
	ExercisesLocked(dbc dbctx.Context, userID, chapterID uuid.UUID) (bool, error)
	Accessible(dbc dbctx.Context, userID, chapterID uuid.UUID) (bool, error)
	// CompleteChapter locks the chapter as completed and unlocks the next one
	// by chapter number.
	CompleteChapter(ctx context.Context, userID, chapterID uuid.UUID) (*types.UserChapterLockingStatus, error)
	ListForCourse(dbc dbctx.Context, userID, courseID uuid.UUID) ([]types.UserChapterLockingStatus, error)
}

type chapterLockService struct {
	db        *gorm.DB
	log       *logger.Logger
	locks     repos.ChapterLockRepo
	courses   repos.CourseRepo
	structure repos.StructureRepo
}

func NewChapterLockService(db *gorm.DB, baseLog *logger.Logger, locks repos.ChapterLockRepo, courses repos.CourseRepo, structure repos.StructureRepo) ChapterLockService {
	return &chapterLockService{
		db:        db,
		log:       baseLog.With("service", "ChapterLockService"),
		locks:     locks,
		courses:   courses,
		structure: structure,
	}
}

func (s *chapterLockService) Status(dbc dbctx.Context, userID, chapterID uuid.UUID) (completion.ChapterLockingStatus, error) {
	ch, err := s.structure.GetChapter(dbc, chapterID)
	if err != nil {
		return "", err
	}
	course, err := s.courses.GetByID(dbc, ch.CourseID)
	if err != nil {
		return "", err
	}
	if !course.ChapterLockingEnabled {
		return completion.ChapterUnlocked, nil
	}
	row, err := s.locks.Get(dbc, userID, chapterID)
	if err != nil {
		return "", err
	}
	if row != nil {
		return row.Status, nil
	}
	chapters, err := s.orderedChapters(dbc, ch.CourseID)
	if err != nil {
		return "", err
	}
	if len(chapters) > 0 && chapters[0].ID == chapterID {
		return completion.ChapterUnlocked, nil
	}
	return completion.ChapterNotUnlockedYet, nil
}

func (s *chapterLockService) ExercisesLocked(dbc dbctx.Context, userID, chapterID uuid.UUID) (bool, error) {
	status, err := s.Status(dbc, userID, chapterID)
	if err != nil {
		return false, err
	}
	return status != completion.ChapterUnlocked, nil
}

func (s *chapterLockService) Accessible(dbc dbctx.Context, userID, chapterID uuid.UUID) (bool, error) {
	status, err := s.Status(dbc, userID, chapterID)
	if err != nil {
		return false, err
	}
	return status != completion.ChapterNotUnlockedYet, nil
}

func (s *chapterLockService) CompleteChapter(ctx context.Context, userID, chapterID uuid.UUID) (*types.UserChapterLockingStatus, error) {
	var out *types.UserChapterLockingStatus
	err := aggregates.ExecuteWrite(ctx, aggregates.BaseDeps{DB: s.db, Log: s.log}, "ChapterLockService.CompleteChapter", func(dbc dbctx.Context) error {
		ch, err := s.structure.GetChapter(dbc, chapterID)
		if err != nil {
			return err
		}
		course, err := s.courses.GetByID(dbc, ch.CourseID)
		if err != nil {
			return err
		}
		if !course.ChapterLockingEnabled {
			return domainagg.Precondition("ChapterLockService.CompleteChapter", "chapter locking is not enabled for this course")
		}
		status, err := s.Status(dbc, userID, chapterID)
		if err != nil {
			return err
		}
		if status == completion.ChapterNotUnlockedYet {
			return domainagg.Precondition("ChapterLockService.CompleteChapter", "chapter has not been unlocked")
		}
		out, err = s.locks.Upsert(dbc, userID, chapterID, ch.CourseID, completion.ChapterCompletedAndLocked)
		if err != nil {
			return err
		}

		chapters, err := s.orderedChapters(dbc, ch.CourseID)
		if err != nil {
			return err
		}
		for i, c := range chapters {
			if c.ID != chapterID || i+1 >= len(chapters) {
				continue
			}
			next := chapters[i+1]
			existing, err := s.locks.Get(dbc, userID, next.ID)
			if err != nil {
				return err
			}
			if existing != nil && existing.Status == completion.ChapterCompletedAndLocked {
				break
			}
			if _, err := s.locks.Upsert(dbc, userID, next.ID, ch.CourseID, completion.ChapterUnlocked); err != nil {
				return err
			}
			break
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("chapter completed", "user_id", userID, "chapter_id", chapterID)
	return out, nil
}

func (s *chapterLockService) ListForCourse(dbc dbctx.Context, userID, courseID uuid.UUID) ([]types.UserChapterLockingStatus, error) {
	return s.locks.ListForCourse(dbc, userID, courseID)
}

func (s *chapterLockService) orderedChapters(dbc dbctx.Context, courseID uuid.UUID) ([]types.Chapter, error) {
	chapters, err := s.structure.ListChapters(dbc, courseID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].ChapterNumber < chapters[j].ChapterNumber })
	return chapters, nil
}
