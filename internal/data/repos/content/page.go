package content

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/domain/content"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type PageRepo interface {
	// Create inserts the page and its first history entry.
	Create(dbc dbctx.Context, pk pkey.Policy, page *types.Page, authorID uuid.UUID) (*types.Page, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Page, error)
	GetByPath(dbc dbctx.Context, courseID uuid.UUID, urlPath string) (*types.Page, error)
	ListByChapter(dbc dbctx.Context, chapterID uuid.UUID) ([]types.Page, error)
	// UpdateContent saves new content and appends a page-saved history entry.
	UpdateContent(dbc dbctx.Context, id uuid.UUID, title string, body datatypes.JSON, authorID uuid.UUID) (*types.Page, error)
	ListHistory(dbc dbctx.Context, pageID uuid.UUID) ([]types.PageHistory, error)
	GetHistory(dbc dbctx.Context, historyID uuid.UUID) (*types.PageHistory, error)
	// Restore copies a history entry back onto its page and records a
	// history-restored entry pointing at the source by id.
	Restore(dbc dbctx.Context, historyID uuid.UUID, authorID uuid.UUID) (*types.Page, error)
	SoftDelete(dbc dbctx.Context, id uuid.UUID) error
}

type pageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPageRepo(db *gorm.DB, baseLog *logger.Logger) PageRepo {
	return &pageRepo{db: db, log: baseLog.With("repo", "PageRepo")}
}

func (r *pageRepo) Create(dbc dbctx.Context, pk pkey.Policy, page *types.Page, authorID uuid.UUID) (*types.Page, error) {
	transaction := dbc.DB(r.db)
	page.ID = pk.Resolve()
	if len(page.Content) == 0 {
		page.Content = datatypes.JSON("[]")
	}
	if err := transaction.Create(page).Error; err != nil {
		return nil, aggregates.MapError("PageRepo.Create", err)
	}
	hist := &types.PageHistory{
		ID:            pk.Child("history-0").Resolve(),
		PageID:        page.ID,
		Title:         page.Title,
		Content:       page.Content,
		HistoryReason: content.HistoryPageSaved,
		AuthorUserID:  authorID,
	}
	if err := transaction.Create(hist).Error; err != nil {
		return nil, aggregates.MapError("PageRepo.Create", err)
	}
	return page, nil
}

func (r *pageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Page, error) {
	var p types.Page
	if err := dbc.DB(r.db).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, aggregates.MapError("PageRepo.GetByID", err)
	}
	return &p, nil
}

func (r *pageRepo) GetByPath(dbc dbctx.Context, courseID uuid.UUID, urlPath string) (*types.Page, error) {
	var p types.Page
	if err := dbc.DB(r.db).Where("course_id = ? AND url_path = ?", courseID, urlPath).First(&p).Error; err != nil {
		return nil, aggregates.MapError("PageRepo.GetByPath", err)
	}
	return &p, nil
}

func (r *pageRepo) ListByChapter(dbc dbctx.Context, chapterID uuid.UUID) ([]types.Page, error) {
	out := []types.Page{}
	if err := dbc.DB(r.db).Where("chapter_id = ?", chapterID).Order("order_number ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("PageRepo.ListByChapter", err)
	}
	return out, nil
}

func (r *pageRepo) UpdateContent(dbc dbctx.Context, id uuid.UUID, title string, body datatypes.JSON, authorID uuid.UUID) (*types.Page, error) {
	return r.write(dbc, "PageRepo.UpdateContent", id, title, body, authorID, content.HistoryPageSaved, nil)
}

func (r *pageRepo) Restore(dbc dbctx.Context, historyID uuid.UUID, authorID uuid.UUID) (*types.Page, error) {
	src, err := r.GetHistory(dbc, historyID)
	if err != nil {
		return nil, err
	}
	return r.write(dbc, "PageRepo.Restore", src.PageID, src.Title, src.Content, authorID, content.HistoryHistoryRestored, &src.ID)
}

func (r *pageRepo) write(dbc dbctx.Context, op string, id uuid.UUID, title string, body datatypes.JSON, authorID uuid.UUID, reason content.HistoryChangeReason, restoredFrom *uuid.UUID) (*types.Page, error) {
	transaction := dbc.DB(r.db)
	res := transaction.Model(&types.Page{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"title":      title,
			"content":    body,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, aggregates.MapError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, aggregates.MapError(op, gorm.ErrRecordNotFound)
	}
	hist := &types.PageHistory{
		PageID:         id,
		Title:          title,
		Content:        body,
		HistoryReason:  reason,
		RestoredFromID: restoredFrom,
		AuthorUserID:   authorID,
	}
	if err := transaction.Create(hist).Error; err != nil {
		return nil, aggregates.MapError(op, err)
	}
	return r.GetByID(dbc, id)
}

func (r *pageRepo) ListHistory(dbc dbctx.Context, pageID uuid.UUID) ([]types.PageHistory, error) {
	out := []types.PageHistory{}
	if err := dbc.DB(r.db).Where("page_id = ?", pageID).Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("PageRepo.ListHistory", err)
	}
	return out, nil
}

func (r *pageRepo) GetHistory(dbc dbctx.Context, historyID uuid.UUID) (*types.PageHistory, error) {
	var h types.PageHistory
	if err := dbc.DB(r.db).Where("id = ?", historyID).First(&h).Error; err != nil {
		return nil, aggregates.MapError("PageRepo.GetHistory", err)
	}
	return &h, nil
}

func (r *pageRepo) SoftDelete(dbc dbctx.Context, id uuid.UUID) error {
	res := dbc.DB(r.db).Where("id = ?", id).Delete(&types.Page{})
	if res.Error != nil {
		return aggregates.MapError("PageRepo.SoftDelete", res.Error)
	}
	if res.RowsAffected == 0 {
		return aggregates.MapError("PageRepo.SoftDelete", gorm.ErrRecordNotFound)
	}
	return nil
}
