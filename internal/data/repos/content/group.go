package content

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type GroupRepo interface {
	Create(dbc dbctx.Context, pk pkey.Policy, group *types.UserGroup) (*types.UserGroup, error)
	AddMember(dbc dbctx.Context, groupID, userID uuid.UUID) (*types.GroupMembership, error)
	RemoveMember(dbc dbctx.Context, groupID, userID uuid.UUID) error
	ListMembers(dbc dbctx.Context, groupID uuid.UUID) ([]types.GroupMembership, error)
}

type groupRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGroupRepo(db *gorm.DB, baseLog *logger.Logger) GroupRepo {
	return &groupRepo{db: db, log: baseLog.With("repo", "GroupRepo")}
}

func (r *groupRepo) Create(dbc dbctx.Context, pk pkey.Policy, group *types.UserGroup) (*types.UserGroup, error) {
	group.ID = pk.Resolve()
	if err := dbc.DB(r.db).Create(group).Error; err != nil {
		return nil, aggregates.MapError("GroupRepo.Create", err)
	}
	return group, nil
}

// AddMember fails with database_constraint while a live membership exists.
// A removed membership does not block re-adding.
func (r *groupRepo) AddMember(dbc dbctx.Context, groupID, userID uuid.UUID) (*types.GroupMembership, error) {
	m := &types.GroupMembership{GroupID: groupID, UserID: userID}
	if err := dbc.DB(r.db).Create(m).Error; err != nil {
		return nil, aggregates.MapError("GroupRepo.AddMember", err)
	}
	return m, nil
}

func (r *groupRepo) RemoveMember(dbc dbctx.Context, groupID, userID uuid.UUID) error {
	res := dbc.DB(r.db).Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&types.GroupMembership{})
	if res.Error != nil {
		return aggregates.MapError("GroupRepo.RemoveMember", res.Error)
	}
	if res.RowsAffected == 0 {
		return aggregates.MapError("GroupRepo.RemoveMember", gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *groupRepo) ListMembers(dbc dbctx.Context, groupID uuid.UUID) ([]types.GroupMembership, error) {
	out := []types.GroupMembership{}
	if err := dbc.DB(r.db).Where("group_id = ?", groupID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, aggregates.MapError("GroupRepo.ListMembers", err)
	}
	return out, nil
}
