package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	types "github.com/yungbote/headless-lms/internal/domain"
	"github.com/yungbote/headless-lms/internal/domain/user"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

type UserRepo interface {
	Create(dbc dbctx.Context, pk pkey.Policy, u *types.User) (*types.User, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.User, error)
	GetByIDs(dbc dbctx.Context, userIDs []uuid.UUID) ([]*types.User, error)
	GetByEmail(dbc dbctx.Context, email string) (*types.User, error)
	EmailExists(dbc dbctx.Context, email string) (bool, error)
	UpdateName(dbc dbctx.Context, userID uuid.UUID, firstName, lastName string) error
	SetPasswordHash(dbc dbctx.Context, userID uuid.UUID, hash string) error
	MarkEmailVerified(dbc dbctx.Context, userID uuid.UUID) error
	// SoftDelete removes the user and their unsent, retryable email
	// deliveries in the caller's transaction.
	SoftDelete(dbc dbctx.Context, userID uuid.UUID) error

	GrantRole(dbc dbctx.Context, g *types.RoleGrant) (*types.RoleGrant, error)
	HasRole(dbc dbctx.Context, userID uuid.UUID, role user.Role, organizationID, courseID *uuid.UUID) (bool, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	repoLog := baseLog.With("repo", "UserRepo")
	return &userRepo{db: db, log: repoLog}
}

func (ur *userRepo) Create(dbc dbctx.Context, pk pkey.Policy, u *types.User) (*types.User, error) {
	u.ID = pk.Resolve()
	if err := dbc.DB(ur.db).Create(u).Error; err != nil {
		return nil, aggregates.MapError("UserRepo.Create", err)
	}
	return u, nil
}

func (ur *userRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.User, error) {
	var u types.User
	if err := dbc.DB(ur.db).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, aggregates.MapError("UserRepo.GetByID", err)
	}
	return &u, nil
}

func (ur *userRepo) GetByIDs(dbc dbctx.Context, userIDs []uuid.UUID) ([]*types.User, error) {
	var results []*types.User
	if len(userIDs) == 0 {
		return results, nil
	}
	if err := dbc.DB(ur.db).Where("id IN ?", userIDs).Find(&results).Error; err != nil {
		return nil, aggregates.MapError("UserRepo.GetByIDs", err)
	}
	return results, nil
}

func (ur *userRepo) GetByEmail(dbc dbctx.Context, email string) (*types.User, error) {
	var u types.User
	if err := dbc.DB(ur.db).Where("lower(email) = lower(?)", email).First(&u).Error; err != nil {
		return nil, aggregates.MapError("UserRepo.GetByEmail", err)
	}
	return &u, nil
}

func (ur *userRepo) EmailExists(dbc dbctx.Context, email string) (bool, error) {
	var count int64
	if err := dbc.DB(ur.db).
		Model(&types.User{}).
		Where("lower(email) = lower(?)", email).
		Count(&count).Error; err != nil {
		return false, aggregates.MapError("UserRepo.EmailExists", err)
	}
	return count > 0, nil
}

func (ur *userRepo) UpdateName(dbc dbctx.Context, userID uuid.UUID, firstName, lastName string) error {
	err := dbc.DB(ur.db).
		Model(&types.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"first_name": firstName,
			"last_name":  lastName,
			"updated_at": time.Now().UTC(),
		}).Error
	return aggregates.MapError("UserRepo.UpdateName", err)
}

func (ur *userRepo) SetPasswordHash(dbc dbctx.Context, userID uuid.UUID, hash string) error {
	err := dbc.DB(ur.db).
		Model(&types.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"password_hash": hash, "updated_at": time.Now().UTC()}).Error
	return aggregates.MapError("UserRepo.SetPasswordHash", err)
}

func (ur *userRepo) MarkEmailVerified(dbc dbctx.Context, userID uuid.UUID) error {
	err := dbc.DB(ur.db).
		Model(&types.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"email_verified": true, "updated_at": time.Now().UTC()}).Error
	return aggregates.MapError("UserRepo.MarkEmailVerified", err)
}

func (ur *userRepo) SoftDelete(dbc dbctx.Context, userID uuid.UUID) error {
	transaction := dbc.DB(ur.db)
	res := transaction.Where("id = ?", userID).Delete(&types.User{})
	if res.Error != nil {
		return aggregates.MapError("UserRepo.SoftDelete", res.Error)
	}
	if res.RowsAffected == 0 {
		return aggregates.MapError("UserRepo.SoftDelete", gorm.ErrRecordNotFound)
	}
	err := transaction.
		Where("user_id = ? AND sent = false AND retryable = true", userID).
		Delete(&types.EmailDelivery{}).Error
	return aggregates.MapError("UserRepo.SoftDelete", err)
}

func (ur *userRepo) GrantRole(dbc dbctx.Context, g *types.RoleGrant) (*types.RoleGrant, error) {
	if err := dbc.DB(ur.db).Create(g).Error; err != nil {
		return nil, aggregates.MapError("UserRepo.GrantRole", err)
	}
	return g, nil
}

// HasRole matches a global grant, an organization grant or a course grant.
func (ur *userRepo) HasRole(dbc dbctx.Context, userID uuid.UUID, role user.Role, organizationID, courseID *uuid.UUID) (bool, error) {
	q := dbc.DB(ur.db).Model(&types.RoleGrant{}).Where("user_id = ? AND role = ?", userID, role)
	scope := dbc.DB(ur.db).Where("organization_id IS NULL AND course_id IS NULL")
	if organizationID != nil {
		scope = scope.Or("organization_id = ?", *organizationID)
	}
	if courseID != nil {
		scope = scope.Or("course_id = ?", *courseID)
	}
	var count int64
	if err := q.Where(scope).Count(&count).Error; err != nil {
		return false, aggregates.MapError("UserRepo.HasRole", err)
	}
	return count > 0, nil
}
