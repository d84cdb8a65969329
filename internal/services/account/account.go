package account

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	emaildomain "github.com/yungbote/headless-lms/internal/domain/email"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/validate"
	"github.com/yungbote/headless-lms/internal/services/email"
)

const (
	sessionIssuer    = "headless-lms"
	verificationSize = 32
	resetCodeDigits  = 8
)

type Config struct {
	SessionSecret    []byte
	SessionTTL       time.Duration
	VerificationTTL  time.Duration
	ResetTTL         time.Duration
	ResetMaxAttempts int
	// VerifyURL receives the verification token as its "token" query parameter.
	VerifyURL string
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.VerificationTTL <= 0 {
		c.VerificationTTL = 24 * time.Hour
	}
	if c.ResetTTL <= 0 {
		c.ResetTTL = 15 * time.Minute
	}
	if c.ResetMaxAttempts <= 0 {
		c.ResetMaxAttempts = 5
	}
	return c
}

// Waker is nudged when new outbox rows are committed.
type Waker interface {
	Wake()
}

type Registration struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"first_name" validate:"required,max=255"`
	LastName  string `json:"last_name" validate:"required,max=255"`
}

type PasswordReset struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,len=8,numeric"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *types.User `json:"user"`
}

type SessionClaims struct {
	jwt.RegisteredClaims
}

type Service interface {
	Register(ctx context.Context, in Registration) (*types.User, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	// ParseSession returns the user id of a valid session token.
	ParseSession(token string) (uuid.UUID, error)
	VerifyEmail(ctx context.Context, token string) (*types.User, error)
	// RequestPasswordReset mails a reset code. Unknown addresses succeed silently.
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, in PasswordReset) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

type service struct {
	db     *gorm.DB
	log    *logger.Logger
	repos  repos.Set
	runner aggregates.TxRunner
	waker  Waker
	cfg    Config
	now    func() time.Time
	// dummyHash keeps unknown-email logins as slow as wrong passwords.
	dummyHash []byte
}

// NewService builds the account service. waker may be nil.
func NewService(db *gorm.DB, baseLog *logger.Logger, r repos.Set, waker Waker, cfg Config) (Service, error) {
	if len(cfg.SessionSecret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes")
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &service{
		db:        db,
		log:       baseLog.With("service", "AccountService"),
		repos:     r,
		runner:    aggregates.NewGormTxRunner(db),
		waker:     waker,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		dummyHash: dummy,
	}, nil
}

func (s *service) deps() aggregates.BaseDeps {
	return aggregates.BaseDeps{DB: s.db, Log: s.log, Runner: s.runner}
}

func normalizeEmail(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func (s *service) Register(ctx context.Context, in Registration) (*types.User, error) {
	const op = "AccountService.Register"
	in.Email = normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := validate.Struct(op, in); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}

	var out *types.User
	queued := false
	err = aggregates.ExecuteWrite(ctx, s.deps(), op, func(dbc dbctx.Context) error {
		exists, err := s.repos.User.EmailExists(dbc, in.Email)
		if err != nil {
			return err
		}
		if exists {
			return domainagg.NewError(domainagg.CodeConflict, op, "email is already registered", nil)
		}
		hashed := string(hash)
		u, err := s.repos.User.Create(dbc, pkey.NewGenerate(), &types.User{
			Email:        in.Email,
			PasswordHash: &hashed,
			FirstName:    &in.FirstName,
			LastName:     &in.LastName,
		})
		if err != nil {
			return err
		}
		if queued, err = s.sendVerification(dbc, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", "user_id", out.ID)
	s.wake(queued)
	return out, nil
}

// sendVerification stores a fresh verification token and queues its email.
func (s *service) sendVerification(dbc dbctx.Context, u *types.User) (bool, error) {
	raw := make([]byte, verificationSize)
	if _, err := rand.Read(raw); err != nil {
		return false, err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	if _, err := s.repos.AccountTokens.CreateVerification(dbc, &types.EmailVerificationToken{
		UserID:      u.ID,
		TokenDigest: digest(token),
		ExpiresAt:   s.now().Add(s.cfg.VerificationTTL).UTC(),
	}); err != nil {
		return false, err
	}
	return s.enqueue(dbc, emaildomain.TemplateEmailVerification, u, map[string]any{
		"name":  u.DisplayName(),
		"token": token,
		"link":  s.verifyLink(token),
	})
}

func (s *service) verifyLink(token string) string {
	if s.cfg.VerifyURL == "" {
		return ""
	}
	u, err := url.Parse(s.cfg.VerifyURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// enqueue queues a templated email. A missing template is logged and skipped
// so that account flows keep working before templates are configured.
func (s *service) enqueue(dbc dbctx.Context, tt emaildomain.TemplateType, u *types.User, data map[string]any) (bool, error) {
	_, err := email.Enqueue(dbc, s.repos, tt, nil, u.ID, data)
	if domainagg.IsCode(err, domainagg.CodeNotFound) {
		s.log.Warn("email template missing, nothing queued", "template_type", tt, "user_id", u.ID)
		return false, nil
	}
	return err == nil, err
}

func (s *service) wake(queued bool) {
	if queued && s.waker != nil {
		s.waker.Wake()
	}
}

func (s *service) Login(ctx context.Context, emailAddr, password string) (*Session, error) {
	const op = "AccountService.Login"
	dbc := dbctx.Context{Ctx: ctx, Tx: s.db.WithContext(ctx)}
	u, err := s.repos.User.GetByEmail(dbc, normalizeEmail(emailAddr))
	if err != nil && !domainagg.IsCode(err, domainagg.CodeNotFound) {
		return nil, err
	}
	hash := s.dummyHash
	if u != nil && u.PasswordHash != nil {
		hash = []byte(*u.PasswordHash)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil || u == nil || u.PasswordHash == nil {
		return nil, domainagg.NewError(domainagg.CodeUnauthorized, op, "invalid email or password", nil)
	}

	now := s.now()
	expires := now.Add(s.cfg.SessionTTL)
	claims := SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   u.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        uuid.NewString(),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SessionSecret)
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	s.log.Info("user logged in", "user_id", u.ID)
	return &Session{Token: token, ExpiresAt: expires, User: u}, nil
}

func (s *service) ParseSession(token string) (uuid.UUID, error) {
	const op = "AccountService.ParseSession"
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(*jwt.Token) (any, error) {
		return s.cfg.SessionSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return uuid.Nil, domainagg.NewError(domainagg.CodeUnauthorized, op, "invalid session", err)
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return uuid.Nil, domainagg.NewError(domainagg.CodeUnauthorized, op, "invalid session", nil)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, domainagg.NewError(domainagg.CodeUnauthorized, op, "invalid session subject", err)
	}
	return id, nil
}

func (s *service) VerifyEmail(ctx context.Context, token string) (*types.User, error) {
	const op = "AccountService.VerifyEmail"
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domainagg.Invalid(op, "token is required")
	}
	var out *types.User
	err := aggregates.ExecuteWrite(ctx, s.deps(), op, func(dbc dbctx.Context) error {
		t, err := s.repos.AccountTokens.UseVerification(dbc, digest(token))
		if err != nil {
			return err
		}
		if err := s.repos.User.MarkEmailVerified(dbc, t.UserID); err != nil {
			return err
		}
		out, err = s.repos.User.GetByID(dbc, t.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) RequestPasswordReset(ctx context.Context, emailAddr string) error {
	const op = "AccountService.RequestPasswordReset"
	queued := false
	err := aggregates.ExecuteWrite(ctx, s.deps(), op, func(dbc dbctx.Context) error {
		u, err := s.repos.User.GetByEmail(dbc, normalizeEmail(emailAddr))
		if domainagg.IsCode(err, domainagg.CodeNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		code, err := newResetCode()
		if err != nil {
			return err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if _, err := s.repos.AccountTokens.CreateResetCode(dbc, &types.PasswordResetCode{
			UserID:    u.ID,
			CodeHash:  string(hash),
			ExpiresAt: s.now().Add(s.cfg.ResetTTL).UTC(),
		}); err != nil {
			return err
		}
		queued, err = s.enqueue(dbc, emaildomain.TemplatePasswordReset, u, map[string]any{
			"name": u.DisplayName(),
			"code": code,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.wake(queued)
	return nil
}

func (s *service) ResetPassword(ctx context.Context, in PasswordReset) error {
	const op = "AccountService.ResetPassword"
	in.Email = normalizeEmail(in.Email)
	if err := validate.Struct(op, in); err != nil {
		return err
	}
	denied := domainagg.NewError(domainagg.CodeUnauthorized, op, "invalid or expired reset code", nil)

	dbc := dbctx.Context{Ctx: ctx, Tx: s.db.WithContext(ctx)}
	u, err := s.repos.User.GetByEmail(dbc, in.Email)
	if domainagg.IsCode(err, domainagg.CodeNotFound) {
		return denied
	}
	if err != nil {
		return err
	}
	code, err := s.repos.AccountTokens.ActiveResetCode(dbc, u.ID)
	if domainagg.IsCode(err, domainagg.CodeNotFound) {
		return denied
	}
	if err != nil {
		return err
	}
	if code.Attempts >= s.cfg.ResetMaxAttempts {
		return denied
	}
	if bcrypt.CompareHashAndPassword([]byte(code.CodeHash), []byte(in.Code)) != nil {
		if err := s.repos.AccountTokens.IncrementResetAttempts(dbc, code.ID); err != nil {
			return err
		}
		return denied
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	return aggregates.ExecuteWrite(ctx, s.deps(), op, func(dbc dbctx.Context) error {
		used, err := s.repos.AccountTokens.MarkResetUsed(dbc, code.ID)
		if err != nil {
			return err
		}
		if !used {
			return denied
		}
		return s.repos.User.SetPasswordHash(dbc, u.ID, string(hash))
	})
}

func (s *service) Delete(ctx context.Context, userID uuid.UUID) error {
	err := aggregates.ExecuteWrite(ctx, s.deps(), "AccountService.Delete", func(dbc dbctx.Context) error {
		return s.repos.User.SoftDelete(dbc, userID)
	})
	if err == nil {
		s.log.Info("user deleted", "user_id", userID)
	}
	return err
}

func digest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

func newResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", resetCodeDigits, n.Int64()), nil
}
