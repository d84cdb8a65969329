package oauth

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/data/aggregates"
	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/repos"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	oauthdomain "github.com/yungbote/headless-lms/internal/domain/oauth"
	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/dbctx"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/validate"
)

const (
	maxAuthCodeTTL = 10 * time.Minute

	ScopeOpenID  = "openid"
	ScopeEmail   = "email"
	ScopeProfile = "profile"
)

type Config struct {
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
	IDTokenTTL      time.Duration
	DPoPFutureSkew  time.Duration
	DPoPPastSkew    time.Duration
	DPoPRetention   time.Duration
	LoginURL        string
	ConsentURL      string
}

func (c Config) withDefaults() Config {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = time.Hour
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.AuthCodeTTL <= 0 || c.AuthCodeTTL > maxAuthCodeTTL {
		c.AuthCodeTTL = maxAuthCodeTTL
	}
	if c.IDTokenTTL <= 0 {
		c.IDTokenTTL = c.AccessTokenTTL
	}
	if c.DPoPRetention <= 0 {
		c.DPoPRetention = 10 * time.Minute
	}
	c.Issuer = strings.TrimRight(c.Issuer, "/")
	return c
}

type AuthorizeRequest struct {
	ResponseType        string `form:"response_type"`
	ClientID            string `form:"client_id"`
	RedirectURI         string `form:"redirect_uri"`
	Scope               string `form:"scope"`
	State               string `form:"state"`
	Nonce               string `form:"nonce"`
	CodeChallenge       string `form:"code_challenge"`
	CodeChallengeMethod string `form:"code_challenge_method"`
	DPoPJkt             string `form:"dpop_jkt"`
}

func (r AuthorizeRequest) values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("response_type", r.ResponseType)
	set("client_id", r.ClientID)
	set("redirect_uri", r.RedirectURI)
	set("scope", r.Scope)
	set("state", r.State)
	set("nonce", r.Nonce)
	set("code_challenge", r.CodeChallenge)
	set("code_challenge_method", r.CodeChallengeMethod)
	set("dpop_jkt", r.DPoPJkt)
	return v
}

type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

type TokenRequest struct {
	Client       ClientCredentials
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
	DPoP         DPoPRequest
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
	IDToken      string `json:"id_token,omitempty"`
}

type TokenLookup struct {
	Client        ClientCredentials
	Token         string
	TokenTypeHint string
}

type Introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Aud       string `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
	Jti       string `json:"jti,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// AccessRequest is a resource request carrying an access token.
type AccessRequest struct {
	Authorization string
	DPoP          DPoPRequest
}

type ClientRegistration struct {
	ClientID     string   `json:"client_id" validate:"omitempty,min=8,max=128"`
	ClientSecret string   `json:"client_secret" validate:"omitempty,min=32"`
	ClientName   string   `json:"client_name" validate:"required,max=200"`
	RedirectURIs []string `json:"redirect_uris" validate:"required,min=1,dive,url"`
	GrantTypes   []string `json:"grant_types" validate:"required,min=1,dive,oneof=authorization_code refresh_token client_credentials"`
	Scopes       []string `json:"scopes" validate:"required,min=1,dive,required"`
	Confidential bool     `json:"confidential"`
	RequireDPoP  bool     `json:"require_dpop"`
}

type RegisteredClient struct {
	Client *types.OAuthClient `json:"client"`
	// ClientSecret is only ever returned here.
	ClientSecret string `json:"client_secret,omitempty"`
}

type Service interface {
	// Authorize returns the location to redirect the browser to: the client
	// with a code, or the login or consent screen.
	Authorize(ctx context.Context, req AuthorizeRequest, userID *uuid.UUID) (string, error)
	// Consent records the user's decision and continues the authorization.
	Consent(ctx context.Context, userID uuid.UUID, req AuthorizeRequest, approved bool) (string, error)
	Token(ctx context.Context, req TokenRequest) (*TokenResponse, error)
	Introspect(ctx context.Context, req TokenLookup) (*Introspection, error)
	Revoke(ctx context.Context, req TokenLookup) error
	AuthenticateAccess(ctx context.Context, req AccessRequest) (*types.OAuthAccessToken, error)
	UserInfo(ctx context.Context, token *types.OAuthAccessToken) (map[string]any, error)
	RegisterClient(ctx context.Context, pk pkey.Policy, in ClientRegistration) (*RegisteredClient, error)
	Discovery() map[string]any
	JWKS() map[string]any
	// Prune deletes DPoP proofs past retention and long-expired codes.
	Prune(ctx context.Context) error
}

type service struct {
	db      *gorm.DB
	log     *logger.Logger
	repos   repos.Set
	runner  aggregates.TxRunner
	peppers *Peppers
	key     *SigningKey
	dpop    *DPoPVerifier
	cfg     Config
	now     func() time.Time
}

func NewService(db *gorm.DB, baseLog *logger.Logger, r repos.Set, peppers *Peppers, key *SigningKey, cfg Config) Service {
	cfg = cfg.withDefaults()
	return &service{
		db:      db,
		log:     baseLog.With("service", "OAuthService"),
		repos:   r,
		runner:  aggregates.NewGormTxRunner(db),
		peppers: peppers,
		key:     key,
		dpop:    NewDPoPVerifier(db, r.OAuthDPoP, cfg.DPoPFutureSkew, cfg.DPoPPastSkew),
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *service) read(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx, Tx: s.db.WithContext(ctx)}
}

func (s *service) write(ctx context.Context, op string, fn func(dbc dbctx.Context) error) error {
	return aggregates.ExecuteWrite(ctx, aggregates.BaseDeps{DB: s.db, Log: s.log, Runner: s.runner}, op, fn)
}

func (s *service) Authorize(ctx context.Context, req AuthorizeRequest, userID *uuid.UUID) (string, error) {
	client, scopes, err := s.checkAuthorize(ctx, req)
	if err != nil {
		return "", err
	}
	if userID == nil {
		return withQuery(s.cfg.LoginURL, req.values())
	}
	granted, err := s.repos.OAuthConsent.Scopes(s.read(ctx), *userID, client.ID)
	if err != nil {
		return "", AsError(err).redirectTo(req.RedirectURI, req.State)
	}
	if !subset(scopes, granted) {
		return withQuery(s.cfg.ConsentURL, req.values())
	}
	return s.issueCode(ctx, client, *userID, scopes, req)
}

func (s *service) Consent(ctx context.Context, userID uuid.UUID, req AuthorizeRequest, approved bool) (string, error) {
	client, scopes, err := s.checkAuthorize(ctx, req)
	if err != nil {
		return "", err
	}
	if !approved {
		return newError(ErrAccessDenied, "the user denied the request").redirectTo(req.RedirectURI, req.State).Location(), nil
	}
	err = s.write(ctx, "OAuthService.Consent", func(dbc dbctx.Context) error {
		return s.repos.OAuthConsent.Grant(dbc, userID, client.ID, scopes)
	})
	if err != nil {
		return "", AsError(err).redirectTo(req.RedirectURI, req.State)
	}
	return s.issueCode(ctx, client, userID, scopes, req)
}

// checkAuthorize validates an authorization request. Errors before the
// redirect URI is trusted are shown to the user; later ones go to the client.
func (s *service) checkAuthorize(ctx context.Context, req AuthorizeRequest) (*types.OAuthClient, []string, error) {
	client, err := s.repos.OAuthClients.GetByClientID(s.read(ctx), req.ClientID)
	if err != nil {
		if domainagg.IsCode(err, domainagg.CodeNotFound) {
			return nil, nil, newError(ErrInvalidClient, "unknown client")
		}
		return nil, nil, AsError(err)
	}
	if req.RedirectURI == "" || !client.AllowsRedirect(req.RedirectURI) {
		return nil, nil, newError(ErrInvalidRequest, "redirect_uri is not registered for this client")
	}
	fail := func(code, desc string) (*types.OAuthClient, []string, error) {
		return nil, nil, newError(code, desc).redirectTo(req.RedirectURI, req.State)
	}
	if req.ResponseType != "code" {
		return fail(ErrUnsupportedResponseType, "only response_type=code is supported")
	}
	if !client.AllowsGrant(oauthdomain.GrantAuthorizationCode) {
		return fail(ErrUnauthorizedClient, "client may not use the authorization code grant")
	}
	scopes := ParseScopes(req.Scope)
	if len(scopes) == 0 || !subset(scopes, client.Scopes) {
		return fail(ErrInvalidScope, "requested scope exceeds the client's scopes")
	}
	if req.CodeChallengeMethod != MethodS256 || !ValidChallenge(req.CodeChallenge) {
		return fail(ErrInvalidRequest, "PKCE with code_challenge_method=S256 is required")
	}
	return client, scopes, nil
}

func (s *service) issueCode(ctx context.Context, client *types.OAuthClient, userID uuid.UUID, scopes []string, req AuthorizeRequest) (string, error) {
	raw, err := NewOpaqueToken()
	if err != nil {
		return "", newError(ErrServerError, "").redirectTo(req.RedirectURI, req.State)
	}
	pepperID, digest := s.peppers.Digest(raw)
	now := s.now().UTC()
	code := &types.OAuthAuthCode{
		Digest:              digest,
		PepperID:            pepperID,
		UserID:              userID,
		ClientID:            client.ID,
		RedirectURI:         req.RedirectURI,
		Scopes:              scopes,
		Nonce:               optional(req.Nonce),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		DPoPJkt:             optional(req.DPoPJkt),
		AuthTime:            now,
		ExpiresAt:           now.Add(s.cfg.AuthCodeTTL),
	}
	err = s.write(ctx, "OAuthService.IssueCode", func(dbc dbctx.Context) error {
		_, err := s.repos.OAuthCodes.Insert(dbc, code)
		return err
	})
	if err != nil {
		return "", AsError(err).redirectTo(req.RedirectURI, req.State)
	}
	q := url.Values{"code": {raw}}
	if req.State != "" {
		q.Set("state", req.State)
	}
	return withQuery(req.RedirectURI, q)
}

func (s *service) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	ctx, span := observability.StartSpan(ctx, "oauth.token", attribute.String("grant_type", req.GrantType))
	defer span.End()

	client, err := s.authenticateClient(ctx, req.Client)
	if err != nil {
		return nil, err
	}
	grant := oauthdomain.GrantType(req.GrantType)
	switch grant {
	case oauthdomain.GrantAuthorizationCode, oauthdomain.GrantRefreshToken, oauthdomain.GrantClientCredentials:
	default:
		return nil, newError(ErrUnsupportedGrantType, "")
	}
	if !client.AllowsGrant(grant) {
		return nil, newError(ErrUnauthorizedClient, "grant type not allowed for this client")
	}
	jkt, err := s.proofKey(ctx, client, req.DPoP)
	if err != nil {
		return nil, err
	}

	var resp *TokenResponse
	switch grant {
	case oauthdomain.GrantAuthorizationCode:
		resp, err = s.exchangeCode(ctx, client, req, jkt)
	case oauthdomain.GrantRefreshToken:
		resp, err = s.refresh(ctx, client, req, jkt)
	default:
		resp, err = s.clientCredentials(ctx, client, req, jkt)
	}
	if err != nil {
		return nil, AsError(err)
	}
	observability.Current().IncTokenIssued(string(grant), resp.TokenType)
	return resp, nil
}

func (s *service) authenticateClient(ctx context.Context, creds ClientCredentials) (*types.OAuthClient, error) {
	if strings.TrimSpace(creds.ClientID) == "" {
		return nil, newError(ErrInvalidClient, "client authentication required")
	}
	client, err := s.repos.OAuthClients.GetByClientID(s.read(ctx), creds.ClientID)
	if err != nil {
		if domainagg.IsCode(err, domainagg.CodeNotFound) {
			return nil, newError(ErrInvalidClient, "client authentication failed")
		}
		return nil, AsError(err)
	}
	if client.Confidential {
		if creds.ClientSecret == "" || !s.peppers.Verify(client.SecretPepperID, creds.ClientSecret, client.ClientSecretHash) {
			return nil, newError(ErrInvalidClient, "client authentication failed")
		}
	}
	return client, nil
}

func (s *service) proofKey(ctx context.Context, client *types.OAuthClient, req DPoPRequest) (*string, error) {
	if strings.TrimSpace(req.Proof) == "" {
		if client.RequireDPoP {
			return nil, newError(ErrInvalidDPoPProof, "DPoP proof required")
		}
		return nil, nil
	}
	req.AccessToken = ""
	jkt, err := s.dpop.Verify(ctx, req)
	if err != nil {
		return nil, AsError(err)
	}
	return &jkt, nil
}

func (s *service) exchangeCode(ctx context.Context, client *types.OAuthClient, req TokenRequest, jkt *string) (*TokenResponse, error) {
	var code *types.OAuthAuthCode
	// Consumption commits on its own so a failed exchange still burns the code.
	err := s.write(ctx, "OAuthService.ConsumeCode", func(dbc dbctx.Context) error {
		var err error
		code, err = s.repos.OAuthCodes.Consume(dbc, s.peppers.Digests(req.Code))
		return err
	})
	if err != nil {
		if domainagg.IsCode(err, domainagg.CodeNotFound) {
			return nil, newError(ErrInvalidGrant, "authorization code is invalid, expired or already used")
		}
		return nil, err
	}
	if code.ClientID != client.ID {
		return nil, newError(ErrInvalidGrant, "authorization code was issued to another client")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, newError(ErrInvalidGrant, "redirect_uri mismatch")
	}
	if !VerifyPKCE(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
		return nil, newError(ErrInvalidGrant, "PKCE verification failed")
	}
	if code.DPoPJkt != nil && (jkt == nil || *jkt != *code.DPoPJkt) {
		return nil, newError(ErrInvalidDPoPProof, "proof key does not match the authorization")
	}
	nonce := ""
	if code.Nonce != nil {
		nonce = *code.Nonce
	}
	var resp *TokenResponse
	err = s.write(ctx, "OAuthService.ExchangeCode", func(dbc dbctx.Context) error {
		var err error
		resp, _, err = s.issue(dbc, issueParams{
			client:   client,
			userID:   &code.UserID,
			scopes:   code.Scopes,
			jkt:      jkt,
			authTime: code.AuthTime,
			nonce:    nonce,
			refresh:  client.AllowsGrant(oauthdomain.GrantRefreshToken),
		})
		return err
	})
	return resp, err
}

func (s *service) refresh(ctx context.Context, client *types.OAuthClient, req TokenRequest, jkt *string) (*TokenResponse, error) {
	old, err := s.repos.OAuthTokens.FindRefresh(s.read(ctx), s.peppers.Digests(req.RefreshToken))
	if err != nil {
		if domainagg.IsCode(err, domainagg.CodeNotFound) {
			return nil, newError(ErrInvalidGrant, "refresh token is invalid")
		}
		return nil, err
	}
	if old.ClientID != client.ID {
		return nil, newError(ErrInvalidGrant, "refresh token is invalid")
	}
	if old.Revoked {
		if old.RotatedToID != nil {
			s.revokeFamily(ctx, old)
		}
		return nil, newError(ErrInvalidGrant, "refresh token is invalid")
	}
	if !old.ExpiresAt.After(s.now()) {
		return nil, newError(ErrInvalidGrant, "refresh token expired")
	}
	if old.DPoPJkt != nil && (jkt == nil || *jkt != *old.DPoPJkt) {
		return nil, newError(ErrInvalidDPoPProof, "proof key does not match the refresh token")
	}
	scopes := []string(old.Scopes)
	if req.Scope != "" {
		requested := ParseScopes(req.Scope)
		if !subset(requested, old.Scopes) {
			return nil, newError(ErrInvalidScope, "requested scope exceeds the original grant")
		}
		scopes = requested
	}

	var resp *TokenResponse
	err = s.write(ctx, "OAuthService.Refresh", func(dbc dbctx.Context) error {
		var (
			next *types.OAuthRefreshToken
			err  error
		)
		resp, next, err = s.issue(dbc, issueParams{
			client:        client,
			userID:        &old.UserID,
			scopes:        scopes,
			refreshScopes: old.Scopes,
			jkt:           old.DPoPJkt,
			authTime:      old.AuthTime,
			refresh:       true,
		})
		if err != nil {
			return err
		}
		rotated, err := s.repos.OAuthTokens.RotateRefresh(dbc, old.ID, next.ID)
		if err != nil {
			return err
		}
		if !rotated {
			return newError(ErrInvalidGrant, "refresh token is invalid")
		}
		return nil
	})
	return resp, err
}

// revokeFamily handles a replayed refresh token: every live refresh token
// of the same user and client is revoked.
func (s *service) revokeFamily(ctx context.Context, old *types.OAuthRefreshToken) {
	var n int64
	err := s.write(ctx, "OAuthService.RevokeFamily", func(dbc dbctx.Context) error {
		var err error
		n, err = s.repos.OAuthTokens.RevokeAllRefresh(dbc, old.UserID, old.ClientID)
		return err
	})
	if err != nil {
		s.log.Error("revoke refresh family failed", "user_id", old.UserID, "client_id", old.ClientID, "error", err)
		return
	}
	s.log.Warn("refresh token reuse detected", "user_id", old.UserID, "client_id", old.ClientID, "revoked", n)
}

func (s *service) clientCredentials(ctx context.Context, client *types.OAuthClient, req TokenRequest, jkt *string) (*TokenResponse, error) {
	if !client.Confidential {
		return nil, newError(ErrUnauthorizedClient, "public clients cannot use client_credentials")
	}
	scopes := []string(client.Scopes)
	if req.Scope != "" {
		scopes = ParseScopes(req.Scope)
		if !subset(scopes, client.Scopes) {
			return nil, newError(ErrInvalidScope, "requested scope exceeds the client's scopes")
		}
	}
	var resp *TokenResponse
	err := s.write(ctx, "OAuthService.ClientCredentials", func(dbc dbctx.Context) error {
		var err error
		resp, _, err = s.issue(dbc, issueParams{client: client, scopes: scopes, jkt: jkt, authTime: s.now()})
		return err
	})
	return resp, err
}

type issueParams struct {
	client        *types.OAuthClient
	userID        *uuid.UUID
	scopes        []string
	refreshScopes []string
	jkt           *string
	authTime      time.Time
	nonce         string
	refresh       bool
}

func (s *service) issue(dbc dbctx.Context, p issueParams) (*TokenResponse, *types.OAuthRefreshToken, error) {
	now := s.now().UTC()
	tokenType := oauthdomain.TokenTypeBearer
	if p.jkt != nil {
		tokenType = oauthdomain.TokenTypeDPoP
	}

	rawAccess, err := NewOpaqueToken()
	if err != nil {
		return nil, nil, err
	}
	pepperID, digest := s.peppers.Digest(rawAccess)
	_, err = s.repos.OAuthTokens.InsertAccess(dbc, &types.OAuthAccessToken{
		Digest:    digest,
		PepperID:  pepperID,
		UserID:    p.userID,
		ClientID:  p.client.ID,
		Scopes:    p.scopes,
		Jti:       uuid.NewString(),
		TokenType: tokenType,
		DPoPJkt:   p.jkt,
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	})
	if err != nil {
		return nil, nil, err
	}
	resp := &TokenResponse{
		AccessToken: rawAccess,
		TokenType:   string(tokenType),
		ExpiresIn:   int64(s.cfg.AccessTokenTTL / time.Second),
		Scope:       strings.Join(p.scopes, " "),
	}

	var refresh *types.OAuthRefreshToken
	if p.refresh && p.userID != nil {
		rawRefresh, err := NewOpaqueToken()
		if err != nil {
			return nil, nil, err
		}
		scopes := p.refreshScopes
		if len(scopes) == 0 {
			scopes = p.scopes
		}
		pepperID, digest := s.peppers.Digest(rawRefresh)
		refresh, err = s.repos.OAuthTokens.InsertRefresh(dbc, &types.OAuthRefreshToken{
			Digest:    digest,
			PepperID:  pepperID,
			UserID:    *p.userID,
			ClientID:  p.client.ID,
			Scopes:    scopes,
			DPoPJkt:   p.jkt,
			AuthTime:  p.authTime,
			ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		})
		if err != nil {
			return nil, nil, err
		}
		resp.RefreshToken = rawRefresh
	}

	if p.userID != nil && contains(p.scopes, ScopeOpenID) {
		idToken, err := s.key.Sign(newIDTokenClaims(s.cfg.Issuer, p.userID.String(), p.client.ClientID, p.nonce, p.authTime, now, s.cfg.IDTokenTTL))
		if err != nil {
			return nil, nil, err
		}
		resp.IDToken = idToken
	}
	return resp, refresh, nil
}

func (s *service) Introspect(ctx context.Context, req TokenLookup) (*Introspection, error) {
	if _, err := s.authenticateClient(ctx, req.Client); err != nil {
		return nil, err
	}
	dbc := s.read(ctx)
	digests := s.peppers.Digests(req.Token)
	// Both lookups always run so timing does not depend on the token kind.
	access, accessErr := s.repos.OAuthTokens.FindActiveAccess(dbc, digests)
	refresh, refreshErr := s.repos.OAuthTokens.FindRefresh(dbc, digests)

	switch {
	case accessErr == nil:
		out := &Introspection{
			Active:    true,
			Scope:     strings.Join(access.Scopes, " "),
			Exp:       access.ExpiresAt.Unix(),
			Iat:       access.CreatedAt.Unix(),
			Iss:       s.cfg.Issuer,
			Jti:       access.Jti,
			TokenType: string(access.TokenType),
		}
		if access.UserID != nil {
			out.Sub = access.UserID.String()
		}
		if err := s.fillClient(dbc, out, access.ClientID); err != nil {
			return nil, err
		}
		return out, nil
	case refreshErr == nil && !refresh.Revoked && refresh.ExpiresAt.After(s.now()):
		out := &Introspection{
			Active:    true,
			Scope:     strings.Join(refresh.Scopes, " "),
			Sub:       refresh.UserID.String(),
			Exp:       refresh.ExpiresAt.Unix(),
			Iat:       refresh.CreatedAt.Unix(),
			Iss:       s.cfg.Issuer,
			TokenType: "refresh_token",
		}
		if err := s.fillClient(dbc, out, refresh.ClientID); err != nil {
			return nil, err
		}
		return out, nil
	}
	for _, err := range []error{accessErr, refreshErr} {
		if err != nil && !domainagg.IsCode(err, domainagg.CodeNotFound) {
			return nil, AsError(err)
		}
	}
	return &Introspection{Active: false}, nil
}

func (s *service) fillClient(dbc dbctx.Context, out *Introspection, id uuid.UUID) error {
	c, err := s.repos.OAuthClients.GetByID(dbc, id)
	if err != nil {
		return AsError(err)
	}
	out.ClientID = c.ClientID
	out.Aud = c.ClientID
	return nil
}

func (s *service) Revoke(ctx context.Context, req TokenLookup) error {
	if _, err := s.authenticateClient(ctx, req.Client); err != nil {
		return err
	}
	digests := s.peppers.Digests(req.Token)
	err := s.write(ctx, "OAuthService.Revoke", func(dbc dbctx.Context) error {
		revokeAccess := func() (int64, error) { return s.repos.OAuthTokens.RevokeAccess(dbc, digests) }
		revokeRefresh := func() (int64, error) { return s.repos.OAuthTokens.RevokeRefresh(dbc, digests) }
		order := []func() (int64, error){revokeAccess, revokeRefresh}
		if req.TokenTypeHint == "refresh_token" {
			order = []func() (int64, error){revokeRefresh, revokeAccess}
		}
		for _, revoke := range order {
			n, err := revoke()
			if err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return AsError(err)
	}
	return nil
}

func (s *service) AuthenticateAccess(ctx context.Context, req AccessRequest) (*types.OAuthAccessToken, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(req.Authorization), " ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return nil, newError(ErrInvalidToken, "missing access token")
	}
	at, err := s.repos.OAuthTokens.FindActiveAccess(s.read(ctx), s.peppers.Digests(token))
	if err != nil {
		if domainagg.IsCode(err, domainagg.CodeNotFound) {
			return nil, newError(ErrInvalidToken, "access token is invalid or expired")
		}
		return nil, AsError(err)
	}
	if at.DPoPJkt == nil {
		if !strings.EqualFold(scheme, string(oauthdomain.TokenTypeBearer)) {
			return nil, newError(ErrInvalidToken, "bearer token presented with the wrong scheme")
		}
		return at, nil
	}
	if !strings.EqualFold(scheme, string(oauthdomain.TokenTypeDPoP)) {
		return nil, newError(ErrInvalidToken, "DPoP-bound token requires the DPoP scheme")
	}
	proof := req.DPoP
	proof.AccessToken = token
	jkt, err := s.dpop.Verify(ctx, proof)
	if err != nil {
		return nil, AsError(err)
	}
	if jkt != *at.DPoPJkt {
		return nil, newError(ErrInvalidDPoPProof, "proof key does not match the access token")
	}
	return at, nil
}

func (s *service) UserInfo(ctx context.Context, token *types.OAuthAccessToken) (map[string]any, error) {
	if token == nil || token.UserID == nil || !contains(token.Scopes, ScopeOpenID) {
		return nil, newError(ErrInvalidToken, "token does not grant openid")
	}
	u, err := s.repos.User.GetByID(s.read(ctx), *token.UserID)
	if err != nil {
		if domainagg.IsCode(err, domainagg.CodeNotFound) {
			return nil, newError(ErrInvalidToken, "user no longer exists")
		}
		return nil, AsError(err)
	}
	claims := map[string]any{"sub": u.ID.String()}
	if contains(token.Scopes, ScopeEmail) {
		claims["email"] = u.Email
		claims["email_verified"] = u.EmailVerified
	}
	if contains(token.Scopes, ScopeProfile) {
		if u.FirstName != nil {
			claims["given_name"] = *u.FirstName
		}
		if u.LastName != nil {
			claims["family_name"] = *u.LastName
		}
		if name := u.DisplayName(); name != "" {
			claims["name"] = name
		}
	}
	return claims, nil
}

func (s *service) RegisterClient(ctx context.Context, pk pkey.Policy, in ClientRegistration) (*RegisteredClient, error) {
	const op = "OAuthService.RegisterClient"
	if err := validate.Struct(op, in); err != nil {
		return nil, err
	}
	if !in.Confidential && contains(in.GrantTypes, string(oauthdomain.GrantClientCredentials)) {
		return nil, domainagg.Invalid(op, "client_credentials requires a confidential client")
	}
	clientID := in.ClientID
	if clientID == "" {
		raw, err := NewOpaqueToken()
		if err != nil {
			return nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
		}
		clientID = raw[:32]
	}
	client := &types.OAuthClient{
		ClientID:          clientID,
		ClientName:        in.ClientName,
		Confidential:      in.Confidential,
		RedirectURIs:      in.RedirectURIs,
		AllowedGrantTypes: in.GrantTypes,
		Scopes:            in.Scopes,
		RequireDPoP:       in.RequireDPoP,
	}
	secret := ""
	if in.Confidential {
		secret = in.ClientSecret
		if secret == "" {
			raw, err := NewOpaqueToken()
			if err != nil {
				return nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
			}
			secret = raw
		}
		client.SecretPepperID, client.ClientSecretHash = s.peppers.Digest(secret)
	}
	err := s.write(ctx, op, func(dbc dbctx.Context) error {
		var err error
		client, err = s.repos.OAuthClients.Create(dbc, pk, client)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &RegisteredClient{Client: client, ClientSecret: secret}, nil
}

func (s *service) Discovery() map[string]any {
	iss := s.cfg.Issuer
	return map[string]any{
		"issuer":                                iss,
		"authorization_endpoint":                iss + "/authorize",
		"token_endpoint":                        iss + "/token",
		"userinfo_endpoint":                     iss + "/userinfo",
		"jwks_uri":                              iss + "/.well-known/jwks.json",
		"introspection_endpoint":                iss + "/introspect",
		"revocation_endpoint":                   iss + "/revoke",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token", "client_credentials"},
		"subject_types_supported":               []string{"public"},
		"scopes_supported":                      []string{ScopeOpenID, ScopeEmail, ScopeProfile},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{MethodS256},
		"dpop_signing_alg_values_supported":     []string{"ES256", "RS256", "PS256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post", "none"},
	}
}

func (s *service) JWKS() map[string]any { return s.key.JWKS() }

func (s *service) Prune(ctx context.Context) error {
	return s.write(ctx, "OAuthService.Prune", func(dbc dbctx.Context) error {
		proofs, err := s.repos.OAuthDPoP.PruneOlderThan(dbc, s.cfg.DPoPRetention)
		if err != nil {
			return err
		}
		codes, err := s.repos.OAuthCodes.PruneExpired(dbc)
		if err != nil {
			return err
		}
		if proofs > 0 || codes > 0 {
			s.log.Debug("oauth prune", "dpop_proofs", proofs, "auth_codes", codes)
		}
		return nil
	})
}

// ParseScopes splits a space separated scope string, dropping duplicates.
func ParseScopes(raw string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, s := range strings.Fields(raw) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func subset(want, have []string) bool {
	for _, w := range want {
		if !contains(have, w) {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func withQuery(base string, q url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", newError(ErrServerError, "")
	}
	existing := u.Query()
	for k, vs := range q {
		for _, v := range vs {
			existing.Set(k, v)
		}
	}
	u.RawQuery = existing.Encode()
	return u.String(), nil
}
