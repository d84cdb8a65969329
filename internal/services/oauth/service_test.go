package oauth

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/data/repos"
	"github.com/yungbote/headless-lms/internal/data/repos/testutil"
	types "github.com/yungbote/headless-lms/internal/domain"
	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
)

const (
	testIssuer   = "https://lms.example.com"
	testRedirect = "https://app.example.com/callback"
)

type oauthFixture struct {
	svc      Service
	key      *SigningKey
	user     *types.User
	client   *types.OAuthClient
	secret   string
	verifier string
}

func newOAuthFixture(t *testing.T, requireDPoP bool, grants ...string) *oauthFixture {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	ctx := context.Background()

	peppers, err := ParsePeppers("1:"+testPepper('p'), 1)
	if err != nil {
		t.Fatalf("ParsePeppers: %v", err)
	}
	key, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	svc := NewService(tx, log, repos.NewSet(tx, log), peppers, key, Config{
		Issuer:     testIssuer,
		LoginURL:   testIssuer + "/login",
		ConsentURL: testIssuer + "/consent",
	})
	if len(grants) == 0 {
		grants = []string{"authorization_code", "refresh_token"}
	}
	reg, err := svc.RegisterClient(ctx, pkey.NewGenerate(), ClientRegistration{
		ClientName:   "Test app",
		RedirectURIs: []string{testRedirect},
		GrantTypes:   grants,
		Scopes:       []string{ScopeOpenID, ScopeEmail, ScopeProfile},
		Confidential: true,
		RequireDPoP:  requireDPoP,
	})
	if err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	if len(reg.ClientSecret) != 64 || reg.Client.ClientSecretHash == nil {
		t.Fatalf("secret should be returned once and stored as a digest")
	}
	user := testutil.SeedUser(t, ctx, tx, "oauth-"+uuid.NewString()[:8]+"@example.com")
	return &oauthFixture{
		svc:      svc,
		key:      key,
		user:     user,
		client:   reg.Client,
		secret:   reg.ClientSecret,
		verifier: strings.Repeat("v", 50),
	}
}

func (f *oauthFixture) creds() ClientCredentials {
	return ClientCredentials{ClientID: f.client.ClientID, ClientSecret: f.secret}
}

func (f *oauthFixture) authorizeRequest(scope string) AuthorizeRequest {
	return AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            f.client.ClientID,
		RedirectURI:         testRedirect,
		Scope:               scope,
		State:               "st-1",
		Nonce:               "n-1",
		CodeChallenge:       ChallengeFor(f.verifier),
		CodeChallengeMethod: MethodS256,
	}
}

// code runs consent and returns the issued authorization code.
func (f *oauthFixture) code(t *testing.T, scope string) string {
	t.Helper()
	loc, err := f.svc.Consent(context.Background(), f.user.ID, f.authorizeRequest(scope), true)
	if err != nil {
		t.Fatalf("Consent: %v", err)
	}
	u, err := url.Parse(loc)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if !strings.HasPrefix(loc, testRedirect) || u.Query().Get("state") != "st-1" {
		t.Fatalf("redirect = %s", loc)
	}
	code := u.Query().Get("code")
	if len(code) != 64 {
		t.Fatalf("code = %q", code)
	}
	return code
}

func (f *oauthFixture) exchange(code string, dpop DPoPRequest) (*TokenResponse, error) {
	return f.svc.Token(context.Background(), TokenRequest{
		Client:       f.creds(),
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirect,
		CodeVerifier: f.verifier,
		DPoP:         dpop,
	})
}

func oauthCode(err error) string {
	if err == nil {
		return ""
	}
	return AsError(err).Code
}

func TestAuthorizeSendsUserToLoginThenConsent(t *testing.T) {
	f := newOAuthFixture(t, false)
	ctx := context.Background()
	req := f.authorizeRequest("openid email")

	loc, err := f.svc.Authorize(ctx, req, nil)
	if err != nil {
		t.Fatalf("Authorize anonymous: %v", err)
	}
	u, _ := url.Parse(loc)
	if !strings.HasPrefix(loc, testIssuer+"/login") || u.Query().Get("client_id") != f.client.ClientID || u.Query().Get("code_challenge") == "" {
		t.Fatalf("login redirect = %s", loc)
	}

	loc, err = f.svc.Authorize(ctx, req, &f.user.ID)
	if err != nil || !strings.HasPrefix(loc, testIssuer+"/consent") {
		t.Fatalf("consent redirect = %s, %v", loc, err)
	}

	f.code(t, "openid email")
	loc, err = f.svc.Authorize(ctx, req, &f.user.ID)
	if err != nil || !strings.HasPrefix(loc, testRedirect) {
		t.Fatalf("stored consent should skip the screen: %s, %v", loc, err)
	}

	loc, err = f.svc.Consent(ctx, f.user.ID, f.authorizeRequest("openid profile"), false)
	if err != nil || !strings.Contains(loc, "error=access_denied") {
		t.Fatalf("denied consent = %s, %v", loc, err)
	}
}

func TestAuthorizeRejectsBadRequests(t *testing.T) {
	f := newOAuthFixture(t, false)
	ctx := context.Background()

	bad := f.authorizeRequest("openid")
	bad.RedirectURI = "https://evil.example.com/cb"
	_, err := f.svc.Authorize(ctx, bad, &f.user.ID)
	if oe := AsError(err); oe == nil || oe.Code != ErrInvalidRequest || oe.Location() != "" {
		t.Fatalf("unregistered redirect err = %v", err)
	}

	cases := map[string]func(r *AuthorizeRequest){
		ErrUnsupportedResponseType: func(r *AuthorizeRequest) { r.ResponseType = "token" },
		ErrInvalidScope:            func(r *AuthorizeRequest) { r.Scope = "openid admin" },
		ErrInvalidRequest:          func(r *AuthorizeRequest) { r.CodeChallengeMethod = "plain" },
	}
	for want, mutate := range cases {
		req := f.authorizeRequest("openid")
		mutate(&req)
		_, err := f.svc.Authorize(ctx, req, &f.user.ID)
		oe := AsError(err)
		if oe == nil || oe.Code != want || !strings.Contains(oe.Location(), "state=st-1") {
			t.Fatalf("%s: err = %v", want, err)
		}
	}

	unknown := f.authorizeRequest("openid")
	unknown.ClientID = "nope"
	if _, err := f.svc.Authorize(ctx, unknown, &f.user.ID); oauthCode(err) != ErrInvalidClient {
		t.Fatalf("unknown client err = %v", err)
	}
}

func TestAuthorizationCodeIsSingleUse(t *testing.T) {
	f := newOAuthFixture(t, false)
	code := f.code(t, "openid email")

	resp, err := f.exchange(code, DPoPRequest{})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if resp.TokenType != "Bearer" || resp.RefreshToken == "" || resp.IDToken == "" || resp.ExpiresIn != 3600 {
		t.Fatalf("resp = %+v", resp)
	}
	claims := &IDTokenClaims{}
	_, err = jwt.ParseWithClaims(resp.IDToken, claims, func(*jwt.Token) (any, error) { return f.key.Public(), nil },
		jwt.WithAudience(f.client.ClientID), jwt.WithIssuer(testIssuer))
	if err != nil {
		t.Fatalf("id token: %v", err)
	}
	if claims.Subject != f.user.ID.String() || claims.Nonce != "n-1" {
		t.Fatalf("id token claims = %+v", claims)
	}

	if _, err := f.exchange(code, DPoPRequest{}); oauthCode(err) != ErrInvalidGrant {
		t.Fatalf("second exchange err = %v, want invalid_grant", err)
	}
}

func TestCodeExchangeFailuresBurnTheCode(t *testing.T) {
	f := newOAuthFixture(t, false)
	ctx := context.Background()
	code := f.code(t, "openid")

	_, err := f.svc.Token(ctx, TokenRequest{
		Client:       f.creds(),
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirect,
		CodeVerifier: strings.Repeat("w", 50),
	})
	if oauthCode(err) != ErrInvalidGrant {
		t.Fatalf("wrong verifier err = %v", err)
	}
	if _, err := f.exchange(code, DPoPRequest{}); oauthCode(err) != ErrInvalidGrant {
		t.Fatalf("code must stay consumed after a failed exchange, err = %v", err)
	}

	wrong := f.creds()
	wrong.ClientSecret = "not-the-secret"
	_, err = f.svc.Token(ctx, TokenRequest{Client: wrong, GrantType: "authorization_code", Code: f.code(t, "openid")})
	if oe := AsError(err); oe == nil || oe.Code != ErrInvalidClient || oe.Status != 401 {
		t.Fatalf("bad secret err = %v", err)
	}
	_, err = f.svc.Token(ctx, TokenRequest{Client: f.creds(), GrantType: "client_credentials"})
	if oauthCode(err) != ErrUnauthorizedClient {
		t.Fatalf("undeclared grant err = %v", err)
	}
	_, err = f.svc.Token(ctx, TokenRequest{Client: f.creds(), GrantType: "password"})
	if oauthCode(err) != ErrUnsupportedGrantType {
		t.Fatalf("unknown grant err = %v", err)
	}
}

func TestRefreshRotationDetectsReuse(t *testing.T) {
	f := newOAuthFixture(t, false)
	ctx := context.Background()
	first, err := f.exchange(f.code(t, "openid email"), DPoPRequest{})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	refresh := func(token, scope string) (*TokenResponse, error) {
		return f.svc.Token(ctx, TokenRequest{Client: f.creds(), GrantType: "refresh_token", RefreshToken: token, Scope: scope})
	}

	second, err := refresh(first.RefreshToken, "email")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken || second.Scope != "email" || second.IDToken != "" {
		t.Fatalf("second = %+v", second)
	}
	if _, err := refresh(second.RefreshToken, "openid profile"); oauthCode(err) != ErrInvalidScope {
		t.Fatalf("scope widening err = %v", err)
	}

	if _, err := f.svc.AuthenticateAccess(ctx, AccessRequest{Authorization: "Bearer " + first.AccessToken}); err != nil {
		t.Fatalf("old access token should live until expiry: %v", err)
	}

	if _, err := refresh(first.RefreshToken, ""); oauthCode(err) != ErrInvalidGrant {
		t.Fatalf("reuse err = %v", err)
	}
	if _, err := refresh(second.RefreshToken, ""); oauthCode(err) != ErrInvalidGrant {
		t.Fatalf("reuse must revoke the whole family, err = %v", err)
	}
}

func TestIntrospectAndRevoke(t *testing.T) {
	f := newOAuthFixture(t, false)
	ctx := context.Background()
	tokens, err := f.exchange(f.code(t, "openid email"), DPoPRequest{})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	info, err := f.svc.Introspect(ctx, TokenLookup{Client: f.creds(), Token: tokens.AccessToken})
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if !info.Active || info.Sub != f.user.ID.String() || info.ClientID != f.client.ClientID ||
		info.Scope != "openid email" || info.Iss != testIssuer || info.Jti == "" || info.TokenType != "Bearer" {
		t.Fatalf("introspection = %+v", info)
	}
	info, err = f.svc.Introspect(ctx, TokenLookup{Client: f.creds(), Token: tokens.RefreshToken})
	if err != nil || !info.Active || info.TokenType != "refresh_token" {
		t.Fatalf("refresh introspection = %+v, %v", info, err)
	}

	if err := f.svc.Revoke(ctx, TokenLookup{Client: f.creds(), Token: tokens.AccessToken, TokenTypeHint: "access_token"}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	info, err = f.svc.Introspect(ctx, TokenLookup{Client: f.creds(), Token: tokens.AccessToken})
	if err != nil || info.Active || info.Sub != "" {
		t.Fatalf("revoked introspection = %+v, %v", info, err)
	}
	if _, err := f.svc.AuthenticateAccess(ctx, AccessRequest{Authorization: "Bearer " + tokens.AccessToken}); oauthCode(err) != ErrInvalidToken {
		t.Fatalf("revoked token accepted: %v", err)
	}

	if err := f.svc.Revoke(ctx, TokenLookup{Client: f.creds(), Token: tokens.RefreshToken, TokenTypeHint: "refresh_token"}); err != nil {
		t.Fatalf("Revoke refresh: %v", err)
	}
	if err := f.svc.Revoke(ctx, TokenLookup{Client: f.creds(), Token: "unknown"}); err != nil {
		t.Fatalf("unknown tokens must revoke silently: %v", err)
	}
	info, _ = f.svc.Introspect(ctx, TokenLookup{Client: f.creds(), Token: tokens.RefreshToken})
	if info.Active {
		t.Fatalf("revoked refresh still active")
	}

	bad := f.creds()
	bad.ClientSecret = "x"
	if _, err := f.svc.Introspect(ctx, TokenLookup{Client: bad, Token: tokens.AccessToken}); oauthCode(err) != ErrInvalidClient {
		t.Fatalf("introspection requires client auth, err = %v", err)
	}
}

func TestDPoPBoundTokens(t *testing.T) {
	f := newOAuthFixture(t, true)
	ctx := context.Background()
	signer := newProofSigner(t)
	tokenURL := testIssuer + "/token"

	if _, err := f.exchange(f.code(t, "openid email"), DPoPRequest{}); oauthCode(err) != ErrInvalidDPoPProof {
		t.Fatalf("missing proof err = %v", err)
	}

	code := f.code(t, "openid email")
	proof := signer.sign(t, proofOpts{htm: "POST", htu: tokenURL, jti: "abc"})
	resp, err := f.exchange(code, DPoPRequest{Proof: proof, Method: "POST", URL: tokenURL})
	if err != nil {
		t.Fatalf("exchange with proof: %v", err)
	}
	if resp.TokenType != "DPoP" {
		t.Fatalf("token type = %s", resp.TokenType)
	}
	if _, err := f.exchange(f.code(t, "openid email"), DPoPRequest{Proof: proof, Method: "POST", URL: tokenURL}); oauthCode(err) != ErrInvalidDPoPProof {
		t.Fatalf("replayed proof err = %v", err)
	}

	userinfo := testIssuer + "/userinfo"
	if _, err := f.svc.AuthenticateAccess(ctx, AccessRequest{Authorization: "Bearer " + resp.AccessToken}); oauthCode(err) != ErrInvalidToken {
		t.Fatalf("bearer use of DPoP token err = %v", err)
	}
	use := signer.sign(t, proofOpts{htm: "GET", htu: userinfo, accessToken: resp.AccessToken})
	at, err := f.svc.AuthenticateAccess(ctx, AccessRequest{
		Authorization: "DPoP " + resp.AccessToken,
		DPoP:          DPoPRequest{Proof: use, Method: "GET", URL: userinfo},
	})
	if err != nil {
		t.Fatalf("AuthenticateAccess: %v", err)
	}
	if at.DPoPJkt == nil || *at.DPoPJkt != signer.jkt(t) {
		t.Fatalf("access token jkt = %v", at.DPoPJkt)
	}

	other := newProofSigner(t)
	stolen := other.sign(t, proofOpts{htm: "GET", htu: userinfo, accessToken: resp.AccessToken})
	_, err = f.svc.AuthenticateAccess(ctx, AccessRequest{
		Authorization: "DPoP " + resp.AccessToken,
		DPoP:          DPoPRequest{Proof: stolen, Method: "GET", URL: userinfo},
	})
	if oauthCode(err) != ErrInvalidDPoPProof {
		t.Fatalf("foreign key err = %v", err)
	}

	refreshProof := other.sign(t, proofOpts{htm: "POST", htu: tokenURL})
	_, err = f.svc.Token(ctx, TokenRequest{
		Client:       f.creds(),
		GrantType:    "refresh_token",
		RefreshToken: resp.RefreshToken,
		DPoP:         DPoPRequest{Proof: refreshProof, Method: "POST", URL: tokenURL},
	})
	if oauthCode(err) != ErrInvalidDPoPProof {
		t.Fatalf("refresh with another key err = %v", err)
	}
}

func TestUserInfoFollowsScopes(t *testing.T) {
	f := newOAuthFixture(t, false)
	ctx := context.Background()
	resp, err := f.exchange(f.code(t, "openid email"), DPoPRequest{})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	at, err := f.svc.AuthenticateAccess(ctx, AccessRequest{Authorization: "Bearer " + resp.AccessToken})
	if err != nil {
		t.Fatalf("AuthenticateAccess: %v", err)
	}
	claims, err := f.svc.UserInfo(ctx, at)
	if err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	if claims["sub"] != f.user.ID.String() || claims["email"] != f.user.Email {
		t.Fatalf("claims = %+v", claims)
	}
	if _, ok := claims["given_name"]; ok {
		t.Fatalf("profile claims without profile scope")
	}
}

func TestClientCredentialsGrant(t *testing.T) {
	f := newOAuthFixture(t, false, "client_credentials")
	ctx := context.Background()
	resp, err := f.svc.Token(ctx, TokenRequest{Client: f.creds(), GrantType: "client_credentials", Scope: "email"})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if resp.RefreshToken != "" || resp.IDToken != "" || resp.Scope != "email" {
		t.Fatalf("resp = %+v", resp)
	}
	info, err := f.svc.Introspect(ctx, TokenLookup{Client: f.creds(), Token: resp.AccessToken})
	if err != nil || !info.Active || info.Sub != "" {
		t.Fatalf("introspection = %+v, %v", info, err)
	}
	at, _ := f.svc.AuthenticateAccess(ctx, AccessRequest{Authorization: "Bearer " + resp.AccessToken})
	if _, err := f.svc.UserInfo(ctx, at); oauthCode(err) != ErrInvalidToken {
		t.Fatalf("userinfo without a user err = %v", err)
	}
}

func TestRegisterClientValidates(t *testing.T) {
	f := newOAuthFixture(t, false)
	_, err := f.svc.RegisterClient(context.Background(), pkey.NewGenerate(), ClientRegistration{
		ClientName:   "Public",
		RedirectURIs: []string{testRedirect},
		GrantTypes:   []string{"client_credentials"},
		Scopes:       []string{ScopeOpenID},
	})
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("public client_credentials err = %v", err)
	}
	_, err = f.svc.RegisterClient(context.Background(), pkey.NewGenerate(), ClientRegistration{
		ClientName:   "Broken",
		RedirectURIs: []string{"not a url"},
		GrantTypes:   []string{"implicit"},
		Scopes:       []string{ScopeOpenID},
	})
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("invalid registration err = %v", err)
	}
}
