package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/headless-lms/internal/data/pkey"
	"github.com/yungbote/headless-lms/internal/domain/user"
	"github.com/yungbote/headless-lms/internal/http/response"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/services/access"
	"github.com/yungbote/headless-lms/internal/services/oauth"
)

type OAuthHandler struct {
	log    *logger.Logger
	svc    oauth.Service
	access access.Service
	// origin is the scheme and host of the issuer, used to rebuild the URL a
	// DPoP proof was made for.
	origin string
}

func NewOAuthHandler(log *logger.Logger, svc oauth.Service, acc access.Service, issuer string) *OAuthHandler {
	origin := issuer
	if u, err := url.Parse(issuer); err == nil && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}
	return &OAuthHandler{
		log:    log.With("handler", "OAuthHandler"),
		svc:    svc,
		access: acc,
		origin: strings.TrimRight(origin, "/"),
	}
}

// GET /.well-known/openid-configuration
func (h *OAuthHandler) Discovery(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Discovery())
}

// GET /.well-known/jwks.json
func (h *OAuthHandler) JWKS(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, h.svc.JWKS())
}

// GET /authorize
func (h *OAuthHandler) Authorize(c *gin.Context) {
	var req oauth.AuthorizeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.oauthError(c, oauth.AsError(err))
		return
	}
	var uid *uuid.UUID
	if id := currentUser(c); id != uuid.Nil {
		uid = &id
	}
	loc, err := h.svc.Authorize(c.Request.Context(), req, uid)
	if err != nil {
		h.redirectOrError(c, err)
		return
	}
	c.Redirect(http.StatusFound, loc)
}

// POST /consent
// form: the authorize parameters plus approved=true|false
func (h *OAuthHandler) Consent(c *gin.Context) {
	var req oauth.AuthorizeRequest
	if err := c.ShouldBind(&req); err != nil {
		h.oauthError(c, oauth.AsError(err))
		return
	}
	approved := c.PostForm("approved") == "true"
	loc, err := h.svc.Consent(c.Request.Context(), currentUser(c), req, approved)
	if err != nil {
		h.redirectOrError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, loc)
}

// POST /token
func (h *OAuthHandler) Token(c *gin.Context) {
	req := oauth.TokenRequest{
		Client:       clientCredentials(c),
		GrantType:    c.PostForm("grant_type"),
		Code:         c.PostForm("code"),
		RedirectURI:  c.PostForm("redirect_uri"),
		CodeVerifier: c.PostForm("code_verifier"),
		RefreshToken: c.PostForm("refresh_token"),
		Scope:        c.PostForm("scope"),
		DPoP:         h.dpop(c, ""),
	}
	resp, err := h.svc.Token(c.Request.Context(), req)
	if err != nil {
		h.oauthError(c, oauth.AsError(err))
		return
	}
	response.RespondNoStore(c, http.StatusOK, resp)
}

// POST /introspect
func (h *OAuthHandler) Introspect(c *gin.Context) {
	out, err := h.svc.Introspect(c.Request.Context(), h.lookup(c))
	if err != nil {
		h.oauthError(c, oauth.AsError(err))
		return
	}
	response.RespondNoStore(c, http.StatusOK, out)
}

// POST /revoke
func (h *OAuthHandler) Revoke(c *gin.Context) {
	if err := h.svc.Revoke(c.Request.Context(), h.lookup(c)); err != nil {
		h.oauthError(c, oauth.AsError(err))
		return
	}
	c.Status(http.StatusOK)
}

// GET|POST /userinfo
func (h *OAuthHandler) UserInfo(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	token, err := h.svc.AuthenticateAccess(c.Request.Context(), oauth.AccessRequest{
		Authorization: auth,
		DPoP:          h.dpop(c, accessTokenOf(auth)),
	})
	if err != nil {
		oe := oauth.AsError(err)
		scheme := "Bearer"
		if strings.HasPrefix(auth, "DPoP ") {
			scheme = "DPoP"
		}
		c.Header("WWW-Authenticate", scheme+` error="`+oe.Code+`"`)
		h.oauthError(c, oe)
		return
	}
	claims, err := h.svc.UserInfo(c.Request.Context(), token)
	if err != nil {
		h.oauthError(c, oauth.AsError(err))
		return
	}
	response.RespondNoStore(c, http.StatusOK, claims)
}

// POST /clients
// body: oauth.ClientRegistration; admins only
func (h *OAuthHandler) RegisterClient(c *gin.Context) {
	if err := h.access.RequireGlobal(c.Request.Context(), currentUser(c), user.RoleAdmin); err != nil {
		response.RespondError(c, err)
		return
	}
	var in oauth.ClientRegistration
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	out, err := h.svc.RegisterClient(c.Request.Context(), pkey.NewGenerate(), in)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	h.log.Info("oauth client registered", "client_id", out.Client.ClientID)
	response.RespondNoStore(c, http.StatusCreated, out)
}

func (h *OAuthHandler) lookup(c *gin.Context) oauth.TokenLookup {
	return oauth.TokenLookup{
		Client:        clientCredentials(c),
		Token:         c.PostForm("token"),
		TokenTypeHint: c.PostForm("token_type_hint"),
	}
}

func (h *OAuthHandler) dpop(c *gin.Context, accessToken string) oauth.DPoPRequest {
	return oauth.DPoPRequest{
		Proof:       c.GetHeader("DPoP"),
		Method:      c.Request.Method,
		URL:         h.origin + c.Request.URL.Path,
		AccessToken: accessToken,
	}
}

func (h *OAuthHandler) redirectOrError(c *gin.Context, err error) {
	oe := oauth.AsError(err)
	if loc := oe.Location(); loc != "" {
		c.Redirect(http.StatusFound, loc)
		return
	}
	h.oauthError(c, oe)
}

func (h *OAuthHandler) oauthError(c *gin.Context, oe *oauth.Error) {
	if oe.Status >= http.StatusInternalServerError {
		h.log.Error("oauth request failed", "path", c.FullPath(), "error", oe)
	}
	if oe.Code == oauth.ErrInvalidClient && c.GetHeader("Authorization") != "" && c.GetHeader("WWW-Authenticate") == "" {
		c.Header("WWW-Authenticate", `Basic realm="oauth"`)
	}
	_ = c.Error(oe)
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(oe.Status, oe.Body())
}

// clientCredentials reads HTTP Basic credentials, falling back to the form.
func clientCredentials(c *gin.Context) oauth.ClientCredentials {
	if id, secret, ok := c.Request.BasicAuth(); ok {
		if v, err := url.QueryUnescape(id); err == nil {
			id = v
		}
		if v, err := url.QueryUnescape(secret); err == nil {
			secret = v
		}
		return oauth.ClientCredentials{ClientID: id, ClientSecret: secret}
	}
	return oauth.ClientCredentials{ClientID: c.PostForm("client_id"), ClientSecret: c.PostForm("client_secret")}
}

func accessTokenOf(auth string) string {
	if i := strings.IndexByte(auth, ' '); i > 0 {
		return strings.TrimSpace(auth[i+1:])
	}
	return ""
}
