package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pricepin/pricepin/internal/identity"
)

const (
	// SessionCookie carries the session token for browser clients.
	SessionCookie = "pricepin_session"
	// LocalUserID is the fiber.Ctx local holding the authenticated user id.
	LocalUserID = "user_id"

	stateCookie   = "oauth_state"
	stateLifetime = 10 * time.Minute
)

const (
	alertSignInFailed = "Google sign-in failed. Please try again."
	alertAuthFailed   = "Authentication failed."
)

// HandlerConfig tunes cookie and redirect behaviour.
type HandlerConfig struct {
	CookieSecure bool
	// HomePath is where OAuth outcomes are redirected.
	HomePath string
}

// Handler exposes password and OAuth sign-in plus account endpoints.
type Handler struct {
	ids      *identity.Service
	sessions *Sessions
	provider Provider
	cfg      HandlerConfig
	logger   *slog.Logger
}

// NewHandler builds the auth handler. provider may be nil when external
// sign-in is not configured.
func NewHandler(ids *identity.Service, sessions *Sessions, provider Provider, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if cfg.HomePath == "" {
		cfg.HomePath = "/"
	}
	return &Handler{ids: ids, sessions: sessions, provider: provider, cfg: cfg, logger: logger}
}

type userView struct {
	ID          string        `json:"id"`
	Email       string        `json:"email"`
	DisplayName string        `json:"display_name"`
	Role        identity.Role `json:"role"`
	Provider    string        `json:"provider,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

func viewOf(u identity.User) userView {
	return userView{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Provider:    u.Provider,
		CreatedAt:   u.CreatedAt,
	}
}

type signUpRequest struct {
	Email       string `json:"email" form:"email"`
	Password    string `json:"password" form:"password"`
	DisplayName string `json:"display_name" form:"display_name"`
}

type signInRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// SignUp registers a password account and starts a session.
func (h *Handler) SignUp(c *fiber.Ctx) error {
	var req signUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed request body")
	}

	user, err := h.ids.Register(c.UserContext(), identity.Registration{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	switch {
	case errors.Is(err, identity.ErrInvalidRegistration), errors.Is(err, identity.ErrDuplicate):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		return err
	}

	return h.respondWithSession(c, http.StatusCreated, user)
}

// SignIn verifies an email and password and starts a session.
func (h *Handler) SignIn(c *fiber.Ctx) error {
	var req signInRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed request body")
	}

	user, err := h.ids.Authenticate(c.UserContext(), req.Email, req.Password)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case err != nil:
		return err
	}

	return h.respondWithSession(c, http.StatusOK, user)
}

func (h *Handler) respondWithSession(c *fiber.Ctx, status int, user identity.User) error {
	token, exp, err := h.sessions.Issue(user)
	if err != nil {
		return err
	}
	h.setSessionCookie(c, token, exp)
	return c.Status(status).JSON(fiber.Map{
		"status": "success",
		"data": fiber.Map{
			"user":       viewOf(user),
			"token":      token,
			"expires_at": exp,
		},
	})
}

// GoogleBegin starts the OAuth request phase. Only POST is routed to it so
// the flow cannot be triggered by a plain link.
func (h *Handler) GoogleBegin(c *fiber.Ctx) error {
	if h.provider == nil {
		return h.failed(c, alertAuthFailed)
	}

	state, err := generateState()
	if err != nil {
		h.logger.Error("failed to generate oauth state", slog.Any("error", err))
		return fiber.NewError(http.StatusInternalServerError, "internal server error")
	}

	c.Cookie(&fiber.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/users/auth",
		Expires:  time.Now().Add(stateLifetime),
		HTTPOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Redirect(h.provider.LoginURL(state), http.StatusFound)
}

// GoogleCallback completes the OAuth flow, reconciles the account and
// starts a session.
func (h *Handler) GoogleCallback(c *fiber.Ctx) error {
	if h.provider == nil {
		return h.failed(c, alertAuthFailed)
	}

	expected := c.Cookies(stateCookie)
	c.Cookie(&fiber.Cookie{
		Name:     stateCookie,
		Path:     "/users/auth",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	if e := c.Query("error"); e != "" {
		h.logger.Warn("oauth provider returned error", slog.String("error", e))
		return h.failed(c, alertAuthFailed)
	}
	state := c.Query("state")
	if expected == "" || state != expected {
		h.logger.Warn("oauth state mismatch")
		return h.failed(c, alertAuthFailed)
	}
	code := c.Query("code")
	if code == "" {
		return h.failed(c, alertAuthFailed)
	}

	cb, err := h.provider.Exchange(c.UserContext(), code)
	if err != nil {
		h.logger.Error("oauth exchange failed", slog.String("provider", h.provider.Name()), slog.Any("error", err))
		return h.failed(c, alertSignInFailed)
	}

	user, err := h.ids.Reconcile(c.UserContext(), cb)
	switch {
	case errors.Is(err, identity.ErrMissingEmail):
		return h.failed(c, identity.MissingEmailHint)
	case errors.Is(err, identity.ErrIdentityConflict):
		return h.failed(c, "This email is already linked to another account.")
	case err != nil:
		h.logger.Error("oauth reconcile failed", slog.String("provider", cb.Provider), slog.Any("error", err))
		return h.failed(c, alertSignInFailed)
	}

	token, exp, err := h.sessions.Issue(user)
	if err != nil {
		h.logger.Error("failed to issue session", slog.Any("error", err))
		return h.failed(c, alertSignInFailed)
	}
	h.setSessionCookie(c, token, exp)
	return c.Redirect(h.cfg.HomePath+"?"+url.Values{"login": {"success"}}.Encode(), http.StatusFound)
}

// Failure is the landing route for aborted provider flows.
func (h *Handler) Failure(c *fiber.Ctx) error {
	return h.failed(c, alertAuthFailed)
}

// Me returns the signed in user.
func (h *Handler) Me(c *fiber.Ctx) error {
	user, err := h.ids.Get(c.UserContext(), UserID(c))
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	case err != nil:
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "data": viewOf(user)})
}

// IssueShareToken mints a new share map token for the signed in user. The
// plaintext is only present in this response.
func (h *Handler) IssueShareToken(c *fiber.Ctx) error {
	token, err := h.ids.IssueShareToken(c.UserContext(), UserID(c))
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	case err != nil:
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"status": "success",
		"data":   fiber.Map{"share_token": token},
	})
}

// VerifyShareToken checks a share map token for a user.
func (h *Handler) VerifyShareToken(c *fiber.Ctx) error {
	if !h.ids.VerifyShareToken(c.UserContext(), c.Params("userId"), c.Query("token")) {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"status": "error", "valid": false})
	}
	return c.JSON(fiber.Map{"status": "success", "valid": true})
}

func (h *Handler) setSessionCookie(c *fiber.Ctx, token string, exp time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HTTPOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (h *Handler) failed(c *fiber.Ctx, alert string) error {
	q := url.Values{"login": {"failed"}, "alert": {alert}}
	return c.Redirect(h.cfg.HomePath+"?"+q.Encode(), http.StatusFound)
}

// UserID returns the authenticated user id stored by the session middleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
