package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ragctl/ragctl/apperrors"
	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/security"
)

// AuthHandlers implements POST /auth/register, /auth/access-token, and
// /auth/test-token.
type AuthHandlers struct {
	users repository.UserRepository
	jwt   *security.JWTService
	ttl   time.Duration
}

func NewAuthHandlers(users repository.UserRepository, jwt *security.JWTService, ttl time.Duration) *AuthHandlers {
	return &AuthHandlers{users: users, jwt: jwt, ttl: ttl}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Register handles POST /auth/register.
func (h *AuthHandlers) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := security.ValidateEmail(req.Email); err != nil {
		return apperrors.New(apperrors.KindInvalid, "register user", err)
	}
	if err := security.ValidatePasswordLength(req.Password); err != nil {
		return apperrors.New(apperrors.KindInvalid, "register user", err)
	}

	if _, err := h.users.GetByEmail(c.Request().Context(), req.Email); err == nil {
		return apperrors.New(apperrors.KindConflict, "register user", nil)
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "hash password", err)
	}

	user := &domain.User{
		ID:              uuid.NewString(),
		Email:           req.Email,
		PasswordHash:    hash,
		Active:          true,
		Plan:            "free",
		DailyRequestCap: 100,
		DailyTokenCap:   100000,
	}
	if err := h.users.Create(c.Request().Context(), user); err != nil {
		return apperrors.New(apperrors.KindInternal, "register user", err)
	}

	return c.JSON(http.StatusCreated, userResponse{ID: user.ID, Email: user.Email})
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// AccessToken handles POST /auth/access-token (OAuth2 password-grant style
// form body: username, password).
func (h *AuthHandlers) AccessToken(c echo.Context) error {
	email := c.FormValue("username")
	password := c.FormValue("password")
	if email == "" || password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	user, err := h.users.GetByEmail(c.Request().Context(), email)
	if err != nil || !security.CheckPassword(password, user.PasswordHash) {
		return apperrors.New(apperrors.KindUnauthorized, "authenticate", nil)
	}
	if !user.Active {
		return apperrors.New(apperrors.KindForbidden, "authenticate", nil)
	}

	token, err := h.jwt.GenerateToken(user.ID, h.ttl)
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "issue token", err)
	}
	return c.JSON(http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// TestToken handles POST /auth/test-token: returns the caller's own user
// record, proving the bearer token on the request is valid.
func (h *AuthHandlers) TestToken(c echo.Context) error {
	authUser, ok := GetUser(c)
	if !ok {
		return apperrors.New(apperrors.KindUnauthorized, "validate token", nil)
	}
	return c.JSON(http.StatusOK, userResponse{ID: authUser.ID, Email: authUser.Email})
}
