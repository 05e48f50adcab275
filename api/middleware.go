package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/security"
)

// AuthUser is the authenticated principal stored in the echo context after
// JWTAuth runs.
type AuthUser struct {
	ID        string
	Email     string
	Superuser bool
}

const contextKeyUser = "user"

// SetUser stores user in c.
func SetUser(c echo.Context, user *AuthUser) {
	c.Set(contextKeyUser, user)
}

// GetUser retrieves the authenticated user stored by JWTAuth, if any.
func GetUser(c echo.Context) (*AuthUser, bool) {
	user, ok := c.Get(contextKeyUser).(*AuthUser)
	return user, ok
}

// JWTAuth returns middleware that validates the Bearer token against jwt,
// loads the corresponding user, and stores it in the request context.
// echo-jwt's middleware assumes golang-jwt tokens; the platform issues
// jwx tokens (security.JWTService), so auth is hand-rolled against that
// service instead of echojwt.WithConfig.
func JWTAuth(jwt *security.JWTService, users repository.UserRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			userID, err := jwt.ValidateToken(strings.TrimPrefix(header, prefix))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			user, err := users.GetByID(c.Request().Context(), userID)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "unknown user")
			}
			if !user.Active {
				return echo.NewHTTPError(http.StatusForbidden, "account disabled")
			}

			SetUser(c, &AuthUser{ID: user.ID, Email: user.Email, Superuser: user.Superuser})
			return next(c)
		}
	}
}

// RequireRole returns middleware that loads the caller's membership for the
// KB named by the ":kb_id" path param and enforces check against its role.
// Superusers bypass the membership check entirely.
func RequireRole(memberships repository.MembershipRepository, check func(domain.Role) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := GetUser(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if user.Superuser {
				return next(c)
			}

			kbID := c.Param("kb_id")
			if kbID == "" {
				kbID = c.Param("id")
			}

			m, err := memberships.Get(c.Request().Context(), user.ID, kbID)
			if err != nil {
				return echo.NewHTTPError(http.StatusForbidden, "not a member of this knowledge base")
			}
			if !check(m.Role) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role for this operation")
			}
			return next(c)
		}
	}
}
