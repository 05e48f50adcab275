package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ragctl/ragctl/apperrors"
	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/domain"
)

// MemberHandlers implements the membership endpoints under
// /knowledge/{kb_id}/members.
type MemberHandlers struct {
	memberships repository.MembershipRepository
}

func NewMemberHandlers(memberships repository.MembershipRepository) *MemberHandlers {
	return &MemberHandlers{memberships: memberships}
}

type addMemberRequest struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role"`
}

// Add handles POST /knowledge/{kb_id}/members.
func (h *MemberHandlers) Add(c echo.Context) error {
	var req addMemberRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		return apperrors.New(apperrors.KindInvalid, "add member", nil)
	}
	switch req.Role {
	case domain.RoleOwner, domain.RoleEditor, domain.RoleViewer:
	default:
		return apperrors.New(apperrors.KindInvalid, "add member", nil)
	}

	m := &domain.Membership{UserID: req.UserID, KBID: c.Param("kb_id"), Role: req.Role}
	if err := h.memberships.Upsert(c.Request().Context(), m); err != nil {
		return apperrors.New(apperrors.KindInternal, "add member", err)
	}
	return c.JSON(http.StatusCreated, m)
}

// Remove handles DELETE /knowledge/{kb_id}/members/{user_id}.
func (h *MemberHandlers) Remove(c echo.Context) error {
	err := h.memberships.Delete(c.Request().Context(), c.Param("user_id"), c.Param("kb_id"))
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "remove member", err)
	}
	return c.NoContent(http.StatusNoContent)
}
