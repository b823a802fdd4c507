// Package token contiene el controller que entrega el QR vigente al miembro.
package token

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/leopass/internal/http/v2/dto"
	httperrors "github.com/dropDatabas3/leopass/internal/http/v2/errors"
	"github.com/dropDatabas3/leopass/internal/http/v2/helpers"
	mw "github.com/dropDatabas3/leopass/internal/http/v2/middlewares"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"github.com/dropDatabas3/leopass/internal/scantoken"
	"github.com/go-chi/chi/v5"
)

// Issuer emite tokens member.
type Issuer interface {
	IssueToken(ctx context.Context, userID, eventID string) (*scantoken.Issued, error)
}

type Controller struct {
	issuer Issuer
	now    func() time.Time
}

func NewController(i Issuer) *Controller { return &Controller{issuer: i, now: time.Now} }

// MemberToken maneja GET /v2/member/events/{eventId}/token. El miembro es el actor.
func (c *Controller) MemberToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := mw.GetActor(ctx)
	if !ok {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}
	eventID := strings.TrimSpace(chi.URLParam(r, "eventId"))
	if eventID == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("eventId is required"))
		return
	}

	issued, err := c.issuer.IssueToken(ctx, actor.ID, eventID)
	if err != nil {
		appErr := httperrors.FromIssueError(err)
		if appErr.HTTPStatus >= 500 {
			logger.From(ctx).Error("token issue failed", logger.Op("TokenController.MemberToken"), logger.EventID(eventID), logger.Err(err))
		}
		httperrors.WriteError(w, appErr)
		return
	}

	helpers.WriteJSON(w, http.StatusOK, dto.TokenResponse{
		Token:       issued.Token,
		ExpiresAt:   issued.ExpiresAt,
		RefreshInMs: scantoken.RefreshDelay(issued.ExpiresAt, c.now()).Milliseconds(),
	})
}
