// Package scan contiene el controller de POST /v2/scan.
package scan

import (
	"context"
	"net/http"
	"strings"

	"github.com/dropDatabas3/leopass/internal/attendance"
	"github.com/dropDatabas3/leopass/internal/http/v2/dto"
	httperrors "github.com/dropDatabas3/leopass/internal/http/v2/errors"
	"github.com/dropDatabas3/leopass/internal/http/v2/helpers"
	mw "github.com/dropDatabas3/leopass/internal/http/v2/middlewares"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"github.com/dropDatabas3/leopass/internal/validation"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderReplayed marca respuestas que reproducen un scan ya aplicado.
	HeaderReplayed = "Idempotent-Replayed"
)

// Scanner es el engine de asistencia visto desde HTTP.
type Scanner interface {
	ProcessScan(ctx context.Context, req attendance.ScanRequest) (*attendance.Result, error)
}

// Controller maneja los scans de los stewards.
type Controller struct {
	scanner Scanner
}

func NewController(s Scanner) *Controller { return &Controller{scanner: s} }

// Scan maneja POST /v2/scan.
func (c *Controller) Scan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Op("ScanController.Scan"))

	actor, ok := mw.GetActor(ctx)
	if !ok {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key != "" {
		if err := validation.Var(HeaderIdempotencyKey, key, "idemkey"); err != nil {
			httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail(err.Error()))
			return
		}
	}

	var body dto.ScanRequest
	if err := helpers.ReadJSON(w, r, &body); err != nil {
		httperrors.WriteError(w, err)
		return
	}

	req := attendance.ScanRequest{
		Token:           body.Token,
		IdempotencyKey:  key,
		ScannerActorID:  actor.ID,
		ScannerDeviceID: strings.TrimSpace(body.ScannerDeviceID),
	}
	if body.ScannedAt != nil {
		req.ScannedAt = *body.ScannedAt
	}

	res, err := c.scanner.ProcessScan(ctx, req)
	if err != nil {
		appErr := httperrors.FromScanError(err)
		if appErr.HTTPStatus >= 500 {
			log.Error("scan failed", logger.Err(err))
		} else {
			log.Debug("scan rejected", logger.Err(err))
		}
		httperrors.WriteError(w, appErr)
		return
	}

	if res.Replayed {
		w.Header().Set(HeaderReplayed, "true")
	}
	helpers.WriteJSON(w, http.StatusOK, toResponse(res))
}

func toResponse(res *attendance.Result) dto.ScanResponse {
	return dto.ScanResponse{
		Action: string(res.Action),
		AttendanceSession: dto.ScanSession{
			ID:         res.Session.ID,
			EventID:    res.Session.EventID,
			UserID:     res.Session.UserID,
			CheckInTs:  res.Session.CheckInTs,
			CheckOutTs: res.Session.CheckOutTs,
		},
		TokenExpiresAt: res.TokenExpiresAt,
	}
}
