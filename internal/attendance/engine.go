// Package attendance convierte el uso único de un scan token en un toggle
// idempotente de la sesión de asistencia (check-in ⇄ check-out).
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/dropDatabas3/leopass/internal/jwt"
	"github.com/dropDatabas3/leopass/internal/metrics"
	"github.com/dropDatabas3/leopass/internal/notify"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/dropDatabas3/leopass/internal/attendance")

// Action es la transición aplicada por un scan.
type Action string

const (
	ActionCheckIn  Action = "check_in"
	ActionCheckOut Action = "check_out"
)

// ScanRequest es un scan presentado por un steward.
type ScanRequest struct {
	Token           string
	IdempotencyKey  string
	ScannerActorID  string
	ScannerDeviceID string
	// ScannedAt cero significa "ahora".
	ScannedAt time.Time
}

// SessionSnapshot es la vista de la sesión devuelta al scanner.
type SessionSnapshot struct {
	ID         string     `json:"id"`
	EventID    string     `json:"eventId"`
	UserID     *string    `json:"userId"`
	CheckInTs  *time.Time `json:"checkInTs"`
	CheckOutTs *time.Time `json:"checkOutTs"`
}

// Result es el resultado de ProcessScan.
type Result struct {
	Action         Action          `json:"action"`
	Session        SessionSnapshot `json:"attendanceSession"`
	TokenExpiresAt time.Time       `json:"tokenExpiresAt"`
	// Replayed es true cuando se devolvió el resultado original de un reintento.
	Replayed bool `json:"-"`
}

// Engine procesa scans.
type Engine struct {
	store        repository.Store
	codec        *jwt.Codec
	keys         jwt.KeyResolver
	emitter      notify.Emitter
	now          func() time.Time
	skew         time.Duration
	defaultGrace int
	emitTimeout  time.Duration
}

// Option configura el Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option  { return func(e *Engine) { e.now = now } }
func WithClockSkew(d time.Duration) Option   { return func(e *Engine) { e.skew = d } }
func WithDefaultGraceMinutes(m int) Option   { return func(e *Engine) { e.defaultGrace = m } }
func WithEmitter(em notify.Emitter) Option   { return func(e *Engine) { e.emitter = em } }
func WithEmitTimeout(d time.Duration) Option { return func(e *Engine) { e.emitTimeout = d } }

// NewEngine crea el engine. keys resuelve claves de verificación por kid.
func NewEngine(store repository.Store, codec *jwt.Codec, keys jwt.KeyResolver, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		codec:        codec,
		keys:         keys,
		emitter:      notify.Nop{},
		now:          time.Now,
		skew:         DefaultClockSkew,
		defaultGrace: DefaultGraceMinutes,
		emitTimeout:  5 * time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ProcessScan verifica el token, valida ventanas y aplica una transición de
// forma atómica junto con la quema del token. Un reintento con la misma clave
// de idempotencia devuelve el resultado original sin mutar nada.
func (e *Engine) ProcessScan(ctx context.Context, req ScanRequest) (res *Result, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "Engine.ProcessScan")
	defer func() {
		var label string
		if err != nil {
			label = "error_" + Classify(err).String()
			span.RecordError(err)
		} else {
			label = string(res.Action)
			if res.Replayed {
				label = "replay"
			}
		}
		span.SetAttributes(attribute.String("result", label))
		metrics.ScansTotal.WithLabelValues(label).Inc()
		metrics.ScanDuration.Observe(time.Since(started).Seconds())
		span.End()
	}()

	scanTime := req.ScannedAt
	if scanTime.IsZero() {
		scanTime = e.now()
	}
	if scanTime.Year() < 2000 || scanTime.Year() > 9999 {
		return nil, ErrInvalidScanTime
	}
	scanTime = scanTime.UTC().Truncate(time.Microsecond)
	key := NormalizeIdempotencyKey(req.IdempotencyKey)

	log := logger.From(ctx).With(logger.ScannerID(req.ScannerActorID), logger.IdempotencyKey(key))

	// Las claves son inmutables: verificar fuera de la transacción.
	verified, err := e.codec.Verify(ctx, req.Token, e.keys)
	if err != nil {
		if Classify(err) == ClassIdentity {
			log.Warn("scan rejected: unverifiable token", logger.Err(err))
		}
		return nil, err
	}
	claims := verified.Claims
	log = log.With(logger.JTI(claims.JTI), logger.EventID(claims.EventID))
	span.SetAttributes(attribute.String("event_id", claims.EventID))

	if err := CheckTokenWindow(claims, scanTime, e.skew); err != nil {
		return nil, err
	}

	txClaims := repository.Claims{ActorID: req.ScannerActorID, Roles: repository.SystemClaims.Roles}
	err = e.store.WithinTx(ctx, txClaims, func(ctx context.Context, tx repository.Repos) error {
		shadow, err := tx.ScanTokens().GetForUpdate(ctx, claims.JTI)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTokenNotRecognised
			}
			return fmt.Errorf("load scan token: %w", err)
		}
		if shadow.EventID != claims.EventID {
			return ErrTokenEventMismatch
		}
		if shadow.UserID != claims.Subject {
			return ErrTokenUserMismatch
		}

		if shadow.Consumed() {
			if key != "" && shadow.ConsumedIdempotencyKey != nil && *shadow.ConsumedIdempotencyKey == key && shadow.AttendanceSessionID != nil {
				sess, err := tx.Sessions().GetByID(ctx, *shadow.AttendanceSessionID)
				if err != nil {
					return fmt.Errorf("load replayed session: %w", err)
				}
				res = replayResult(shadow, sess, claims)
				return nil
			}
			return ErrTokenConsumed
		}

		if key != "" {
			other, err := tx.ScanTokens().FindByIdempotencyKey(ctx, key)
			switch {
			case err == nil && other.JTI != shadow.JTI:
				return ErrIdempotencyKeyReused
			case err != nil && !errors.Is(err, repository.ErrNotFound):
				return fmt.Errorf("check idempotency key: %w", err)
			}
		}

		pass, err := tx.Passes().Get(ctx, claims.EventID, claims.Subject)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrPassNotFound
			}
			return fmt.Errorf("load pass: %w", err)
		}
		if pass.Status == repository.PassRevoked {
			return ErrPassRevoked
		}
		if err := checkEventWindow(pass.Event, scanTime, e.skew, e.defaultGrace); err != nil {
			return err
		}

		var (
			sess   *repository.AttendanceSession
			action Action
		)
		open, err := tx.Sessions().FindOpen(ctx, claims.EventID, claims.Subject)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			sess, err = tx.Sessions().Create(ctx, repository.CreateSessionInput{
				EventID:         claims.EventID,
				UserID:          claims.Subject,
				CheckInTs:       scanTime,
				Method:          repository.MethodSteward,
				ScannerDeviceID: req.ScannerDeviceID,
			})
			if err != nil {
				if errors.Is(err, repository.ErrConflict) {
					return ErrSessionConflict
				}
				return fmt.Errorf("create session: %w", err)
			}
			action = ActionCheckIn
			if pass.Status != repository.PassActive || pass.ActivatedAt == nil {
				at := scanTime
				if pass.ActivatedAt != nil {
					at = *pass.ActivatedAt
				}
				if err := tx.Passes().Activate(ctx, pass.ID, at); err != nil {
					return fmt.Errorf("activate pass: %w", err)
				}
			}
		case err != nil:
			return fmt.Errorf("find open session: %w", err)
		default:
			sess, err = tx.Sessions().CheckOut(ctx, open.ID, scanTime, req.ScannerDeviceID)
			if err != nil {
				return fmt.Errorf("check out session: %w", err)
			}
			action = ActionCheckOut
		}

		err = tx.ScanTokens().MarkConsumed(ctx, repository.ConsumeInput{
			JTI:                 claims.JTI,
			UsedAt:              scanTime,
			ScannerID:           req.ScannerActorID,
			AttendanceSessionID: sess.ID,
			IdempotencyKey:      key,
		})
		switch {
		case errors.Is(err, repository.ErrAlreadyConsumed):
			return ErrTokenConsumed
		case errors.Is(err, repository.ErrConflict):
			return ErrIdempotencyKeyReused
		case err != nil:
			return fmt.Errorf("consume scan token: %w", err)
		}

		res = &Result{Action: action, Session: snapshot(sess), TokenExpiresAt: claims.ExpiresTime()}
		return nil
	})
	if err != nil {
		switch Classify(err) {
		case ClassIdentity:
			log.Warn("scan rejected", logger.Err(err))
		case ClassUnknown:
			log.Error("scan failed", logger.Err(err))
		default:
			log.Info("scan rejected", logger.Err(err))
		}
		return nil, err
	}

	if res.Replayed {
		log.Info("scan replayed", logger.SessionID(res.Session.ID), logger.Action(string(res.Action)))
		return res, nil
	}

	log.Info("scan processed", logger.SessionID(res.Session.ID), logger.Action(string(res.Action)),
		logger.DeviceID(req.ScannerDeviceID), zap.Time("scanned_at", scanTime))
	notify.Dispatch(ctx, e.emitter, notifyEvent(res, req), e.emitTimeout)
	return res, nil
}

func snapshot(s *repository.AttendanceSession) SessionSnapshot {
	return SessionSnapshot{
		ID:         s.ID,
		EventID:    s.EventID,
		UserID:     s.UserID,
		CheckInTs:  s.CheckInTs,
		CheckOutTs: s.CheckOutTs,
	}
}

// replayResult reconstruye el resultado tal como fue al consumir el token:
// si el token hizo el check-in, el snapshot no muestra un check-out posterior.
func replayResult(shadow *repository.ScanToken, sess *repository.AttendanceSession, c jwt.ScanClaims) *Result {
	snap := snapshot(sess)
	action := ActionCheckIn
	usedAt := *shadow.UsedAt
	checkedIn := sess.CheckInTs != nil && sess.CheckInTs.Equal(usedAt)
	if sess.CheckOutTs != nil && sess.CheckOutTs.Equal(usedAt) && !checkedIn {
		action = ActionCheckOut
	}
	if action == ActionCheckIn {
		snap.CheckOutTs = nil
	}
	return &Result{Action: action, Session: snap, TokenExpiresAt: c.ExpiresTime(), Replayed: true}
}

func notifyEvent(res *Result, req ScanRequest) notify.Event {
	ev := notify.Event{
		Kind:            notify.KindCheckedIn,
		SessionID:       res.Session.ID,
		EventID:         res.Session.EventID,
		ScannerID:       req.ScannerActorID,
		ScannerDeviceID: req.ScannerDeviceID,
	}
	if res.Session.UserID != nil {
		ev.UserID = *res.Session.UserID
	}
	if res.Session.CheckInTs != nil {
		ev.At = *res.Session.CheckInTs
	}
	if res.Action == ActionCheckOut {
		ev.Kind = notify.KindCheckedOut
		ev.At = *res.Session.CheckOutTs
	}
	return ev
}
