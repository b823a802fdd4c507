package attendance

import (
	"strings"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/dropDatabas3/leopass/internal/jwt"
)

const (
	// DefaultClockSkew se aplica simétricamente a la ventana del token y del evento.
	DefaultClockSkew = 90 * time.Second
	// DefaultGraceMinutes aplica cuando el evento no define auto_checkout_grace_min.
	DefaultGraceMinutes = 5
)

// NormalizeIdempotencyKey recorta y pasa a minúsculas. Vacío significa "sin clave".
func NormalizeIdempotencyKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// CheckTokenWindow exige nbf − skew <= at <= exp + skew.
func CheckTokenWindow(c jwt.ScanClaims, at time.Time, skew time.Duration) error {
	if at.Before(c.NotBeforeTime().Add(-skew)) {
		return ErrTokenNotYetValid
	}
	if at.After(c.ExpiresTime().Add(skew)) {
		return ErrTokenExpired
	}
	return nil
}

// EventWindow devuelve [start − skew, end + grace + skew].
func EventWindow(ev repository.Event, skew time.Duration, defaultGraceMin int) (time.Time, time.Time) {
	grace := defaultGraceMin
	if ev.AutoCheckoutGraceMin != nil {
		grace = *ev.AutoCheckoutGraceMin
	}
	return ev.StartTime.Add(-skew), ev.EndTime.Add(time.Duration(grace)*time.Minute + skew)
}

func checkEventWindow(ev repository.Event, at time.Time, skew time.Duration, defaultGraceMin int) error {
	earliest, latest := EventWindow(ev, skew, defaultGraceMin)
	if at.Before(earliest) {
		return ErrEventNotOpen
	}
	if at.After(latest) {
		return ErrEventClosed
	}
	return nil
}
