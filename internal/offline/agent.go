package offline

import (
	"context"
	"time"

	"github.com/dropDatabas3/leopass/internal/jwt"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"github.com/google/uuid"
)

// TokenVerifier valida un token localmente.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*jwt.Verified, error)
}

// Connectivity es el estado de red que observa el agente.
type Connectivity interface {
	Online() bool
	MarkOffline()
}

// Outcome es el resultado de Agent.Scan: Result si se aplicó en línea,
// Queued si quedó en la cola.
type Outcome struct {
	Claims jwt.ScanClaims
	Result *Result
	Queued *Item
}

// Agent es el flujo de escaneo del dispositivo.
type Agent struct {
	verify   TokenVerifier
	submit   Submitter
	queue    *Queue
	net      Connectivity
	deviceID string
	now      func() time.Time
	newKey   func() string
}

func NewAgent(v TokenVerifier, s Submitter, q *Queue, net Connectivity, deviceID string) *Agent {
	return &Agent{
		verify:   v,
		submit:   s,
		queue:    q,
		net:      net,
		deviceID: deviceID,
		now:      time.Now,
		newKey:   uuid.NewString,
	}
}

// Scan verifica el token, genera la clave de idempotencia y lo envía. Si no
// hay red, o el envío falla por conectividad, lo encola con la misma clave y
// el mismo scannedAt. Un token que no verifica no se encola.
func (a *Agent) Scan(ctx context.Context, token string) (*Outcome, error) {
	v, err := a.verify.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	s := Scan{
		Token:           token,
		ScannerDeviceID: a.deviceID,
		ScannedAt:       a.now().UTC(),
		IdempotencyKey:  a.newKey(),
	}
	out := &Outcome{Claims: v.Claims}
	log := logger.From(ctx).With(logger.JTI(v.Claims.JTI), logger.EventID(v.Claims.EventID))

	if a.net.Online() {
		res, err := a.submit.Submit(ctx, s)
		if err == nil {
			out.Result = res
			return out, nil
		}
		if !IsConnectivity(err) {
			return nil, err
		}
		a.net.MarkOffline()
		log.Warn("scan submit failed, queueing", logger.Err(err))
	}

	item, err := a.queue.Enqueue(ctx, s)
	if err != nil {
		return nil, err
	}
	log.Info("scan queued", logger.QueueItem(item.ID))
	out.Queued = item
	return out, nil
}
