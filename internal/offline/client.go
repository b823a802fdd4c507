package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/leopass/internal/attendance"
	scanctrl "github.com/dropDatabas3/leopass/internal/http/v2/controllers/scan"
	mw "github.com/dropDatabas3/leopass/internal/http/v2/middlewares"
)

// Result es la respuesta exitosa de un scan.
type Result struct {
	Action     string
	SessionID  string
	EventID    string
	CheckOutTs *time.Time
	Replayed   bool
	ExpiresAt  time.Time
}

// Submitter entrega un scan al servidor.
type Submitter interface {
	Submit(ctx context.Context, s Scan) (*Result, error)
}

// RejectedError es una respuesta de error del servidor.
type RejectedError struct {
	Status  int
	Code    string
	Class   string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable: solo fallas de infraestructura o temporales del lado servidor.
func (e *RejectedError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// ErrOffline envuelve fallas de conectividad.
var ErrOffline = errors.New("server unreachable")

// IsConnectivity distingue "no llegué al servidor" de "el servidor rechazó".
// Gateway caído, 503 y 429 cuentan como conectividad: reintentar ya no sirve.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOffline) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	var rej *RejectedError
	if errors.As(err, &rej) {
		switch rej.Status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
			return true
		}
	}
	return false
}

// NeedsReview indica si err es un rechazo que el operador debe resolver.
func NeedsReview(err error) bool {
	var rej *RejectedError
	if !errors.As(err, &rej) {
		return false
	}
	return !rej.Retryable()
}

// Class devuelve la clase de error informada por el servidor.
func Class(err error) string {
	var rej *RejectedError
	if errors.As(err, &rej) && rej.Class != "" {
		return rej.Class
	}
	if IsConnectivity(err) {
		return attendance.ClassUnknown.String()
	}
	return ""
}

// Client habla con el servicio: scans, JWKS y readiness.
type Client struct {
	base    string
	http    *http.Client
	actorID string
	scopes  []string
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }

// WithActor fija la identidad que el gateway propagaría en cada request.
func WithActor(id string, scopes ...string) ClientOption {
	return func(c *Client) {
		c.actorID = id
		c.scopes = scopes
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type scanBody struct {
	Token           string    `json:"token"`
	ScannerDeviceID string    `json:"scannerDeviceId,omitempty"`
	ScannedAt       time.Time `json:"scannedAt"`
}

type scanReply struct {
	Action            string `json:"action"`
	AttendanceSession struct {
		ID         string     `json:"id"`
		EventID    string     `json:"eventId"`
		CheckOutTs *time.Time `json:"checkOutTs"`
	} `json:"attendanceSession"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt"`
}

// Submit hace POST /v2/scan con la clave de idempotencia original.
func (c *Client) Submit(ctx context.Context, s Scan) (*Result, error) {
	body, err := json.Marshal(scanBody{Token: s.Token, ScannerDeviceID: s.ScannerDeviceID, ScannedAt: s.ScannedAt.UTC()})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v2/scan", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(scanctrl.HeaderIdempotencyKey, s.IdempotencyKey)

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reply scanReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode scan response: %w", err)
	}
	return &Result{
		Action:     reply.Action,
		SessionID:  reply.AttendanceSession.ID,
		EventID:    reply.AttendanceSession.EventID,
		CheckOutTs: reply.AttendanceSession.CheckOutTs,
		Replayed:   resp.Header.Get(scanctrl.HeaderReplayed) == "true",
		ExpiresAt:  reply.TokenExpiresAt,
	}, nil
}

// FetchJWKS descarga /.well-known/jwks.json.
func (c *Client) FetchJWKS(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/.well-known/jwks.json", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// Ready consulta /readyz.
func (c *Client) Ready(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/readyz", nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.actorID != "" {
		req.Header.Set(mw.HeaderActorID, c.actorID)
		req.Header.Set(mw.HeaderActorScopes, strings.Join(c.scopes, " "))
	}
	return req, nil
}

// do ejecuta req. Errores de transporte se envuelven en ErrOffline y los
// status >= 400 se devuelven como *RejectedError.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if req.Context().Err() != nil && !errors.Is(req.Context().Err(), context.DeadlineExceeded) {
			return nil, req.Context().Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrOffline, err)
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}
	defer resp.Body.Close()
	rej := &RejectedError{Status: resp.StatusCode}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Class   string `json:"class"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		rej.Code, rej.Message, rej.Class = body.Code, body.Message, body.Class
	}
	return nil, rej
}
