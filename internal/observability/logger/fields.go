package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"
)

// ─── HTTP ───

func RequestID(v string) zap.Field       { return zap.String("request_id", v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func ClientIP(v string) zap.Field        { return zap.String("client_ip", v) }
func UserAgent(v string) zap.Field       { return zap.String("user_agent", v) }
func ActorID(v string) zap.Field         { return zap.String("actor_id", v) }
func Bytes(v int) zap.Field              { return zap.Int("bytes", v) }

// ─── Asistencia ───

func EventID(v string) zap.Field   { return zap.String("event_id", v) }
func UserID(v string) zap.Field    { return zap.String("user_id", v) }
func JTI(v string) zap.Field       { return zap.String("jti", v) }
func KeyID(v string) zap.Field     { return zap.String("kid", v) }
func ScannerID(v string) zap.Field { return zap.String("scanner_id", v) }
func DeviceID(v string) zap.Field  { return zap.String("device_id", v) }
func SessionID(v string) zap.Field { return zap.String("session_id", v) }
func Action(v string) zap.Field    { return zap.String("action", v) }
func QueueItem(v string) zap.Field { return zap.String("queue_item", v) }

// IdempotencyKey loguea solo un prefijo del sha256 de la clave.
func IdempotencyKey(v string) zap.Field {
	if v == "" {
		return zap.Skip()
	}
	sum := sha256.Sum256([]byte(v))
	return zap.String("idem_key", hex.EncodeToString(sum[:6]))
}

// ─── Sistema ───

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Err(err error) zap.Field      { return zap.Error(err) }
func Count(v int) zap.Field        { return zap.Int("count", v) }
