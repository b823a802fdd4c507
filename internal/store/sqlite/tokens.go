package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
)

type tokenRepo struct{ q querier }

const tokenColumns = `jti, event_id, user_id, issued_at, not_before, expires_at, signing_key_id, burn_type,
	used_at, used_by_scanner_id, consumed_idempotency_key, attendance_session_id`

func scanToken(row interface{ Scan(...any) error }) (*repository.ScanToken, error) {
	var (
		t                  repository.ScanToken
		iat, nbf, exp      int64
		used               sql.NullInt64
		scanner, key, sess sql.NullString
	)
	if err := row.Scan(&t.JTI, &t.EventID, &t.UserID, &iat, &nbf, &exp, &t.SigningKeyID, &t.BurnType,
		&used, &scanner, &key, &sess); err != nil {
		return nil, err
	}
	t.IssuedAt, t.NotBefore, t.ExpiresAt = fromMicros(iat), fromMicros(nbf), fromMicros(exp)
	t.UsedAt = timePtr(used)
	t.UsedByScannerID = strPtr(scanner)
	t.ConsumedIdempotencyKey = strPtr(key)
	t.AttendanceSessionID = strPtr(sess)
	return &t, nil
}

func (r *tokenRepo) Create(ctx context.Context, t *repository.ScanToken) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO scan_token
		(jti, event_id, user_id, issued_at, not_before, expires_at, signing_key_id, burn_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.JTI, t.EventID, t.UserID, toMicros(t.IssuedAt), toMicros(t.NotBefore), toMicros(t.ExpiresAt),
		t.SigningKeyID, t.BurnType)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

// GetForUpdate: la transacción IMMEDIATE ya tiene el lock de escritura de la base.
func (r *tokenRepo) GetForUpdate(ctx context.Context, jti string) (*repository.ScanToken, error) {
	t, err := scanToken(r.q.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM scan_token WHERE jti = ?`, jti))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return t, err
}

func (r *tokenRepo) FindByIdempotencyKey(ctx context.Context, key string) (*repository.ScanToken, error) {
	t, err := scanToken(r.q.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM scan_token WHERE consumed_idempotency_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return t, err
}

func (r *tokenRepo) MarkConsumed(ctx context.Context, in repository.ConsumeInput) error {
	res, err := r.q.ExecContext(ctx, `UPDATE scan_token
		SET used_at = ?, used_by_scanner_id = ?, attendance_session_id = ?, consumed_idempotency_key = ?
		WHERE jti = ? AND used_at IS NULL`,
		toMicros(in.UsedAt), nullStr(in.ScannerID), in.AttendanceSessionID, nullStr(in.IdempotencyKey), in.JTI)
	if err != nil {
		if uniqueViolationOn(err, "consumed_idempotency_key") {
			return repository.ErrConflict
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetForUpdate(ctx, in.JTI); err != nil {
			return err
		}
		return repository.ErrAlreadyConsumed
	}
	return nil
}
