package pg

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ─── KeyRepository ───

type keyRepo struct{ q querier }

const keyColumns = `kid, algorithm, public_key, private_key_sealed, status, created_at, activated_at, rotated_at, expires_at`

func scanKey(row pgx.Row) (*repository.SigningKey, error) {
	var k repository.SigningKey
	var status string
	err := row.Scan(&k.ID, &k.Algorithm, &k.PublicKey, &k.PrivateKeySealed, &status,
		&k.CreatedAt, &k.ActivatedAt, &k.RotatedAt, &k.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	k.Status = repository.KeyStatus(status)
	return &k, nil
}

func (r *keyRepo) GetCurrent(ctx context.Context) (*repository.SigningKey, error) {
	return scanKey(r.q.QueryRow(ctx, `
		SELECT `+keyColumns+` FROM signing_key
		WHERE status IN ('ACTIVE', 'ROTATING')
		ORDER BY CASE status WHEN 'ACTIVE' THEN 0 ELSE 1 END, activated_at DESC
		LIMIT 1`))
}

func (r *keyRepo) GetByKID(ctx context.Context, kid string) (*repository.SigningKey, error) {
	return scanKey(r.q.QueryRow(ctx, `SELECT `+keyColumns+` FROM signing_key WHERE kid = $1`, kid))
}

func (r *keyRepo) ListByStatus(ctx context.Context, statuses ...repository.KeyStatus) ([]repository.SigningKey, error) {
	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}
	rows, err := r.q.Query(ctx, `SELECT `+keyColumns+` FROM signing_key WHERE status = ANY($1) ORDER BY activated_at DESC`, ss)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []repository.SigningKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

func (r *keyRepo) Insert(ctx context.Context, k *repository.SigningKey) error {
	_, err := r.q.Exec(ctx, `INSERT INTO signing_key (`+keyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		k.ID, k.Algorithm, k.PublicKey, k.PrivateKeySealed, string(k.Status), k.CreatedAt, k.ActivatedAt, k.RotatedAt, k.ExpiresAt)
	if _, ok := uniqueViolation(err); ok {
		return repository.ErrConflict
	}
	return err
}

func (r *keyRepo) UpdateStatus(ctx context.Context, kid string, from, to repository.KeyStatus, at time.Time) error {
	col := "rotated_at"
	if to == repository.KeyStatusRetired {
		col = "expires_at"
	}
	tag, err := r.q.Exec(ctx, `UPDATE signing_key SET status = $1, `+col+` = $2 WHERE kid = $3 AND status = $4`,
		string(to), at, kid, string(from))
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return repository.ErrConflict
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByKID(ctx, kid); err != nil {
			return err
		}
		return repository.ErrConflict
	}
	return nil
}

func (r *keyRepo) DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM signing_key WHERE status = 'RETIRED' AND expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ─── ScanTokenRepository ───

type tokenRepo struct{ q querier }

const tokenColumns = `jti, event_id, user_id, issued_at, not_before, expires_at, signing_key_id, burn_type,
	used_at, used_by_scanner_id, consumed_idempotency_key, attendance_session_id`

func scanToken(row pgx.Row) (*repository.ScanToken, error) {
	var t repository.ScanToken
	err := row.Scan(&t.JTI, &t.EventID, &t.UserID, &t.IssuedAt, &t.NotBefore, &t.ExpiresAt, &t.SigningKeyID, &t.BurnType,
		&t.UsedAt, &t.UsedByScannerID, &t.ConsumedIdempotencyKey, &t.AttendanceSessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tokenRepo) Create(ctx context.Context, t *repository.ScanToken) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO scan_token (jti, event_id, user_id, issued_at, not_before, expires_at, signing_key_id, burn_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.JTI, t.EventID, t.UserID, t.IssuedAt, t.NotBefore, t.ExpiresAt, t.SigningKeyID, t.BurnType)
	if _, ok := uniqueViolation(err); ok {
		return repository.ErrConflict
	}
	return err
}

func (r *tokenRepo) GetForUpdate(ctx context.Context, jti string) (*repository.ScanToken, error) {
	return scanToken(r.q.QueryRow(ctx, `SELECT `+tokenColumns+` FROM scan_token WHERE jti = $1 FOR UPDATE`, jti))
}

func (r *tokenRepo) FindByIdempotencyKey(ctx context.Context, key string) (*repository.ScanToken, error) {
	return scanToken(r.q.QueryRow(ctx, `SELECT `+tokenColumns+` FROM scan_token WHERE consumed_idempotency_key = $1`, key))
}

func (r *tokenRepo) MarkConsumed(ctx context.Context, in repository.ConsumeInput) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE scan_token
		SET used_at = $2, used_by_scanner_id = $3, attendance_session_id = $4, consumed_idempotency_key = $5
		WHERE jti = $1 AND used_at IS NULL`,
		in.JTI, in.UsedAt, nullIfEmpty(in.ScannerID), in.AttendanceSessionID, nullIfEmpty(in.IdempotencyKey))
	if err != nil {
		if name, ok := uniqueViolation(err); ok && strings.Contains(name, "consumed_idempotency_key") {
			return repository.ErrConflict
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetForUpdate(ctx, in.JTI); err != nil {
			return err
		}
		return repository.ErrAlreadyConsumed
	}
	return nil
}

// ─── AttendanceSessionRepository ───

type sessionRepo struct{ q querier }

const sessionColumns = `id, event_id, user_id, guest_id, check_in_ts, check_out_ts, method, scanner_device_id, created_at`

func scanSession(row pgx.Row) (*repository.AttendanceSession, error) {
	var s repository.AttendanceSession
	var method string
	err := row.Scan(&s.ID, &s.EventID, &s.UserID, &s.GuestID, &s.CheckInTs, &s.CheckOutTs, &method, &s.ScannerDeviceID, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Method = repository.AttendanceMethod(method)
	return &s, nil
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*repository.AttendanceSession, error) {
	return scanSession(r.q.QueryRow(ctx, `SELECT `+sessionColumns+` FROM attendance_session WHERE id = $1`, id))
}

func (r *sessionRepo) FindOpen(ctx context.Context, eventID, userID string) (*repository.AttendanceSession, error) {
	return scanSession(r.q.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM attendance_session
		WHERE event_id = $1 AND user_id = $2 AND check_in_ts IS NOT NULL AND check_out_ts IS NULL
		ORDER BY created_at DESC LIMIT 1
		FOR UPDATE`, eventID, userID))
}

func (r *sessionRepo) Create(ctx context.Context, in repository.CreateSessionInput) (*repository.AttendanceSession, error) {
	s, err := scanSession(r.q.QueryRow(ctx, `
		INSERT INTO attendance_session (id, event_id, user_id, check_in_ts, method, scanner_device_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING `+sessionColumns,
		uuid.NewString(), in.EventID, in.UserID, in.CheckInTs, string(in.Method), nullIfEmpty(in.ScannerDeviceID)))
	if _, ok := uniqueViolation(err); ok {
		return nil, repository.ErrConflict
	}
	return s, err
}

func (r *sessionRepo) CheckOut(ctx context.Context, id string, at time.Time, scannerDeviceID string) (*repository.AttendanceSession, error) {
	s, err := scanSession(r.q.QueryRow(ctx, `
		UPDATE attendance_session
		SET check_out_ts = COALESCE(check_out_ts, $2),
		    scanner_device_id = COALESCE($3, scanner_device_id)
		WHERE id = $1 AND check_out_ts IS NULL
		RETURNING `+sessionColumns, id, at, nullIfEmpty(scannerDeviceID)))
	if errors.Is(err, repository.ErrNotFound) {
		return r.GetByID(ctx, id)
	}
	return s, err
}

// ─── PassRepository ───

type passRepo struct{ q querier }

func (r *passRepo) Get(ctx context.Context, eventID, userID string) (*repository.MemberEventPass, error) {
	var p repository.MemberEventPass
	var status string
	err := r.q.QueryRow(ctx, `
		SELECT p.id, p.event_id, p.user_id, p.status, p.activated_at,
		       e.id, e.name, e.start_time, e.end_time, e.auto_checkout_grace_min
		FROM member_event_pass p
		JOIN event e ON e.id = p.event_id
		WHERE p.event_id = $1 AND p.user_id = $2
		FOR UPDATE OF p`, eventID, userID).
		Scan(&p.ID, &p.EventID, &p.UserID, &status, &p.ActivatedAt,
			&p.Event.ID, &p.Event.Name, &p.Event.StartTime, &p.Event.EndTime, &p.Event.AutoCheckoutGraceMin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Status = repository.PassStatus(status)
	return &p, nil
}

func (r *passRepo) Activate(ctx context.Context, passID string, at time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE member_event_pass SET status = 'ACTIVE', activated_at = COALESCE(activated_at, $2)
		WHERE id = $1`, passID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *passRepo) UpsertEvent(ctx context.Context, e repository.Event) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event (id, name, start_time, end_time, auto_checkout_grace_min)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time, auto_checkout_grace_min = EXCLUDED.auto_checkout_grace_min`,
		e.ID, e.Name, e.StartTime, e.EndTime, e.AutoCheckoutGraceMin)
	return err
}

func (r *passRepo) UpsertPass(ctx context.Context, p repository.MemberEventPass) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO member_event_pass (id, event_id, user_id, status, activated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id, user_id) DO UPDATE SET status = EXCLUDED.status, activated_at = EXCLUDED.activated_at`,
		p.ID, p.EventID, p.UserID, string(p.Status), p.ActivatedAt)
	return err
}
