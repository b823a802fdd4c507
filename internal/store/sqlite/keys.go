package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
)

type keyRepo struct{ q querier }

const keyColumns = `kid, algorithm, public_key, private_key_sealed, status, created_at, activated_at, rotated_at, expires_at`

func scanKey(row interface{ Scan(...any) error }) (*repository.SigningKey, error) {
	var (
		k                  repository.SigningKey
		status             string
		created, activated int64
		rotated, expires   sql.NullInt64
	)
	if err := row.Scan(&k.ID, &k.Algorithm, &k.PublicKey, &k.PrivateKeySealed, &status, &created, &activated, &rotated, &expires); err != nil {
		return nil, err
	}
	k.Status = repository.KeyStatus(status)
	k.CreatedAt = fromMicros(created)
	k.ActivatedAt = fromMicros(activated)
	k.RotatedAt = timePtr(rotated)
	k.ExpiresAt = timePtr(expires)
	return &k, nil
}

func (r *keyRepo) GetCurrent(ctx context.Context) (*repository.SigningKey, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM signing_key
		WHERE status IN ('ACTIVE', 'ROTATING')
		ORDER BY CASE status WHEN 'ACTIVE' THEN 0 ELSE 1 END, activated_at DESC
		LIMIT 1`)
	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return k, err
}

func (r *keyRepo) GetByKID(ctx context.Context, kid string) (*repository.SigningKey, error) {
	k, err := scanKey(r.q.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM signing_key WHERE kid = ?`, kid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return k, err
}

func (r *keyRepo) ListByStatus(ctx context.Context, statuses ...repository.KeyStatus) ([]repository.SigningKey, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+keyColumns+` FROM signing_key
		WHERE status IN (?`+strings.Repeat(", ?", len(statuses)-1)+`)
		ORDER BY activated_at DESC`, args...)
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
	_, err := r.q.ExecContext(ctx, `INSERT INTO signing_key (`+keyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Algorithm, k.PublicKey, k.PrivateKeySealed, string(k.Status),
		toMicros(k.CreatedAt), toMicros(k.ActivatedAt), nullMicros(k.RotatedAt), nullMicros(k.ExpiresAt))
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

func (r *keyRepo) UpdateStatus(ctx context.Context, kid string, from, to repository.KeyStatus, at time.Time) error {
	col := "rotated_at"
	if to == repository.KeyStatusRetired {
		col = "expires_at"
	}
	res, err := r.q.ExecContext(ctx, `UPDATE signing_key SET status = ?, `+col+` = ? WHERE kid = ? AND status = ?`,
		string(to), toMicros(at), kid, string(from))
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByKID(ctx, kid); err != nil {
			return err
		}
		return repository.ErrConflict
	}
	return nil
}

func (r *keyRepo) DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM signing_key WHERE status = 'RETIRED' AND expires_at < ?`, toMicros(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
