package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/google/uuid"
)

type passRepo struct{ q querier }

func (r *passRepo) Get(ctx context.Context, eventID, userID string) (*repository.MemberEventPass, error) {
	var (
		p          repository.MemberEventPass
		status     string
		activated  sql.NullInt64
		start, end int64
		grace      sql.NullInt64
	)
	err := r.q.QueryRowContext(ctx, `SELECT p.id, p.event_id, p.user_id, p.status, p.activated_at,
			e.id, e.name, e.start_time, e.end_time, e.auto_checkout_grace_min
		FROM member_event_pass p JOIN event e ON e.id = p.event_id
		WHERE p.event_id = ? AND p.user_id = ?`, eventID, userID).
		Scan(&p.ID, &p.EventID, &p.UserID, &status, &activated, &p.Event.ID, &p.Event.Name, &start, &end, &grace)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Status = repository.PassStatus(status)
	p.ActivatedAt = timePtr(activated)
	p.Event.StartTime, p.Event.EndTime = fromMicros(start), fromMicros(end)
	if grace.Valid {
		g := int(grace.Int64)
		p.Event.AutoCheckoutGraceMin = &g
	}
	return &p, nil
}

func (r *passRepo) Activate(ctx context.Context, passID string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE member_event_pass
		SET status = 'ACTIVE', activated_at = COALESCE(activated_at, ?) WHERE id = ?`, toMicros(at), passID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *passRepo) UpsertEvent(ctx context.Context, e repository.Event) error {
	var grace sql.NullInt64
	if e.AutoCheckoutGraceMin != nil {
		grace = sql.NullInt64{Int64: int64(*e.AutoCheckoutGraceMin), Valid: true}
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO event (id, name, start_time, end_time, auto_checkout_grace_min)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, start_time = excluded.start_time,
			end_time = excluded.end_time, auto_checkout_grace_min = excluded.auto_checkout_grace_min`,
		e.ID, e.Name, toMicros(e.StartTime), toMicros(e.EndTime), grace)
	return err
}

func (r *passRepo) UpsertPass(ctx context.Context, p repository.MemberEventPass) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO member_event_pass (id, event_id, user_id, status, activated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (event_id, user_id) DO UPDATE SET status = excluded.status, activated_at = excluded.activated_at`,
		p.ID, p.EventID, p.UserID, string(p.Status), nullMicros(p.ActivatedAt))
	return err
}
