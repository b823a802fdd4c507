package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/google/uuid"
)

type sessionRepo struct{ q querier }

const sessionColumns = `id, event_id, user_id, guest_id, check_in_ts, check_out_ts, method, scanner_device_id, created_at`

func scanSession(row interface{ Scan(...any) error }) (*repository.AttendanceSession, error) {
	var (
		s                   repository.AttendanceSession
		user, guest, device sql.NullString
		checkIn, checkOut   sql.NullInt64
		method              string
		created             int64
	)
	if err := row.Scan(&s.ID, &s.EventID, &user, &guest, &checkIn, &checkOut, &method, &device, &created); err != nil {
		return nil, err
	}
	s.UserID, s.GuestID, s.ScannerDeviceID = strPtr(user), strPtr(guest), strPtr(device)
	s.CheckInTs, s.CheckOutTs = timePtr(checkIn), timePtr(checkOut)
	s.Method = repository.AttendanceMethod(method)
	s.CreatedAt = fromMicros(created)
	return &s, nil
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*repository.AttendanceSession, error) {
	s, err := scanSession(r.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM attendance_session WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return s, err
}

func (r *sessionRepo) FindOpen(ctx context.Context, eventID, userID string) (*repository.AttendanceSession, error) {
	s, err := scanSession(r.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM attendance_session
		WHERE event_id = ? AND user_id = ? AND check_in_ts IS NOT NULL AND check_out_ts IS NULL
		ORDER BY created_at DESC LIMIT 1`, eventID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return s, err
}

func (r *sessionRepo) Create(ctx context.Context, in repository.CreateSessionInput) (*repository.AttendanceSession, error) {
	id := uuid.NewString()
	_, err := r.q.ExecContext(ctx, `INSERT INTO attendance_session
		(id, event_id, user_id, check_in_ts, method, scanner_device_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, in.EventID, in.UserID, toMicros(in.CheckInTs), string(in.Method), nullStr(in.ScannerDeviceID), toMicros(time.Now()))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrConflict
		}
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *sessionRepo) CheckOut(ctx context.Context, id string, at time.Time, scannerDeviceID string) (*repository.AttendanceSession, error) {
	_, err := r.q.ExecContext(ctx, `UPDATE attendance_session
		SET check_out_ts = COALESCE(check_out_ts, ?),
		    scanner_device_id = COALESCE(?, scanner_device_id)
		WHERE id = ? AND check_out_ts IS NULL`,
		toMicros(at), nullStr(scannerDeviceID), id)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}
