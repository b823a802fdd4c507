// Package memory implementa repository.Store en memoria (dev y tests).
// Las transacciones se serializan con un mutex y hacen rollback restaurando un snapshot.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/google/uuid"
)

type state struct {
	keys     map[string]repository.SigningKey
	events   map[string]repository.Event
	passes   map[string]repository.MemberEventPass // eventID|userID
	tokens   map[string]repository.ScanToken
	idem     map[string]string // idempotency key -> jti
	sessions map[string]repository.AttendanceSession
}

func newState() state {
	return state{
		keys:     map[string]repository.SigningKey{},
		events:   map[string]repository.Event{},
		passes:   map[string]repository.MemberEventPass{},
		tokens:   map[string]repository.ScanToken{},
		idem:     map[string]string{},
		sessions: map[string]repository.AttendanceSession{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.keys {
		c.keys[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.passes {
		c.passes[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.idem {
		c.idem[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	return c
}

// Store es un repository.Store en memoria.
type Store struct {
	txMu sync.Mutex // una unidad de trabajo a la vez
	mu   sync.RWMutex
	st   state
}

// New crea un store vacío.
func New() *Store {
	return &Store{st: newState()}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Name() string                   { return "memory" }
func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

func (s *Store) Keys() repository.KeyRepository             { return &keyRepo{view{s, false}} }
func (s *Store) ScanTokens() repository.ScanTokenRepository { return &tokenRepo{view{s, false}} }
func (s *Store) Sessions() repository.AttendanceSessionRepository {
	return &sessionRepo{view{s, false}}
}
func (s *Store) Passes() repository.PassRepository { return &passRepo{view{s, false}} }

// WithinTx corre fn con acceso exclusivo; si fn falla se restaura el estado previo.
func (s *Store) WithinTx(ctx context.Context, claims repository.Claims, fn func(ctx context.Context, tx repository.Repos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.st.clone()
	s.mu.Unlock()

	if err := fn(repository.ContextWithClaims(ctx, claims), txRepos{view{s, true}}); err != nil {
		s.mu.Lock()
		s.st = snap
		s.mu.Unlock()
		return err
	}
	return nil
}

// Snapshot devuelve copias de tokens y sesiones (tests).
func (s *Store) Snapshot() ([]repository.ScanToken, []repository.AttendanceSession) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	toks := make([]repository.ScanToken, 0, len(s.st.tokens))
	for _, t := range s.st.tokens {
		toks = append(toks, t)
	}
	sess := make([]repository.AttendanceSession, 0, len(s.st.sessions))
	for _, v := range s.st.sessions {
		sess = append(sess, v)
	}
	sort.Slice(sess, func(i, j int) bool { return sess[i].CreatedAt.Before(sess[j].CreatedAt) })
	return toks, sess
}

// view: fuera de una tx cada operación toma txMu para no mezclarse con un rollback.
type view struct {
	s    *Store
	inTx bool
}

func (v view) lock(write bool) func() {
	if !v.inTx {
		v.s.txMu.Lock()
	}
	if write {
		v.s.mu.Lock()
	} else {
		v.s.mu.RLock()
	}
	return func() {
		if write {
			v.s.mu.Unlock()
		} else {
			v.s.mu.RUnlock()
		}
		if !v.inTx {
			v.s.txMu.Unlock()
		}
	}
}

type txRepos struct{ v view }

func (t txRepos) Keys() repository.KeyRepository                   { return &keyRepo{t.v} }
func (t txRepos) ScanTokens() repository.ScanTokenRepository       { return &tokenRepo{t.v} }
func (t txRepos) Sessions() repository.AttendanceSessionRepository { return &sessionRepo{t.v} }
func (t txRepos) Passes() repository.PassRepository                { return &passRepo{t.v} }

// ─── KeyRepository ───

type keyRepo struct{ view }

func (r *keyRepo) GetCurrent(ctx context.Context) (*repository.SigningKey, error) {
	defer r.lock(false)()
	var best *repository.SigningKey
	for _, status := range []repository.KeyStatus{repository.KeyStatusActive, repository.KeyStatusRotating} {
		for _, k := range r.s.st.keys {
			if k.Status != status {
				continue
			}
			if best == nil || k.ActivatedAt.After(best.ActivatedAt) {
				k := k
				best = &k
			}
		}
		if best != nil {
			return best, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *keyRepo) GetByKID(ctx context.Context, kid string) (*repository.SigningKey, error) {
	defer r.lock(false)()
	k, ok := r.s.st.keys[kid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &k, nil
}

func (r *keyRepo) ListByStatus(ctx context.Context, statuses ...repository.KeyStatus) ([]repository.SigningKey, error) {
	defer r.lock(false)()
	want := map[repository.KeyStatus]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	var out []repository.SigningKey
	for _, k := range r.s.st.keys {
		if want[k.Status] {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivatedAt.After(out[j].ActivatedAt) })
	return out, nil
}

func (r *keyRepo) Insert(ctx context.Context, k *repository.SigningKey) error {
	defer r.lock(true)()
	if _, ok := r.s.st.keys[k.ID]; ok {
		return repository.ErrConflict
	}
	if k.Status == repository.KeyStatusActive {
		for _, other := range r.s.st.keys {
			if other.Status == repository.KeyStatusActive {
				return repository.ErrConflict
			}
		}
	}
	r.s.st.keys[k.ID] = *k
	return nil
}

func (r *keyRepo) UpdateStatus(ctx context.Context, kid string, from, to repository.KeyStatus, at time.Time) error {
	defer r.lock(true)()
	k, ok := r.s.st.keys[kid]
	if !ok {
		return repository.ErrNotFound
	}
	if k.Status != from {
		return repository.ErrConflict
	}
	k.Status = to
	switch to {
	case repository.KeyStatusRotating:
		k.RotatedAt = &at
	case repository.KeyStatusRetired:
		k.ExpiresAt = &at
	}
	r.s.st.keys[kid] = k
	return nil
}

func (r *keyRepo) DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	defer r.lock(true)()
	n := 0
	for kid, k := range r.s.st.keys {
		if k.Status == repository.KeyStatusRetired && k.ExpiresAt != nil && k.ExpiresAt.Before(cutoff) {
			delete(r.s.st.keys, kid)
			n++
		}
	}
	return n, nil
}

// ─── ScanTokenRepository ───

type tokenRepo struct{ view }

func (r *tokenRepo) Create(ctx context.Context, t *repository.ScanToken) error {
	defer r.lock(true)()
	if _, ok := r.s.st.tokens[t.JTI]; ok {
		return repository.ErrConflict
	}
	r.s.st.tokens[t.JTI] = *t
	return nil
}

func (r *tokenRepo) GetForUpdate(ctx context.Context, jti string) (*repository.ScanToken, error) {
	defer r.lock(false)()
	t, ok := r.s.st.tokens[jti]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r *tokenRepo) FindByIdempotencyKey(ctx context.Context, key string) (*repository.ScanToken, error) {
	defer r.lock(false)()
	jti, ok := r.s.st.idem[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	t := r.s.st.tokens[jti]
	return &t, nil
}

func (r *tokenRepo) MarkConsumed(ctx context.Context, in repository.ConsumeInput) error {
	defer r.lock(true)()
	t, ok := r.s.st.tokens[in.JTI]
	if !ok {
		return repository.ErrNotFound
	}
	if t.UsedAt != nil {
		return repository.ErrAlreadyConsumed
	}
	if in.IdempotencyKey != "" {
		if other, ok := r.s.st.idem[in.IdempotencyKey]; ok && other != in.JTI {
			return repository.ErrConflict
		}
		key := in.IdempotencyKey
		t.ConsumedIdempotencyKey = &key
		r.s.st.idem[key] = in.JTI
	}
	at, scanner, sess := in.UsedAt, in.ScannerID, in.AttendanceSessionID
	t.UsedAt = &at
	t.UsedByScannerID = &scanner
	t.AttendanceSessionID = &sess
	r.s.st.tokens[in.JTI] = t
	return nil
}

// ─── AttendanceSessionRepository ───

type sessionRepo struct{ view }

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*repository.AttendanceSession, error) {
	defer r.lock(false)()
	s, ok := r.s.st.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *sessionRepo) findOpen(eventID, userID string) *repository.AttendanceSession {
	var best *repository.AttendanceSession
	for _, s := range r.s.st.sessions {
		if s.EventID != eventID || s.UserID == nil || *s.UserID != userID || !s.Open() {
			continue
		}
		if best == nil || s.CheckInTs.After(*best.CheckInTs) {
			s := s
			best = &s
		}
	}
	return best
}

func (r *sessionRepo) FindOpen(ctx context.Context, eventID, userID string) (*repository.AttendanceSession, error) {
	defer r.lock(false)()
	if s := r.findOpen(eventID, userID); s != nil {
		return s, nil
	}
	return nil, repository.ErrNotFound
}

func (r *sessionRepo) Create(ctx context.Context, in repository.CreateSessionInput) (*repository.AttendanceSession, error) {
	defer r.lock(true)()
	if r.findOpen(in.EventID, in.UserID) != nil {
		return nil, repository.ErrConflict
	}
	uid, at := in.UserID, in.CheckInTs
	s := repository.AttendanceSession{
		ID:        uuid.NewString(),
		EventID:   in.EventID,
		UserID:    &uid,
		CheckInTs: &at,
		Method:    in.Method,
		CreatedAt: time.Now().UTC(),
	}
	if in.ScannerDeviceID != "" {
		dev := in.ScannerDeviceID
		s.ScannerDeviceID = &dev
	}
	r.s.st.sessions[s.ID] = s
	return &s, nil
}

func (r *sessionRepo) CheckOut(ctx context.Context, id string, at time.Time, scannerDeviceID string) (*repository.AttendanceSession, error) {
	defer r.lock(true)()
	s, ok := r.s.st.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if s.CheckOutTs != nil {
		return &s, nil
	}
	s.CheckOutTs = &at
	if scannerDeviceID != "" {
		dev := scannerDeviceID
		s.ScannerDeviceID = &dev
	}
	r.s.st.sessions[id] = s
	return &s, nil
}

// ─── PassRepository ───

type passRepo struct{ view }

func passKey(eventID, userID string) string { return eventID + "|" + userID }

func (r *passRepo) Get(ctx context.Context, eventID, userID string) (*repository.MemberEventPass, error) {
	defer r.lock(false)()
	p, ok := r.s.st.passes[passKey(eventID, userID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	ev, ok := r.s.st.events[eventID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p.Event = ev
	return &p, nil
}

func (r *passRepo) Activate(ctx context.Context, passID string, at time.Time) error {
	defer r.lock(true)()
	for k, p := range r.s.st.passes {
		if p.ID != passID {
			continue
		}
		p.Status = repository.PassActive
		if p.ActivatedAt == nil {
			p.ActivatedAt = &at
		}
		r.s.st.passes[k] = p
		return nil
	}
	return repository.ErrNotFound
}

func (r *passRepo) UpsertEvent(ctx context.Context, e repository.Event) error {
	defer r.lock(true)()
	r.s.st.events[e.ID] = e
	return nil
}

func (r *passRepo) UpsertPass(ctx context.Context, p repository.MemberEventPass) error {
	defer r.lock(true)()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Event = repository.Event{}
	r.s.st.passes[passKey(p.EventID, p.UserID)] = p
	return nil
}
