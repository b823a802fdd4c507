package offline

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
)

const (
	// DefaultCapacity es el máximo de items en cola antes de exigir sincronizar.
	DefaultCapacity = 500
	// DefaultMaxAge: items más viejos quedan para revisión manual.
	DefaultMaxAge = 48 * time.Hour
)

var (
	ErrQueueFull    = errors.New("offline queue is full")
	ErrItemNotFound = errors.New("queue item not found")
)

// QueueFullMessage es el aviso para el operador cuando Enqueue devuelve ErrQueueFull.
func QueueFullMessage(capacity int) string {
	return fmt.Sprintf("Offline queue limit reached (%d entries). Sync before scanning more attendees.", capacity)
}

// StaleReason es el lastError que recibe un item vencido.
const StaleReason = "Queued >48h - requires manual review"

// Scan es lo que el operador escaneó, tal como se enviará al servidor.
type Scan struct {
	Token           string    `json:"token"`
	ScannerDeviceID string    `json:"scannerDeviceId,omitempty"`
	ScannedAt       time.Time `json:"scannedAt"`
	IdempotencyKey  string    `json:"idempotencyKey"`
}

// Item es un scan encolado.
type Item struct {
	ID string `json:"id"`
	Scan
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	Retries     int       `json:"retries"`
	LastError   string    `json:"lastError,omitempty"`
	NeedsReview bool      `json:"needsReview,omitempty"`

	seq uint64
}

// Stale indica si el item superó maxAge respecto de now.
func (it Item) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(it.EnqueuedAt) > maxAge
}

// Stats resume la cola para la UI del operador.
type Stats struct {
	Pending int
	Stale   int
	Review  int
}

type QueueOption func(*Queue)

func WithCapacity(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

func WithMaxAge(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.maxAge = d
		}
	}
}

func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// Queue es una cola durable, acotada y FIFO sobre bolt. Las claves son la
// secuencia del bucket en big endian, así el cursor recorre en orden de llegada.
type Queue struct {
	db       *DB
	capacity int
	maxAge   time.Duration
	now      func() time.Time
	newID    func() string
}

func NewQueue(db *DB, opts ...QueueOption) *Queue {
	q := &Queue{
		db:       db,
		capacity: DefaultCapacity,
		maxAge:   DefaultMaxAge,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *Queue) MaxAge() time.Duration { return q.maxAge }

// Capacity es el máximo de items que admite la cola.
func (q *Queue) Capacity() int { return q.capacity }

// Enqueue agrega s al final. Rechaza con ErrQueueFull si la cola está llena,
// contando también los items vencidos.
func (q *Queue) Enqueue(ctx context.Context, s Scan) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Token) == "" {
		return nil, fmt.Errorf("token is required")
	}
	if strings.TrimSpace(s.IdempotencyKey) == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	item := &Item{
		ID:         q.newID(),
		Scan:       s,
		EnqueuedAt: q.now().UTC(),
	}
	err := q.db.bolt.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, queueBucket)
		if err != nil {
			return err
		}
		ids, err := bucket(tx, queueIDBucket)
		if err != nil {
			return err
		}
		if countKeys(b) >= q.capacity {
			return fmt.Errorf("%w (%d entries)", ErrQueueFull, q.capacity)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		item.seq = seq
		return putItem(b, ids, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// List devuelve todos los items, más viejo primero.
func (q *Queue) List(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Item
	err := q.db.bolt.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, queueBucket)
		if err != nil {
			return err
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var it Item
			if err := json.Unmarshal(v, &it); err != nil {
				return fmt.Errorf("unmarshal queue item: %w", err)
			}
			it.seq = binary.BigEndian.Uint64(k)
			out = append(out, it)
		}
		return nil
	})
	return out, err
}

// Len cuenta los items en cola.
func (q *Queue) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := q.db.bolt.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, queueBucket)
		if err != nil {
			return err
		}
		n = countKeys(b)
		return nil
	})
	return n, err
}

// Stats clasifica los items: pendientes, vencidos y marcados para revisión.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	items, err := q.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	now := q.now()
	var st Stats
	for _, it := range items {
		switch {
		case it.Stale(now, q.maxAge):
			st.Stale++
		case it.NeedsReview:
			st.Review++
		default:
			st.Pending++
		}
	}
	return st, nil
}

// Update reescribe un item existente conservando su posición.
func (q *Queue) Update(ctx context.Context, it Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.db.bolt.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, queueBucket)
		if err != nil {
			return err
		}
		ids, err := bucket(tx, queueIDBucket)
		if err != nil {
			return err
		}
		raw := ids.Get([]byte(it.ID))
		if raw == nil {
			return ErrItemNotFound
		}
		it.seq = binary.BigEndian.Uint64(raw)
		return putItem(b, ids, &it)
	})
}

// Remove borra el item id. Borrar un id inexistente devuelve ErrItemNotFound.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.db.bolt.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, queueBucket)
		if err != nil {
			return err
		}
		ids, err := bucket(tx, queueIDBucket)
		if err != nil {
			return err
		}
		key := ids.Get([]byte(id))
		if key == nil {
			return ErrItemNotFound
		}
		if err := b.Delete(key); err != nil {
			return err
		}
		return ids.Delete([]byte(id))
	})
}

func putItem(b, ids *bolt.Bucket, it *Item) error {
	payload, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	key := seqKey(it.seq)
	if err := b.Put(key, payload); err != nil {
		return err
	}
	return ids.Put([]byte(it.ID), key)
}

func countKeys(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
