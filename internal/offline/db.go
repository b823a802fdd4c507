package offline

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/boltdb/bolt"
)

const (
	queueBucket   = "scan_queue"
	queueIDBucket = "scan_queue_ids"
	jwksBucket    = "jwks"
)

// DB es el archivo bolt local del dispositivo. Queue y JWKSCache lo comparten.
type DB struct {
	bolt *bolt.DB
}

// Open abre (o crea) la base local en path.
func Open(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("offline db path is required")
	}
	db, err := bolt.Open(filepath.Clean(path), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open offline db: %w", err)
	}
	out := &DB{bolt: db}
	if err := out.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return out, nil
}

// Close cierra el archivo.
func (d *DB) Close() error {
	if d == nil || d.bolt == nil {
		return nil
	}
	return d.bolt.Close()
}

func (d *DB) ensureBuckets() error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{queueBucket, queueIDBucket, jwksBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func bucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("%s bucket is missing", name)
	}
	return b, nil
}
