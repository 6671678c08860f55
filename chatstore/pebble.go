package chatstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
)

// PebbleBlobs persists blobs in a PebbleDB directory.
type PebbleBlobs struct {
	db *pebble.DB
}

// OpenPebble opens (creating if needed) the database at dir.
func OpenPebble(dir string) (*PebbleBlobs, error) {
	if dir == "" {
		return nil, errors.New("chatstore: empty pebble directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	return &PebbleBlobs{db: db}, nil
}

func (p *PebbleBlobs) Get(key string) ([]byte, error) {
	data, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (p *PebbleBlobs) Put(key string, value []byte) error {
	if err := p.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (p *PebbleBlobs) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
