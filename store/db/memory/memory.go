package memory

import (
	"context"
	"sync"

	"gridlink/store"
)

// DB is a process local driver. Used by tests and --no-persist.
type DB struct {
	mu   sync.RWMutex
	data map[string]string
}

func New() *DB {
	return &DB{data: make(map[string]string)}
}

func (d *DB) Get(_ context.Context, key string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (d *DB) Set(_ context.Context, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[key] = value
	return nil
}

func (d *DB) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, key)
	return nil
}

func (d *DB) Close() error {
	return nil
}
