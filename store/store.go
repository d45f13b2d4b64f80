package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by drivers when a key is absent.
var ErrNotFound = errors.New("store: key not found")

// Driver is a durable string key/value backend.
type Driver interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Store holds client persisted state: thread ids per scope and cached
// dashboard data. Values are overwritten wholesale, there is no schema.
type Store struct {
	driver Driver
}

func New(driver Driver) *Store {
	return &Store{driver: driver}
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.driver.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.driver.Set(ctx, key, value)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.driver.Delete(ctx, key)
}

func (s *Store) Close() error {
	return s.driver.Close()
}
