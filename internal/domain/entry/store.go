package entry

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no entry has the requested id.
var ErrNotFound = errors.New("entry not found")

// Store persists config entries.
type Store interface {
	// Save inserts or replaces e and returns it with ID and timestamps set.
	Save(ctx context.Context, e Entry) (Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	// List returns entries of domain in creation order; an empty domain lists all.
	List(ctx context.Context, domain Domain) ([]Entry, error)
	Delete(ctx context.Context, id string) error
	Close(ctx context.Context) error
}

// Config describes the store selection parameters.
type Config struct {
	Driver string
	Redis  *RedisConfig
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}
