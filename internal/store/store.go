package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/viva/internal/model"
)

// ErrExists is returned by Create when a session with the same id is already stored.
var ErrExists = errors.New("session already exists")

// Store holds sessions for the lifetime of the process.
//
// Get returns a private copy; callers may read it without locks. Update runs
// fn on the live session while holding that session's lock, so the read and
// the mutation are one atomic step. If fn returns an error nothing is changed.
// Unknown ids fail with an error wrapping model.ErrSessionNotFound.
type Store interface {
	Create(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	Update(ctx context.Context, id string, fn func(*model.Session) error) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Open returns the store implementation named by kind ("memory" or "sqlite").
// dsn is only used by the SQLite store.
func Open(kind, dsn string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(dsn)
	default:
		return nil, fmt.Errorf("unknown store %q (want memory or sqlite)", kind)
	}
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
}
