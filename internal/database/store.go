package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Store wraps the durable connection with the classification, range, quota
// and audit operations. All methods take a context and return errors; the
// engine layer is responsible for degrading failed calls to safe defaults.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

type StoreOption func(*Store)

// WithClock overrides the time source, used by tests to simulate expiry and
// day boundaries.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(db *gorm.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	if ctx != nil {
		return s.db.WithContext(ctx)
	}
	return s.db
}
