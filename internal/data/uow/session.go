package uow

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"
)

var (
	// ErrClosed is returned by every operation on a closed unit of work.
	ErrClosed = errors.New("uow: closed")
	// ErrRolledBack is returned by Commit once the unit of work rolled back.
	ErrRolledBack = errors.New("uow: already rolled back")
)

// session owns the storage transaction of one unit of work. The transaction
// is begun on first use and released by commit, abort or close.
type session struct {
	db *gorm.DB

	mu     sync.Mutex
	tx     *gorm.DB
	closed bool
}

func newSession(db *gorm.DB) *session {
	return &session{db: db}
}

// DB returns the open transaction, beginning one if needed. The transaction
// outlives ctx: it keeps ctx values but not its cancellation, so a read with
// a short deadline does not abort a later commit. Statements still run
// under ctx.
func (s *session) DB(ctx context.Context) (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.tx == nil {
		tx := s.db.WithContext(context.WithoutCancel(ctx)).Begin()
		if tx.Error != nil {
			return nil, tx.Error
		}
		s.tx = tx
	}
	return s.tx.WithContext(ctx), nil
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

func (s *session) commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit().Error
	if err != nil {
		_ = s.tx.Rollback().Error
	}
	s.tx = nil
	return err
}

func (s *session) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
}

func (s *session) abortLocked() {
	if s.tx == nil {
		return
	}
	_ = s.tx.Rollback().Error
	s.tx = nil
}

// close aborts any open transaction. It is idempotent.
func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
	s.closed = true
}
