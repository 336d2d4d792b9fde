package db

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"gorm.io/gorm"
)

// Mode identifies which Session variant is in use.
type Mode string

const (
	ModeTransactional Mode = "transactional"
	ModeStandalone    Mode = "standalone"
)

// ErrSessionEnded is returned when a finished session is committed or aborted.
var ErrSessionEnded = errors.New("session already ended")

// Compensation undoes a write performed by a standalone session.
type Compensation func(ctx context.Context) error

// Session scopes a unit of work. It is implemented only by
// *TransactionalSession and *StandaloneSession; callers that need
// mode-specific behavior branch on Mode() or IsStandalone().
//
// Every Session must be ended exactly once. End after Commit is a no-op;
// End without Commit aborts.
type Session interface {
	// DB returns the handle every read and write in the unit of work must use.
	DB() *gorm.DB
	Mode() Mode
	IsStandalone() bool
	// OnAbort registers a compensation. Only standalone sessions run them,
	// newest first, when the session aborts.
	OnAbort(fn Compensation)
	// AfterCommit registers a hook that runs once the work is durable.
	AfterCommit(fn func(ctx context.Context))
	Commit() error
	Abort() error
	End()

	sealed()
}

// SessionProvider opens sessions.
type SessionProvider interface {
	Begin(ctx context.Context) (Session, error)
}

type sessionState struct {
	mu          sync.Mutex
	ctx         context.Context
	committed   bool
	aborted     bool
	ended       bool
	afterCommit []func(ctx context.Context)
}

func (s *sessionState) finished() bool {
	return s.committed || s.aborted
}

func (s *sessionState) addAfterCommit(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.afterCommit = append(s.afterCommit, fn)
	s.mu.Unlock()
}

func (s *sessionState) runAfterCommit() {
	s.mu.Lock()
	hooks := s.afterCommit
	s.afterCommit = nil
	s.mu.Unlock()
	for _, hook := range hooks {
		hook(s.ctx)
	}
}

// TransactionalSession wraps a database transaction.
type TransactionalSession struct {
	sessionState
	tx *gorm.DB
}

func (s *TransactionalSession) sealed() {}

func (s *TransactionalSession) DB() *gorm.DB { return s.tx }

func (s *TransactionalSession) Mode() Mode { return ModeTransactional }

func (s *TransactionalSession) IsStandalone() bool { return false }

// OnAbort is a no-op: rollback already discards the writes.
func (s *TransactionalSession) OnAbort(Compensation) {}

func (s *TransactionalSession) AfterCommit(fn func(ctx context.Context)) {
	s.addAfterCommit(fn)
}

func (s *TransactionalSession) Commit() error {
	s.mu.Lock()
	if s.ended || s.finished() {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	err := s.tx.Commit().Error
	if err != nil {
		s.aborted = true
		s.mu.Unlock()
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.committed = true
	s.mu.Unlock()

	s.runAfterCommit()
	return nil
}

func (s *TransactionalSession) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished() {
		return nil
	}
	s.aborted = true
	if err := s.tx.Rollback().Error; err != nil && !errors.Is(err, gorm.ErrInvalidTransaction) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func (s *TransactionalSession) End() {
	_ = s.Abort()
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

// StandaloneSession runs every statement directly against the connection.
// Partial writes are undone by the registered compensations.
type StandaloneSession struct {
	sessionState
	conn          *gorm.DB
	compensations []Compensation
}

func (s *StandaloneSession) sealed() {}

func (s *StandaloneSession) DB() *gorm.DB { return s.conn }

func (s *StandaloneSession) Mode() Mode { return ModeStandalone }

func (s *StandaloneSession) IsStandalone() bool { return true }

func (s *StandaloneSession) OnAbort(fn Compensation) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.compensations = append(s.compensations, fn)
	s.mu.Unlock()
}

func (s *StandaloneSession) AfterCommit(fn func(ctx context.Context)) {
	s.addAfterCommit(fn)
}

func (s *StandaloneSession) Commit() error {
	s.mu.Lock()
	if s.ended || s.finished() {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.committed = true
	s.compensations = nil
	s.mu.Unlock()

	s.runAfterCommit()
	return nil
}

// Abort runs the compensations newest first and reports every failure.
func (s *StandaloneSession) Abort() error {
	s.mu.Lock()
	if s.finished() {
		s.mu.Unlock()
		return nil
	}
	s.aborted = true
	pending := s.compensations
	s.compensations = nil
	s.mu.Unlock()

	var errs error
	for i := len(pending) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, pending[i](s.ctx))
	}
	if errs != nil {
		return fmt.Errorf("compensate standalone session: %w", errs)
	}
	return nil
}

func (s *StandaloneSession) End() {
	_ = s.Abort()
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

// Begin opens a session in the configured mode.
func (c *Client) Begin(ctx context.Context) (Session, error) {
	if c.standalone {
		return &StandaloneSession{
			sessionState: sessionState{ctx: ctx},
			conn:         c.conn.WithContext(ctx),
		}, nil
	}
	tx := c.conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &TransactionalSession{
		sessionState: sessionState{ctx: ctx},
		tx:           tx,
	}, nil
}

// WithSession runs fn in a session, committing on success and aborting on
// error or panic. The session is ended exactly once on every path.
func (c *Client) WithSession(ctx context.Context, fn func(sess Session) error) (err error) {
	return RunSession(ctx, c, fn)
}

// RunSession is WithSession for any provider.
func RunSession(ctx context.Context, provider SessionProvider, fn func(sess Session) error) (err error) {
	sess, err := provider.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.End()

	defer func() {
		if r := recover(); r != nil {
			_ = sess.Abort()
			panic(r)
		}
	}()

	if err := fn(sess); err != nil {
		if abortErr := sess.Abort(); abortErr != nil {
			return multierr.Append(err, abortErr)
		}
		return err
	}
	return sess.Commit()
}
