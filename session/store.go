package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/acaisupper/acaibot/core/logger"
	"github.com/acaisupper/acaibot/storage"
)

// Store keeps sessions keyed by Telegram user id. Do serializes all work
// for one user while leaving different users fully parallel.
type Store struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

type entry struct {
	mu   sync.Mutex
	sess *Session
}

func NewStore() *Store {
	return &Store{entries: make(map[int64]*entry)}
}

func (s *Store) entryFor(userID int64) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		e = &entry{sess: &Session{UserID: userID, UpdatedAt: time.Now()}}
		s.entries[userID] = e
	}
	return e
}

// Do runs fn with the user's session held under its lock. The session is
// created on first use. fn's mutations are retained; UpdatedAt is stamped
// after fn returns.
func (s *Store) Do(userID int64, fn func(*Session) error) error {
	e := s.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	err := fn(e.sess)
	e.sess.UpdatedAt = time.Now()
	return err
}

// Peek returns a copy of the user's session without creating one.
func (s *Store) Peek(userID int64) (Session, bool) {
	s.mu.Lock()
	e, ok := s.entries[userID]
	s.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.sess
	cp.Cart = append([]storage.LineItem(nil), e.sess.Cart...)
	return cp, true
}

// InProgress reports whether the user has an active conversation.
func (s *Store) InProgress(userID int64) bool {
	sess, ok := s.Peek(userID)
	return ok && sess.Stage.Active()
}

// Sweep drops sessions idle longer than maxIdle and returns how many were
// removed. Entries mid-handler are skipped and picked up next pass.
func (s *Store) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		stale := e.sess.UpdatedAt.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps idle sessions until ctx is cancelled. Intended to run
// as a background goroutine from main.
func (s *Store) RunJanitor(ctx context.Context, maxIdle time.Duration) {
	interval := maxIdle / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(maxIdle); n > 0 {
				logger.SVCFlow.Debug("idle sessions swept",
					slog.Int("count", n),
				)
			}
		}
	}
}
