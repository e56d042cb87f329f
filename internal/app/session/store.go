package session

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// entry holds the guard for one chat id. It outlives its session while
// callers are queued on the guard.
type entry struct {
	guard   *semaphore.Weighted
	refs    int // holders + waiters, protected by Store.mu
	live    bool
	session *Session // protected by guard
}

// Store owns all sessions and serializes access per chat id.
// Store.mu only protects the entry map; it is never held while a
// caller's function runs, so chats never wait on each other.
type Store struct {
	mu      sync.Mutex
	entries map[int64]*entry
	live    int
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		entries: make(map[int64]*entry),
	}
}

// WithSession runs fn with exclusive access to the chat's session, creating
// an empty session if none exists. Sessions left empty by fn are dropped.
// Returns fn's error, or ctx's error if the guard could not be acquired.
func (s *Store) WithSession(ctx context.Context, chatID int64, fn func(*Session) error) error {
	e, err := s.acquire(ctx, chatID)
	if err != nil {
		return err
	}
	defer s.release(chatID, e)

	if e.session == nil {
		e.session = newSession(chatID)
	}
	return fn(e.session)
}

// Snapshot returns a copy of the chat's session. A chat without a session
// yields an empty snapshot.
func (s *Store) Snapshot(ctx context.Context, chatID int64) (Snapshot, error) {
	s.mu.Lock()
	_, ok := s.entries[chatID]
	s.mu.Unlock()
	if !ok {
		return Snapshot{ChatID: chatID}, nil
	}

	e, err := s.acquire(ctx, chatID)
	if err != nil {
		return Snapshot{}, err
	}
	defer s.release(chatID, e)

	if e.session == nil {
		return Snapshot{ChatID: chatID}, nil
	}
	return e.session.Snapshot(), nil
}

// Remove deletes the chat's session. Removing an absent session is a no-op.
func (s *Store) Remove(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	_, ok := s.entries[chatID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	e, err := s.acquire(ctx, chatID)
	if err != nil {
		return err
	}
	e.session = nil
	s.release(chatID, e)
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *Store) acquire(ctx context.Context, chatID int64) (*entry, error) {
	s.mu.Lock()
	e, ok := s.entries[chatID]
	if !ok {
		e = &entry{guard: semaphore.NewWeighted(1)}
		s.entries[chatID] = e
	}
	e.refs++
	s.mu.Unlock()

	if err := e.guard.Acquire(ctx, 1); err != nil {
		s.mu.Lock()
		e.refs--
		// refs == 0 means nobody holds the guard, so reading session is safe.
		if e.refs == 0 && e.session == nil {
			delete(s.entries, chatID)
		}
		s.mu.Unlock()
		return nil, err
	}
	return e, nil
}

// release must be called with the entry's guard held.
func (s *Store) release(chatID int64, e *entry) {
	if e.session != nil && e.session.IsEmpty() {
		e.session = nil
	}

	s.mu.Lock()
	live := e.session != nil
	if live != e.live {
		if live {
			s.live++
		} else {
			s.live--
		}
		e.live = live
	}
	e.refs--
	if e.refs == 0 && e.session == nil {
		delete(s.entries, chatID)
	}
	s.mu.Unlock()

	e.guard.Release(1)
}
