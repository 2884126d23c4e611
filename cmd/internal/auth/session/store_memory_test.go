package session

import (
	"context"
	"sync"
	"time"
)

// memRefreshStore is an in-memory RefreshStore with the same CAS redemption
// semantics as the Postgres store.
type memRefreshStore struct {
	mu   sync.Mutex
	rows map[string]RefreshTokenRow
}

func newMemRefreshStore() *memRefreshStore {
	return &memRefreshStore{rows: make(map[string]RefreshTokenRow)}
}

func (s *memRefreshStore) Insert(ctx context.Context, row RefreshTokenRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.TokenHash] = row
	return nil
}

func (s *memRefreshStore) GetByHash(ctx context.Context, tokenHash string) (RefreshTokenRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[tokenHash]
	if !ok {
		return RefreshTokenRow{}, ErrInvalidToken
	}
	return row, nil
}

func (s *memRefreshStore) Redeem(ctx context.Context, now time.Time, tokenHash string, replacement RefreshTokenRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[tokenHash]
	if !ok {
		return ErrInvalidToken
	}
	if row.Revoked {
		return ErrInvalidToken
	}
	if !now.Before(row.ExpiresAt) {
		delete(s.rows, tokenHash)
		return ErrTokenExpired
	}
	row.Revoked = true
	s.rows[tokenHash] = row
	s.rows[replacement.TokenHash] = replacement
	return nil
}

func (s *memRefreshStore) RevokeBySession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, row := range s.rows {
		if row.SessionID == sessionID {
			row.Revoked = true
			s.rows[h] = row
		}
	}
	return nil
}

func (s *memRefreshStore) RevokeByPrincipal(ctx context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, row := range s.rows {
		if row.PrincipalID == principalID {
			row.Revoked = true
			s.rows[h] = row
		}
	}
	return nil
}

func (s *memRefreshStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, row := range s.rows {
		if !now.Before(row.ExpiresAt) {
			delete(s.rows, h)
			n++
		}
	}
	return n, nil
}

// memSessionStore is an in-memory SessionStore.
type memSessionStore struct {
	mu   sync.Mutex
	rows map[string]SessionRow
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{rows: make(map[string]SessionRow)}
}

func (s *memSessionStore) Create(ctx context.Context, row SessionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.ID] = row
	return nil
}

func (s *memSessionStore) GetByID(ctx context.Context, id string) (SessionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return SessionRow{}, ErrSessionNotFound
	}
	return row, nil
}

func (s *memSessionStore) Touch(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || !row.Active {
		return nil
	}
	row.LastActivityAt = now
	s.rows[id] = row
	return nil
}

func (s *memSessionStore) Close(ctx context.Context, id string, reason string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return false, ErrSessionNotFound
	}
	if !row.Active {
		return false, nil
	}
	row.Active = false
	row.EndReason = reason
	row.EndedAt = now
	s.rows[id] = row
	return true, nil
}

func (s *memSessionStore) CloseAllForPrincipal(ctx context.Context, principalID string, reason string, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, row := range s.rows {
		if row.PrincipalID == principalID && row.Active {
			row.Active = false
			row.EndReason = reason
			row.EndedAt = now
			s.rows[id] = row
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memSessionStore) CloseTimedOut(ctx context.Context, cfg Config, now time.Time) ([]ClosedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var closed []ClosedSession
	for id, row := range s.rows {
		if !row.Active {
			continue
		}
		timedOut, reason := row.TimedOut(cfg, now)
		if !timedOut {
			continue
		}
		row.Active = false
		row.EndReason = reason
		row.EndedAt = now
		s.rows[id] = row
		closed = append(closed, ClosedSession{ID: id, PrincipalID: row.PrincipalID, Reason: reason})
	}
	return closed, nil
}

// memLiveness is a DependentLiveness backed by a map.
type memLiveness struct {
	mu     sync.Mutex
	active map[string]bool
}

func newMemLiveness() *memLiveness {
	return &memLiveness{active: make(map[string]bool)}
}

func (l *memLiveness) set(id string, active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[id] = active
}

func (l *memLiveness) DependentActive(ctx context.Context, dependentID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[dependentID], nil
}
