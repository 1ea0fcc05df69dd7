// Package memory guarda desafíos de firma y contadores de intentos en
// memoria del proceso.
package memory

import (
	"context"
	"sync"
	"time"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"
)

type ChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]domain.VerificationChallenge
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{challenges: make(map[string]domain.VerificationChallenge)}
}

// Save implementa ports.ChallengeStore.
func (s *ChallengeStore) Save(_ context.Context, ch *domain.VerificationChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[ch.ProcedureID] = *ch
	return nil
}

// Active implementa ports.ChallengeStore. Los desafíos vencidos se siguen
// devolviendo para que el servicio pueda responder expired_code.
func (s *ChallengeStore) Active(_ context.Context, procedureID string) (*domain.VerificationChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[procedureID]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

// Consume implementa ports.ChallengeStore.
func (s *ChallengeStore) Consume(_ context.Context, procedureID, challengeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[procedureID]
	if !ok || ch.ID != challengeID {
		return false, nil
	}
	delete(s.challenges, procedureID)
	return true, nil
}

type attemptState struct {
	failures    int
	windowStart time.Time
	lockedUntil time.Time
}

// AttemptLimiter cuenta fallos por trámite dentro de una ventana fija.
type AttemptLimiter struct {
	mu     sync.Mutex
	policy domain.LockoutPolicy
	now    func() time.Time
	state  map[string]*attemptState
}

func NewAttemptLimiter(policy domain.LockoutPolicy, now func() time.Time) *AttemptLimiter {
	if now == nil {
		now = time.Now
	}
	return &AttemptLimiter{policy: policy, now: now, state: make(map[string]*attemptState)}
}

// LockedUntil implementa ports.AttemptLimiter.
func (l *AttemptLimiter) LockedUntil(_ context.Context, procedureID string) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.state[procedureID]
	if !ok || !l.now().Before(st.lockedUntil) {
		return time.Time{}, nil
	}
	return st.lockedUntil, nil
}

// RegisterFailure implementa ports.AttemptLimiter.
func (l *AttemptLimiter) RegisterFailure(_ context.Context, procedureID string) (int, time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	st, ok := l.state[procedureID]
	if !ok || now.Sub(st.windowStart) >= l.policy.Window {
		st = &attemptState{windowStart: now}
		l.state[procedureID] = st
	}
	st.failures++
	if st.failures >= l.policy.MaxAttempts {
		st.lockedUntil = now.Add(l.policy.Lockout)
		st.failures = 0
		st.windowStart = now
		return 0, st.lockedUntil, nil
	}
	return l.policy.MaxAttempts - st.failures, time.Time{}, nil
}

// Reset implementa ports.AttemptLimiter.
func (l *AttemptLimiter) Reset(_ context.Context, procedureID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.state, procedureID)
	return nil
}

var (
	_ ports.ChallengeStore = (*ChallengeStore)(nil)
	_ ports.AttemptLimiter = (*AttemptLimiter)(nil)
)
