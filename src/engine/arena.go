package engine

import "sync"

// userState is everything the engine keeps in memory for one user.
// lock is the single-writer lock: order submission, closes and balance
// refreshes of the same user run one at a time.
type userState struct {
	lock sync.Mutex

	mu              sync.Mutex
	manualClose     map[uint]struct{}
	balanceFailures map[uint]int
}

// Arena owns the per-user state, addressed by user id.
type Arena struct {
	mu    sync.Mutex
	users map[uint]*userState
}

func NewArena() *Arena {
	return &Arena{users: make(map[uint]*userState)}
}

func (a *Arena) state(userID uint) *userState {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.users[userID]
	if !ok {
		s = &userState{manualClose: make(map[uint]struct{}), balanceFailures: make(map[uint]int)}
		a.users[userID] = s
	}
	return s
}

// Lock takes the user's writer lock and returns its release.
func (a *Arena) Lock(userID uint) func() {
	s := a.state(userID)
	s.lock.Lock()
	return s.lock.Unlock
}

func (a *Arena) QueueManualClose(userID, positionID uint) {
	s := a.state(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manualClose[positionID] = struct{}{}
}

func (a *Arena) ManualCloseRequested(userID, positionID uint) bool {
	s := a.state(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.manualClose[positionID]
	return ok
}

func (a *Arena) ClearManualClose(userID, positionID uint) {
	s := a.state(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.manualClose, positionID)
}

// RecordBalanceFailure bumps the consecutive failure count of a credential and returns it.
func (a *Arena) RecordBalanceFailure(userID, credentialID uint) int {
	s := a.state(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceFailures[credentialID]++
	return s.balanceFailures[credentialID]
}

func (a *Arena) ResetBalanceFailures(userID, credentialID uint) {
	s := a.state(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.balanceFailures, credentialID)
}

// Reset drops all user state. Only call it when nothing holds a user lock.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users = make(map[uint]*userState)
}
