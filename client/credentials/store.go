// Package credentials holds the client's view of its authentication state:
// an in-memory store with change notification, plus pluggable secure
// persistence so a restarted client can resume its session.
package credentials

import (
	"sync"
	"time"
)

// Status describes the client's authentication lifecycle state.
type Status string

const (
	StatusLoggedOut Status = "logged_out"
	StatusLoggedIn  Status = "logged_in"
	// StatusExpired means the tokens are gone but the client knows who was
	// logged in, useful for pre-filling a re-login prompt.
	StatusExpired Status = "expired"
)

// AuthState is a snapshot of the client's credentials. It is passed and
// stored by value; holders cannot mutate the store through it.
type AuthState struct {
	Status       Status    `json:"status"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Email        string    `json:"email,omitempty"`
	Role         string    `json:"role,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// LoggedIn reports whether the state carries usable credentials.
func (s AuthState) LoggedIn() bool {
	return s.Status == StatusLoggedIn && s.AccessToken != ""
}

// Listener observes state changes. Listeners run synchronously and in
// subscription order on the goroutine that mutated the store.
type Listener func(AuthState)

// Store is the client's single source of truth for authentication state.
// Mutations made from inside a listener callback are queued and applied
// after the current notification round, so listeners always observe states
// in the order they became current.
type Store struct {
	mu        sync.Mutex
	state     AuthState
	listeners []storeListener
	nextID    int
	notifying bool
	pending   []AuthState
}

type storeListener struct {
	id int
	fn Listener
}

func NewStore() *Store {
	return &Store{state: AuthState{Status: StatusLoggedOut}}
}

// GetState returns a snapshot of the current state.
func (s *Store) GetState() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn and returns an unsubscribe function. The current
// state is not replayed; callers wanting it use GetState first.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, storeListener{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				break
			}
		}
	}
}

// Set replaces the state and notifies listeners. A Set issued from inside a
// listener is deferred until the current round completes.
func (s *Store) Set(state AuthState) {
	s.mu.Lock()
	if s.notifying {
		s.pending = append(s.pending, state)
		s.mu.Unlock()
		return
	}
	s.notifying = true
	s.mu.Unlock()

	next := state
	for {
		s.mu.Lock()
		s.state = next
		listeners := make([]storeListener, len(s.listeners))
		copy(listeners, s.listeners)
		s.mu.Unlock()

		for _, l := range listeners {
			l.fn(next)
		}

		s.mu.Lock()
		if len(s.pending) == 0 {
			s.notifying = false
			s.mu.Unlock()
			return
		}
		next = s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
	}
}

// SetAuthenticated marks state as logged in and makes it current.
func (s *Store) SetAuthenticated(state AuthState) {
	state.Status = StatusLoggedIn
	s.Set(state)
}

// SetUnauthenticated resets to a clean logged-out state.
func (s *Store) SetUnauthenticated() {
	s.Clear(false)
}

// SaveTokens replaces the token pair on the current state, e.g. after a
// refresh rotation.
func (s *Store) SaveTokens(accessToken, refreshToken string, expiresAt time.Time) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	state.AccessToken = accessToken
	state.RefreshToken = refreshToken
	state.ExpiresAt = expiresAt
	s.Set(state)
}

// ClearTokens drops the credentials but keeps the identity, moving to the
// expired state used for re-login prompts.
func (s *Store) ClearTokens() {
	s.Clear(true)
}

// Clear resets to logged out, keeping identity fields for re-login prompts
// when expired is true.
func (s *Store) Clear(expired bool) {
	current := s.GetState()
	next := AuthState{Status: StatusLoggedOut}
	if expired {
		next = AuthState{
			Status: StatusExpired,
			UserID: current.UserID,
			Email:  current.Email,
			Role:   current.Role,
		}
	}
	s.Set(next)
}
