package fakesessionrepo

import (
	"context"
	"sync"
	"time"

	"github.com/promptforge/auth-server/sessions"
)

var _ sessions.Repo = (*FakeSessionRepo)(nil)

// FakeSessionRepo is the in-memory Repo used by tests and by the default
// single-process wiring.
type FakeSessionRepo struct {
	lock    sync.RWMutex
	byUser  map[string]*sessions.Session
	nowFunc func() time.Time
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		byUser:  make(map[string]*sessions.Session),
		nowFunc: time.Now,
	}
}

func (sr *FakeSessionRepo) Get(_ context.Context, userID string) (*sessions.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	s, ok := sr.byUser[userID]
	if !ok {
		return nil, nil
	}
	clone := *s
	return &clone, nil
}

func (sr *FakeSessionRepo) Put(_ context.Context, session *sessions.Session) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	clone := *session
	sr.byUser[session.UserID] = &clone
	return nil
}

func (sr *FakeSessionRepo) Touch(_ context.Context, userID string) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	if s, ok := sr.byUser[userID]; ok {
		s.LastActivityTime = sr.nowFunc()
	}
	return nil
}

func (sr *FakeSessionRepo) Delete(_ context.Context, userID string) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	delete(sr.byUser, userID)
	return nil
}
