package fakerefreshrepo

import (
	"context"
	"sync"
	"time"

	"github.com/promptforge/auth-server/token/refresh"
)

var _ refresh.Repo = (*FakeRefreshTokenRepo)(nil)

// FakeRefreshTokenRepo is the in-memory Repo used by tests and by the
// default single-process wiring.
type FakeRefreshTokenRepo struct {
	lock   sync.Mutex
	byHash map[string]*refresh.StoredRefreshToken
}

func NewFakeRefreshTokenRepo() *FakeRefreshTokenRepo {
	return &FakeRefreshTokenRepo{
		byHash: make(map[string]*refresh.StoredRefreshToken),
	}
}

func (r *FakeRefreshTokenRepo) Create(_ context.Context, rec *refresh.StoredRefreshToken) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	clone := *rec
	r.byHash[rec.TokenHash] = &clone
	return nil
}

func (r *FakeRefreshTokenRepo) GetByHash(_ context.Context, tokenHash string) (*refresh.StoredRefreshToken, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	rec, ok := r.byHash[tokenHash]
	if !ok {
		return nil, nil
	}
	clone := *rec
	if rec.RotatedAt != nil {
		t := *rec.RotatedAt
		clone.RotatedAt = &t
	}
	return &clone, nil
}

func (r *FakeRefreshTokenRepo) MarkRotated(_ context.Context, tokenHash string, rotatedAt time.Time, replacedByJTI, graceAccess, graceRefresh string) (bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	rec, ok := r.byHash[tokenHash]
	if !ok || rec.IsRevoked {
		return false, nil
	}
	rec.IsRevoked = true
	rec.RotatedAt = &rotatedAt
	rec.ReplacedByJTI = replacedByJTI
	rec.GraceAccessToken = graceAccess
	rec.GraceRefreshToken = graceRefresh
	return true, nil
}

func (r *FakeRefreshTokenRepo) RevokeAllForUser(_ context.Context, userID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, rec := range r.byHash {
		if rec.UserID == userID {
			rec.IsRevoked = true
		}
	}
	return nil
}

func (r *FakeRefreshTokenRepo) DeleteExpired(_ context.Context, before time.Time) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for hash, rec := range r.byHash {
		if rec.ExpiresAt.Before(before) {
			delete(r.byHash, hash)
		}
	}
	return nil
}
