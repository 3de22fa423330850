package gate

import (
	"context"
	"sync"
	"time"
)

// CachedResolver memoizes another resolver for ttl. Only profiles are
// cached; a resolver error is returned and not remembered.
type CachedResolver[U comparable] struct {
	inner ProfileResolver[U]
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[U]cachedProfile
}

type cachedProfile struct {
	profile Profile
	expires time.Time
}

func NewCachedResolver[U comparable](inner ProfileResolver[U], ttl time.Duration) *CachedResolver[U] {
	return &CachedResolver[U]{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[U]cachedProfile),
	}
}

func (r *CachedResolver[U]) Resolve(ctx context.Context, user U) (Profile, error) {
	r.mu.RLock()
	e, ok := r.entries[user]
	r.mu.RUnlock()
	if ok && r.now().Before(e.expires) {
		return e.profile, nil
	}

	profile, err := r.inner.Resolve(ctx, user)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.entries[user] = cachedProfile{profile: profile, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return profile, nil
}

func (r *CachedResolver[U]) Invalidate(user U) {
	r.mu.Lock()
	delete(r.entries, user)
	r.mu.Unlock()
}

// InvalidateWhere drops every cached subject for which match returns true.
// Callers that only know part of the key (a user id) use it.
func (r *CachedResolver[U]) InvalidateWhere(match func(U) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.entries {
		if match(k) {
			delete(r.entries, k)
			n++
		}
	}
	return n
}

func (r *CachedResolver[U]) InvalidateAll() {
	r.mu.Lock()
	r.entries = make(map[U]cachedProfile)
	r.mu.Unlock()
}
