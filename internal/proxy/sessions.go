package proxy

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// sessionKey enforces per-user isolation: two requests from different
// users for the same tool never share a session (spec §4.11).
type sessionKey struct {
	userID   string
	toolName string
}

type sessionEntry struct {
	client   ChildClient
	lastUsed time.Time
}

// SessionCache is the bounded LRU of live child sessions with an idle TTL
// and a hard per-user ceiling. Opening a new session is single-flighted
// per key so concurrent calls for the same (user, tool) share one open.
type SessionCache struct {
	mu             sync.Mutex
	cache          *lru.Cache[sessionKey, *sessionEntry]
	perUserCeiling int
	idleTTL        time.Duration
	sf             singleflight.Group

	stopCh chan struct{}
}

func NewSessionCache(capacity, perUserCeiling int, idleTTL time.Duration) *SessionCache {
	sc := &SessionCache{perUserCeiling: perUserCeiling, idleTTL: idleTTL, stopCh: make(chan struct{})}
	cache, _ := lru.NewWithEvict[sessionKey, *sessionEntry](capacity, sc.onEvict)
	sc.cache = cache
	return sc
}

func (sc *SessionCache) onEvict(_ sessionKey, entry *sessionEntry) {
	_ = entry.client.Close()
}

// StartReaper launches the idle-TTL sweep; call once at startup.
func (sc *SessionCache) StartReaper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sc.reapIdle()
			case <-sc.stopCh:
				return
			}
		}
	}()
}

func (sc *SessionCache) reapIdle() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	now := time.Now()
	for _, key := range sc.cache.Keys() {
		entry, ok := sc.cache.Peek(key)
		if ok && now.Sub(entry.lastUsed) > sc.idleTTL {
			sc.cache.Remove(key) // onEvict closes the session
		}
	}
}

// GetOrOpen returns the live session for (userID, toolName), opening one
// via openFn when absent. Concurrent callers for the same key coalesce
// into a single openFn invocation (spec §4.11 step 4).
func (sc *SessionCache) GetOrOpen(ctx context.Context, userID, toolName string, openFn func(ctx context.Context) (ChildClient, error)) (ChildClient, error) {
	key := sessionKey{userID: userID, toolName: toolName}

	sc.mu.Lock()
	if entry, ok := sc.cache.Get(key); ok {
		entry.lastUsed = time.Now()
		sc.mu.Unlock()
		return entry.client, nil
	}
	sc.mu.Unlock()

	sc.enforceUserCeiling(userID)

	v, err, _ := sc.sf.Do(userID+"\x00"+toolName, func() (any, error) {
		sc.mu.Lock()
		if entry, ok := sc.cache.Get(key); ok {
			sc.mu.Unlock()
			return entry.client, nil
		}
		sc.mu.Unlock()

		client, err := openFn(ctx)
		if err != nil {
			return nil, err
		}
		sc.mu.Lock()
		sc.cache.Add(key, &sessionEntry{client: client, lastUsed: time.Now()})
		sc.mu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ChildClient), nil
}

// enforceUserCeiling evicts the user's least-recently-used session when
// they are already at the hard per-user ceiling (default 20), so the new
// open always has room (spec §4.11).
func (sc *SessionCache) enforceUserCeiling(userID string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var userKeys []sessionKey
	for _, k := range sc.cache.Keys() {
		if k.userID == userID {
			userKeys = append(userKeys, k)
		}
	}
	if len(userKeys) < sc.perUserCeiling {
		return
	}

	oldestKey := userKeys[0]
	oldestTime := time.Now().Add(time.Hour)
	for _, k := range userKeys {
		if entry, ok := sc.cache.Peek(k); ok && entry.lastUsed.Before(oldestTime) {
			oldestTime = entry.lastUsed
			oldestKey = k
		}
	}
	sc.cache.Remove(oldestKey)
}

// Close stops the reaper and closes every live session.
func (sc *SessionCache) Close() {
	close(sc.stopCh)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cache.Purge()
}
