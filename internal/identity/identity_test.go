package identity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

func TestSessionStoreCreateLookupRevoke(t *testing.T) {
	s := NewSessionStore(time.Minute)
	p := auth.Principal{User: auth.User{ID: "u1"}, WorkspaceID: "ws-1"}

	token, err := s.Create(p)
	require.NoError(t, err)

	got, ok := s.Lookup(token)
	require.True(t, ok)
	assert.Equal(t, "u1", got.User.ID)

	s.Revoke(token)
	_, ok = s.Lookup(token)
	assert.False(t, ok, "revoked session must not be usable, logout must be real")
}

func TestSessionStoreExpiry(t *testing.T) {
	s := NewSessionStore(time.Millisecond)
	token, err := s.Create(auth.Principal{})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, ok := s.Lookup(token)
	assert.False(t, ok)
}

func TestStateStoreConsumeIsSingleUse(t *testing.T) {
	s := NewStateStore(time.Minute)
	s.Put("state-1", "verifier-1")

	v, ok := s.Consume("state-1")
	require.True(t, ok)
	assert.Equal(t, "verifier-1", v)

	_, ok = s.Consume("state-1")
	assert.False(t, ok, "state must not be replayable")
}

func TestStateStoreExpiry(t *testing.T) {
	s := NewStateStore(time.Millisecond)
	s.Put("state-1", "verifier-1")
	time.Sleep(5 * time.Millisecond)

	_, ok := s.Consume("state-1")
	assert.False(t, ok)
}

func TestSessionStoreConcurrentCreate(t *testing.T) {
	s := NewSessionStore(time.Minute)
	var wg sync.WaitGroup
	tokens := make([]string, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := s.Create(auth.Principal{User: auth.User{ID: "u"}})
			require.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, tok := range tokens {
		require.NotEmpty(t, tok)
		assert.False(t, seen[tok], "tokens must be unique")
		seen[tok] = true
	}
}

func TestContainsFoldCSV(t *testing.T) {
	assert.True(t, containsFoldCSV("admin@example.com, Other@Example.com", "OTHER@example.com"))
	assert.False(t, containsFoldCSV("admin@example.com", "nobody@example.com"))
	assert.False(t, containsFoldCSV("", "admin@example.com"))
}

func TestBearerOrCookie(t *testing.T) {
	h := map[string][]string{"Authorization": {"Bearer abc123"}}
	assert.Equal(t, "abc123", bearerOrCookie(h))

	h = map[string][]string{"Cookie": {"foo=bar; hub_session=xyz789; baz=qux"}}
	assert.Equal(t, "xyz789", bearerOrCookie(h))

	assert.Empty(t, bearerOrCookie(map[string][]string{}))
}
