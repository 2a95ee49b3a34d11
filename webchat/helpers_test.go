package webchat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/realtimechat/chathub/auth"
	"github.com/realtimechat/chathub/presence"
	"github.com/realtimechat/chathub/subscribers"
)

// received is an event as decoded by a test connection
type received struct {
	ID   string          `json:"id"`
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// testConn records every event routed to it
type testConn struct {
	id     string
	userID string

	// fail makes every send return this error
	fail error
	// stall makes every send block until its context expires
	stall bool

	mu     sync.Mutex
	events []received
}

func newTestConn(id, userID string) *testConn {
	return &testConn{id: id, userID: userID}
}

func (c *testConn) ID() string     { return c.id }
func (c *testConn) UserID() string { return c.userID }

func (c *testConn) Send(ctx context.Context, payload []byte) error {
	if c.stall {
		<-ctx.Done()
		return ErrSendTimeout
	}
	if c.fail != nil {
		return c.fail
	}

	ev := received{}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}

	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *testConn) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, len(c.events))
	for i, ev := range c.events {
		names[i] = ev.Name
	}
	return names
}

func (c *testConn) count(name string) int {
	n := 0
	for _, got := range c.names() {
		if got == name {
			n++
		}
	}
	return n
}

// last decodes the data of the most recent event called name into v
func (c *testConn) last(t *testing.T, name string, v interface{}) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Name == name {
			if err := json.Unmarshal(c.events[i].Data, v); err != nil {
				t.Fatalf("decoding %s: %v", name, err)
			}
			return
		}
	}
	t.Fatalf("%s: no %s event received, got %v", c.id, name, c.namesLocked())
}

func (c *testConn) namesLocked() []string {
	names := make([]string, len(c.events))
	for i, ev := range c.events {
		names[i] = ev.Name
	}
	return names
}

func (c *testConn) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

// upsertCall is one recorded presence store write
type upsertCall struct {
	userID string
	at     time.Time
}

// recordingStore wraps a memory store, recording writes and optionally failing
type recordingStore struct {
	*presence.MemoryStore

	mu      sync.Mutex
	upserts []upsertCall
	failGet bool
	failPut bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: presence.NewMemoryStore()}
}

func (s *recordingStore) GetAll(ctx context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	fail := s.failGet
	s.mu.Unlock()
	if fail {
		return nil, errors.New("store unavailable")
	}
	return s.MemoryStore.GetAll(ctx)
}

func (s *recordingStore) Upsert(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	s.upserts = append(s.upserts, upsertCall{userID, at})
	fail := s.failPut
	s.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return s.MemoryStore.Upsert(ctx, userID, at)
}

func (s *recordingStore) calls() []upsertCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]upsertCall(nil), s.upserts...)
}

// staticResolver treats the token itself as the user id
var staticResolver = auth.ResolverFunc(func(token string) (string, error) {
	if token == "" {
		return "", auth.ErrUnauthenticated
	}
	return token, nil
})

func newTestPresenceHub(store presence.Store) (*PresenceHub, *Router, *subscribers.Registry) {
	registry := subscribers.NewRegistry()
	router := NewRouter(registry, 100*time.Millisecond, 4)
	return NewPresenceHub(registry, store, router, staticResolver), router, registry
}

