package webchat

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/realtimechat/chathub/auth"
)

func TestPresence_EndToEnd(t *testing.T) {
	store := newRecordingStore()
	hub, _, registry := newTestPresenceHub(store)
	ctx := context.Background()
	connectedAt := time.Now()

	// A connects, only connection
	a1 := newTestConn("a1", "A")
	if err := hub.OnConnect(ctx, a1); err != nil {
		t.Fatalf("OnConnect a1: %v", err)
	}
	wantNames := []string{EventIdentityAssigned, EventPresenceChanged, EventConnectionCountChanged}
	if got := a1.names(); !reflect.DeepEqual(got, wantNames) {
		t.Fatalf("a1 events: got %v, want %v", got, wantNames)
	}

	var identity IdentityAssigned
	a1.last(t, EventIdentityAssigned, &identity)
	if identity.UserID != "A" {
		t.Errorf("identity: got %q, want A", identity.UserID)
	}
	var pc PresenceChanged
	a1.last(t, EventPresenceChanged, &pc)
	if !reflect.DeepEqual(pc.OnlineUsers, []string{"A"}) {
		t.Errorf("online after A: got %v", pc.OnlineUsers)
	}
	if pc.LastSeen == nil || len(pc.LastSeen) != 0 {
		t.Errorf("last seen after A: got %v, want empty map", pc.LastSeen)
	}
	var cc ConnectionCountChanged
	a1.last(t, EventConnectionCountChanged, &cc)
	if cc.Count != 1 {
		t.Errorf("count after A: got %d, want 1", cc.Count)
	}

	// B connects
	b1 := newTestConn("b1", "B")
	if err := hub.OnConnect(ctx, b1); err != nil {
		t.Fatalf("OnConnect b1: %v", err)
	}
	if got := b1.names(); !reflect.DeepEqual(got, wantNames) {
		t.Fatalf("b1 events: got %v, want %v", got, wantNames)
	}
	b1.last(t, EventIdentityAssigned, &identity)
	if identity.UserID != "B" {
		t.Errorf("identity: got %q, want B", identity.UserID)
	}
	if a1.count(EventIdentityAssigned) != 1 {
		t.Error("B's identity must only go to B")
	}
	for _, c := range []*testConn{a1, b1} {
		c.last(t, EventPresenceChanged, &pc)
		if !reflect.DeepEqual(pc.OnlineUsers, []string{"A", "B"}) {
			t.Errorf("%s online after B: got %v", c.id, pc.OnlineUsers)
		}
		c.last(t, EventConnectionCountChanged, &cc)
		if cc.Count != 2 {
			t.Errorf("%s count after B: got %d, want 2", c.id, cc.Count)
		}
	}

	// A opens a second connection, nothing is announced
	a1.reset()
	b1.reset()
	a2 := newTestConn("a2", "A")
	if err := hub.OnConnect(ctx, a2); err != nil {
		t.Fatalf("OnConnect a2: %v", err)
	}
	for _, c := range []*testConn{a1, a2, b1} {
		if len(c.names()) != 0 {
			t.Errorf("%s: second device triggered %v", c.id, c.names())
		}
	}
	if got := registry.Snapshot(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("online after a2: got %v", got)
	}

	// A's first connection closes, A is still online
	hub.OnDisconnect(ctx, a1, nil)
	for _, c := range []*testConn{a2, b1} {
		if len(c.names()) != 0 {
			t.Errorf("%s: closing a1 triggered %v", c.id, c.names())
		}
	}
	if len(store.calls()) != 0 {
		t.Errorf("closing a1 persisted last seen: %v", store.calls())
	}

	// A's last connection closes
	hub.OnDisconnect(ctx, a2, errors.New("going away"))

	calls := store.calls()
	if len(calls) != 1 {
		t.Fatalf("upserts: got %d, want 1", len(calls))
	}
	if calls[0].userID != "A" {
		t.Errorf("upsert user: got %q, want A", calls[0].userID)
	}
	if calls[0].at.Before(connectedAt) {
		t.Errorf("upsert time %v is before connect time %v", calls[0].at, connectedAt)
	}

	if len(a2.names()) != 0 {
		t.Errorf("closed connection a2 received %v", a2.names())
	}
	if got := b1.names(); !reflect.DeepEqual(got, []string{EventPresenceChanged, EventConnectionCountChanged}) {
		t.Fatalf("b1 events after A left: got %v", got)
	}
	b1.last(t, EventPresenceChanged, &pc)
	if !reflect.DeepEqual(pc.OnlineUsers, []string{"B"}) {
		t.Errorf("online after A left: got %v", pc.OnlineUsers)
	}
	if !pc.LastSeen["A"].Equal(calls[0].at) {
		t.Errorf("last seen A: got %v, want %v", pc.LastSeen["A"], calls[0].at)
	}
	b1.last(t, EventConnectionCountChanged, &cc)
	if cc.Count != 1 {
		t.Errorf("count after A left: got %d, want 1", cc.Count)
	}
}

func TestPresence_Unauthenticated(t *testing.T) {
	hub, router, registry := newTestPresenceHub(newRecordingStore())
	ctx := context.Background()

	watcher := newTestConn("w", "W")
	if err := hub.OnConnect(ctx, watcher); err != nil {
		t.Fatal(err)
	}
	watcher.reset()

	err := hub.OnConnect(ctx, newTestConn("anon", ""))
	if !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("OnConnect without identity: got %v, want ErrUnauthenticated", err)
	}
	if registry.ConnectionCount() != 1 || router.Attached() != 1 {
		t.Errorf("rejected connection was registered: %d registered, %d attached", registry.ConnectionCount(), router.Attached())
	}
	if len(watcher.names()) != 0 {
		t.Errorf("rejected connection caused %v", watcher.names())
	}

	if _, err := hub.Authenticate(""); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("Authenticate empty token: got %v", err)
	}
	if userID, err := hub.Authenticate("alice"); err != nil || userID != "alice" {
		t.Errorf("Authenticate: got %q, %v", userID, err)
	}

	empty := NewPresenceHub(registry, newRecordingStore(), router, auth.ResolverFunc(func(string) (string, error) { return "", nil }))
	if _, err := empty.Authenticate("x"); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("Authenticate with empty identity: got %v", err)
	}
}

func TestPresence_DisconnectIdempotent(t *testing.T) {
	store := newRecordingStore()
	hub, _, registry := newTestPresenceHub(store)
	ctx := context.Background()

	watcher := newTestConn("w", "W")
	a := newTestConn("a", "A")
	hub.OnConnect(ctx, watcher)
	hub.OnConnect(ctx, a)
	watcher.reset()

	hub.OnDisconnect(ctx, a, nil)
	hub.OnDisconnect(ctx, a, nil)

	if n := len(store.calls()); n != 1 {
		t.Errorf("upserts: got %d, want 1", n)
	}
	if n := watcher.count(EventPresenceChanged); n != 1 {
		t.Errorf("presence broadcasts: got %d, want 1", n)
	}
	if registry.ConnectionCount() != 1 {
		t.Errorf("ConnectionCount: got %d, want 1", registry.ConnectionCount())
	}

	// never registered at all
	hub.OnDisconnect(ctx, newTestConn("ghost", "G"), nil)
	if n := len(store.calls()); n != 1 {
		t.Errorf("unknown disconnect persisted: %d upserts", n)
	}
}

func TestPresence_StoreUnavailable(t *testing.T) {
	store := newRecordingStore()
	store.failGet = true
	store.failPut = true
	hub, _, _ := newTestPresenceHub(store)
	ctx := context.Background()

	watcher := newTestConn("w", "W")
	if err := hub.OnConnect(ctx, watcher); err != nil {
		t.Fatalf("OnConnect with store down: %v", err)
	}
	var pc PresenceChanged
	watcher.last(t, EventPresenceChanged, &pc)
	if !reflect.DeepEqual(pc.OnlineUsers, []string{"W"}) {
		t.Errorf("online with store down: got %v", pc.OnlineUsers)
	}

	a := newTestConn("a", "A")
	hub.OnConnect(ctx, a)
	hub.OnDisconnect(ctx, a, nil)

	calls := store.calls()
	if len(calls) != 1 {
		t.Fatalf("upsert attempts: got %d, want 1", len(calls))
	}

	// the broadcast still carries the timestamp that failed to persist
	watcher.last(t, EventPresenceChanged, &pc)
	if !reflect.DeepEqual(pc.OnlineUsers, []string{"W"}) {
		t.Errorf("online after A left: got %v", pc.OnlineUsers)
	}
	if !pc.LastSeen["A"].Equal(calls[0].at) {
		t.Errorf("last seen A: got %v, want %v", pc.LastSeen["A"], calls[0].at)
	}
}

func TestPresence_LastSeenMonotonic(t *testing.T) {
	store := newRecordingStore()
	hub, _, _ := newTestPresenceHub(store)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	hub.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		c := newTestConn(fmt.Sprintf("a%d", i), "A")
		hub.OnConnect(ctx, c)
		clock = clock.Add(time.Minute)
		hub.OnDisconnect(ctx, c, nil)
	}

	at, found, err := store.GetOne(ctx, "A")
	if err != nil || !found {
		t.Fatalf("GetOne: found=%v err=%v", found, err)
	}
	if want := base.Add(3 * time.Minute); !at.Equal(want) {
		t.Errorf("last seen: got %v, want %v", at, want)
	}

	// a late write carrying an older time does not move last seen back
	store.Upsert(ctx, "A", base)
	at, _, _ = store.GetOne(ctx, "A")
	if want := base.Add(3 * time.Minute); !at.Equal(want) {
		t.Errorf("last seen after stale write: got %v, want %v", at, want)
	}
}

func TestPresence_ConcurrentChurn(t *testing.T) {
	store := newRecordingStore()
	hub, router, registry := newTestPresenceHub(store)
	ctx := context.Background()

	watcher := newTestConn("watcher", "watcher")
	hub.OnConnect(ctx, watcher)

	const users, devices = 10, 3
	conns := make([]*testConn, 0, users*devices)
	for u := 0; u < users; u++ {
		for d := 0; d < devices; d++ {
			conns = append(conns, newTestConn(fmt.Sprintf("u%d-d%d", u, d), fmt.Sprintf("user-%d", u)))
		}
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *testConn) {
			defer wg.Done()
			hub.OnConnect(ctx, c)
		}(c)
	}
	wg.Wait()

	if got := registry.Count(); got != users+1 {
		t.Fatalf("online users: got %d, want %d", got, users+1)
	}
	// one identity per user, whichever device won the race
	identities := 0
	for _, c := range conns {
		identities += c.count(EventIdentityAssigned)
	}
	if identities != users {
		t.Errorf("identity events: got %d, want %d", identities, users)
	}

	watcher.reset()
	for _, c := range conns {
		wg.Add(1)
		go func(c *testConn) {
			defer wg.Done()
			hub.OnDisconnect(ctx, c, nil)
		}(c)
	}
	wg.Wait()

	if n := len(store.calls()); n != users {
		t.Errorf("upserts: got %d, want %d", n, users)
	}
	if n := watcher.count(EventPresenceChanged); n != users {
		t.Errorf("presence broadcasts: got %d, want %d", n, users)
	}
	if got := registry.Snapshot(); !reflect.DeepEqual(got, []string{"watcher"}) {
		t.Errorf("online at the end: got %v", got)
	}
	if router.Attached() != 1 {
		t.Errorf("attached at the end: got %d, want 1", router.Attached())
	}

	// the final announcement reflects the final state
	var pc PresenceChanged
	watcher.last(t, EventPresenceChanged, &pc)
	if !reflect.DeepEqual(pc.OnlineUsers, []string{"watcher"}) {
		t.Errorf("last announced online set: got %v", pc.OnlineUsers)
	}
	if len(pc.LastSeen) != users {
		t.Errorf("last announced last seen map: got %d entries, want %d", len(pc.LastSeen), users)
	}
}

func TestPresence_Views(t *testing.T) {
	store := newRecordingStore()
	hub, _, _ := newTestPresenceHub(store)
	ctx := context.Background()

	a := newTestConn("a", "A")
	b := newTestConn("b", "B")
	hub.OnConnect(ctx, a)
	hub.OnConnect(ctx, b)
	hub.OnDisconnect(ctx, a, nil)

	online, lastSeen, err := hub.Presence(ctx)
	if err != nil {
		t.Fatalf("Presence: %v", err)
	}
	if !reflect.DeepEqual(online, []string{"B"}) {
		t.Errorf("online: got %v", online)
	}
	if _, found := lastSeen["A"]; !found {
		t.Errorf("last seen: got %v, want an entry for A", lastSeen)
	}

	p, err := hub.UserPresence(ctx, "A")
	if err != nil {
		t.Fatalf("UserPresence A: %v", err)
	}
	if p.Online || p.LastSeen == nil {
		t.Errorf("A: got online=%v lastSeen=%v", p.Online, p.LastSeen)
	}

	p, err = hub.UserPresence(ctx, "B")
	if err != nil {
		t.Fatalf("UserPresence B: %v", err)
	}
	if !p.Online || p.LastSeen != nil {
		t.Errorf("B: got online=%v lastSeen=%v", p.Online, p.LastSeen)
	}
}
