package webchat

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/realtimechat/chathub/subscribers"
	"github.com/sirupsen/logrus"
)

var (
	// ErrConnectionClosed is returned when sending to a connection that has gone away
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendTimeout is returned when a connection did not accept an event in time
	ErrSendTimeout = errors.New("send timed out")
)

// Conn is one live session as seen by the router. Send must give up once ctx is done.
type Conn interface {
	ID() string
	UserID() string
	Send(ctx context.Context, payload []byte) error
}

// Router fans events out to attached connections. Every call snapshots its targets,
// encodes the event once and delivers to all targets in parallel, each send bounded by
// the send timeout. A failed send only affects its own connection.
//
// Calls return once every send has completed or timed out, so two events routed one after
// the other from the same goroutine arrive in that order.
type Router struct {
	registry *subscribers.Registry
	timeout  time.Duration
	workers  int

	mu    sync.RWMutex
	conns map[string]Conn
}

// NewRouter creates a router resolving per-user targets through registry
func NewRouter(registry *subscribers.Registry, timeout time.Duration, workers int) *Router {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if workers <= 0 {
		workers = 1
	}
	return &Router{
		registry: registry,
		timeout:  timeout,
		workers:  workers,
		conns:    make(map[string]Conn),
	}
}

// Attach makes conn a delivery target
func (r *Router) Attach(conn Conn) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()
}

// Detach removes a connection, returning whether it was attached
func (r *Router) Detach(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, found := r.conns[connID]
	delete(r.conns, connID)
	return found
}

// Attached returns the number of attached connections
func (r *Router) Attached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ToAll delivers ev to every attached connection, returning how many accepted it
func (r *Router) ToAll(ctx context.Context, ev *Event) int {
	return r.dispatch(ctx, ev, r.targets(func(Conn) bool { return true }))
}

// ToOthers delivers ev to every attached connection except excludingConnID
func (r *Router) ToOthers(ctx context.Context, ev *Event, excludingConnID string) int {
	return r.dispatch(ctx, ev, r.targets(func(c Conn) bool { return c.ID() != excludingConnID }))
}

// ToUser delivers ev to every connection the registry holds for userID
func (r *Router) ToUser(ctx context.Context, ev *Event, userID string) int {
	ids := r.registry.Connections(userID)

	r.mu.RLock()
	targets := make([]Conn, 0, len(ids))
	for _, id := range ids {
		if c, found := r.conns[id]; found {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	return r.dispatch(ctx, ev, targets)
}

// ToConnection delivers ev to a single connection
func (r *Router) ToConnection(ctx context.Context, ev *Event, connID string) int {
	r.mu.RLock()
	c, found := r.conns[connID]
	r.mu.RUnlock()

	if !found {
		return 0
	}
	return r.dispatch(ctx, ev, []Conn{c})
}

func (r *Router) targets(include func(Conn) bool) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if include(c) {
			targets = append(targets, c)
		}
	}
	return targets
}

func (r *Router) dispatch(ctx context.Context, ev *Event, targets []Conn) int {
	if len(targets) == 0 {
		return 0
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logrus.WithField("comp", "router").WithField("event", ev.Name).WithError(err).Error("error encoding event")
		return 0
	}

	workers := r.workers
	if workers > len(targets) {
		workers = len(targets)
	}

	var delivered int64
	jobs := make(chan Conn)
	wg := sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				if r.send(ctx, c, ev, payload) {
					atomic.AddInt64(&delivered, 1)
				}
			}
		}()
	}

	for _, c := range targets {
		jobs <- c
	}
	close(jobs)
	wg.Wait()

	return int(delivered)
}

func (r *Router) send(ctx context.Context, c Conn, ev *Event, payload []byte) (ok bool) {
	log := logrus.WithFields(logrus.Fields{
		"comp":    "router",
		"event":   ev.Name,
		"conn_id": c.ID(),
	})

	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("recovered from panic delivering event")
			ok = false
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := c.Send(sendCtx, payload); err != nil {
		log.WithError(err).Debug("delivery failed")
		return false
	}
	return true
}
