package webchat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/realtimechat/chathub/auth"
	"github.com/realtimechat/chathub/presence"
	"github.com/realtimechat/chathub/subscribers"
	"github.com/sirupsen/logrus"
)

// Options tunes delivery and transport limits
type Options struct {
	SendTimeout      time.Duration
	SendBuffer       int
	BroadcastWorkers int
	MaxMessageSize   int64
}

// DefaultOptions returns the limits used when none are configured
func DefaultOptions() Options {
	return Options{
		SendTimeout:      5 * time.Second,
		SendBuffer:       64,
		BroadcastWorkers: 32,
		MaxMessageSize:   32 * 1024,
	}
}

// Hub ties together the registry, the router and the presence and messaging hubs for the
// lifetime of the process
type Hub struct {
	Presence  *PresenceHub
	Messaging *MessagingHub

	registry *subscribers.Registry
	router   *Router
	opts     Options
	upgrader websocket.Upgrader

	// closing is set once Shutdown starts, after which no client is admitted. mu also
	// covers clients.Add so it never races with clients.Wait.
	mu      sync.Mutex
	closing bool
	clients sync.WaitGroup
}

// NewHub builds a hub with a fresh registry, every user starts offline
func NewHub(store presence.Store, resolver auth.Resolver, opts Options) *Hub {
	defaults := DefaultOptions()
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaults.SendTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.BroadcastWorkers <= 0 {
		opts.BroadcastWorkers = defaults.BroadcastWorkers
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}

	registry := subscribers.NewRegistry()
	router := NewRouter(registry, opts.SendTimeout, opts.BroadcastWorkers)

	return &Hub{
		Presence:  NewPresenceHub(registry, store, router, resolver),
		Messaging: NewMessagingHub(router),
		registry:  registry,
		router:    router,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 8 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

// Registry returns the hub's connection registry
func (h *Hub) Registry() *subscribers.Registry { return h.registry }

// Router returns the hub's broadcast router
func (h *Hub) Router() *Router { return h.router }

// Shutdown closes every attached client and waits for their disconnects to be processed,
// which persists last-seen for everyone still online
func (h *Hub) Shutdown(ctx context.Context) error {
	log := logrus.WithField("comp", "hub")

	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	conns := h.router.targets(func(Conn) bool { return true })
	log.WithField("clients", len(conns)).Info("closing client connections")

	for _, c := range conns {
		if closer, ok := c.(interface{ Close() }); ok {
			closer.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		h.clients.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("hub stopped")
		return nil
	case <-ctx.Done():
		log.Warn("timed out waiting for clients to disconnect")
		return ctx.Err()
	}
}

// admit reserves a place for a new client, returning false once the hub is shutting down
func (h *Hub) admit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return false
	}
	h.clients.Add(1)
	return true
}

func (h *Hub) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// disconnect runs the presence disconnect path for c exactly once
func (h *Hub) disconnect(c *Client, reason error) {
	c.disconnectOnce.Do(func() {
		defer h.clients.Done()
		h.Presence.OnDisconnect(context.Background(), c, reason)
	})
}
