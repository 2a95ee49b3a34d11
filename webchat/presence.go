package webchat

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/realtimechat/chathub/auth"
	"github.com/realtimechat/chathub/presence"
	"github.com/realtimechat/chathub/subscribers"
	"github.com/sirupsen/logrus"
)

// storeTimeout bounds every presence store call made from the connect/disconnect path
const storeTimeout = 5 * time.Second

// UserPresence is the derived view of one user
type UserPresence struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// PresenceHub reacts to connections opening and closing. It owns the only writes to the
// registry and to the presence store.
type PresenceHub struct {
	registry *subscribers.Registry
	store    presence.Store
	router   *Router
	resolver auth.Resolver
	now      func() time.Time

	// serialises presence announcements so clients never see an older online set
	// arrive after a newer one
	announceMu sync.Mutex
}

// NewPresenceHub creates a presence hub over the given collaborators
func NewPresenceHub(registry *subscribers.Registry, store presence.Store, router *Router, resolver auth.Resolver) *PresenceHub {
	return &PresenceHub{
		registry: registry,
		store:    store,
		router:   router,
		resolver: resolver,
		now:      time.Now,
	}
}

// Authenticate resolves a connection token to a user id
func (h *PresenceHub) Authenticate(token string) (string, error) {
	userID, err := h.resolver.Resolve(token)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", errors.Wrap(auth.ErrUnauthenticated, "resolver returned an empty identity")
	}
	return userID, nil
}

// OnConnect registers conn. On the user's first connection it tells the caller its
// identity and announces the new presence to everyone. Further devices of an already
// online user are registered silently.
func (h *PresenceHub) OnConnect(ctx context.Context, conn Conn) error {
	userID := conn.UserID()
	if userID == "" {
		return errors.Wrap(auth.ErrUnauthenticated, "connection has no identity")
	}

	log := logrus.WithFields(logrus.Fields{
		"comp":    "presence",
		"user_id": userID,
		"conn_id": conn.ID(),
	})

	h.router.Attach(conn)
	if !h.registry.Add(userID, conn.ID()) {
		log.Debug("additional connection for online user")
		return nil
	}

	log.Info("user online")
	h.router.ToConnection(ctx, NewIdentityAssigned(userID), conn.ID())
	h.announce(ctx, nil)
	return nil
}

// OnDisconnect unregisters conn using the identity cached at connect time. When that was
// the user's last connection the last-seen time is persisted before the new presence is
// announced to the remaining connections.
func (h *PresenceHub) OnDisconnect(ctx context.Context, conn Conn, reason error) {
	userID := conn.UserID()
	log := logrus.WithFields(logrus.Fields{
		"comp":    "presence",
		"user_id": userID,
		"conn_id": conn.ID(),
	})

	h.router.Detach(conn.ID())
	if !h.registry.Remove(userID, conn.ID()) {
		if h.registry.IsOnline(userID) {
			log.Debug("connection closed, user still online")
		} else {
			log.Warn("disconnect for a connection that was never registered")
		}
		return
	}

	at := h.now()
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	err := h.store.Upsert(storeCtx, userID, at)
	cancel()
	if err != nil {
		log.WithError(err).Error("error persisting last seen")
	}

	if reason != nil {
		log = log.WithField("reason", reason.Error())
	}
	log.Info("user offline")

	h.announce(ctx, map[string]time.Time{userID: at})
}

// Presence returns the online set and every known last-seen time
func (h *PresenceHub) Presence(ctx context.Context) ([]string, map[string]time.Time, error) {
	lastSeen, err := h.store.GetAll(ctx)
	return h.registry.Snapshot(), lastSeen, err
}

// UserPresence returns the presence of a single user
func (h *PresenceHub) UserPresence(ctx context.Context, userID string) (*UserPresence, error) {
	p := &UserPresence{UserID: userID, Online: h.registry.IsOnline(userID)}

	at, found, err := h.store.GetOne(ctx, userID)
	if err != nil {
		return p, err
	}
	if found {
		p.LastSeen = &at
	}
	return p, nil
}

// announce sends the full online set, the last-seen map and the online count to every
// connection. Timestamps in patch override older or missing store values, which covers a
// store that failed or lags behind our own write.
func (h *PresenceHub) announce(ctx context.Context, patch map[string]time.Time) {
	h.announceMu.Lock()
	defer h.announceMu.Unlock()

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	lastSeen, err := h.store.GetAll(storeCtx)
	cancel()
	if err != nil {
		logrus.WithField("comp", "presence").WithError(err).Error("error reading last seen, announcing partial map")
		lastSeen = make(map[string]time.Time, len(patch))
	}
	for userID, at := range patch {
		if current, found := lastSeen[userID]; !found || at.After(current) {
			lastSeen[userID] = at
		}
	}

	online := h.registry.Snapshot()
	h.router.ToAll(ctx, NewPresenceChanged(online, lastSeen))
	h.router.ToAll(ctx, NewConnectionCountChanged(len(online)))
}
