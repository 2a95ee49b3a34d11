package webchat

import (
	"context"
	"net/http"

	"github.com/chilts/sid"
	"github.com/realtimechat/chathub/auth"
	"github.com/sirupsen/logrus"
)

// ServeWS authenticates the handshake, upgrades it and runs the client until it goes away.
// Unauthenticated requests, and any request once the hub is shutting down, are refused
// before anything is registered.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	log := logrus.WithField("comp", "hub").WithField("remote", r.RemoteAddr)

	userID, err := h.Presence.Authenticate(auth.TokenFromRequest(r))
	if err != nil {
		log.WithError(err).Info("refusing unauthenticated connection")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.admit() {
		log.Info("refusing connection, hub is shutting down")
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response
		log.WithError(err).Error("failed to upgrade connection")
		h.clients.Done()
		return
	}

	client := newClient(h, conn, sid.IdBase64(), userID)
	go client.writePump()

	if err := h.Presence.OnConnect(context.Background(), client); err != nil {
		log.WithError(err).Error("failed to register connection")
		client.Close()
		h.clients.Done()
		return
	}

	go client.readPump()

	// Shutdown may have listed the attached clients before this one was attached
	if h.isClosing() {
		client.Close()
	}
}
