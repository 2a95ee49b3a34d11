package handlers

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
	"github.com/realtimechat/chathub/utils"
	"github.com/realtimechat/chathub/webchat"
	"github.com/sirupsen/logrus"
)

type editMessagePayload struct {
	Content string `json:"content" validate:"required"`
}

type userStatusPayload struct {
	Status string `json:"status" validate:"required"`
}

type presencePayload struct {
	OnlineUsers []string             `json:"onlineUsers"`
	LastSeen    map[string]time.Time `json:"lastSeenByUser"`
	Count       int                  `json:"count"`
	Connections int                  `json:"connections"`
}

type pingPayload struct {
	PID      int64  `json:"pid"`
	HostName string `json:"hostname"`
	UpTime   int64  `json:"uptime"`
	FreeMem  int64  `json:"free_mem"`
}

func messageID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid message id '%s'", chi.URLParam(r, "messageID"))
	}
	return id, nil
}

// MessageSentHandler relays a saved message to every connection
func (a *API) MessageSentHandler(w http.ResponseWriter, r *http.Request) {
	payload := &webchat.Message{}
	if err := utils.DecodeAndValidateJSON(payload, r); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.hub.Messaging.NotifyMessageSent(r.Context(), payload); err != nil {
		writeHubError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "message sent", payload)
}

// MessageEditedHandler relays the new content of a saved message
func (a *API) MessageEditedHandler(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err)
		return
	}

	payload := &editMessagePayload{}
	if err := utils.DecodeAndValidateJSON(payload, r); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.hub.Messaging.NotifyMessageEdited(r.Context(), id, payload.Content); err != nil {
		writeHubError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "message edited", nil)
}

// MessageDeletedHandler relays the removal of a message
func (a *API) MessageDeletedHandler(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.hub.Messaging.NotifyMessageDeleted(r.Context(), id); err != nil {
		writeHubError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "message deleted", nil)
}

// UserStatusHandler relays a user's new status text
func (a *API) UserStatusHandler(w http.ResponseWriter, r *http.Request) {
	payload := &userStatusPayload{}
	if err := utils.DecodeAndValidateJSON(payload, r); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.hub.Messaging.NotifyUserStatus(r.Context(), chi.URLParam(r, "userID"), payload.Status); err != nil {
		writeHubError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "status updated", nil)
}

// PresenceHandler returns who is online and when everyone else was last seen. The online
// set comes from memory, so it is still answered when the store is down.
func (a *API) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	online, lastSeen, err := a.hub.Presence.Presence(r.Context())
	if err != nil {
		logrus.WithField("comp", "api").WithError(err).Error("error reading last seen, answering partial presence")
	}
	if lastSeen == nil {
		lastSeen = map[string]time.Time{}
	}

	utils.WriteJSON(w, http.StatusOK, "presence", &presencePayload{
		OnlineUsers: online,
		LastSeen:    lastSeen,
		Count:       len(online),
		Connections: a.hub.Registry().ConnectionCount(),
	})
}

// UserPresenceHandler returns the presence of one user, without a last seen time when the
// store cannot be read
func (a *API) UserPresenceHandler(w http.ResponseWriter, r *http.Request) {
	p, err := a.hub.Presence.UserPresence(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		logrus.WithField("comp", "api").WithError(err).Error("error reading last seen, answering partial presence")
	}
	utils.WriteJSON(w, http.StatusOK, "presence", p)
}

// PingHandler reports basic process health
func (a *API) PingHandler(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		logrus.WithField("comp", "api").WithError(err).Error("error reading hostname")
	}

	utils.WriteJSON(w, http.StatusOK, "pong", &pingPayload{
		PID:      int64(os.Getpid()),
		HostName: hostname,
		UpTime:   int64(time.Since(a.startTime).Seconds()),
		FreeMem:  int64(memory.FreeMemory()),
	})
}
