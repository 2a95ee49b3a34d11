package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/realtimechat/chathub/auth"
	"github.com/realtimechat/chathub/utils"
	"github.com/realtimechat/chathub/webchat"
	"github.com/sirupsen/logrus"
)

var errUnauthorized = errors.New("missing or invalid API token")

// API exposes the hub to the chat API, which calls these hooks once it has saved a change
type API struct {
	hub       *webchat.Hub
	token     string
	startTime time.Time
}

// NewAPI creates the hook handlers for hub. When token is not empty every hook requires it
// as a bearer token.
func NewAPI(hub *webchat.Hub, token string) *API {
	return &API{hub: hub, token: token, startTime: time.Now()}
}

// Mount registers every route on r
func (a *API) Mount(r chi.Router) {
	r.Get("/ping", a.PingHandler)

	hooks := r.With(a.authenticate)
	hooks.Post("/messages", a.MessageSentHandler)
	hooks.Put("/messages/{messageID}", a.MessageEditedHandler)
	hooks.Delete("/messages/{messageID}", a.MessageDeletedHandler)
	hooks.Put("/users/{userID}/status", a.UserStatusHandler)
	hooks.Get("/presence", a.PresenceHandler)
	hooks.Get("/presence/{userID}", a.UserPresenceHandler)
}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token != "" {
			token, ok := auth.BearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
				logrus.WithField("comp", "api").WithField("url", r.URL.String()).Info("rejected request without API token")
				utils.WriteError(w, http.StatusUnauthorized, errUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// writeHubError maps an error returned by the hub onto a response
func writeHubError(w http.ResponseWriter, err error) {
	if errors.Is(err, webchat.ErrInvalidEvent) {
		utils.WriteError(w, http.StatusBadRequest, err)
		return
	}
	logrus.WithField("comp", "api").WithError(err).Error("error handling request")
	utils.WriteError(w, http.StatusInternalServerError, err)
}
