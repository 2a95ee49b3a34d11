package utils

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Response is the envelope every API response is written in
type Response struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// WriteJSON writes data as the body of a response with the passed in status
func WriteJSON(w http.ResponseWriter, status int, message string, data interface{}) {
	body, err := json.Marshal(&Response{Message: message, Data: data})
	if err != nil {
		logrus.WithField("comp", "api").WithError(err).Error("error encoding response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logrus.WithField("comp", "api").WithError(err).Debug("error writing response")
	}
}

// WriteError writes err as the message of a response with the passed in status
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, err.Error(), nil)
}
