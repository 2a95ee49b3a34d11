package chathub

import (
	"testing"
	"time"
)

func TestNewConfig(t *testing.T) {
	config := NewConfig()

	if config.Port != 8080 || config.LogLevel != "info" {
		t.Errorf("defaults: got port %d level %s", config.Port, config.LogLevel)
	}
	if config.PresenceBackend != "memory" {
		t.Errorf("presence backend: got %s, want memory", config.PresenceBackend)
	}
	if config.SendTimeout() != 5*time.Second {
		t.Errorf("send timeout: got %v", config.SendTimeout())
	}

	config.SendTimeoutMS = 250
	if config.SendTimeout() != 250*time.Millisecond {
		t.Errorf("send timeout: got %v, want 250ms", config.SendTimeout())
	}
}
