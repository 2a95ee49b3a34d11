package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evalphobia/logrus_sentry"
	"github.com/sirupsen/logrus"

	"github.com/realtimechat/chathub"
	"github.com/realtimechat/chathub/auth"
	"github.com/realtimechat/chathub/handlers"
	"github.com/realtimechat/chathub/presence"
	"github.com/realtimechat/chathub/webchat"
)

func main() {
	config := chathub.LoadConfig("chathub.toml")

	// configure our logger
	logrus.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level '%s'", config.LogLevel)
	}
	logrus.SetLevel(level)

	// if we have a DSN entry, try to initialize it
	if config.SentryDSN != "" {
		hook, err := logrus_sentry.NewSentryHook(config.SentryDSN, []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel})
		if err != nil {
			logrus.Fatalf("Invalid sentry DSN: '%s': %s", config.SentryDSN, err)
		}
		hook.Timeout = 0
		hook.StacktraceConfiguration.Enable = true
		hook.StacktraceConfiguration.Skip = 4
		hook.StacktraceConfiguration.Context = 5
		logrus.StandardLogger().Hooks.Add(hook)
	}

	if config.JWTSecret == "" {
		logrus.Fatal("a JWT secret is required to authenticate connections")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := presence.Open(ctx, presence.Options{
		Backend:  config.PresenceBackend,
		RedisURL: config.RedisURL,
		DSN:      config.DB,
	})
	cancel()
	if err != nil {
		logrus.Fatalf("Error opening presence store: %s", err)
	}

	hub := webchat.NewHub(store, auth.NewJWTResolver(config.JWTSecret, config.JWTUserClaim), webchat.Options{
		SendTimeout:      config.SendTimeout(),
		SendBuffer:       config.SendBuffer,
		BroadcastWorkers: config.BroadcastWorkers,
		MaxMessageSize:   int64(config.MaxMessageSize),
	})

	server := chathub.NewServer(config)
	server.Router().Get("/ws", hub.ServeWS)
	handlers.NewAPI(hub, config.APIToken).Mount(server.APIRouter())
	err = server.Start()
	if err != nil {
		logrus.Fatalf("Error starting server: %s", err)
	}

	// stop server on signal received
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	logrus.WithField("comp", "main").WithField("signal", <-ch).Info("stopping")

	// stop accepting first, the listener shutdown does not wait for upgraded sockets
	server.Stop()

	// close every socket so last seen is persisted for everyone still online
	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := hub.Shutdown(ctx); err != nil {
		logrus.WithField("comp", "main").WithError(err).Error("error shutting down hub")
	}

	if err := store.Close(); err != nil {
		logrus.WithField("comp", "main").WithError(err).Error("error closing presence store")
	}
}
