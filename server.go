package chathub

import (
	"compress/flate"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP front of the hub. It owns the router, the listener and the shutdown
// signalling; the websocket hub itself is mounted onto Router() by the caller.
type Server interface {
	Config() *Config

	WaitGroup() *sync.WaitGroup
	StopChan() chan bool
	Stopped() bool

	// Router is the root router, used for routes that must not be compressed or timed out
	// such as the websocket upgrade
	Router() chi.Router

	// APIRouter is a sub router with compression and request timeouts applied
	APIRouter() chi.Router

	Start() error
	Stop() error
}

// NewServer creates a new Server for the passed in configuration. The server will have to be started
// afterwards, which is when configuration options are checked.
func NewServer(config *Config) Server {
	return NewServerWithLogger(config, logrus.StandardLogger())
}

// NewServerWithLogger creates a new Server for the passed in configuration and logger.
func NewServerWithLogger(config *Config, logger *logrus.Logger) Server {
	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	api := router.With(
		middleware.Compress(flate.DefaultCompression),
		middleware.Timeout(30*time.Second),
	)

	return &server{
		config: config,
		logger: logger,

		router: router,
		api:    api,

		stopChan:  make(chan bool),
		waitGroup: &sync.WaitGroup{},
		stopped:   false,
	}
}

// Start starts the Server listening for incoming requests. Listener errors after startup are
// logged rather than returned.
func (s *server) Start() error {
	s.router.NotFound(s.handle404)
	s.router.MethodNotAllowed(s.handle405)

	// no write timeout, websocket connections are long lived
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Address, s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 30 * time.Second,
	}

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			s.logger.WithFields(logrus.Fields{
				"comp":  "server",
				"state": "stopping",
				"err":   err,
			}).Error()
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"comp":    "server",
		"port":    s.config.Port,
		"state":   "started",
		"version": s.config.Version,
	}).Info("server listening on ", s.config.Port)

	return nil
}

func (s *server) Stop() error {
	log := s.logger.WithField("comp", "server")
	log.WithField("state", "stopping").Info("stopping server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// shut down our HTTP server
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.WithField("state", "stopping").WithError(err).Error("error shutting down server")
	}

	// stop everything
	s.stopped = true
	close(s.stopChan)

	// wait for everything to stop
	s.waitGroup.Wait()

	log.WithField("state", "stopped").Info("server stopped")
	return nil
}

func (s *server) WaitGroup() *sync.WaitGroup { return s.waitGroup }
func (s *server) StopChan() chan bool        { return s.stopChan }
func (s *server) Config() *Config            { return s.config }
func (s *server) Stopped() bool              { return s.stopped }
func (s *server) Router() chi.Router         { return s.router }
func (s *server) APIRouter() chi.Router      { return s.api }

type server struct {
	httpServer *http.Server
	router     *chi.Mux
	api        chi.Router
	logger     *logrus.Logger

	config *Config

	waitGroup *sync.WaitGroup
	stopChan  chan bool
	stopped   bool
}

func (s *server) handle404(w http.ResponseWriter, r *http.Request) {
	s.logger.WithField("url", r.URL.String()).WithField("method", r.Method).WithField("resp_status", "404").Info("not found")
	w.WriteHeader(http.StatusNotFound)
	_, err := fmt.Fprintf(w, "Not Found")
	if err != nil {
		s.logger.WithError(err).Error()
	}
}

func (s *server) handle405(w http.ResponseWriter, r *http.Request) {
	s.logger.WithField("url", r.URL.String()).WithField("method", r.Method).WithField("resp_status", "405").Info("invalid method")
	w.WriteHeader(http.StatusMethodNotAllowed)
	_, err := fmt.Fprintf(w, "Method Not Allowed")
	if err != nil {
		s.logger.WithError(err).Error()
	}
}
