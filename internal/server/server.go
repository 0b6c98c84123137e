// Package server is the voyage HTTP surface: the session websocket plus the
// speech, inventory and status endpoints.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/petervdpas/voyage/internal/agents"
	"github.com/petervdpas/voyage/internal/config"
	"github.com/petervdpas/voyage/internal/inventory"
	"github.com/petervdpas/voyage/internal/session"
	"github.com/petervdpas/voyage/internal/speech"
	"github.com/petervdpas/voyage/internal/util"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("voyage/server")

// Dispatcher accepts human messages for the crew. *agents.Dispatcher.
type Dispatcher interface {
	Dispatch(req agents.Request) bool
}

// AgentLister reports the loaded crew. *agents.Engine.
type AgentLister interface {
	Agents() []agents.Info
}

// Deps wires the server to the rest of the process. Only Registry is
// required.
type Deps struct {
	Config     config.Server
	DefaultKey string
	Registry   *session.Registry
	Dispatcher Dispatcher
	Agents     AgentLister
	Inventory  *inventory.Generator
	Speech     speech.Synthesizer
	Voices     speech.VoiceMap
}

type Server struct {
	d   Deps
	mux *http.ServeMux

	readLimit    int64
	pingPeriod   time.Duration
	writeTimeout time.Duration
}

func New(d Deps) *Server {
	if d.DefaultKey == "" {
		d.DefaultKey = "space"
	}
	if d.Voices.For("") == "" {
		d.Voices = speech.DefaultVoices()
	}
	s := &Server{
		d:            d,
		mux:          http.NewServeMux(),
		readLimit:    d.Config.ReadLimitBytes,
		pingPeriod:   util.Seconds(d.Config.PingSeconds, 30*time.Second),
		writeTimeout: util.Seconds(d.Config.WriteTimeoutSeconds, 10*time.Second),
	}
	if s.readLimit <= 0 {
		s.readLimit = 16 * 1024
	}
	s.routes()
	return s
}

// Handler returns the root handler. Status answers change with every join
// and leave, so nothing is cached.
func (s *Server) Handler() http.Handler { return noCache(s.mux) }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /ws/{session}/{client}/{role}", s.handleWS)
	s.mux.HandleFunc("GET /ws/{client}/{role}", s.handleWS)

	s.mux.HandleFunc("GET /{$}", s.handleHealth)
	s.mux.HandleFunc("GET /architecture", s.handleArchitecture)
	s.mux.HandleFunc("POST /api/speak", s.handleSpeak)
	s.mux.HandleFunc("POST /generate-inventory", s.handleInventory)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{session}/roles", s.handleRoles)
	s.mux.HandleFunc("GET /api/agents", s.handleAgents)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.d.Config.HTTPAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on http://%s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	grace := util.Seconds(s.d.Config.ShutdownSeconds, 5*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("shutdown: %v", err)
		return srv.Close()
	}
	log.Infof("http server stopped")
	return nil
}
