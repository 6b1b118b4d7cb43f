// Package server exposes the fleet engine over a small HTTP API: interface
// lifecycle, peer provisioning, profiles, probes, and snapshots. Routing and
// authentication layers beyond this stay out of scope.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wgfleet/wgfleet/internal/probe"
	"github.com/wgfleet/wgfleet/internal/services"
	"github.com/wgfleet/wgfleet/internal/version"
	"github.com/wgfleet/wgfleet/pkg/models"
)

// Engine is the slice of the reconciliation engine the handlers drive.
type Engine interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	SyncAll(ctx context.Context) error
	Discover(ctx context.Context) ([]string, error)
	ProvisionPeer(ctx context.Context, interfaceID, name string) (*models.Peer, error)
	RemovePeer(ctx context.Context, peerID string) error
	SetPeerEnabled(ctx context.Context, peerID string, enabled bool) (*models.Peer, error)
	RotatePeerKeys(ctx context.Context, peerID string) (*models.Peer, error)
}

// Sweeper runs MTU probe sweeps.
type Sweeper interface {
	Run(ctx context.Context, name, host, provider string, candidates []int) (*probe.SweepResult, error)
}

// ProfileManager applies and generates MTU profiles.
type ProfileManager interface {
	SetDefault(ctx context.Context, id string) error
	Apply(ctx context.Context, profileID, interfaceID string) error
	BulkGenerate(ctx context.Context, provider string, baseMTU int, dns []string, keepalive int) ([]models.MTUProfile, error)
}

// Snapshotter saves and restores interface snapshots.
type Snapshotter interface {
	Save(ctx context.Context, interfaceName string) (string, error)
	Restore(ctx context.Context, snap *models.Snapshot) (*models.Interface, error)
}

// Deps collects the server's collaborators.
type Deps struct {
	Interfaces services.InterfaceRepository
	Peers      services.PeerRepository
	Profiles   services.ProfileRepository
	Engine     Engine
	Sweeper    Sweeper
	Manager    ProfileManager
	Snapshots  Snapshotter

	// Gatherer backs the /metrics endpoint. Nil disables it.
	Gatherer prometheus.Gatherer
}

// Server is the wgfleet HTTP server.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a Server listening on addr.
func New(addr string, deps Deps, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second, // Probe sweeps run inside a request.
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
		mux:    mux,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/v1/interfaces", s.handleListInterfaces)
	s.mux.HandleFunc("GET /api/v1/interfaces/{id}", s.handleGetInterface)
	s.mux.HandleFunc("POST /api/v1/interfaces/{id}/start", s.handleStart)
	s.mux.HandleFunc("POST /api/v1/interfaces/{id}/stop", s.handleStop)
	s.mux.HandleFunc("POST /api/v1/interfaces/{id}/restart", s.handleRestart)
	s.mux.HandleFunc("POST /api/v1/interfaces/{id}/probe", s.handleProbe)
	s.mux.HandleFunc("POST /api/v1/interfaces/{id}/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("GET /api/v1/interfaces/{id}/peers", s.handleListPeers)
	s.mux.HandleFunc("POST /api/v1/interfaces/{id}/peers", s.handleProvisionPeer)

	s.mux.HandleFunc("POST /api/v1/sync", s.handleSync)
	s.mux.HandleFunc("POST /api/v1/discover", s.handleDiscover)

	s.mux.HandleFunc("GET /api/v1/peers/{id}/config", s.handlePeerConfig)
	s.mux.HandleFunc("DELETE /api/v1/peers/{id}", s.handleDeletePeer)
	s.mux.HandleFunc("POST /api/v1/peers/{id}/enable", s.handleEnablePeer)
	s.mux.HandleFunc("POST /api/v1/peers/{id}/disable", s.handleDisablePeer)
	s.mux.HandleFunc("POST /api/v1/peers/{id}/rotate", s.handleRotatePeer)

	s.mux.HandleFunc("GET /api/v1/profiles", s.handleListProfiles)
	s.mux.HandleFunc("POST /api/v1/profiles", s.handleCreateProfile)
	s.mux.HandleFunc("POST /api/v1/profiles/{id}/apply", s.handleApplyProfile)
	s.mux.HandleFunc("POST /api/v1/profiles/{id}/default", s.handleSetDefaultProfile)
	s.mux.HandleFunc("POST /api/v1/profiles/generate", s.handleGenerateProfiles)

	s.mux.HandleFunc("POST /api/v1/snapshots/restore", s.handleRestoreSnapshot)

	if s.deps.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's root handler; used by tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Wgfleet-Version", version.Short())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"service": "wgfleet",
		"version": version.Map(),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
