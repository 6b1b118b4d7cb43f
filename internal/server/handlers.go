package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/wgfleet/wgfleet/internal/reconcile"
	"github.com/wgfleet/wgfleet/internal/services"
	"github.com/wgfleet/wgfleet/pkg/models"
)

func (s *Server) handleListInterfaces(w http.ResponseWriter, r *http.Request) {
	opts := services.ListOptions{
		Limit:     queryInt(r, "limit", 0),
		Offset:    queryInt(r, "offset", 0),
		SortBy:    r.URL.Query().Get("sort"),
		SortOrder: r.URL.Query().Get("order"),
	}
	result, err := s.deps.Interfaces.List(r.Context(), opts)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetInterface(w http.ResponseWriter, r *http.Request) {
	iface, err := s.deps.Interfaces.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iface)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.deps.Engine.Start)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.deps.Engine.Stop)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.deps.Engine.Restart)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error) {
	id := r.PathValue("id")
	if err := op(r.Context(), id); err != nil {
		WriteError(w, r, err)
		return
	}
	iface, err := s.deps.Interfaces.Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iface)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.SyncAll(r.Context()); err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	names, err := s.deps.Engine.Discover(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"discovered": names})
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.deps.Peers.ListByInterface(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, peers)
}

func (s *Server) handleProvisionPeer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, err.Error(), r.URL.Path)
		return
	}

	peer, err := s.deps.Engine.ProvisionPeer(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	// The private and preshared keys are handed out exactly once, here.
	writeJSON(w, http.StatusCreated, struct {
		*models.Peer
		PrivateKey   string `json:"private_key"`
		PresharedKey string `json:"preshared_key"`
	}{peer, peer.PrivateKey, peer.PresharedKey})

	s.logger.Info("peer provisioned via API",
		zap.String("interface_id", peer.InterfaceID),
		zap.String("address", peer.Address))
}

func (s *Server) handlePeerConfig(w http.ResponseWriter, r *http.Request) {
	peer, err := s.deps.Peers.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	iface, err := s.deps.Interfaces.Get(r.Context(), peer.InterfaceID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		BadRequest(w, "endpoint query parameter is required", r.URL.Path)
		return
	}
	text, err := reconcile.RenderPeerConfig(iface, peer, endpoint)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(text))
}

func (s *Server) handleDeletePeer(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.RemovePeer(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnablePeer(w http.ResponseWriter, r *http.Request) {
	s.setPeerEnabled(w, r, true)
}

func (s *Server) handleDisablePeer(w http.ResponseWriter, r *http.Request) {
	s.setPeerEnabled(w, r, false)
}

func (s *Server) setPeerEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	peer, err := s.deps.Engine.SetPeerEnabled(r.Context(), r.PathValue("id"), enabled)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, peer)
}

func (s *Server) handleRotatePeer(w http.ResponseWriter, r *http.Request) {
	peer, err := s.deps.Engine.RotatePeerKeys(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*models.Peer
		PrivateKey   string `json:"private_key"`
		PresharedKey string `json:"preshared_key"`
	}{peer, peer.PrivateKey, peer.PresharedKey})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host       string `json:"host"`
		Candidates []int  `json:"candidates"`
		Provider   string `json:"provider"`
	}
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	if req.Host == "" {
		BadRequest(w, "host is required", r.URL.Path)
		return
	}
	if len(req.Candidates) == 0 {
		BadRequest(w, "candidates are required", r.URL.Path)
		return
	}

	iface, err := s.deps.Interfaces.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	provider := req.Provider
	if provider == "" {
		provider = iface.Provider
	}

	sweep, err := s.deps.Sweeper.Run(r.Context(), iface.Name, req.Host, provider, req.Candidates)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sweep)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	iface, err := s.deps.Interfaces.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	path, err := s.deps.Snapshots.Save(r.Context(), iface.Name)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap models.Snapshot
	if err := decodeBody(r, &snap); err != nil {
		BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	iface, err := s.deps.Snapshots.Restore(r.Context(), &snap)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, iface)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.deps.Profiles.List(r.Context(), r.URL.Query().Get("provider"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var profile models.MTUProfile
	if err := decodeBody(r, &profile); err != nil {
		BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	if err := services.ValidateMTU(profile.MTU); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := s.deps.Profiles.Create(r.Context(), &profile); err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleApplyProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InterfaceID string `json:"interface_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	if req.InterfaceID == "" {
		BadRequest(w, "interface_id is required", r.URL.Path)
		return
	}
	if err := s.deps.Manager.Apply(r.Context(), r.PathValue("id"), req.InterfaceID); err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) handleSetDefaultProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Manager.SetDefault(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "default set"})
}

func (s *Server) handleGenerateProfiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider  string   `json:"provider"`
		BaseMTU   int      `json:"base_mtu"`
		DNS       []string `json:"dns"`
		Keepalive int      `json:"keepalive"`
	}
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	created, err := s.deps.Manager.BulkGenerate(r.Context(), req.Provider, req.BaseMTU, req.DNS, req.Keepalive)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// queryInt extracts an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}
