// Package snapshot exports and restores point-in-time bundles of an
// interface, its config text, and its peers.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wgfleet/wgfleet/internal/services"
	"github.com/wgfleet/wgfleet/pkg/models"
)

// Deps collects the service's collaborators.
type Deps struct {
	Interfaces services.InterfaceRepository
	Peers      services.PeerRepository

	// ConfigDir holds the wg-quick config files.
	ConfigDir string

	// SnapshotDir is where Save writes snapshot bundles.
	SnapshotDir string

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Service creates and restores snapshots.
type Service struct {
	interfaces  services.InterfaceRepository
	peers       services.PeerRepository
	configDir   string
	snapshotDir string
	now         func() time.Time
	logger      *zap.Logger
}

// New creates a snapshot service.
func New(deps Deps, logger *zap.Logger) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		interfaces:  deps.Interfaces,
		peers:       deps.Peers,
		configDir:   deps.ConfigDir,
		snapshotDir: deps.SnapshotDir,
		now:         now,
		logger:      logger,
	}
}

// Create exports the named interface: its record (private key included, the
// restore path needs it), the raw config text, and its peers with secrets
// stripped.
func (s *Service) Create(ctx context.Context, interfaceName string) (*models.Snapshot, error) {
	iface, err := s.interfaces.GetByName(ctx, interfaceName)
	if err != nil {
		return nil, err
	}

	configText := ""
	path := filepath.Join(s.configDir, iface.Name+".conf")
	if data, err := os.ReadFile(path); err == nil {
		configText = string(data)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	peers, err := s.peers.ListByInterface(ctx, iface.ID)
	if err != nil {
		return nil, err
	}
	for i := range peers {
		peers[i].PrivateKey = ""
		peers[i].PresharedKey = ""
	}

	snap := &models.Snapshot{
		Server: models.SnapshotServer{
			Name:        iface.Name,
			Subnet:      iface.Subnet,
			ListenPort:  iface.ListenPort,
			PrivateKey:  iface.PrivateKey,
			PublicKey:   iface.PublicKey,
			MTU:         iface.MTU,
			DNS:         iface.DNS,
			Keepalive:   iface.Keepalive,
			IPv6Enabled: iface.IPv6Enabled,
			Status:      iface.Status,
			Provider:    iface.Provider,
			TotalUptime: iface.TotalUptime,
			RxBytes:     iface.RxBytes,
			TxBytes:     iface.TxBytes,
		},
		Config:    configText,
		Peers:     peers,
		Timestamp: s.now(),
		Version:   models.SnapshotVersion,
	}
	return snap, nil
}

// Save writes the snapshot bundle as JSON under the snapshot dir and returns
// the path. Bundles carry the interface private key and are written 0600.
func (s *Service) Save(ctx context.Context, interfaceName string) (string, error) {
	snap, err := s.Create(ctx, interfaceName)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot of %s: %w", interfaceName, err)
	}

	if err := os.MkdirAll(s.snapshotDir, 0o700); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.json", interfaceName, snap.Timestamp.UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.snapshotDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	s.logger.Info("snapshot written",
		zap.String("interface", interfaceName),
		zap.String("path", path),
		zap.Int("peers", len(snap.Peers)))
	return path, nil
}

// Load reads a snapshot bundle from disk.
func Load(path string) (*models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// Restore recreates the interface, its config file, and its peers from a
// snapshot. It refuses to overwrite: if an interface of the same name already
// exists the call fails with ErrDuplicateInterface before any state changes.
// Restored interfaces come back inactive and restored peers reset to pending.
func (s *Service) Restore(ctx context.Context, snap *models.Snapshot) (*models.Interface, error) {
	if snap.Version != models.SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %q", services.ErrValidation, snap.Version)
	}

	iface := &models.Interface{
		ID:          uuid.New().String(),
		Name:        snap.Server.Name,
		Subnet:      snap.Server.Subnet,
		ListenPort:  snap.Server.ListenPort,
		PrivateKey:  snap.Server.PrivateKey,
		PublicKey:   snap.Server.PublicKey,
		MTU:         snap.Server.MTU,
		DNS:         snap.Server.DNS,
		Keepalive:   snap.Server.Keepalive,
		IPv6Enabled: snap.Server.IPv6Enabled,
		Status:      models.InterfaceInactive,
		Provider:    snap.Server.Provider,
		TotalUptime: snap.Server.TotalUptime,
	}
	if err := services.ValidateInterface(iface); err != nil {
		return nil, fmt.Errorf("restore %s: %w", snap.Server.Name, err)
	}

	// Validate every peer before touching the store so a bad record cannot
	// leave a half-restored interface behind.
	restored := make([]models.Peer, 0, len(snap.Peers))
	for _, p := range snap.Peers {
		peer := p
		peer.ID = ""
		peer.InterfaceID = iface.ID
		peer.Status = models.PeerPending
		peer.LastHandshake = time.Time{}
		peer.LastSeen = time.Time{}
		if err := services.ValidatePeer(&peer); err != nil {
			return nil, fmt.Errorf("restore peer %s of %s: %w", p.PublicKey, iface.Name, err)
		}
		restored = append(restored, peer)
	}

	if _, err := s.interfaces.GetByName(ctx, snap.Server.Name); err == nil {
		return nil, fmt.Errorf("restore %s: %w", snap.Server.Name, services.ErrDuplicateInterface)
	} else if !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}

	if err := s.interfaces.Create(ctx, iface); err != nil {
		return nil, fmt.Errorf("restore %s: %w", snap.Server.Name, err)
	}

	if snap.Config != "" {
		path := filepath.Join(s.configDir, iface.Name+".conf")
		if err := os.WriteFile(path, []byte(snap.Config), 0o600); err != nil {
			return nil, fmt.Errorf("restore config of %s: %w", iface.Name, err)
		}
	}

	for i := range restored {
		if err := s.peers.Create(ctx, &restored[i]); err != nil {
			return nil, fmt.Errorf("restore peer %s of %s: %w", restored[i].PublicKey, iface.Name, err)
		}
	}

	s.logger.Info("snapshot restored",
		zap.String("interface", iface.Name),
		zap.Int("peers", len(snap.Peers)))
	return iface, nil
}
