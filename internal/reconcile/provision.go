package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wgfleet/wgfleet/internal/event"
	"github.com/wgfleet/wgfleet/internal/ipalloc"
	"github.com/wgfleet/wgfleet/internal/services"
	"github.com/wgfleet/wgfleet/internal/wgconf"
	"github.com/wgfleet/wgfleet/pkg/models"
)

// ProvisionPeer creates a peer on the interface with fresh key material and
// a newly allocated address, then rewrites the config file. The returned peer
// carries the private and preshared keys; this is the only time the private
// key is available for handing to the client.
func (e *Engine) ProvisionPeer(ctx context.Context, interfaceID, name string) (*models.Peer, error) {
	iface, err := e.interfaces.Get(ctx, interfaceID)
	if err != nil {
		return nil, err
	}

	privateKey, publicKey, err := e.keys.NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("provision peer on %s: %w", iface.Name, err)
	}
	presharedKey, err := e.keys.NewPresharedKey()
	if err != nil {
		return nil, fmt.Errorf("provision peer on %s: %w", iface.Name, err)
	}

	unlock := e.alloc.Lock(iface.Name)
	defer unlock()

	used, err := e.peers.AddressesInUse(ctx, iface.ID)
	if err != nil {
		return nil, err
	}
	address, err := ipalloc.NextAvailable(iface.Subnet, used)
	if err != nil {
		return nil, fmt.Errorf("provision peer on %s: %w", iface.Name, err)
	}
	if e.metrics != nil {
		e.metrics.Allocations.Inc()
	}

	peer := &models.Peer{
		InterfaceID:  iface.ID,
		Name:         name,
		PublicKey:    publicKey,
		PrivateKey:   privateKey,
		PresharedKey: presharedKey,
		AllowedIPs:   []string{address + "/32"},
		Address:      address,
		Keepalive:    iface.Keepalive,
		Status:       models.PeerPending,
		Enabled:      true,
	}
	if err := services.ValidatePeer(peer); err != nil {
		return nil, fmt.Errorf("provision peer on %s: %w", iface.Name, err)
	}
	if err := e.peers.Create(ctx, peer); err != nil {
		return nil, fmt.Errorf("provision peer on %s: %w", iface.Name, err)
	}

	if err := e.RewriteConfig(ctx, iface); err != nil {
		return nil, err
	}

	e.publish(ctx, event.TopicPeerCreated, iface.Name, peer.PublicKey)
	e.logger.Info("peer provisioned",
		zap.String("interface", iface.Name),
		zap.String("address", address))
	return peer, nil
}

// RemovePeer deletes the peer and rewrites the owning interface's config.
func (e *Engine) RemovePeer(ctx context.Context, peerID string) error {
	peer, err := e.peers.Get(ctx, peerID)
	if err != nil {
		return err
	}
	iface, err := e.interfaces.Get(ctx, peer.InterfaceID)
	if err != nil {
		return err
	}
	if err := e.peers.Delete(ctx, peerID); err != nil {
		return err
	}
	return e.RewriteConfig(ctx, iface)
}

// SetPeerEnabled flips the peer's enabled flag. Disabled peers keep their
// address and keys but are dropped from the config file and skipped by the
// live status sync until re-enabled.
func (e *Engine) SetPeerEnabled(ctx context.Context, peerID string, enabled bool) (*models.Peer, error) {
	peer, err := e.peers.Get(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if peer.Enabled == enabled {
		return peer, nil
	}

	peer.Enabled = enabled
	if enabled {
		peer.Status = models.PeerPending
	} else {
		peer.Status = models.PeerDisabled
	}
	if err := e.peers.Update(ctx, peer); err != nil {
		return nil, err
	}

	iface, err := e.interfaces.Get(ctx, peer.InterfaceID)
	if err != nil {
		return nil, err
	}
	if err := e.RewriteConfig(ctx, iface); err != nil {
		return nil, err
	}
	return peer, nil
}

// RotatePeerKeys replaces the peer's key material, resets it to pending, and
// rewrites the config file. The old keys stop working as soon as the
// interface reloads.
func (e *Engine) RotatePeerKeys(ctx context.Context, peerID string) (*models.Peer, error) {
	peer, err := e.peers.Get(ctx, peerID)
	if err != nil {
		return nil, err
	}

	privateKey, publicKey, err := e.keys.NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("rotate keys of peer %s: %w", peerID, err)
	}
	presharedKey, err := e.keys.NewPresharedKey()
	if err != nil {
		return nil, fmt.Errorf("rotate keys of peer %s: %w", peerID, err)
	}

	peer.PrivateKey = privateKey
	peer.PublicKey = publicKey
	peer.PresharedKey = presharedKey
	peer.Status = models.PeerPending
	if err := e.peers.Update(ctx, peer); err != nil {
		return nil, err
	}

	iface, err := e.interfaces.Get(ctx, peer.InterfaceID)
	if err != nil {
		return nil, err
	}
	if err := e.RewriteConfig(ctx, iface); err != nil {
		return nil, err
	}
	return peer, nil
}

// RewriteConfig renders the interface's config file from the stored records.
// Unknown directives of an existing file's [Interface] section (PostUp hooks
// and the like) are carried over; the peer sections are fully regenerated
// from enabled peers.
func (e *Engine) RewriteConfig(ctx context.Context, iface *models.Interface) error {
	path := filepath.Join(e.configDir, iface.Name+".conf")

	var extra []wgconf.Directive
	if data, err := os.ReadFile(path); err == nil {
		if old, err := wgconf.Parse(string(data)); err == nil {
			extra = old.Interface.Extra
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	address, err := serverAddress(iface.Subnet)
	if err != nil {
		return fmt.Errorf("rewrite config of %s: %w", iface.Name, err)
	}

	cfg := &wgconf.Config{
		Interface: wgconf.InterfaceSection{
			Address:     address,
			ListenPort:  iface.ListenPort,
			PrivateKey:  iface.PrivateKey,
			MTU:         iface.MTU,
			DNS:         iface.DNS,
			DisableIPv6: !iface.IPv6Enabled,
			Extra:       extra,
		},
	}

	peers, err := e.peers.ListByInterface(ctx, iface.ID)
	if err != nil {
		return err
	}
	for _, p := range peers {
		if !p.Enabled {
			continue
		}
		allowed := p.AllowedIPs
		if len(allowed) == 0 {
			allowed = []string{p.Address + "/32"}
		}
		cfg.Peers = append(cfg.Peers, wgconf.PeerSection{
			PublicKey:           p.PublicKey,
			AllowedIPs:          allowed,
			PersistentKeepalive: p.Keepalive,
			PresharedKey:        p.PresharedKey,
			Endpoint:            p.Endpoint,
		})
	}

	if err := os.WriteFile(path, []byte(wgconf.Serialize(cfg)), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// RenderPeerConfig renders the client-side config for a peer. The peer must
// still carry its private key; peers imported from a hand-edited server
// config never do.
func RenderPeerConfig(iface *models.Interface, peer *models.Peer, serverEndpoint string) (string, error) {
	if peer.PrivateKey == "" {
		return "", fmt.Errorf("peer %s: private key not held", peer.PublicKey)
	}
	cfg := &wgconf.Config{
		Interface: wgconf.InterfaceSection{
			Address:    peer.Address + "/32",
			PrivateKey: peer.PrivateKey,
			MTU:        iface.MTU,
			DNS:        iface.DNS,
		},
		Peers: []wgconf.PeerSection{{
			PublicKey:           iface.PublicKey,
			AllowedIPs:          []string{iface.Subnet},
			PersistentKeepalive: peer.Keepalive,
			PresharedKey:        peer.PresharedKey,
			Endpoint:            serverEndpoint,
		}},
	}
	return wgconf.Serialize(cfg), nil
}

// serverAddress returns the interface's own address inside its subnet, the
// first usable host with the subnet's prefix length.
func serverAddress(subnet string) (string, error) {
	prefix, err := netip.ParsePrefix(subnet)
	if err != nil {
		return "", fmt.Errorf("parse subnet %q: %w", subnet, err)
	}
	prefix = prefix.Masked()
	return fmt.Sprintf("%s/%d", prefix.Addr().Next(), prefix.Bits()), nil
}
