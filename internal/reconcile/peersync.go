package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/wgfleet/wgfleet/internal/event"
	"github.com/wgfleet/wgfleet/internal/ipalloc"
	"github.com/wgfleet/wgfleet/internal/services"
	"github.com/wgfleet/wgfleet/internal/wgconf"
	"github.com/wgfleet/wgfleet/internal/wgnet"
	"github.com/wgfleet/wgfleet/pkg/models"
)

// ReconcileFromConfig brings the peer records for iface in line with the
// [Peer] sections of its parsed config. Known peers (matched by public key)
// have their config-borne fields refreshed; unknown peers are created with an
// address taken from AllowedIPs when one fits the subnet, otherwise freshly
// allocated.
func (e *Engine) ReconcileFromConfig(ctx context.Context, iface *models.Interface, cfg *wgconf.Config) error {
	for _, section := range cfg.Peers {
		if section.PublicKey == "" {
			e.logger.Warn("peer section without PublicKey skipped",
				zap.String("interface", iface.Name))
			continue
		}

		existing, err := e.peers.GetByPublicKey(ctx, iface.ID, section.PublicKey)
		switch {
		case errors.Is(err, services.ErrNotFound):
			if err := e.createPeerFromSection(ctx, iface, section); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			existing.AllowedIPs = section.AllowedIPs
			existing.Keepalive = section.PersistentKeepalive
			existing.PresharedKey = section.PresharedKey
			existing.Endpoint = section.Endpoint
			if err := e.peers.Update(ctx, existing); err != nil {
				return fmt.Errorf("refresh peer %s on %s: %w", section.PublicKey, iface.Name, err)
			}
		}
	}
	return nil
}

func (e *Engine) createPeerFromSection(ctx context.Context, iface *models.Interface, section wgconf.PeerSection) error {
	unlock := e.alloc.Lock(iface.Name)
	defer unlock()

	used, err := e.peers.AddressesInUse(ctx, iface.ID)
	if err != nil {
		return err
	}

	address := addressFromAllowedIPs(section.AllowedIPs, iface.Subnet, used)
	if address == "" {
		address, err = ipalloc.NextAvailable(iface.Subnet, used)
		if err != nil {
			return fmt.Errorf("allocate address on %s: %w", iface.Name, err)
		}
		if e.metrics != nil {
			e.metrics.Allocations.Inc()
		}
	}

	// The server config never carries a foreign private key; new records
	// get a fresh one so a client config can still be issued later.
	privateKey, _, err := e.keys.NewKeyPair()
	if err != nil {
		return fmt.Errorf("generate key for peer on %s: %w", iface.Name, err)
	}

	peer := &models.Peer{
		InterfaceID:  iface.ID,
		PublicKey:    section.PublicKey,
		PrivateKey:   privateKey,
		PresharedKey: section.PresharedKey,
		AllowedIPs:   section.AllowedIPs,
		Address:      address,
		Endpoint:     section.Endpoint,
		Keepalive:    section.PersistentKeepalive,
		Status:       models.PeerPending,
		Enabled:      true,
	}
	if err := services.ValidatePeer(peer); err != nil {
		return fmt.Errorf("register peer %s on %s: %w", section.PublicKey, iface.Name, err)
	}
	if err := e.peers.Create(ctx, peer); err != nil {
		return fmt.Errorf("register peer %s on %s: %w", section.PublicKey, iface.Name, err)
	}

	e.publish(ctx, event.TopicPeerCreated, iface.Name, peer.PublicKey)
	e.logger.Info("peer registered from config",
		zap.String("interface", iface.Name),
		zap.String("address", address))
	return nil
}

// addressFromAllowedIPs returns the first single-host AllowedIPs entry that
// lies inside the subnet and is not already taken, or "" when none fits.
func addressFromAllowedIPs(allowedIPs []string, subnet string, used map[string]struct{}) string {
	prefix, err := netip.ParsePrefix(subnet)
	if err != nil {
		return ""
	}
	for _, entry := range allowedIPs {
		p, err := netip.ParsePrefix(entry)
		if err != nil || !p.IsSingleIP() {
			continue
		}
		addr := p.Addr()
		if !prefix.Contains(addr) {
			continue
		}
		if _, taken := used[addr.String()]; taken {
			continue
		}
		return addr.String()
	}
	return ""
}

// ReconcileLiveStatus folds the kernel's per-peer handshake and transfer
// state into the peer records. A peer whose last handshake is recent becomes
// connected; the connect counter advances exactly once per transition.
// Disabled peers are left untouched. Interface transfer totals are refreshed
// from the live peer set.
func (e *Engine) ReconcileLiveStatus(ctx context.Context, iface *models.Interface) error {
	live, err := e.ctrl.LivePeers(ctx, iface.Name)
	if err != nil {
		return fmt.Errorf("live peers of %s: %w", iface.Name, err)
	}
	byKey := make(map[string]wgnet.PeerStatus, len(live))
	for _, s := range live {
		byKey[s.PublicKey] = s
	}

	dbPeers, err := e.peers.ListByInterface(ctx, iface.ID)
	if err != nil {
		return err
	}

	now := e.now()
	var rx, tx int64
	for i := range dbPeers {
		p := &dbPeers[i]
		if !p.Enabled || p.Status == models.PeerDisabled {
			continue
		}

		status, seen := byKey[p.PublicKey]
		if seen && status.Active(now) {
			if p.Status != models.PeerConnected {
				p.ConnectCount++
				if p.FirstSeen.IsZero() {
					p.FirstSeen = now
				}
				p.Status = models.PeerConnected
				e.publish(ctx, event.TopicPeerConnected, iface.Name, p.PublicKey)
			} else if !p.LastSeen.IsZero() && now.After(p.LastSeen) {
				p.TotalUptime += int64(now.Sub(p.LastSeen).Seconds())
			}
			p.LastSeen = now
			p.LastHandshake = status.LastHandshake
			p.Endpoint = status.Endpoint
			p.RxBytes = status.RxBytes
			p.TxBytes = status.TxBytes
		} else if p.Status == models.PeerConnected {
			if !p.LastSeen.IsZero() && now.After(p.LastSeen) {
				p.TotalUptime += int64(now.Sub(p.LastSeen).Seconds())
			}
			p.Status = models.PeerDisconnected
			e.publish(ctx, event.TopicPeerDisconnected, iface.Name, p.PublicKey)
		}

		if err := e.peers.Update(ctx, p); err != nil {
			return fmt.Errorf("update peer %s on %s: %w", p.PublicKey, iface.Name, err)
		}
		rx += p.RxBytes
		tx += p.TxBytes
	}

	iface.RxBytes = rx
	iface.TxBytes = tx
	if err := e.interfaces.Update(ctx, iface); err != nil {
		return fmt.Errorf("update transfer totals of %s: %w", iface.Name, err)
	}
	return nil
}

// disconnectAllPeers marks every connected peer of a stopped interface
// disconnected, folding the open session into its uptime.
func (e *Engine) disconnectAllPeers(ctx context.Context, iface *models.Interface, now time.Time) error {
	dbPeers, err := e.peers.ListByInterface(ctx, iface.ID)
	if err != nil {
		return err
	}
	for i := range dbPeers {
		p := &dbPeers[i]
		if p.Status != models.PeerConnected {
			continue
		}
		if !p.LastSeen.IsZero() && now.After(p.LastSeen) {
			p.TotalUptime += int64(now.Sub(p.LastSeen).Seconds())
		}
		p.Status = models.PeerDisconnected
		if err := e.peers.Update(ctx, p); err != nil {
			return fmt.Errorf("disconnect peer %s on %s: %w", p.PublicKey, iface.Name, err)
		}
		e.publish(ctx, event.TopicPeerDisconnected, iface.Name, p.PublicKey)
	}
	return nil
}
