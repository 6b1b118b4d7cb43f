package testutil

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"github.com/wgfleet/wgfleet/pkg/models"
)

// Key returns a unique, well-formed WireGuard key (base64 of 32 random
// bytes). Not cryptographically meaningful; for fixtures only.
func Key() string {
	u1, u2 := uuid.New(), uuid.New()
	raw := append(u1[:], u2[:]...)
	return base64.StdEncoding.EncodeToString(raw)
}

// NewInterface returns an Interface with sensible defaults, suitable for
// test fixtures. Override individual fields after creation as needed.
func NewInterface(opts ...func(*models.Interface)) models.Interface {
	iface := models.Interface{
		ID:         uuid.New().String(),
		Name:       "wg0",
		Subnet:     "10.8.0.0/24",
		ListenPort: 51820,
		PrivateKey: Key(),
		PublicKey:  Key(),
		MTU:        1420,
		DNS:        []string{"1.1.1.1"},
		Keepalive:  25,
		Status:     models.InterfaceInactive,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&iface)
	}
	return iface
}

// WithName sets the interface name.
func WithName(name string) func(*models.Interface) {
	return func(i *models.Interface) { i.Name = name }
}

// WithSubnet sets the interface subnet.
func WithSubnet(cidr string) func(*models.Interface) {
	return func(i *models.Interface) { i.Subnet = cidr }
}

// WithInterfaceStatus sets the interface lifecycle status.
func WithInterfaceStatus(s models.InterfaceStatus) func(*models.Interface) {
	return func(i *models.Interface) { i.Status = s }
}

// WithPublicKey sets the interface public key.
func WithPublicKey(key string) func(*models.Interface) {
	return func(i *models.Interface) { i.PublicKey = key }
}

// NewPeer returns a Peer attached to the given interface ID with defaults.
func NewPeer(interfaceID string, opts ...func(*models.Peer)) models.Peer {
	p := models.Peer{
		ID:          uuid.New().String(),
		InterfaceID: interfaceID,
		PublicKey:   Key(),
		AllowedIPs:  []string{"10.8.0.2/32"},
		Address:     "10.8.0.2",
		Keepalive:   25,
		Status:      models.PeerPending,
		Enabled:     true,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithAddress sets the peer's assigned address.
func WithAddress(addr string) func(*models.Peer) {
	return func(p *models.Peer) { p.Address = addr }
}

// WithPeerStatus sets the peer connection status.
func WithPeerStatus(s models.PeerStatus) func(*models.Peer) {
	return func(p *models.Peer) { p.Status = s }
}

// WithPeerKey sets the peer public key.
func WithPeerKey(key string) func(*models.Peer) {
	return func(p *models.Peer) { p.PublicKey = key }
}

// WithEnabled sets the peer enabled flag.
func WithEnabled(enabled bool) func(*models.Peer) {
	return func(p *models.Peer) { p.Enabled = enabled }
}
