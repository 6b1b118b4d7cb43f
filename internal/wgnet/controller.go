package wgnet

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
)

// handshakeWindow is how recent a peer's last handshake must be for the
// peer to count as currently handshaking. WireGuard rekeys at least every
// two minutes on an active session.
const handshakeWindow = 3 * time.Minute

// PeerStatus is one peer's live state as reported by the kernel.
type PeerStatus struct {
	PublicKey     string
	Endpoint      string
	LastHandshake time.Time
	RxBytes       int64
	TxBytes       int64
}

// Active reports whether the peer has handshaked recently enough to be
// considered connected, relative to now.
func (s PeerStatus) Active(now time.Time) bool {
	return !s.LastHandshake.IsZero() && now.Sub(s.LastHandshake) < handshakeWindow
}

// Controller drives one network path by interface name.
type Controller interface {
	// Up brings the interface up via wg-quick.
	Up(ctx context.Context, name string) error

	// Down tears the interface down via wg-quick.
	Down(ctx context.Context, name string) error

	// SetMTU changes the live MTU of the interface.
	SetMTU(ctx context.Context, name string, mtu int) error

	// MTU reads the interface's current MTU.
	MTU(ctx context.Context, name string) (int, error)

	// LivePeers returns the live per-peer handshake and transfer state.
	LivePeers(ctx context.Context, name string) ([]PeerStatus, error)
}

// Compile-time interface guard.
var _ Controller = (*WGQuick)(nil)

// WGQuick implements Controller with the wg-quick and ip commands plus a
// wgctrl client for the live device query.
type WGQuick struct {
	runner Runner
}

// NewWGQuick creates a Controller backed by the host's wg-quick install.
func NewWGQuick(runner Runner) *WGQuick {
	return &WGQuick{runner: runner}
}

func (c *WGQuick) Up(ctx context.Context, name string) error {
	return c.runner.Run(ctx, "wg-quick", "up", name)
}

func (c *WGQuick) Down(ctx context.Context, name string) error {
	return c.runner.Run(ctx, "wg-quick", "down", name)
}

func (c *WGQuick) SetMTU(ctx context.Context, name string, mtu int) error {
	return c.runner.Run(ctx, "ip", "link", "set", "dev", name, "mtu", strconv.Itoa(mtu))
}

func (c *WGQuick) MTU(_ context.Context, name string) (int, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0, fmt.Errorf("interface %q: %w", name, err)
	}
	return iface.MTU, nil
}

func (c *WGQuick) LivePeers(_ context.Context, name string) ([]PeerStatus, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("wgctrl client: %w", err)
	}
	defer client.Close()

	dev, err := client.Device(name)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", name, err)
	}

	statuses := make([]PeerStatus, 0, len(dev.Peers))
	for _, p := range dev.Peers {
		s := PeerStatus{
			PublicKey:     p.PublicKey.String(),
			LastHandshake: p.LastHandshakeTime,
			RxBytes:       p.ReceiveBytes,
			TxBytes:       p.TransmitBytes,
		}
		if p.Endpoint != nil {
			s.Endpoint = p.Endpoint.String()
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// vpnNamePattern matches the fleet's interface naming convention.
var vpnNamePattern = regexp.MustCompile(`^wg\d+$`)

// Enumerator lists host network interfaces.
type Enumerator interface {
	InterfaceNames() ([]string, error)
}

// Compile-time interface guard.
var _ Enumerator = (*OSEnumerator)(nil)

// OSEnumerator lists interfaces via the net package.
type OSEnumerator struct{}

// NewOSEnumerator creates an Enumerator backed by the OS.
func NewOSEnumerator() *OSEnumerator {
	return &OSEnumerator{}
}

func (e *OSEnumerator) InterfaceNames() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerate interfaces: %w", err)
	}
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		names = append(names, iface.Name)
	}
	return names, nil
}

// FilterVPNNames returns the subset of names matching the wgN convention.
func FilterVPNNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if vpnNamePattern.MatchString(n) {
			out = append(out, n)
		}
	}
	return out
}
