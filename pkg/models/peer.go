package models

import "time"

// PeerStatus describes the connection state of a peer.
type PeerStatus string

const (
	PeerPending      PeerStatus = "pending"
	PeerConnected    PeerStatus = "connected"
	PeerDisconnected PeerStatus = "disconnected"
	PeerError        PeerStatus = "error"
	PeerDisabled     PeerStatus = "disabled"
)

// Peer represents one remote endpoint attached to an Interface. PublicKey is
// unique across the fleet; Address is unique within the owning interface's
// subnet. PrivateKey and PresharedKey are secrets and never serialized
// outward.
type Peer struct {
	ID           string   `json:"id"`
	InterfaceID  string   `json:"interface_id"`
	Name         string   `json:"name,omitempty"`
	PublicKey    string   `json:"public_key"`
	PrivateKey   string   `json:"-"`
	PresharedKey string   `json:"-"`
	AllowedIPs   []string `json:"allowed_ips"`
	Address      string   `json:"address"`
	Endpoint     string   `json:"endpoint,omitempty"`
	Keepalive    int      `json:"keepalive"`

	Status        PeerStatus `json:"status"`
	Enabled       bool       `json:"enabled"`
	FirstSeen     time.Time  `json:"first_seen,omitempty"`
	LastSeen      time.Time  `json:"last_seen,omitempty"`
	LastHandshake time.Time  `json:"last_handshake,omitempty"`
	ConnectCount  int        `json:"connect_count"`
	TotalUptime   int64      `json:"total_uptime"` // Seconds spent connected.
	RxBytes       int64      `json:"rx_bytes"`
	TxBytes       int64      `json:"tx_bytes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
