// Package models defines the core data types shared between the repositories,
// the reconciliation engine, and the HTTP API.
package models

import "time"

// InterfaceStatus describes the lifecycle state of a WireGuard interface.
type InterfaceStatus string

const (
	InterfaceActive      InterfaceStatus = "active"
	InterfaceInactive    InterfaceStatus = "inactive"
	InterfaceError       InterfaceStatus = "error"
	InterfaceMaintenance InterfaceStatus = "maintenance"
)

// MTU bounds accepted for any interface or profile.
const (
	MTUMin = 576
	MTUMax = 9000
)

// Interface represents one WireGuard server endpoint managed by the fleet.
// Name and PublicKey are globally unique. PeerCount and ActivePeers are
// derived from the peer table and recomputed, never incremented in place.
type Interface struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Subnet      string          `json:"subnet"`
	ListenPort  int             `json:"listen_port"`
	PrivateKey  string          `json:"-"`
	PublicKey   string          `json:"public_key"`
	MTU         int             `json:"mtu"`
	DNS         []string        `json:"dns"`
	Keepalive   int             `json:"keepalive"`
	IPv6Enabled bool            `json:"ipv6_enabled"`
	Status      InterfaceStatus `json:"status"`
	Provider    string          `json:"provider,omitempty"`

	TotalUptime int64     `json:"total_uptime"` // Seconds across all active periods.
	LastStartAt time.Time `json:"last_start_at,omitempty"`
	RxBytes     int64     `json:"rx_bytes"`
	TxBytes     int64     `json:"tx_bytes"`
	PeerCount   int       `json:"peer_count"`
	ActivePeers int       `json:"active_peers"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
