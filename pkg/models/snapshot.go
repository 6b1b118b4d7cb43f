package models

import "time"

// SnapshotVersion is the current snapshot document format version.
const SnapshotVersion = "1"

// Snapshot is an immutable point-in-time export of an interface and its
// peers. The interface private key is included because restore needs it;
// peer secrets are stripped before export.
type Snapshot struct {
	Server    SnapshotServer `json:"server"`
	Config    string         `json:"config"`
	Peers     []Peer         `json:"peers"`
	Timestamp time.Time      `json:"timestamp"`
	Version   string         `json:"version"`
}

// SnapshotServer mirrors Interface minus the internal ID and derived
// counters, with the private key carried explicitly.
type SnapshotServer struct {
	Name        string          `json:"name"`
	Subnet      string          `json:"subnet"`
	ListenPort  int             `json:"listen_port"`
	PrivateKey  string          `json:"private_key"`
	PublicKey   string          `json:"public_key"`
	MTU         int             `json:"mtu"`
	DNS         []string        `json:"dns"`
	Keepalive   int             `json:"keepalive"`
	IPv6Enabled bool            `json:"ipv6_enabled"`
	Status      InterfaceStatus `json:"status"`
	Provider    string          `json:"provider,omitempty"`
	TotalUptime int64           `json:"total_uptime"`
	RxBytes     int64           `json:"rx_bytes"`
	TxBytes     int64           `json:"tx_bytes"`
}
