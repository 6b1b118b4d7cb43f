package store

import "database/sql"

// Migrations is the core schema for interfaces, peers, and MTU profiles.
// List columns (dns, allowed_ips, applied_to) hold JSON.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "create interface, peer, and profile tables",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE wg_interfaces (
					id            TEXT PRIMARY KEY,
					name          TEXT NOT NULL UNIQUE,
					subnet        TEXT NOT NULL,
					listen_port   INTEGER NOT NULL DEFAULT 51820,
					private_key   TEXT NOT NULL,
					public_key    TEXT NOT NULL UNIQUE,
					mtu           INTEGER NOT NULL DEFAULT 1420,
					dns           TEXT NOT NULL DEFAULT '[]',
					keepalive     INTEGER NOT NULL DEFAULT 25,
					ipv6_enabled  INTEGER NOT NULL DEFAULT 0,
					status        TEXT NOT NULL DEFAULT 'inactive',
					provider      TEXT NOT NULL DEFAULT '',
					total_uptime  INTEGER NOT NULL DEFAULT 0,
					last_start_at DATETIME,
					rx_bytes      INTEGER NOT NULL DEFAULT 0,
					tx_bytes      INTEGER NOT NULL DEFAULT 0,
					created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_wg_interfaces_status ON wg_interfaces(status)`,
				`CREATE TABLE wg_peers (
					id             TEXT PRIMARY KEY,
					interface_id   TEXT NOT NULL REFERENCES wg_interfaces(id) ON DELETE CASCADE,
					name           TEXT NOT NULL DEFAULT '',
					public_key     TEXT NOT NULL UNIQUE,
					private_key    TEXT NOT NULL DEFAULT '',
					preshared_key  TEXT NOT NULL DEFAULT '',
					allowed_ips    TEXT NOT NULL DEFAULT '[]',
					address        TEXT NOT NULL,
					endpoint       TEXT NOT NULL DEFAULT '',
					keepalive      INTEGER NOT NULL DEFAULT 25,
					status         TEXT NOT NULL DEFAULT 'pending',
					enabled        INTEGER NOT NULL DEFAULT 1,
					first_seen     DATETIME,
					last_seen      DATETIME,
					last_handshake DATETIME,
					connect_count  INTEGER NOT NULL DEFAULT 0,
					total_uptime   INTEGER NOT NULL DEFAULT 0,
					rx_bytes       INTEGER NOT NULL DEFAULT 0,
					tx_bytes       INTEGER NOT NULL DEFAULT 0,
					created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (interface_id, address)
				)`,
				`CREATE INDEX idx_wg_peers_interface ON wg_peers(interface_id)`,
				`CREATE INDEX idx_wg_peers_status ON wg_peers(status)`,
				`CREATE TABLE mtu_profiles (
					id           TEXT PRIMARY KEY,
					name         TEXT NOT NULL,
					provider     TEXT NOT NULL,
					mtu          INTEGER NOT NULL,
					min_mtu      INTEGER NOT NULL DEFAULT 0,
					max_mtu      INTEGER NOT NULL DEFAULT 0,
					dns          TEXT NOT NULL DEFAULT '[]',
					keepalive    INTEGER NOT NULL DEFAULT 25,
					is_default   INTEGER NOT NULL DEFAULT 0,
					applied_to   TEXT NOT NULL DEFAULT '[]',
					test_results TEXT NOT NULL DEFAULT '',
					created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_mtu_profiles_provider ON mtu_profiles(provider)`,
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
}
