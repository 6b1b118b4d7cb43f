package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wgfleet/wgfleet/pkg/models"
)

// PeerRepository provides CRUD access to peer records.
type PeerRepository interface {
	// Get returns a single peer by ID.
	Get(ctx context.Context, id string) (*models.Peer, error)

	// GetByPublicKey returns the peer with the given public key on the
	// given interface.
	GetByPublicKey(ctx context.Context, interfaceID, publicKey string) (*models.Peer, error)

	// ListByInterface returns every peer attached to an interface,
	// ordered by assigned address.
	ListByInterface(ctx context.Context, interfaceID string) ([]models.Peer, error)

	// Create inserts a new peer. If peer.ID is empty, a UUID is generated.
	// Fails with ErrDuplicateAddress when the address is taken within the
	// interface, ErrAlreadyExists when the public key is taken.
	Create(ctx context.Context, peer *models.Peer) error

	// Update modifies an existing peer's mutable fields.
	Update(ctx context.Context, peer *models.Peer) error

	// Delete removes a peer by ID.
	Delete(ctx context.Context, id string) error

	// AddressesInUse returns the set of addresses assigned within an
	// interface's subnet.
	AddressesInUse(ctx context.Context, interfaceID string) (map[string]struct{}, error)
}

// Compile-time interface guard.
var _ PeerRepository = (*SQLitePeerRepository)(nil)

// SQLitePeerRepository implements PeerRepository using SQLite.
type SQLitePeerRepository struct {
	db *sql.DB
}

// NewSQLitePeerRepository creates a PeerRepository.
func NewSQLitePeerRepository(db *sql.DB) *SQLitePeerRepository {
	return &SQLitePeerRepository{db: db}
}

// peerColumns is the shared column list for peer queries.
const peerColumns = `id, interface_id, name, public_key, private_key, preshared_key,
	allowed_ips, address, endpoint, keepalive, status, enabled,
	first_seen, last_seen, last_handshake, connect_count, total_uptime,
	rx_bytes, tx_bytes, created_at, updated_at`

func (r *SQLitePeerRepository) Get(ctx context.Context, id string) (*models.Peer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+peerColumns+` FROM wg_peers WHERE id = ?`, id)
	p, err := scanPeer(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get peer %q: %w", id, err)
	}
	return p, nil
}

func (r *SQLitePeerRepository) GetByPublicKey(ctx context.Context, interfaceID, publicKey string) (*models.Peer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+peerColumns+` FROM wg_peers WHERE interface_id = ? AND public_key = ?`,
		interfaceID, publicKey)
	p, err := scanPeer(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get peer by key on %q: %w", interfaceID, err)
	}
	return p, nil
}

func (r *SQLitePeerRepository) ListByInterface(ctx context.Context, interfaceID string) ([]models.Peer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+peerColumns+` FROM wg_peers WHERE interface_id = ? ORDER BY address`,
		interfaceID)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	var peers []models.Peer
	for rows.Next() {
		p, err := scanPeer(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan peer row: %w", err)
		}
		peers = append(peers, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}
	if peers == nil {
		peers = []models.Peer{}
	}
	return peers, nil
}

func (r *SQLitePeerRepository) Create(ctx context.Context, peer *models.Peer) error {
	if peer.ID == "" {
		peer.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if peer.CreatedAt.IsZero() {
		peer.CreatedAt = now
	}
	peer.UpdatedAt = now
	if peer.Status == "" {
		peer.Status = models.PeerPending
	}

	var addrCount int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wg_peers WHERE interface_id = ? AND address = ?`,
		peer.InterfaceID, peer.Address,
	).Scan(&addrCount); err != nil {
		return fmt.Errorf("check address uniqueness: %w", err)
	}
	if addrCount > 0 {
		return fmt.Errorf("peer address %q on %q: %w", peer.Address, peer.InterfaceID, ErrDuplicateAddress)
	}

	var keyCount int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wg_peers WHERE public_key = ?`, peer.PublicKey,
	).Scan(&keyCount); err != nil {
		return fmt.Errorf("check key uniqueness: %w", err)
	}
	if keyCount > 0 {
		return fmt.Errorf("peer key: %w", ErrAlreadyExists)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wg_peers (
			id, interface_id, name, public_key, private_key, preshared_key,
			allowed_ips, address, endpoint, keepalive, status, enabled,
			first_seen, last_seen, last_handshake, connect_count, total_uptime,
			rx_bytes, tx_bytes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		peer.ID, peer.InterfaceID, peer.Name, peer.PublicKey, peer.PrivateKey, peer.PresharedKey,
		marshalList(peer.AllowedIPs), peer.Address, peer.Endpoint, peer.Keepalive,
		string(peer.Status), peer.Enabled,
		nullTime(peer.FirstSeen), nullTime(peer.LastSeen), nullTime(peer.LastHandshake),
		peer.ConnectCount, peer.TotalUptime, peer.RxBytes, peer.TxBytes,
		peer.CreatedAt, peer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create peer: %w", err)
	}
	return nil
}

func (r *SQLitePeerRepository) Update(ctx context.Context, peer *models.Peer) error {
	peer.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE wg_peers SET
			name = ?, public_key = ?, private_key = ?, preshared_key = ?,
			allowed_ips = ?, address = ?, endpoint = ?, keepalive = ?,
			status = ?, enabled = ?, first_seen = ?, last_seen = ?, last_handshake = ?,
			connect_count = ?, total_uptime = ?, rx_bytes = ?, tx_bytes = ?, updated_at = ?
		WHERE id = ?`,
		peer.Name, peer.PublicKey, peer.PrivateKey, peer.PresharedKey,
		marshalList(peer.AllowedIPs), peer.Address, peer.Endpoint, peer.Keepalive,
		string(peer.Status), peer.Enabled,
		nullTime(peer.FirstSeen), nullTime(peer.LastSeen), nullTime(peer.LastHandshake),
		peer.ConnectCount, peer.TotalUptime, peer.RxBytes, peer.TxBytes, peer.UpdatedAt,
		peer.ID,
	)
	if err != nil {
		return fmt.Errorf("update peer: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLitePeerRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM wg_peers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete peer: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLitePeerRepository) AddressesInUse(ctx context.Context, interfaceID string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT address FROM wg_peers WHERE interface_id = ?`, interfaceID)
	if err != nil {
		return nil, fmt.Errorf("addresses in use: %w", err)
	}
	defer rows.Close()

	used := make(map[string]struct{})
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		used[addr] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate addresses: %w", err)
	}
	return used, nil
}

// scanPeer scans one peer row via the given scan func.
func scanPeer(scan func(dest ...any) error) (*models.Peer, error) {
	var p models.Peer
	var allowedJSON, status string
	var firstSeen, lastSeen, lastHandshake sql.NullTime
	err := scan(
		&p.ID, &p.InterfaceID, &p.Name, &p.PublicKey, &p.PrivateKey, &p.PresharedKey,
		&allowedJSON, &p.Address, &p.Endpoint, &p.Keepalive, &status, &p.Enabled,
		&firstSeen, &lastSeen, &lastHandshake, &p.ConnectCount, &p.TotalUptime,
		&p.RxBytes, &p.TxBytes, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = models.PeerStatus(status)
	if firstSeen.Valid {
		p.FirstSeen = firstSeen.Time
	}
	if lastSeen.Valid {
		p.LastSeen = lastSeen.Time
	}
	if lastHandshake.Valid {
		p.LastHandshake = lastHandshake.Time
	}
	_ = json.Unmarshal([]byte(allowedJSON), &p.AllowedIPs)
	return &p, nil
}
