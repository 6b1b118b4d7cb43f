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

// Counters holds the derived peer counters for one interface.
type Counters struct {
	PeerCount   int `json:"peer_count"`
	ActivePeers int `json:"active_peers"`
}

// InterfaceRepository provides CRUD access to WireGuard interface records.
// Derived counters (PeerCount, ActivePeers) are computed from the peer table
// on every read; they are never stored or incremented.
type InterfaceRepository interface {
	// Get returns a single interface by ID.
	Get(ctx context.Context, id string) (*models.Interface, error)

	// GetByName returns a single interface by its unique name.
	GetByName(ctx context.Context, name string) (*models.Interface, error)

	// List returns a paginated list of interfaces.
	List(ctx context.Context, opts ListOptions) (*ListResult[models.Interface], error)

	// Create inserts a new interface. If iface.ID is empty, a UUID is
	// generated. Fails with ErrDuplicateInterface when the name or public
	// key is already taken.
	Create(ctx context.Context, iface *models.Interface) error

	// Update modifies an existing interface's mutable fields.
	Update(ctx context.Context, iface *models.Interface) error

	// UpdateStatus sets only the lifecycle status.
	UpdateStatus(ctx context.Context, id string, status models.InterfaceStatus) error

	// Delete removes an interface; peer records cascade.
	Delete(ctx context.Context, id string) error

	// Counters recomputes the derived peer counters from the peer table.
	Counters(ctx context.Context, id string) (*Counters, error)

	// CountByStatus returns the number of interfaces in the given status.
	CountByStatus(ctx context.Context, status models.InterfaceStatus) (int, error)
}

// Compile-time interface guard.
var _ InterfaceRepository = (*SQLiteInterfaceRepository)(nil)

// SQLiteInterfaceRepository implements InterfaceRepository using SQLite.
type SQLiteInterfaceRepository struct {
	db *sql.DB
}

// NewSQLiteInterfaceRepository creates an InterfaceRepository.
func NewSQLiteInterfaceRepository(db *sql.DB) *SQLiteInterfaceRepository {
	return &SQLiteInterfaceRepository{db: db}
}

// interfaceColumns is the shared column list for interface queries. The two
// trailing subselects derive the peer counters from source-of-truth rows.
const interfaceColumns = `i.id, i.name, i.subnet, i.listen_port, i.private_key, i.public_key,
	i.mtu, i.dns, i.keepalive, i.ipv6_enabled, i.status, i.provider,
	i.total_uptime, i.last_start_at, i.rx_bytes, i.tx_bytes, i.created_at, i.updated_at,
	(SELECT COUNT(*) FROM wg_peers p WHERE p.interface_id = i.id) AS peer_count,
	(SELECT COUNT(*) FROM wg_peers p WHERE p.interface_id = i.id
		AND p.status = 'connected' AND p.enabled = 1) AS active_peers`

func (r *SQLiteInterfaceRepository) Get(ctx context.Context, id string) (*models.Interface, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+interfaceColumns+` FROM wg_interfaces i WHERE i.id = ?`, id)
	iface, err := scanInterface(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get interface %q: %w", id, err)
	}
	return iface, nil
}

func (r *SQLiteInterfaceRepository) GetByName(ctx context.Context, name string) (*models.Interface, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+interfaceColumns+` FROM wg_interfaces i WHERE i.name = ?`, name)
	iface, err := scanInterface(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get interface by name %q: %w", name, err)
	}
	return iface, nil
}

func (r *SQLiteInterfaceRepository) List(ctx context.Context, opts ListOptions) (*ListResult[models.Interface], error) {
	opts = normalizeListOptions(opts)

	sortCol := "name"
	allowedSorts := map[string]string{
		"name":       "name",
		"status":     "status",
		"created_at": "created_at",
		"updated_at": "updated_at",
	}
	if opts.SortBy != "" {
		if col, ok := allowedSorts[opts.SortBy]; ok {
			sortCol = col
		}
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wg_interfaces`,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count interfaces: %w", err)
	}

	orderDir := "DESC"
	if opts.SortOrder == "asc" {
		orderDir = "ASC"
	}

	//nolint:gosec // sortCol and orderDir are validated above, not user input
	query := fmt.Sprintf(
		`SELECT %s FROM wg_interfaces i ORDER BY %s %s LIMIT ? OFFSET ?`,
		interfaceColumns, sortCol, orderDir,
	)

	rows, err := r.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	defer rows.Close()

	var ifaces []models.Interface
	for rows.Next() {
		iface, err := scanInterface(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan interface row: %w", err)
		}
		ifaces = append(ifaces, *iface)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interfaces: %w", err)
	}
	if ifaces == nil {
		ifaces = []models.Interface{}
	}

	return &ListResult[models.Interface]{Items: ifaces, Total: total}, nil
}

func (r *SQLiteInterfaceRepository) Create(ctx context.Context, iface *models.Interface) error {
	if iface.ID == "" {
		iface.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if iface.CreatedAt.IsZero() {
		iface.CreatedAt = now
	}
	iface.UpdatedAt = now
	if iface.Status == "" {
		iface.Status = models.InterfaceInactive
	}

	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wg_interfaces WHERE name = ? OR public_key = ?`,
		iface.Name, iface.PublicKey,
	).Scan(&count); err != nil {
		return fmt.Errorf("check interface uniqueness: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("interface %q: %w", iface.Name, ErrDuplicateInterface)
	}

	dnsJSON := marshalList(iface.DNS)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wg_interfaces (
			id, name, subnet, listen_port, private_key, public_key,
			mtu, dns, keepalive, ipv6_enabled, status, provider,
			total_uptime, last_start_at, rx_bytes, tx_bytes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		iface.ID, iface.Name, iface.Subnet, iface.ListenPort, iface.PrivateKey, iface.PublicKey,
		iface.MTU, dnsJSON, iface.Keepalive, iface.IPv6Enabled, string(iface.Status), iface.Provider,
		iface.TotalUptime, nullTime(iface.LastStartAt), iface.RxBytes, iface.TxBytes,
		iface.CreatedAt, iface.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create interface: %w", err)
	}
	return nil
}

func (r *SQLiteInterfaceRepository) Update(ctx context.Context, iface *models.Interface) error {
	iface.UpdatedAt = time.Now().UTC()
	dnsJSON := marshalList(iface.DNS)

	res, err := r.db.ExecContext(ctx, `
		UPDATE wg_interfaces SET
			subnet = ?, listen_port = ?, private_key = ?, public_key = ?,
			mtu = ?, dns = ?, keepalive = ?, ipv6_enabled = ?, status = ?, provider = ?,
			total_uptime = ?, last_start_at = ?, rx_bytes = ?, tx_bytes = ?, updated_at = ?
		WHERE id = ?`,
		iface.Subnet, iface.ListenPort, iface.PrivateKey, iface.PublicKey,
		iface.MTU, dnsJSON, iface.Keepalive, iface.IPv6Enabled, string(iface.Status), iface.Provider,
		iface.TotalUptime, nullTime(iface.LastStartAt), iface.RxBytes, iface.TxBytes, iface.UpdatedAt,
		iface.ID,
	)
	if err != nil {
		return fmt.Errorf("update interface: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteInterfaceRepository) UpdateStatus(ctx context.Context, id string, status models.InterfaceStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE wg_interfaces SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update interface status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteInterfaceRepository) CountByStatus(ctx context.Context, status models.InterfaceStatus) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wg_interfaces WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count interfaces by status: %w", err)
	}
	return n, nil
}

func (r *SQLiteInterfaceRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM wg_interfaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete interface: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteInterfaceRepository) Counters(ctx context.Context, id string) (*Counters, error) {
	var c Counters
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM wg_peers WHERE interface_id = ?),
			(SELECT COUNT(*) FROM wg_peers WHERE interface_id = ?
				AND status = 'connected' AND enabled = 1)`,
		id, id,
	).Scan(&c.PeerCount, &c.ActivePeers)
	if err != nil {
		return nil, fmt.Errorf("counters for interface %q: %w", id, err)
	}
	return &c, nil
}

// scanInterface scans one interface row via the given scan func.
func scanInterface(scan func(dest ...any) error) (*models.Interface, error) {
	var iface models.Interface
	var dnsJSON, status string
	var lastStart sql.NullTime
	err := scan(
		&iface.ID, &iface.Name, &iface.Subnet, &iface.ListenPort, &iface.PrivateKey, &iface.PublicKey,
		&iface.MTU, &dnsJSON, &iface.Keepalive, &iface.IPv6Enabled, &status, &iface.Provider,
		&iface.TotalUptime, &lastStart, &iface.RxBytes, &iface.TxBytes, &iface.CreatedAt, &iface.UpdatedAt,
		&iface.PeerCount, &iface.ActivePeers,
	)
	if err != nil {
		return nil, err
	}
	iface.Status = models.InterfaceStatus(status)
	if lastStart.Valid {
		iface.LastStartAt = lastStart.Time
	}
	_ = json.Unmarshal([]byte(dnsJSON), &iface.DNS)
	return &iface, nil
}

// marshalList JSON-encodes a string slice, mapping nil to "[]".
func marshalList(items []string) string {
	if items == nil {
		return "[]"
	}
	b, _ := json.Marshal(items)
	return string(b)
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
