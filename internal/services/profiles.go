package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wgfleet/wgfleet/internal/store"
	"github.com/wgfleet/wgfleet/pkg/models"
)

// ProfileRepository provides access to MTU profile records.
type ProfileRepository interface {
	// Get returns a single profile by ID.
	Get(ctx context.Context, id string) (*models.MTUProfile, error)

	// List returns profiles, optionally filtered by provider tag.
	List(ctx context.Context, provider string) ([]models.MTUProfile, error)

	// DefaultFor returns the default profile for a provider.
	DefaultFor(ctx context.Context, provider string) (*models.MTUProfile, error)

	// Create inserts a new profile. If profile.ID is empty, a UUID is generated.
	Create(ctx context.Context, profile *models.MTUProfile) error

	// Update modifies an existing profile's mutable fields.
	Update(ctx context.Context, profile *models.MTUProfile) error

	// Delete removes a profile by ID.
	Delete(ctx context.Context, id string) error

	// SetDefault marks the profile as its provider's default. The default
	// flag on every other profile of the same provider is cleared in the
	// same transaction.
	SetDefault(ctx context.Context, id string) error
}

// Compile-time interface guard.
var _ ProfileRepository = (*SQLiteProfileRepository)(nil)

// SQLiteProfileRepository implements ProfileRepository using SQLite. It
// holds the store (not just the *sql.DB) because SetDefault needs a
// transaction.
type SQLiteProfileRepository struct {
	store *store.SQLiteStore
	db    *sql.DB
}

// NewSQLiteProfileRepository creates a ProfileRepository.
func NewSQLiteProfileRepository(st *store.SQLiteStore) *SQLiteProfileRepository {
	return &SQLiteProfileRepository{store: st, db: st.DB()}
}

const profileColumns = `id, name, provider, mtu, min_mtu, max_mtu, dns, keepalive,
	is_default, applied_to, test_results, created_at, updated_at`

func (r *SQLiteProfileRepository) Get(ctx context.Context, id string) (*models.MTUProfile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM mtu_profiles WHERE id = ?`, id)
	p, err := scanProfile(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile %q: %w", id, err)
	}
	return p, nil
}

func (r *SQLiteProfileRepository) List(ctx context.Context, provider string) ([]models.MTUProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM mtu_profiles ORDER BY provider, mtu`
	args := []any{}
	if provider != "" {
		query = `SELECT ` + profileColumns + ` FROM mtu_profiles WHERE provider = ? ORDER BY mtu`
		args = append(args, provider)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.MTUProfile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	if profiles == nil {
		profiles = []models.MTUProfile{}
	}
	return profiles, nil
}

func (r *SQLiteProfileRepository) DefaultFor(ctx context.Context, provider string) (*models.MTUProfile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM mtu_profiles WHERE provider = ? AND is_default = 1`,
		provider)
	p, err := scanProfile(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("default profile for %q: %w", provider, err)
	}
	return p, nil
}

func (r *SQLiteProfileRepository) Create(ctx context.Context, profile *models.MTUProfile) error {
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mtu_profiles (
			id, name, provider, mtu, min_mtu, max_mtu, dns, keepalive,
			is_default, applied_to, test_results, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		profile.ID, profile.Name, profile.Provider, profile.MTU, profile.MinMTU, profile.MaxMTU,
		marshalList(profile.DNS), profile.Keepalive, profile.IsDefault,
		marshalApplications(profile.AppliedTo), marshalSummary(profile.TestResults),
		profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (r *SQLiteProfileRepository) Update(ctx context.Context, profile *models.MTUProfile) error {
	profile.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE mtu_profiles SET
			name = ?, provider = ?, mtu = ?, min_mtu = ?, max_mtu = ?, dns = ?,
			keepalive = ?, is_default = ?, applied_to = ?, test_results = ?, updated_at = ?
		WHERE id = ?`,
		profile.Name, profile.Provider, profile.MTU, profile.MinMTU, profile.MaxMTU,
		marshalList(profile.DNS), profile.Keepalive, profile.IsDefault,
		marshalApplications(profile.AppliedTo), marshalSummary(profile.TestResults),
		profile.UpdatedAt,
		profile.ID,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteProfileRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM mtu_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteProfileRepository) SetDefault(ctx context.Context, id string) error {
	return r.store.Tx(ctx, func(tx *sql.Tx) error {
		var provider string
		err := tx.QueryRowContext(ctx,
			`SELECT provider FROM mtu_profiles WHERE id = ?`, id,
		).Scan(&provider)
		if err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("read profile provider: %w", err)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE mtu_profiles SET is_default = 0, updated_at = ?
			WHERE provider = ? AND is_default = 1`,
			now, provider,
		); err != nil {
			return fmt.Errorf("clear default flags: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE mtu_profiles SET is_default = 1, updated_at = ? WHERE id = ?`,
			now, id,
		); err != nil {
			return fmt.Errorf("set default flag: %w", err)
		}
		return nil
	})
}

// scanProfile scans one profile row via the given scan func.
func scanProfile(scan func(dest ...any) error) (*models.MTUProfile, error) {
	var p models.MTUProfile
	var dnsJSON, appliedJSON, resultsJSON string
	err := scan(
		&p.ID, &p.Name, &p.Provider, &p.MTU, &p.MinMTU, &p.MaxMTU, &dnsJSON, &p.Keepalive,
		&p.IsDefault, &appliedJSON, &resultsJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(dnsJSON), &p.DNS)
	_ = json.Unmarshal([]byte(appliedJSON), &p.AppliedTo)
	if resultsJSON != "" {
		var s models.SweepSummary
		if err := json.Unmarshal([]byte(resultsJSON), &s); err == nil {
			p.TestResults = &s
		}
	}
	return &p, nil
}

func marshalApplications(apps []models.ProfileApplication) string {
	if apps == nil {
		return "[]"
	}
	b, _ := json.Marshal(apps)
	return string(b)
}

func marshalSummary(s *models.SweepSummary) string {
	if s == nil {
		return ""
	}
	b, _ := json.Marshal(s)
	return string(b)
}
