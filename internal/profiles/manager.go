// Package profiles manages MTU profiles: provider defaults, application to
// interfaces, and bulk generation of candidate profiles.
package profiles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wgfleet/wgfleet/internal/probe"
	"github.com/wgfleet/wgfleet/internal/services"
	"github.com/wgfleet/wgfleet/pkg/models"
)

// maxApplications caps the rolling appliedTo log per profile.
const maxApplications = 20

// Restarter restarts an interface so a pushed setting takes effect.
type Restarter interface {
	Restart(ctx context.Context, id string) error
}

// Deps collects the manager's collaborators.
type Deps struct {
	Profiles   services.ProfileRepository
	Interfaces services.InterfaceRepository
	Path       probe.Path
	Restarter  Restarter

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Manager applies and generates MTU profiles.
type Manager struct {
	profiles   services.ProfileRepository
	interfaces services.InterfaceRepository
	path       probe.Path
	restarter  Restarter
	now        func() time.Time
	logger     *zap.Logger
}

// New creates a profile manager.
func New(deps Deps, logger *zap.Logger) *Manager {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		profiles:   deps.Profiles,
		interfaces: deps.Interfaces,
		path:       deps.Path,
		restarter:  deps.Restarter,
		now:        now,
		logger:     logger,
	}
}

// SetDefault marks the profile as its provider's default, atomically
// clearing the flag on the provider's other profiles.
func (m *Manager) SetDefault(ctx context.Context, id string) error {
	return m.profiles.SetDefault(ctx, id)
}

// Apply copies the profile's MTU, DNS, and keepalive onto the interface,
// pushes the MTU to the live path, and restarts the interface. The
// application is appended to the profile's rolling log with the previous MTU
// and whether every step succeeded.
func (m *Manager) Apply(ctx context.Context, profileID, interfaceID string) error {
	profile, err := m.profiles.Get(ctx, profileID)
	if err != nil {
		return err
	}
	iface, err := m.interfaces.Get(ctx, interfaceID)
	if err != nil {
		return err
	}

	previousMTU := iface.MTU
	iface.MTU = profile.MTU
	if len(profile.DNS) > 0 {
		iface.DNS = profile.DNS
	}
	if profile.Keepalive > 0 {
		iface.Keepalive = profile.Keepalive
	}

	applyErr := m.interfaces.Update(ctx, iface)
	if applyErr == nil {
		applyErr = m.path.SetMTU(ctx, iface.Name, profile.MTU)
	}
	if applyErr == nil {
		applyErr = m.restarter.Restart(ctx, iface.ID)
	}

	entry := models.ProfileApplication{
		Interface:   iface.Name,
		Timestamp:   m.now(),
		Success:     applyErr == nil,
		PreviousMTU: previousMTU,
	}
	profile.AppliedTo = append(profile.AppliedTo, entry)
	if len(profile.AppliedTo) > maxApplications {
		profile.AppliedTo = profile.AppliedTo[len(profile.AppliedTo)-maxApplications:]
	}
	if err := m.profiles.Update(ctx, profile); err != nil {
		m.logger.Error("failed to record profile application",
			zap.String("profile", profile.Name), zap.Error(err))
		if applyErr == nil {
			return err
		}
	}

	if applyErr != nil {
		return fmt.Errorf("apply profile %q to %s: %w", profile.Name, iface.Name, applyErr)
	}
	m.logger.Info("profile applied",
		zap.String("profile", profile.Name),
		zap.String("interface", iface.Name),
		zap.Int("mtu", profile.MTU),
		zap.Int("previous_mtu", previousMTU))
	return nil
}

// bulkVariants are the predefined MTU ranges generated per provider, as
// offsets from the base MTU. The balanced variant becomes the default.
var bulkVariants = []struct {
	name   string
	offset int
	isBase bool
}{
	{"conservative", -80, false},
	{"safe", -40, false},
	{"balanced", 0, true},
	{"aggressive", 20, false},
}

// BulkGenerate creates the provider's fixed sweep of profiles around baseMTU
// and marks the balanced one as the provider default.
func (m *Manager) BulkGenerate(ctx context.Context, provider string, baseMTU int, dns []string, keepalive int) ([]models.MTUProfile, error) {
	if provider == "" {
		return nil, fmt.Errorf("%w: provider is required", services.ErrValidation)
	}
	if err := services.ValidateMTU(baseMTU); err != nil {
		return nil, err
	}

	created := make([]models.MTUProfile, 0, len(bulkVariants))
	var defaultID string
	for _, v := range bulkVariants {
		mtu := clampMTU(baseMTU + v.offset)
		p := models.MTUProfile{
			Name:      fmt.Sprintf("%s-%s", strings.ToLower(provider), v.name),
			Provider:  provider,
			MTU:       mtu,
			MinMTU:    clampMTU(mtu - 40),
			MaxMTU:    clampMTU(mtu + 40),
			DNS:       dns,
			Keepalive: keepalive,
		}
		if err := m.profiles.Create(ctx, &p); err != nil {
			return created, fmt.Errorf("generate profile %q: %w", p.Name, err)
		}
		if v.isBase {
			defaultID = p.ID
		}
		created = append(created, p)
	}

	if err := m.profiles.SetDefault(ctx, defaultID); err != nil {
		return created, err
	}
	for i := range created {
		created[i].IsDefault = created[i].ID == defaultID
	}

	m.logger.Info("profiles generated",
		zap.String("provider", provider),
		zap.Int("base_mtu", baseMTU),
		zap.Int("count", len(created)))
	return created, nil
}

// RecordSweep stores the aggregate of the latest probe sweep on the profile.
func (m *Manager) RecordSweep(ctx context.Context, profileID string, sweep *probe.SweepResult) error {
	profile, err := m.profiles.Get(ctx, profileID)
	if err != nil {
		return err
	}
	profile.TestResults = probe.Summarize(sweep, m.now())
	if err := m.profiles.Update(ctx, profile); err != nil {
		return fmt.Errorf("record sweep on %q: %w", profile.Name, err)
	}
	return nil
}

func clampMTU(mtu int) int {
	if mtu < models.MTUMin {
		return models.MTUMin
	}
	if mtu > models.MTUMax {
		return models.MTUMax
	}
	return mtu
}
