// Package reconcile keeps the interface and peer records in step with the
// host: wg-quick lifecycle, config file discovery, and live peer status.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wgfleet/wgfleet/internal/event"
	"github.com/wgfleet/wgfleet/internal/ipalloc"
	"github.com/wgfleet/wgfleet/internal/metrics"
	"github.com/wgfleet/wgfleet/internal/services"
	"github.com/wgfleet/wgfleet/internal/wgconf"
	"github.com/wgfleet/wgfleet/internal/wgnet"
	"github.com/wgfleet/wgfleet/pkg/models"
)

// Defaults assumed for config files that omit the directive.
const (
	defaultMTU        = 1420
	defaultListenPort = 51820
	defaultSubnet     = "10.0.0.0/24"
)

// defaultRestartPause separates the down and up halves of a restart so
// wg-quick releases the link before it is recreated.
const defaultRestartPause = time.Second

// Deps collects the collaborators the engine is built from.
type Deps struct {
	Interfaces services.InterfaceRepository
	Peers      services.PeerRepository
	Controller wgnet.Controller
	Enumerator wgnet.Enumerator
	Keys       wgnet.KeyGenerator
	Alloc      *ipalloc.Allocator
	Bus        event.Publisher
	Metrics    *metrics.Metrics

	// ConfigDir holds the wg-quick config files, one <name>.conf per
	// interface.
	ConfigDir string

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	// RestartPause overrides the wait between the stop and start halves
	// of a restart. Zero means the default.
	RestartPause time.Duration
}

// Engine reconciles stored state with the host.
type Engine struct {
	interfaces services.InterfaceRepository
	peers      services.PeerRepository
	ctrl       wgnet.Controller
	enum       wgnet.Enumerator
	keys       wgnet.KeyGenerator
	alloc      *ipalloc.Allocator
	bus        event.Publisher
	metrics    *metrics.Metrics
	configDir  string
	now        func() time.Time
	pause      time.Duration
	logger     *zap.Logger
}

// New creates a reconciliation engine.
func New(deps Deps, logger *zap.Logger) *Engine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	pause := deps.RestartPause
	if pause == 0 {
		pause = defaultRestartPause
	}
	return &Engine{
		interfaces: deps.Interfaces,
		peers:      deps.Peers,
		ctrl:       deps.Controller,
		enum:       deps.Enumerator,
		keys:       deps.Keys,
		alloc:      deps.Alloc,
		bus:        deps.Bus,
		metrics:    deps.Metrics,
		configDir:  deps.ConfigDir,
		now:        now,
		pause:      pause,
		logger:     logger,
	}
}

// Start brings the interface up. On success the record becomes active and the
// uptime clock starts; on failure the record is marked error and the command
// error is returned. Starting an already-active interface is a no-op.
func (e *Engine) Start(ctx context.Context, id string) error {
	iface, err := e.interfaces.Get(ctx, id)
	if err != nil {
		return err
	}
	if iface.Status == models.InterfaceActive {
		return nil
	}

	if err := e.ctrl.Up(ctx, iface.Name); err != nil {
		e.markError(ctx, iface, err)
		return fmt.Errorf("start %s: %w", iface.Name, err)
	}

	iface.Status = models.InterfaceActive
	iface.LastStartAt = e.now()
	if err := e.interfaces.Update(ctx, iface); err != nil {
		return fmt.Errorf("record start of %s: %w", iface.Name, err)
	}
	e.refreshActiveGauge(ctx)

	e.publish(ctx, event.TopicInterfaceStarted, iface.Name, nil)
	e.logger.Info("interface started", zap.String("interface", iface.Name))
	return nil
}

// Stop tears the interface down. Accumulated uptime is folded into
// TotalUptime, the record becomes inactive, and every connected peer is
// marked disconnected so the active peer count drops to zero. Stopping an
// already-inactive interface is a no-op.
func (e *Engine) Stop(ctx context.Context, id string) error {
	iface, err := e.interfaces.Get(ctx, id)
	if err != nil {
		return err
	}
	if iface.Status == models.InterfaceInactive {
		return nil
	}

	if err := e.ctrl.Down(ctx, iface.Name); err != nil {
		e.markError(ctx, iface, err)
		return fmt.Errorf("stop %s: %w", iface.Name, err)
	}

	now := e.now()
	if iface.Status == models.InterfaceActive && !iface.LastStartAt.IsZero() {
		iface.TotalUptime += int64(now.Sub(iface.LastStartAt).Seconds())
	}
	iface.Status = models.InterfaceInactive
	if err := e.interfaces.Update(ctx, iface); err != nil {
		return fmt.Errorf("record stop of %s: %w", iface.Name, err)
	}
	e.refreshActiveGauge(ctx)

	if err := e.disconnectAllPeers(ctx, iface, now); err != nil {
		return err
	}

	e.publish(ctx, event.TopicInterfaceStopped, iface.Name, nil)
	e.logger.Info("interface stopped", zap.String("interface", iface.Name))
	return nil
}

// Restart stops and starts the interface. A failing stop aborts the restart
// unless the failure means the link was already gone; wg-quick down reports
// that case when the interface exists on record but not on the host.
func (e *Engine) Restart(ctx context.Context, id string) error {
	if err := e.Stop(ctx, id); err != nil {
		if !wgnet.IsLinkAbsent(err) {
			return fmt.Errorf("restart %s: %w", id, err)
		}
		e.logger.Warn("link already gone before restart", zap.String("id", id), zap.Error(err))
	}

	timer := time.NewTimer(e.pause)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	return e.Start(ctx, id)
}

// Discover enumerates the host's wgN interfaces and registers any that have a
// config file but no record yet. It returns the names that were synced.
func (e *Engine) Discover(ctx context.Context) ([]string, error) {
	names, err := e.enum.InterfaceNames()
	if err != nil {
		return nil, err
	}

	var synced []string
	for _, name := range wgnet.FilterVPNNames(names) {
		if _, err := e.interfaces.GetByName(ctx, name); err == nil {
			continue
		} else if !errors.Is(err, services.ErrNotFound) {
			return synced, err
		}
		if err := e.SyncOne(ctx, name); err != nil {
			if errors.Is(err, services.ErrNotFound) {
				e.logger.Warn("host interface has no config file", zap.String("interface", name))
				continue
			}
			return synced, err
		}
		synced = append(synced, name)
	}
	return synced, nil
}

// SyncOne reconciles one interface from its config file: the interface record
// is created or updated from the [Interface] section and the peer records
// from the [Peer] sections. A missing config file yields ErrNotFound.
func (e *Engine) SyncOne(ctx context.Context, name string) error {
	if !services.ValidInterfaceName(name) {
		return fmt.Errorf("sync %q: %w: not a managed interface name", name, services.ErrValidation)
	}

	path := filepath.Join(e.configDir, name+".conf")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config for %s: %w", name, services.ErrNotFound)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	cfg, err := wgconf.Parse(string(data))
	if err != nil {
		return fmt.Errorf("sync %s: %w", name, err)
	}

	iface, err := e.upsertInterface(ctx, name, cfg)
	if err != nil {
		if e.metrics != nil {
			e.metrics.SyncErrors.Inc()
		}
		return err
	}
	if err := e.ReconcileFromConfig(ctx, iface, cfg); err != nil {
		if e.metrics != nil {
			e.metrics.SyncErrors.Inc()
		}
		return err
	}
	if e.metrics != nil {
		e.metrics.Syncs.Inc()
	}
	return nil
}

// SyncAll reconciles every config file in the config dir concurrently and
// joins the per-interface errors.
func (e *Engine) SyncAll(ctx context.Context) error {
	paths, err := filepath.Glob(filepath.Join(e.configDir, "*.conf"))
	if err != nil {
		return fmt.Errorf("scan %s: %w", e.configDir, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".conf")
		if !services.ValidInterfaceName(name) {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := e.SyncOne(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// upsertInterface creates or refreshes the record for name from its parsed
// config.
func (e *Engine) upsertInterface(ctx context.Context, name string, cfg *wgconf.Config) (*models.Interface, error) {
	publicKey, err := e.keys.PublicFor(cfg.Interface.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", name, err)
	}

	subnet := defaultSubnet
	if cfg.Interface.Address != "" {
		subnet, err = subnetOf(cfg.Interface.Address)
		if err != nil {
			return nil, fmt.Errorf("sync %s: %w", name, err)
		}
	}
	port := cfg.Interface.ListenPort
	if port == 0 {
		port = defaultListenPort
	}
	mtu := cfg.Interface.MTU
	if mtu == 0 {
		mtu = defaultMTU
	}

	status := models.InterfaceInactive
	if e.hostHasInterface(name) {
		status = models.InterfaceActive
	}

	iface, err := e.interfaces.GetByName(ctx, name)
	switch {
	case errors.Is(err, services.ErrNotFound):
		iface = &models.Interface{
			Name:        name,
			Subnet:      subnet,
			ListenPort:  port,
			PrivateKey:  cfg.Interface.PrivateKey,
			PublicKey:   publicKey,
			MTU:         mtu,
			DNS:         cfg.Interface.DNS,
			IPv6Enabled: !cfg.Interface.DisableIPv6,
			Status:      status,
		}
		if err := services.ValidateInterface(iface); err != nil {
			return nil, fmt.Errorf("sync %s: %w", name, err)
		}
		if err := e.interfaces.Create(ctx, iface); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
		e.refreshActiveGauge(ctx)
		e.logger.Info("interface registered from config",
			zap.String("interface", name), zap.String("subnet", subnet))
		return iface, nil

	case err != nil:
		return nil, err
	}

	iface.Subnet = subnet
	iface.ListenPort = port
	iface.PrivateKey = cfg.Interface.PrivateKey
	iface.PublicKey = publicKey
	iface.MTU = mtu
	iface.DNS = cfg.Interface.DNS
	iface.IPv6Enabled = !cfg.Interface.DisableIPv6
	switch {
	case status == models.InterfaceActive && iface.Status != models.InterfaceActive:
		iface.Status = models.InterfaceActive
		if iface.LastStartAt.IsZero() {
			iface.LastStartAt = e.now()
		}
	case status == models.InterfaceInactive && iface.Status == models.InterfaceActive:
		iface.Status = models.InterfaceInactive
	}
	if err := services.ValidateInterface(iface); err != nil {
		return nil, fmt.Errorf("sync %s: %w", name, err)
	}
	if err := e.interfaces.Update(ctx, iface); err != nil {
		return nil, fmt.Errorf("refresh %s: %w", name, err)
	}
	e.refreshActiveGauge(ctx)
	return iface, nil
}

// hostHasInterface reports whether the host currently exposes the named
// link. Enumeration failures are logged and treated as not present.
func (e *Engine) hostHasInterface(name string) bool {
	names, err := e.enum.InterfaceNames()
	if err != nil {
		e.logger.Warn("enumerate host interfaces", zap.Error(err))
		return false
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (e *Engine) markError(ctx context.Context, iface *models.Interface, cause error) {
	if err := e.interfaces.UpdateStatus(ctx, iface.ID, models.InterfaceError); err != nil {
		e.logger.Error("failed to mark interface errored",
			zap.String("interface", iface.Name), zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.LifecycleErrors.Inc()
	}
	e.refreshActiveGauge(ctx)
	e.publish(ctx, event.TopicInterfaceError, iface.Name, cause.Error())
}

// refreshActiveGauge recomputes the active-interface gauge from the store.
// Counting beats increments here: an interface can leave the active state
// through several paths and an unpaired adjustment would drift the gauge.
func (e *Engine) refreshActiveGauge(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	n, err := e.interfaces.CountByStatus(ctx, models.InterfaceActive)
	if err != nil {
		e.logger.Warn("count active interfaces", zap.Error(err))
		return
	}
	e.metrics.ActiveInterfaces.Set(float64(n))
}

func (e *Engine) publish(ctx context.Context, topic, source string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.PublishAsync(ctx, event.Event{
		Topic:     topic,
		Source:    source,
		Timestamp: e.now(),
		Payload:   payload,
	})
}

// subnetOf reduces an interface Address directive (host/prefix) to the
// canonical subnet, e.g. "10.8.0.1/24" to "10.8.0.0/24".
func subnetOf(address string) (string, error) {
	prefix, err := netip.ParsePrefix(address)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", address, err)
	}
	return prefix.Masked().String(), nil
}
