package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wgfleet/wgfleet/internal/event"
	"github.com/wgfleet/wgfleet/internal/ipalloc"
	"github.com/wgfleet/wgfleet/internal/services"
	"github.com/wgfleet/wgfleet/internal/testutil"
	"github.com/wgfleet/wgfleet/pkg/models"
)

func (env *engineEnv) readConfig(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(env.dir, name+".conf"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	return string(data)
}

func TestProvisionPeer(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	iface := env.createInterface(t)

	peer, err := env.engine.ProvisionPeer(ctx, iface.ID, "laptop")
	if err != nil {
		t.Fatalf("ProvisionPeer: %v", err)
	}

	if peer.Address != "10.8.0.2" {
		t.Errorf("Address = %s, want 10.8.0.2", peer.Address)
	}
	if peer.PrivateKey == "" || peer.PublicKey == "" || peer.PresharedKey == "" {
		t.Error("provisioned peer missing key material")
	}
	if len(peer.AllowedIPs) != 1 || peer.AllowedIPs[0] != "10.8.0.2/32" {
		t.Errorf("AllowedIPs = %v, want [10.8.0.2/32]", peer.AllowedIPs)
	}
	if peer.Keepalive != iface.Keepalive {
		t.Errorf("Keepalive = %d, want inherited %d", peer.Keepalive, iface.Keepalive)
	}
	if peer.Status != models.PeerPending || !peer.Enabled {
		t.Errorf("status/enabled = %s/%v, want pending/true", peer.Status, peer.Enabled)
	}

	text := env.readConfig(t, iface.Name)
	if !strings.Contains(text, "PublicKey = "+peer.PublicKey) {
		t.Error("config file missing provisioned peer")
	}
	if !strings.Contains(text, "Address = 10.8.0.1/24") {
		t.Errorf("config file missing server address:\n%s", text)
	}
	if !env.hasTopic(event.TopicPeerCreated) {
		t.Error("no peer.created event published")
	}

	// Addresses advance for subsequent peers.
	second, err := env.engine.ProvisionPeer(ctx, iface.ID, "phone")
	if err != nil {
		t.Fatalf("second ProvisionPeer: %v", err)
	}
	if second.Address != "10.8.0.3" {
		t.Errorf("second Address = %s, want 10.8.0.3", second.Address)
	}
}

func TestProvisionPeer_ExhaustedSubnet(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	iface := env.createInterface(t, testutil.WithSubnet("10.8.0.0/30"))

	if _, err := env.engine.ProvisionPeer(ctx, iface.ID, "only"); err != nil {
		t.Fatalf("first ProvisionPeer: %v", err)
	}
	_, err := env.engine.ProvisionPeer(ctx, iface.ID, "one-too-many")
	if !errors.Is(err, ipalloc.ErrAddressSpaceExhausted) {
		t.Errorf("ProvisionPeer on full subnet = %v, want ErrAddressSpaceExhausted", err)
	}
}

func TestRewriteConfig_PreservesExtraDirectives(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	iface := env.createInterface(t)

	writeConfig(t, env.dir, iface.Name, fmt.Sprintf(`[Interface]
Address = 10.8.0.1/24
ListenPort = 51820
PrivateKey = %s
PostUp = iptables -A FORWARD -i %%i -j ACCEPT
`, iface.PrivateKey))

	if _, err := env.engine.ProvisionPeer(ctx, iface.ID, "laptop"); err != nil {
		t.Fatalf("ProvisionPeer: %v", err)
	}

	text := env.readConfig(t, iface.Name)
	if !strings.Contains(text, "PostUp = iptables -A FORWARD") {
		t.Errorf("PostUp directive lost on rewrite:\n%s", text)
	}
}

func TestSetPeerEnabled(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	iface := env.createInterface(t)

	peer, err := env.engine.ProvisionPeer(ctx, iface.ID, "laptop")
	if err != nil {
		t.Fatalf("ProvisionPeer: %v", err)
	}

	disabled, err := env.engine.SetPeerEnabled(ctx, peer.ID, false)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if disabled.Status != models.PeerDisabled || disabled.Enabled {
		t.Errorf("after disable: status=%s enabled=%v", disabled.Status, disabled.Enabled)
	}
	if strings.Contains(env.readConfig(t, iface.Name), peer.PublicKey) {
		t.Error("disabled peer still present in config file")
	}

	enabled, err := env.engine.SetPeerEnabled(ctx, peer.ID, true)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if enabled.Status != models.PeerPending || !enabled.Enabled {
		t.Errorf("after enable: status=%s enabled=%v", enabled.Status, enabled.Enabled)
	}
	if !strings.Contains(env.readConfig(t, iface.Name), peer.PublicKey) {
		t.Error("re-enabled peer missing from config file")
	}

	// The address survives the disable/enable cycle.
	if enabled.Address != peer.Address {
		t.Errorf("address changed across disable: %s -> %s", peer.Address, enabled.Address)
	}
}

func TestRotatePeerKeys(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	iface := env.createInterface(t)

	peer, err := env.engine.ProvisionPeer(ctx, iface.ID, "laptop")
	if err != nil {
		t.Fatalf("ProvisionPeer: %v", err)
	}

	rotated, err := env.engine.RotatePeerKeys(ctx, peer.ID)
	if err != nil {
		t.Fatalf("RotatePeerKeys: %v", err)
	}
	if rotated.PublicKey == peer.PublicKey || rotated.PrivateKey == peer.PrivateKey {
		t.Error("key material unchanged after rotation")
	}
	if rotated.Status != models.PeerPending {
		t.Errorf("status = %s, want pending", rotated.Status)
	}

	text := env.readConfig(t, iface.Name)
	if strings.Contains(text, peer.PublicKey) {
		t.Error("old public key still in config file")
	}
	if !strings.Contains(text, rotated.PublicKey) {
		t.Error("new public key missing from config file")
	}
}

func TestRemovePeer(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	iface := env.createInterface(t)

	peer, err := env.engine.ProvisionPeer(ctx, iface.ID, "laptop")
	if err != nil {
		t.Fatalf("ProvisionPeer: %v", err)
	}
	if err := env.engine.RemovePeer(ctx, peer.ID); err != nil {
		t.Fatalf("RemovePeer: %v", err)
	}

	if _, err := env.peers.Get(ctx, peer.ID); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("peer still present after removal: %v", err)
	}
	if strings.Contains(env.readConfig(t, iface.Name), peer.PublicKey) {
		t.Error("removed peer still in config file")
	}
}

func TestRenderPeerConfig(t *testing.T) {
	iface := testutil.NewInterface()
	peer := testutil.NewPeer(iface.ID)
	peer.PrivateKey = testutil.Key()
	peer.PresharedKey = testutil.Key()

	text, err := RenderPeerConfig(&iface, &peer, "vpn.example.com:51820")
	if err != nil {
		t.Fatalf("RenderPeerConfig: %v", err)
	}
	for _, want := range []string{
		"Address = " + peer.Address + "/32",
		"PrivateKey = " + peer.PrivateKey,
		"PublicKey = " + iface.PublicKey,
		"AllowedIPs = " + iface.Subnet,
		"Endpoint = vpn.example.com:51820",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("client config missing %q:\n%s", want, text)
		}
	}
}

func TestRenderPeerConfig_RequiresPrivateKey(t *testing.T) {
	iface := testutil.NewInterface()
	peer := testutil.NewPeer(iface.ID) // no private key held
	if _, err := RenderPeerConfig(&iface, &peer, "vpn.example.com:51820"); err == nil {
		t.Error("RenderPeerConfig succeeded without a private key")
	}
}
