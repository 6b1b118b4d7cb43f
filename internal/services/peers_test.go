package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/wgfleet/wgfleet/internal/services"
	"github.com/wgfleet/wgfleet/internal/testutil"
	"github.com/wgfleet/wgfleet/pkg/models"
)

func TestPeerRepository_CreateAndGetByKey(t *testing.T) {
	ifaces, peers := newRepos(t)
	ctx := context.Background()

	iface := testutil.NewInterface()
	if err := ifaces.Create(ctx, &iface); err != nil {
		t.Fatalf("Create interface: %v", err)
	}

	p := testutil.NewPeer(iface.ID)
	if err := peers.Create(ctx, &p); err != nil {
		t.Fatalf("Create peer: %v", err)
	}

	got, err := peers.GetByPublicKey(ctx, iface.ID, p.PublicKey)
	if err != nil {
		t.Fatalf("GetByPublicKey: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("ID = %q, want %q", got.ID, p.ID)
	}
	if got.Status != models.PeerPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
}

func TestPeerRepository_DuplicateAddress(t *testing.T) {
	ifaces, peers := newRepos(t)
	ctx := context.Background()

	iface := testutil.NewInterface()
	if err := ifaces.Create(ctx, &iface); err != nil {
		t.Fatalf("Create interface: %v", err)
	}

	a := testutil.NewPeer(iface.ID, testutil.WithAddress("10.8.0.2"))
	if err := peers.Create(ctx, &a); err != nil {
		t.Fatalf("Create a: %v", err)
	}

	b := testutil.NewPeer(iface.ID, testutil.WithAddress("10.8.0.2"))
	err := peers.Create(ctx, &b)
	if !errors.Is(err, services.ErrDuplicateAddress) {
		t.Errorf("Create duplicate address = %v, want ErrDuplicateAddress", err)
	}
}

func TestPeerRepository_DuplicatePublicKey(t *testing.T) {
	ifaces, peers := newRepos(t)
	ctx := context.Background()

	iface := testutil.NewInterface()
	if err := ifaces.Create(ctx, &iface); err != nil {
		t.Fatalf("Create interface: %v", err)
	}

	key := testutil.Key()
	a := testutil.NewPeer(iface.ID, testutil.WithAddress("10.8.0.2"), testutil.WithPeerKey(key))
	if err := peers.Create(ctx, &a); err != nil {
		t.Fatalf("Create a: %v", err)
	}

	b := testutil.NewPeer(iface.ID, testutil.WithAddress("10.8.0.3"), testutil.WithPeerKey(key))
	err := peers.Create(ctx, &b)
	if !errors.Is(err, services.ErrAlreadyExists) {
		t.Errorf("Create duplicate key = %v, want ErrAlreadyExists", err)
	}
}

func TestPeerRepository_AddressesInUse(t *testing.T) {
	ifaces, peers := newRepos(t)
	ctx := context.Background()

	iface := testutil.NewInterface()
	if err := ifaces.Create(ctx, &iface); err != nil {
		t.Fatalf("Create interface: %v", err)
	}

	for _, addr := range []string{"10.8.0.2", "10.8.0.3", "10.8.0.4"} {
		p := testutil.NewPeer(iface.ID, testutil.WithAddress(addr))
		if err := peers.Create(ctx, &p); err != nil {
			t.Fatalf("Create %s: %v", addr, err)
		}
	}

	used, err := peers.AddressesInUse(ctx, iface.ID)
	if err != nil {
		t.Fatalf("AddressesInUse: %v", err)
	}
	if len(used) != 3 {
		t.Fatalf("len(used) = %d, want 3", len(used))
	}
	if _, ok := used["10.8.0.3"]; !ok {
		t.Error("10.8.0.3 missing from used set")
	}
}

func TestPeerRepository_UpdateRoundTrip(t *testing.T) {
	ifaces, peers := newRepos(t)
	ctx := context.Background()

	iface := testutil.NewInterface()
	if err := ifaces.Create(ctx, &iface); err != nil {
		t.Fatalf("Create interface: %v", err)
	}
	p := testutil.NewPeer(iface.ID)
	if err := peers.Create(ctx, &p); err != nil {
		t.Fatalf("Create peer: %v", err)
	}

	p.Status = models.PeerConnected
	p.ConnectCount = 3
	p.AllowedIPs = []string{"10.8.0.2/32", "192.168.50.0/24"}
	if err := peers.Update(ctx, &p); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := peers.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.PeerConnected || got.ConnectCount != 3 {
		t.Errorf("got status=%q count=%d, want connected/3", got.Status, got.ConnectCount)
	}
	if len(got.AllowedIPs) != 2 {
		t.Errorf("AllowedIPs = %v, want 2 entries", got.AllowedIPs)
	}
}

func TestPeerRepository_ListByInterface(t *testing.T) {
	ifaces, peers := newRepos(t)
	ctx := context.Background()

	a := testutil.NewInterface(testutil.WithName("wg0"))
	b := testutil.NewInterface(testutil.WithName("wg1"))
	for _, iface := range []*models.Interface{&a, &b} {
		if err := ifaces.Create(ctx, iface); err != nil {
			t.Fatalf("Create interface: %v", err)
		}
	}

	pa := testutil.NewPeer(a.ID, testutil.WithAddress("10.8.0.2"))
	pb := testutil.NewPeer(b.ID, testutil.WithAddress("10.8.0.2"))
	for _, p := range []*models.Peer{&pa, &pb} {
		if err := peers.Create(ctx, p); err != nil {
			t.Fatalf("Create peer: %v", err)
		}
	}

	got, err := peers.ListByInterface(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListByInterface: %v", err)
	}
	if len(got) != 1 || got[0].ID != pa.ID {
		t.Errorf("ListByInterface = %d peers, want only pa", len(got))
	}
}
