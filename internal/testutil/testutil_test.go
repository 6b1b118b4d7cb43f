package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/wgfleet/wgfleet/internal/event"
	"github.com/wgfleet/wgfleet/pkg/models"
)

func TestLogger_NotNil(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewStore_Usable(t *testing.T) {
	db := NewStore(t)
	if db == nil {
		t.Fatal("expected non-nil store")
	}
	if err := db.DB().PingContext(context.Background()); err != nil {
		t.Fatalf("PingContext: %v", err)
	}

	// Core schema should be present.
	var n int
	if err := db.DB().QueryRow("SELECT COUNT(*) FROM wg_interfaces").Scan(&n); err != nil {
		t.Fatalf("wg_interfaces table missing: %v", err)
	}
}

func TestMockBus_RecordsEvents(t *testing.T) {
	bus := NewMockBus()

	ev := event.Event{Topic: "test.topic", Source: "test"}
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	bus.PublishAsync(context.Background(), event.Event{Topic: "test.async", Source: "test"})

	events := bus.Events()
	if len(events) != 2 {
		t.Fatalf("Events len = %d, want 2", len(events))
	}
	if events[0].Topic != "test.topic" {
		t.Errorf("events[0].Topic = %q, want test.topic", events[0].Topic)
	}
	if events[1].Topic != "test.async" {
		t.Errorf("events[1].Topic = %q, want test.async", events[1].Topic)
	}
}

func TestMockBus_Reset(t *testing.T) {
	bus := NewMockBus()
	_ = bus.Publish(context.Background(), event.Event{Topic: "a"})
	bus.Reset()
	if len(bus.Events()) != 0 {
		t.Error("expected empty events after Reset")
	}
}

func TestClock_Advance(t *testing.T) {
	c := NewClock()
	start := c.Now()
	c.Advance(5 * time.Minute)
	if got := c.Now().Sub(start); got != 5*time.Minute {
		t.Errorf("Advance: elapsed = %v, want 5m", got)
	}
}

func TestClock_Set(t *testing.T) {
	c := NewClock()
	target := time.Date(2030, 6, 15, 12, 0, 0, 0, time.UTC)
	c.Set(target)
	if !c.Now().Equal(target) {
		t.Errorf("Set: got %v, want %v", c.Now(), target)
	}
}

func TestNewInterface_Defaults(t *testing.T) {
	iface := NewInterface()
	if iface.ID == "" {
		t.Error("expected non-empty ID")
	}
	if iface.Status != models.InterfaceInactive {
		t.Errorf("Status = %q, want inactive", iface.Status)
	}
	if iface.Name != "wg0" {
		t.Errorf("Name = %q, want wg0", iface.Name)
	}
}

func TestNewPeer_WithOptions(t *testing.T) {
	p := NewPeer("iface-1",
		WithAddress("10.8.0.9"),
		WithPeerStatus(models.PeerConnected),
	)
	if p.InterfaceID != "iface-1" {
		t.Errorf("InterfaceID = %q, want iface-1", p.InterfaceID)
	}
	if p.Address != "10.8.0.9" {
		t.Errorf("Address = %q, want 10.8.0.9", p.Address)
	}
	if p.Status != models.PeerConnected {
		t.Errorf("Status = %q, want connected", p.Status)
	}
}
