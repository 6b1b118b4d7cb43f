package models

import "time"

// MTUProfile is a named, provider-tagged bundle of recommended settings.
// At most one profile per provider may be the default.
type MTUProfile struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Provider  string   `json:"provider"`
	MTU       int      `json:"mtu"`
	MinMTU    int      `json:"min_mtu"`
	MaxMTU    int      `json:"max_mtu"`
	DNS       []string `json:"dns"`
	Keepalive int      `json:"keepalive"`
	IsDefault bool     `json:"is_default"`

	// AppliedTo is a rolling log of applications of this profile.
	AppliedTo []ProfileApplication `json:"applied_to,omitempty"`

	// TestResults holds the aggregate of the most recent probe sweep.
	TestResults *SweepSummary `json:"test_results,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileApplication records one application of a profile to an interface.
type ProfileApplication struct {
	Interface   string    `json:"interface"`
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
	PreviousMTU int       `json:"previous_mtu"`
}

// SweepSummary aggregates the outcome of an MTU probe sweep.
type SweepSummary struct {
	SuccessRate  float64   `json:"success_rate"` // 0..1 over candidates probed.
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	PacketLoss   float64   `json:"packet_loss"` // 0..1 averaged over candidates.
	BestMTU      int       `json:"best_mtu"`
	TestedAt     time.Time `json:"tested_at"`
}

// ProbeResult is the scored outcome for a single candidate MTU.
type ProbeResult struct {
	MTU        int     `json:"mtu"`
	Success    bool    `json:"success"`
	LatencyMs  float64 `json:"latency_ms"`
	PacketLoss float64 `json:"packet_loss"` // 0..1
	Score      float64 `json:"score"`       // 0..100
}
