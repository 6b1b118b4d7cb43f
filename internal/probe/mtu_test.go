package probe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wgfleet/wgfleet/internal/event"
	"github.com/wgfleet/wgfleet/internal/metrics"
	"github.com/wgfleet/wgfleet/internal/testutil"
	"github.com/wgfleet/wgfleet/pkg/models"
)

// fakeEnv couples a fake path and prober so probe behavior can depend on
// the MTU currently set on the path.
type fakeEnv struct {
	mu         sync.Mutex
	currentMTU int

	setCalls   []int
	setErr     error
	latencyFor map[int]time.Duration // current MTU -> latency
	maxPayload int                   // probes larger than this fail
}

func newFakeEnv(originalMTU int) *fakeEnv {
	return &fakeEnv{
		currentMTU: originalMTU,
		latencyFor: map[int]time.Duration{},
		maxPayload: 1 << 16,
	}
}

func (f *fakeEnv) SetMTU(_ context.Context, _ string, mtu int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, mtu)
	if f.setErr != nil {
		return f.setErr
	}
	f.currentMTU = mtu
	return nil
}

func (f *fakeEnv) MTU(_ context.Context, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentMTU, nil
}

func (f *fakeEnv) Probe(_ context.Context, host string, payloadSize int) (*PingStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if payloadSize > f.maxPayload {
		return nil, &ProbeError{Host: host, Size: payloadSize, Err: errors.New("timeout")}
	}
	lat := 10 * time.Millisecond
	if l, ok := f.latencyFor[f.currentMTU]; ok {
		lat = l
	}
	return &PingStats{AvgLatency: lat, PacketLoss: 0, Received: 3}, nil
}

func newTestSweeper(env *fakeEnv) *Sweeper {
	s := NewSweeper(env, env, testutil.Logger())
	s.SetDelays(0, 0)
	return s
}

func TestSweep_ScoresAndBestCandidate(t *testing.T) {
	env := newFakeEnv(1500)
	env.maxPayload = 1400 // 1500-28=1472 fails; 1400-28=1372 and below succeed.
	env.latencyFor[1280] = 40 * time.Millisecond
	env.latencyFor[1400] = 90 * time.Millisecond

	s := newTestSweeper(env)
	res, err := s.Run(context.Background(), "wg0", "10.8.0.1", "", []int{1280, 1400, 1500})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(res.Results))
	}
	wantScores := []float64{80, 70, 0}
	for i, want := range wantScores {
		if got := res.Results[i].Score; got != want {
			t.Errorf("Results[%d].Score = %v, want %v", i, got, want)
		}
	}
	if res.Results[2].Success {
		t.Error("Results[2].Success = true, want false")
	}
	if res.BestMTU != 1280 {
		t.Errorf("BestMTU = %d, want 1280", res.BestMTU)
	}
}

func TestSweep_RestoresOriginalMTU(t *testing.T) {
	env := newFakeEnv(1420)
	env.latencyFor[1280] = 40 * time.Millisecond

	s := newTestSweeper(env)
	if _, err := s.Run(context.Background(), "wg0", "10.8.0.1", "", []int{1280, 1380}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if env.currentMTU != 1420 {
		t.Errorf("path MTU after sweep = %d, want original 1420", env.currentMTU)
	}
	last := env.setCalls[len(env.setCalls)-1]
	if last != 1420 {
		t.Errorf("final SetMTU = %d, want restore to 1420", last)
	}
}

func TestSweep_RestoresEvenWhenEveryCandidateFails(t *testing.T) {
	env := newFakeEnv(1420)
	env.maxPayload = 0 // every probe fails

	s := newTestSweeper(env)
	res, err := s.Run(context.Background(), "wg0", "10.8.0.1", "", []int{1280, 1400, 1500})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i, r := range res.Results {
		if r.Success || r.Score != 0 {
			t.Errorf("Results[%d] = %+v, want zero-score failure", i, r)
		}
	}
	// With no successful candidate the original MTU is the recommendation.
	if res.BestMTU != 1420 {
		t.Errorf("BestMTU = %d, want original 1420", res.BestMTU)
	}
	if env.currentMTU != 1420 {
		t.Errorf("path MTU after failed sweep = %d, want 1420", env.currentMTU)
	}
}

func TestSweep_CandidateBelowFloorNotProbed(t *testing.T) {
	env := newFakeEnv(1420)

	s := newTestSweeper(env)
	res, err := s.Run(context.Background(), "wg0", "10.8.0.1", "", []int{500})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Results[0].Success || res.Results[0].Score != 0 {
		t.Errorf("below-floor candidate = %+v, want zero-score failure", res.Results[0])
	}
	// Only the restore call may touch the path.
	for _, mtu := range env.setCalls {
		if mtu == 500 {
			t.Error("below-floor candidate was pushed onto the path")
		}
	}
}

func TestSweep_SetMTUFailureRecordedNotFatal(t *testing.T) {
	env := newFakeEnv(1420)
	env.setErr = errors.New("ip link: operation not permitted")

	s := newTestSweeper(env)
	res, err := s.Run(context.Background(), "wg0", "10.8.0.1", "", []int{1280, 1380})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, r := range res.Results {
		if r.Success {
			t.Errorf("Results[%d].Success = true, want false", i)
		}
	}
	if res.BestMTU != 1420 {
		t.Errorf("BestMTU = %d, want original", res.BestMTU)
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		latencyMs float64
		loss      float64
		want      float64
	}{
		{"fast clean", 40, 0, 80},
		{"medium clean", 90, 0, 70},
		{"slow clean", 150, 0, 60},
		{"very slow clean", 300, 0, 50},
		{"fast lossy", 40, 0.5, 30},
		{"total loss clamps to zero", 300, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := score(tt.latencyMs, tt.loss); got != tt.want {
				t.Errorf("score(%v, %v) = %v, want %v", tt.latencyMs, tt.loss, got, tt.want)
			}
		})
	}
}

func TestDeviationRating(t *testing.T) {
	tests := []struct {
		provider string
		best     int
		want     string
	}{
		{"generic", 1420, RatingGood},
		{"generic", 1370, RatingGood},
		{"generic", 1330, RatingFair},
		{"generic", 1280, RatingPoor},
		{"lte", 1360, RatingGood},
		{"unknown-provider", 1400, RatingGood}, // falls back to generic
	}
	for _, tt := range tests {
		if got := DeviationRating(tt.provider, tt.best); got != tt.want {
			t.Errorf("DeviationRating(%s, %d) = %s, want %s", tt.provider, tt.best, got, tt.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	sweep := &SweepResult{
		BestMTU: 1280,
		Results: []models.ProbeResult{
			{MTU: 1280, Success: true, LatencyMs: 40, PacketLoss: 0, Score: 80},
			{MTU: 1400, Success: true, LatencyMs: 90, PacketLoss: 0, Score: 70},
			{MTU: 1500, Success: false, LatencyMs: 0, PacketLoss: 1, Score: 0},
		},
	}

	got := Summarize(sweep, now)

	if want := 2.0 / 3.0; got.SuccessRate != want {
		t.Errorf("SuccessRate = %v, want %v", got.SuccessRate, want)
	}
	if got.AvgLatencyMs != 65 {
		t.Errorf("AvgLatencyMs = %v, want 65", got.AvgLatencyMs)
	}
	if want := 1.0 / 3.0; got.PacketLoss != want {
		t.Errorf("PacketLoss = %v, want %v", got.PacketLoss, want)
	}
	if got.BestMTU != 1280 {
		t.Errorf("BestMTU = %d, want 1280", got.BestMTU)
	}
	if !got.TestedAt.Equal(now) {
		t.Errorf("TestedAt = %v, want %v", got.TestedAt, now)
	}
}

func TestSummarize_Empty(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	got := Summarize(&SweepResult{BestMTU: 1420}, now)
	if got.BestMTU != 1420 || got.SuccessRate != 0 || !got.TestedAt.Equal(now) {
		t.Errorf("Summarize(empty) = %+v", got)
	}
}

func TestSweep_CountsSweepAndAnnouncesCompletion(t *testing.T) {
	env := newFakeEnv(1420)
	s := newTestSweeper(env)

	m := metrics.New(prometheus.NewRegistry())
	bus := testutil.NewMockBus()
	s.Instrument(m, bus)

	result, err := s.Run(context.Background(), "wg0", "10.8.0.2", "", []int{1400})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := promtestutil.ToFloat64(m.ProbeSweeps); got != 1 {
		t.Errorf("probe sweep counter = %v, want 1", got)
	}

	events := bus.Events()
	if len(events) != 1 {
		t.Fatalf("events published = %d, want 1", len(events))
	}
	if events[0].Topic != event.TopicProbeCompleted {
		t.Errorf("topic = %q, want %q", events[0].Topic, event.TopicProbeCompleted)
	}
	if events[0].Source != "wg0" {
		t.Errorf("source = %q, want wg0", events[0].Source)
	}
	if payload, ok := events[0].Payload.(*SweepResult); !ok || payload != result {
		t.Errorf("payload = %#v, want the sweep result", events[0].Payload)
	}
}
