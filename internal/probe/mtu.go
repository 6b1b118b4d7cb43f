package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wgfleet/wgfleet/internal/event"
	"github.com/wgfleet/wgfleet/internal/metrics"
	"github.com/wgfleet/wgfleet/pkg/models"
)

const (
	// headerAllowance is subtracted from a candidate MTU to size the large
	// probe payload (20 bytes IPv4 header + 8 bytes ICMP header).
	headerAllowance = 28

	// candidateFloor is the smallest candidate worth probing. Anything
	// below it would need a sub-minimum payload; such candidates are
	// recorded as zero-score failures without touching the path.
	candidateFloor = models.MTUMin + headerAllowance

	smallPayload  = 64
	mediumPayload = 512

	defaultSettleDelay    = 300 * time.Millisecond
	defaultCandidateDelay = 300 * time.Millisecond
)

// Path is the slice of the network controller the sweeper drives.
type Path interface {
	SetMTU(ctx context.Context, name string, mtu int) error
	MTU(ctx context.Context, name string) (int, error)
}

// SweepResult is the outcome of probing a candidate list against one path.
type SweepResult struct {
	Interface   string               `json:"interface"`
	Host        string               `json:"host"`
	OriginalMTU int                  `json:"original_mtu"`
	Results     []models.ProbeResult `json:"results"`
	BestMTU     int                  `json:"best_mtu"`
	Rating      string               `json:"rating,omitempty"`
}

// Sweeper runs MTU probe sweeps. Sweeps against the same interface are
// serialized; different interfaces may probe concurrently.
type Sweeper struct {
	path    Path
	prober  Prober
	logger  *zap.Logger
	metrics *metrics.Metrics
	bus     event.Publisher

	settleDelay    time.Duration
	candidateDelay time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSweeper creates a Sweeper with the default settle and inter-candidate
// delays.
func NewSweeper(path Path, prober Prober, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		path:           path,
		prober:         prober,
		logger:         logger,
		settleDelay:    defaultSettleDelay,
		candidateDelay: defaultCandidateDelay,
		locks:          make(map[string]*sync.Mutex),
	}
}

// SetDelays overrides the settle and inter-candidate delays. Used by tests
// and by deployments probing many interfaces on a schedule.
func (s *Sweeper) SetDelays(settle, candidate time.Duration) {
	s.settleDelay = settle
	s.candidateDelay = candidate
}

// Instrument attaches the sweep counter and the completion event publisher.
// Both are optional.
func (s *Sweeper) Instrument(m *metrics.Metrics, bus event.Publisher) {
	s.metrics = m
	s.bus = bus
}

// Run probes each candidate MTU in order against the named interface's path
// and scores it. The path's original MTU is restored unconditionally before
// Run returns, even when every candidate fails. The best candidate is the
// highest-scoring successful one; with no successes the original MTU is the
// recommendation.
func (s *Sweeper) Run(ctx context.Context, name, host, provider string, candidates []int) (*SweepResult, error) {
	unlock := s.lock(name)
	defer unlock()

	original, err := s.path.MTU(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read original MTU of %q: %w", name, err)
	}

	// Mandatory cleanup: the path must leave the sweep with the MTU it
	// entered with, regardless of candidate failures or cancellation.
	defer func() {
		restoreCtx := context.WithoutCancel(ctx)
		if err := s.path.SetMTU(restoreCtx, name, original); err != nil {
			s.logger.Error("failed to restore original MTU",
				zap.String("interface", name),
				zap.Int("mtu", original),
				zap.Error(err),
			)
		}
	}()

	result := &SweepResult{
		Interface:   name,
		Host:        host,
		OriginalMTU: original,
		Results:     make([]models.ProbeResult, 0, len(candidates)),
	}

	for i, candidate := range candidates {
		if i > 0 {
			s.sleep(ctx, s.candidateDelay)
		}
		result.Results = append(result.Results, s.probeCandidate(ctx, name, host, candidate))
	}

	best := original
	bestScore := -1.0
	for _, r := range result.Results {
		if r.Success && r.Score > bestScore {
			best = r.MTU
			bestScore = r.Score
		}
	}
	result.BestMTU = best
	if provider != "" {
		result.Rating = DeviationRating(provider, best)
	}

	if s.metrics != nil {
		s.metrics.ProbeSweeps.Inc()
	}
	if s.bus != nil {
		s.bus.PublishAsync(ctx, event.Event{
			Topic:     event.TopicProbeCompleted,
			Source:    name,
			Timestamp: time.Now(),
			Payload:   result,
		})
	}

	s.logger.Info("MTU sweep complete",
		zap.String("interface", name),
		zap.Int("original_mtu", original),
		zap.Int("best_mtu", best),
		zap.Int("candidates", len(candidates)),
	)
	return result, nil
}

// probeCandidate scores one candidate. Failures yield a zero-score sample,
// never an error: a failed candidate must not abort the sweep.
func (s *Sweeper) probeCandidate(ctx context.Context, name, host string, candidate int) models.ProbeResult {
	failed := models.ProbeResult{MTU: candidate, PacketLoss: 1}

	if candidate < candidateFloor {
		s.logger.Debug("candidate below floor, skipping probe",
			zap.Int("candidate", candidate), zap.Int("floor", candidateFloor))
		return failed
	}

	if err := s.path.SetMTU(ctx, name, candidate); err != nil {
		s.logger.Warn("set candidate MTU failed",
			zap.String("interface", name), zap.Int("candidate", candidate), zap.Error(err))
		return failed
	}
	s.sleep(ctx, s.settleDelay)

	sizes := []int{smallPayload, mediumPayload, candidate - headerAllowance}
	var latencySum time.Duration
	var lossSum float64
	succeeded := 0
	fullSizeOK := false

	for _, size := range sizes {
		stats, err := s.prober.Probe(ctx, host, size)
		if err != nil {
			lossSum += 1
			continue
		}
		latencySum += stats.AvgLatency
		lossSum += stats.PacketLoss
		succeeded++
		if size == candidate-headerAllowance {
			fullSizeOK = true
		}
	}

	// The candidate-sized probe is the deciding one: if a full-size packet
	// cannot cross the path, the candidate is unusable no matter how the
	// control probes fared.
	if !fullSizeOK || succeeded == 0 {
		return failed
	}

	avgLatency := float64(latencySum/time.Duration(succeeded)) / float64(time.Millisecond)
	avgLoss := lossSum / float64(len(sizes))

	return models.ProbeResult{
		MTU:        candidate,
		Success:    true,
		LatencyMs:  avgLatency,
		PacketLoss: avgLoss,
		Score:      score(avgLatency, avgLoss),
	}
}

// score computes clamp(0,100, 50 + latencyBonus - packetLossPercent).
func score(avgLatencyMs, packetLoss float64) float64 {
	var bonus float64
	switch {
	case avgLatencyMs < 50:
		bonus = 30
	case avgLatencyMs < 100:
		bonus = 20
	case avgLatencyMs < 200:
		bonus = 10
	}
	s := 50 + bonus - packetLoss*100
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// sleep waits for d or until the context is done.
func (s *Sweeper) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (s *Sweeper) lock(name string) func() {
	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Summarize aggregates sweep results into the form stored on a profile.
func Summarize(sweep *SweepResult, now time.Time) *models.SweepSummary {
	if len(sweep.Results) == 0 {
		return &models.SweepSummary{BestMTU: sweep.BestMTU, TestedAt: now}
	}
	var succeeded int
	var latencySum, lossSum float64
	for _, r := range sweep.Results {
		if r.Success {
			succeeded++
			latencySum += r.LatencyMs
		}
		lossSum += r.PacketLoss
	}
	summary := &models.SweepSummary{
		SuccessRate: float64(succeeded) / float64(len(sweep.Results)),
		PacketLoss:  lossSum / float64(len(sweep.Results)),
		BestMTU:     sweep.BestMTU,
		TestedAt:    now,
	}
	if succeeded > 0 {
		summary.AvgLatencyMs = latencySum / float64(succeeded)
	}
	return summary
}
