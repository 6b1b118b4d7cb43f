// Package probe runs the empirical MTU optimization sweep: candidate MTU
// values are pushed onto a live path one at a time and scored by ICMP probes
// at several payload sizes.
package probe

import (
	"context"
	"fmt"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ProbeError reports a single failed network probe. Probe failures are not
// fatal to a sweep; the candidate is recorded as a zero-score sample.
type ProbeError struct {
	Host string
	Size int
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s (payload %d): %v", e.Host, e.Size, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// PingStats is the outcome of one probe run at a fixed payload size.
type PingStats struct {
	AvgLatency time.Duration
	PacketLoss float64 // 0..1
	Received   int
}

// Prober sends reachability probes with a configurable payload size.
type Prober interface {
	Probe(ctx context.Context, host string, payloadSize int) (*PingStats, error)
}

// Compile-time interface guard.
var _ Prober = (*ICMPProber)(nil)

// ICMPProber pings targets using ICMP via pro-bing.
type ICMPProber struct {
	timeout time.Duration
	count   int
}

// NewICMPProber creates an ICMP prober with the given per-probe timeout and
// packet count.
func NewICMPProber(timeout time.Duration, count int) *ICMPProber {
	return &ICMPProber{
		timeout: timeout,
		count:   count,
	}
}

// Probe pings the host with the given ICMP payload size.
func (p *ICMPProber) Probe(ctx context.Context, host string, payloadSize int) (*PingStats, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return nil, &ProbeError{Host: host, Size: payloadSize, Err: err}
	}

	pinger.Count = p.count
	pinger.Timeout = p.timeout
	pinger.Size = payloadSize
	pinger.SetPrivileged(runtime.GOOS == "windows")

	// Run pinger in a goroutine for context cancellation.
	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case runErr := <-done:
		if runErr != nil {
			return nil, &ProbeError{Host: host, Size: payloadSize, Err: runErr}
		}
		stats := pinger.Statistics()
		if stats.PacketsRecv == 0 {
			return nil, &ProbeError{Host: host, Size: payloadSize, Err: fmt.Errorf("all packets lost")}
		}
		return &PingStats{
			AvgLatency: stats.AvgRtt,
			PacketLoss: stats.PacketLoss / 100.0, // pro-bing returns 0-100
			Received:   stats.PacketsRecv,
		}, nil

	case <-ctx.Done():
		pinger.Stop()
		return nil, &ProbeError{Host: host, Size: payloadSize, Err: ctx.Err()}
	}
}
