// Package monitor watches the agent's own health: it keeps a rolling history
// of behavior metrics, flags anomalous shifts between samples, and runs
// scenario validation against the live pipeline.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sample is one metrics snapshot taken by the monitoring job.
type Sample struct {
	At              time.Time
	Interactions    int64   // total stored interactions
	BlockedRate     float64 // share of inbound messages refused by the gate
	CorrectionRate  float64 // share of responses repaired or replaced
	EthicsScore     float64 // mean ethics score over the window
	GenerationFails int64   // generator errors since the last sample
}

// Anomaly is one detected deviation worth acting on.
type Anomaly struct {
	Metric   string
	Detail   string
	Severity float64 // [0,1], higher is worse
	At       time.Time
}

// Config tunes anomaly detection.
type Config struct {
	HistorySize     int
	EthicsDropLimit float64 // max tolerated drop between consecutive samples
	BlockSpikeLimit float64 // max tolerated jump in blocked rate
}

// Monitor keeps metric history and detects anomalies.
type Monitor struct {
	mu      sync.Mutex
	cfg     Config
	logger  *zap.Logger
	history []Sample
}

// New builds a monitor.
func New(cfg Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.EthicsDropLimit <= 0 {
		cfg.EthicsDropLimit = 0.2
	}
	if cfg.BlockSpikeLimit <= 0 {
		cfg.BlockSpikeLimit = 0.3
	}
	return &Monitor{cfg: cfg, logger: logger}
}

// Record appends a sample and returns anomalies found against the previous
// one. The first sample never produces anomalies.
func (m *Monitor) Record(s Sample) []Anomaly {
	m.mu.Lock()
	defer m.mu.Unlock()

	var anomalies []Anomaly
	if len(m.history) > 0 {
		prev := m.history[len(m.history)-1]
		anomalies = m.compare(prev, s)
	}

	m.history = append(m.history, s)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}

	for _, a := range anomalies {
		m.logger.Warn("behavior anomaly detected",
			zap.String("metric", a.Metric),
			zap.String("detail", a.Detail),
			zap.Float64("severity", a.Severity))
	}
	return anomalies
}

func (m *Monitor) compare(prev, cur Sample) []Anomaly {
	var out []Anomaly

	if drop := prev.EthicsScore - cur.EthicsScore; drop > m.cfg.EthicsDropLimit {
		out = append(out, Anomaly{
			Metric:   "ethics_score",
			Detail:   fmt.Sprintf("dropped %.2f between samples", drop),
			Severity: clampUnit(drop / 0.5),
			At:       cur.At,
		})
	}
	if spike := cur.BlockedRate - prev.BlockedRate; spike > m.cfg.BlockSpikeLimit {
		out = append(out, Anomaly{
			Metric:   "blocked_rate",
			Detail:   fmt.Sprintf("jumped %.2f between samples", spike),
			Severity: clampUnit(spike),
			At:       cur.At,
		})
	}
	if cur.CorrectionRate > 0.5 && cur.CorrectionRate > prev.CorrectionRate*2 {
		out = append(out, Anomaly{
			Metric:   "correction_rate",
			Detail:   fmt.Sprintf("rose to %.2f", cur.CorrectionRate),
			Severity: clampUnit(cur.CorrectionRate),
			At:       cur.At,
		})
	}
	if cur.GenerationFails > prev.GenerationFails+5 {
		out = append(out, Anomaly{
			Metric:   "generation_failures",
			Detail:   fmt.Sprintf("%d new failures since last sample", cur.GenerationFails-prev.GenerationFails),
			Severity: 0.8,
			At:       cur.At,
		})
	}
	return out
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// History returns up to n most recent samples, oldest first.
func (m *Monitor) History(n int) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.history) {
		n = len(m.history)
	}
	out := make([]Sample, n)
	copy(out, m.history[len(m.history)-n:])
	return out
}
