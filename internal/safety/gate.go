// Package safety screens inbound messages before they reach the model and
// re-checks outbound responses before they reach the user. Per-sender
// security state lives in a bounded LRU so hostile sender churn cannot grow
// memory without limit.
package safety

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// SenderStatus is the security state machine position for one sender.
type SenderStatus int

const (
	StatusNormal SenderStatus = iota
	StatusWarned
	StatusLockedOut
)

func (s SenderStatus) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusWarned:
		return "warned"
	case StatusLockedOut:
		return "locked_out"
	default:
		return "unknown"
	}
}

// Verdict is the gate's decision for one inbound message.
type Verdict struct {
	Allowed   bool
	Reason    string
	Reply     string // user-facing refusal text when not allowed
	Sanitized string // input with suspicious fragments masked, when allowed
}

// Incident records one security event for reporting.
type Incident struct {
	Sender  string
	Kind    string
	Detail  string
	Emitted time.Time
}

// Report summarizes gate activity since startup.
type Report struct {
	TotalChecked  int64
	TotalBlocked  int64
	ActiveLockout int
	Incidents     []Incident
}

type senderState struct {
	status       SenderStatus
	alertCount   int
	lastAlert    time.Time
	lockedUntil  time.Time
	requestTimes []time.Time
}

// GateConfig tunes the inbound gate.
type GateConfig struct {
	SuspiciousPatterns []string
	AlertThreshold     int           // alerts before lockout
	AlertWindow        time.Duration // alerts older than this stop counting, zero keeps them forever
	LockoutDuration    time.Duration // how long a lockout lasts
	MaxRequestsPerMin  int           // sliding 60s window
	MaxInputLength     int
	MaxTrackedSenders  int
}

// Gate applies the per-sender security state machine.
type Gate struct {
	mu       sync.Mutex
	cfg      GateConfig
	patterns []*regexp.Regexp
	senders  *lru.Cache[string, *senderState]
	logger   *zap.Logger
	now      func() time.Time

	totalChecked int64
	totalBlocked int64
	incidents    []Incident
}

const maxIncidentHistory = 200

// NewGate compiles the configured patterns and builds the gate.
func NewGate(cfg GateConfig, logger *zap.Logger) (*Gate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTrackedSenders <= 0 {
		cfg.MaxTrackedSenders = 1024
	}
	patterns := make([]*regexp.Regexp, 0, len(cfg.SuspiciousPatterns))
	for _, raw := range cfg.SuspiciousPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile suspicious pattern %q: %w", raw, err)
		}
		patterns = append(patterns, re)
	}
	senders, err := lru.New[string, *senderState](cfg.MaxTrackedSenders)
	if err != nil {
		return nil, fmt.Errorf("sender cache: %w", err)
	}
	return &Gate{
		cfg:      cfg,
		patterns: patterns,
		senders:  senders,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Check runs the full inbound screen: lockout, rate limit, length, patterns.
// Order matters: a locked-out sender is refused before any content check.
func (g *Gate) Check(sender, text string) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalChecked++
	now := g.now()
	st := g.sender(sender)

	// Lockout expiry returns the sender to normal with counters cleared.
	if st.status == StatusLockedOut {
		if now.Before(st.lockedUntil) {
			g.totalBlocked++
			return Verdict{
				Allowed: false,
				Reason:  "sender locked out",
				Reply:   "I can't respond right now. Please try again later.",
			}
		}
		st.status = StatusNormal
		st.alertCount = 0
	}

	// Sliding 60 second request window.
	cutoff := now.Add(-time.Minute)
	kept := st.requestTimes[:0]
	for _, t := range st.requestTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.requestTimes = append(kept, now)
	if g.cfg.MaxRequestsPerMin > 0 && len(st.requestTimes) > g.cfg.MaxRequestsPerMin {
		g.recordIncident(sender, "rate_limit", fmt.Sprintf("%d requests in window", len(st.requestTimes)))
		g.raiseAlert(st, sender, now)
		g.totalBlocked++
		return Verdict{
			Allowed: false,
			Reason:  "rate limit exceeded",
			Reply:   "You're sending messages too quickly. Please slow down.",
		}
	}

	if g.cfg.MaxInputLength > 0 && len(text) > g.cfg.MaxInputLength {
		g.recordIncident(sender, "oversized_input", fmt.Sprintf("%d bytes", len(text)))
		g.totalBlocked++
		return Verdict{
			Allowed: false,
			Reason:  "input too long",
			Reply:   fmt.Sprintf("That message is too long. Please keep it under %d characters.", g.cfg.MaxInputLength),
		}
	}

	sanitized := stripUnprintable(text)
	matched := false
	for _, re := range g.patterns {
		if re.MatchString(sanitized) {
			matched = true
			sanitized = re.ReplaceAllString(sanitized, "[filtered]")
		}
	}
	if matched {
		g.recordIncident(sender, "suspicious_pattern", "input matched filtered pattern")
		g.raiseAlert(st, sender, now)
		g.totalBlocked++
		reply := "I can't help with that request."
		if st.status == StatusLockedOut {
			reply = "I can't respond right now. Please try again later."
		}
		return Verdict{Allowed: false, Reason: "suspicious pattern", Reply: reply}
	}

	return Verdict{Allowed: true, Sanitized: sanitized}
}

// raiseAlert advances the sender state machine. Reaching the alert threshold
// moves the sender to locked out for the configured duration.
func (g *Gate) raiseAlert(st *senderState, sender string, now time.Time) {
	if g.cfg.AlertWindow > 0 && !st.lastAlert.IsZero() && now.Sub(st.lastAlert) > g.cfg.AlertWindow {
		st.alertCount = 0
	}
	st.lastAlert = now
	st.alertCount++
	threshold := g.cfg.AlertThreshold
	if threshold <= 0 {
		threshold = 3
	}
	if st.alertCount >= threshold {
		st.status = StatusLockedOut
		st.lockedUntil = now.Add(g.cfg.LockoutDuration)
		g.logger.Warn("sender locked out",
			zap.String("sender", sender),
			zap.Int("alerts", st.alertCount),
			zap.Time("until", st.lockedUntil))
		return
	}
	st.status = StatusWarned
	g.logger.Info("sender warned",
		zap.String("sender", sender),
		zap.Int("alerts", st.alertCount))
}

func (g *Gate) sender(id string) *senderState {
	if st, ok := g.senders.Get(id); ok {
		return st
	}
	st := &senderState{status: StatusNormal}
	g.senders.Add(id, st)
	return st
}

// stripUnprintable removes control characters and zero-width runes that are
// commonly used to smuggle content past pattern checks. Tabs and newlines stay.
func stripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff':
			return -1
		}
		return r
	}, s)
}

func (g *Gate) recordIncident(sender, kind, detail string) {
	g.incidents = append(g.incidents, Incident{
		Sender: sender, Kind: kind, Detail: detail, Emitted: g.now(),
	})
	if len(g.incidents) > maxIncidentHistory {
		g.incidents = g.incidents[len(g.incidents)-maxIncidentHistory:]
	}
}

// Status reports the current state machine position for a sender.
func (g *Gate) Status(sender string) SenderStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.senders.Get(sender)
	if !ok {
		return StatusNormal
	}
	if st.status == StatusLockedOut && !g.now().Before(st.lockedUntil) {
		return StatusNormal
	}
	return st.status
}

// Report snapshots gate activity for the monitoring job.
func (g *Gate) Report() Report {
	g.mu.Lock()
	defer g.mu.Unlock()

	active := 0
	now := g.now()
	for _, key := range g.senders.Keys() {
		if st, ok := g.senders.Peek(key); ok {
			if st.status == StatusLockedOut && now.Before(st.lockedUntil) {
				active++
			}
		}
	}
	return Report{
		TotalChecked:  g.totalChecked,
		TotalBlocked:  g.totalBlocked,
		ActiveLockout: active,
		Incidents:     append([]Incident(nil), g.incidents...),
	}
}
