// Package advice implements Anna's unsolicited, cooldown-gated proactive
// notices: deterministic checks against Evidence Store data, each
// admitted or suppressed on its own cooldown and never invented from a
// language model.
package advice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/anna-assistant/annad/internal/config"
	"github.com/anna-assistant/annad/internal/evidence"
)

// Severity is the closed urgency tier for one piece of advice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Advice is one proactive notice surfaced to the operator.
type Advice struct {
	Key       string
	Message   string
	Severity  Severity
	CreatedAt time.Time
}

// Advisor runs the deterministic check set on an interval, suppressing a
// repeat of the same check's advice until its cooldown elapses.
type Advisor struct {
	cfg    config.Advice
	store  *evidence.Store
	logger *slog.Logger

	mu        sync.Mutex
	lastFired map[string]time.Time
	latest    []Advice
}

// NewAdvisor creates an Advisor reading Evidence from store.
func NewAdvisor(cfg config.Advice, store *evidence.Store, logger *slog.Logger) *Advisor {
	return &Advisor{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		lastFired: make(map[string]time.Time),
	}
}

// Latest returns the advice produced by the most recent Check call.
func (a *Advisor) Latest() []Advice {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Advice, len(a.latest))
	copy(out, a.latest)
	return out
}

// Check runs every deterministic rule once against the Evidence Store's
// current state and returns the advice that cleared its cooldown.
func (a *Advisor) Check(now time.Time) []Advice {
	if !a.cfg.Enabled {
		return nil
	}

	var fired []Advice
	if adv, ok := a.checkDiskFree(now); ok {
		fired = append(fired, adv)
	}

	a.mu.Lock()
	a.latest = fired
	a.mu.Unlock()
	return fired
}

func (a *Advisor) checkDiskFree(now time.Time) (Advice, bool) {
	ev, age, ok := a.store.Latest(evidence.Disk, now)
	if !ok || !ev.Fresh(now) {
		return Advice{}, false
	}
	mounts, ok := ev.Payload.([]evidence.DiskUsage)
	if !ok {
		return Advice{}, false
	}

	for _, m := range mounts {
		freePct := 100 - m.UsedPct
		if freePct >= a.cfg.DiskFreeThreshold {
			continue
		}
		key := "disk_free:" + m.Mount
		if !a.admit(key, now) {
			continue
		}
		return Advice{
			Key:       key,
			Message:   "mount " + m.Mount + " is low on free space",
			Severity:  SeverityWarning,
			CreatedAt: now,
		}, true
	}
	_ = age
	return Advice{}, false
}

// admit reports whether key's cooldown has elapsed, recording now as its
// new fire time if so.
func (a *Advisor) admit(key string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	cooldown := time.Duration(a.cfg.CooldownHours) * time.Hour
	if last, ok := a.lastFired[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	a.lastFired[key] = now
	return true
}

// Run ticks Check every CheckIntervalMinutes until ctx is cancelled,
// logging whatever fires. A non-positive interval or a disabled config
// disables the loop entirely (the same "respects config" requirement
// §6.6 gives every other recognized key).
func (a *Advisor) Run(ctx context.Context) {
	if !a.cfg.Enabled || a.cfg.CheckIntervalMinutes <= 0 {
		return
	}
	interval := time.Duration(a.cfg.CheckIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, adv := range a.Check(now) {
				a.logger.Info("advice", "key", adv.Key, "severity", adv.Severity, "message", adv.Message)
			}
		}
	}
}
