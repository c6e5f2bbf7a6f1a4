// Package autonomy implements the Autonomy Manager (spec §4.M): a
// per-action confidence gate across three tiers, with explicit
// promotion and automatic demotion.
package autonomy

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Tier is the closed set of autonomy levels.
type Tier string

const (
	TierObserver   Tier = "observer"
	TierAssisted   Tier = "assisted"
	TierAutonomous Tier = "autonomous"
)

// Gate thresholds (§4.M).
const (
	AssistedConfidenceGate   = 0.8
	AutonomousConfidenceGate = 0.5

	// PromotionMinHighConfidenceActions is the "≥ 3 actions at high
	// confidence" promotion gate.
	PromotionMinHighConfidenceActions = 3

	// highConfidenceThreshold is what counts as "high confidence" for the
	// promotion tally, kept separate from the execution gates above (it
	// equals the Assisted gate and exceeds the Autonomous one).
	highConfidenceThreshold = 0.8

	// slidingWindow bounds how many recent outcomes feed an action's
	// confidence (a success rate over unbounded history would never
	// forget an old run of failures).
	slidingWindow = 20
)

// errCooldownTrip is the sentinel error used to force a cooldown
// breaker open immediately after an autonomous execution.
var errCooldownTrip = errors.New("autonomy: cooldown started")

// outcomeHistory tracks one action's recent successes/failures and its
// cooldown breaker. The cooldown reuses gobreaker (as internal/llm uses
// it for the LLM client) rather than a bare timestamp comparison: after
// an autonomous execution we deliberately trip the breaker open, and
// its Timeout does the "prevents re-execution within a configured
// window" bookkeeping for us.
type outcomeHistory struct {
	outcomes []bool
	cooldown *gobreaker.CircuitBreaker
}

func newCooldownBreaker(action string, window time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        action,
		MaxRequests: 1,
		Timeout:     window,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.Requests > 0 },
	})
}

func (h *outcomeHistory) record(success bool) {
	h.outcomes = append(h.outcomes, success)
	if len(h.outcomes) > slidingWindow {
		h.outcomes = h.outcomes[len(h.outcomes)-slidingWindow:]
	}
}

func (h *outcomeHistory) confidence() float64 {
	if len(h.outcomes) == 0 {
		return 0
	}
	successes := 0
	for _, ok := range h.outcomes {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(h.outcomes))
}

func (h *outcomeHistory) highConfidenceStreak() int {
	streak := 0
	for i := len(h.outcomes) - 1; i >= 0; i-- {
		if !h.outcomes[i] {
			break
		}
		streak++
	}
	if h.confidence() < highConfidenceThreshold {
		return 0
	}
	return streak
}

// Manager gates action execution by tier and tracks per-action history,
// grounded on the teacher's RateLimiter boolean-gate-plus-mutex shape
// (internal/dispatch/ratelimit.go CanDispatchAuthed).
type Manager struct {
	mu       sync.Mutex
	tier     Tier
	cooldown time.Duration
	history  map[string]*outcomeHistory
}

// NewManager creates a Manager starting in Observer tier with the given
// per-action cooldown window for the Autonomous tier.
func NewManager(cooldown time.Duration) *Manager {
	return &Manager{
		tier:     TierObserver,
		cooldown: cooldown,
		history:  make(map[string]*outcomeHistory),
	}
}

func (m *Manager) historyFor(action string) *outcomeHistory {
	h, ok := m.history[action]
	if !ok {
		h = &outcomeHistory{cooldown: newCooldownBreaker(action, m.cooldown)}
		m.history[action] = h
	}
	return h
}

// Tier returns the manager's current tier.
func (m *Manager) Tier() Tier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tier
}

// Confidence returns action's current sliding-window success rate.
func (m *Manager) Confidence(action string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyFor(action).confidence()
}

// RecordOutcome updates action's history with whether its most recent
// execution succeeded. A critical failure (per caller judgment) should
// also call Downgrade.
func (m *Manager) RecordOutcome(action string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyFor(action).record(success)
}

// CanExecute reports whether action may execute now under the current
// tier, and the reason when it may not (§4.M per-tier gates).
func (m *Manager) CanExecute(action string, confirmationEchoed bool) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.historyFor(action)
	c := h.confidence()

	switch m.tier {
	case TierObserver:
		return false, "observer tier never executes"

	case TierAssisted:
		if c >= AssistedConfidenceGate || confirmationEchoed {
			return true, ""
		}
		return false, "assisted tier requires confidence >= 0.8 or an explicit confirmation"

	case TierAutonomous:
		if c < AutonomousConfidenceGate {
			return false, "autonomous tier requires confidence >= 0.5"
		}
		if h.cooldown.State() == gobreaker.StateOpen {
			return false, "action is within its cooldown window"
		}
		return true, ""

	default:
		return false, "unknown tier"
	}
}

// MarkExecuted records that action just executed, starting its cooldown
// window by tripping its breaker open.
func (m *Manager) MarkExecuted(action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.historyFor(action)
	_, _ = h.cooldown.Execute(func() (interface{}, error) { return nil, errCooldownTrip })
}

// CanPromote reports whether the manager may promote from its current
// tier: sustained healthy signals and >= 3 high-confidence actions, plus
// the caller-supplied explicit operator command (§4.M).
func (m *Manager) CanPromote(systemHealthy bool, operatorRequested bool) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tier == TierAutonomous {
		return false, "already at highest tier"
	}
	if !operatorRequested {
		return false, "promotion requires an explicit operator command"
	}
	if !systemHealthy {
		return false, "system signals are not healthy"
	}

	highConfidenceActions := 0
	for _, h := range m.history {
		if h.highConfidenceStreak() > 0 {
			highConfidenceActions++
		}
	}
	if highConfidenceActions < PromotionMinHighConfidenceActions {
		return false, "fewer than 3 actions at high confidence"
	}
	return true, ""
}

// Promote advances the manager one tier, if CanPromote would allow it.
func (m *Manager) Promote(systemHealthy bool, operatorRequested bool) (bool, string) {
	ok, reason := m.CanPromote(systemHealthy, operatorRequested)
	if !ok {
		return false, reason
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.tier {
	case TierObserver:
		m.tier = TierAssisted
	case TierAssisted:
		m.tier = TierAutonomous
	}
	return true, ""
}

// Downgrade drops the manager to Observer immediately (§4.M "downgrade
// is automatic on critical failure").
func (m *Manager) Downgrade() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tier = TierObserver
}
