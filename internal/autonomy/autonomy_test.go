package autonomy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// seedHighConfidenceActions records one success for each of three distinct
// actions, which satisfies CanPromote's high-confidence-actions gate.
func seedHighConfidenceActions(m *Manager) {
	for _, action := range []string{"seed-a", "seed-b", "seed-c"} {
		m.RecordOutcome(action, true)
	}
}

func TestObserverNeverExecutes(t *testing.T) {
	m := NewManager(time.Minute)
	m.RecordOutcome("restart-service", true)

	ok, reason := m.CanExecute("restart-service", false)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestAssistedRequiresHighConfidenceOrConfirmation(t *testing.T) {
	m := NewManager(time.Minute)
	seedHighConfidenceActions(m)
	m.Promote(true, true) // Observer -> Assisted

	for i := 0; i < 10; i++ {
		m.RecordOutcome("restart-service", false)
	}
	ok, _ := m.CanExecute("restart-service", false)
	assert.False(t, ok)

	ok, _ = m.CanExecute("restart-service", true) // explicit confirmation
	assert.True(t, ok)
}

func TestAssistedExecutesAtHighConfidenceWithoutConfirmation(t *testing.T) {
	m := NewManager(time.Minute)
	seedHighConfidenceActions(m)
	m.Promote(true, true)

	for i := 0; i < 10; i++ {
		m.RecordOutcome("restart-service", true)
	}
	ok, _ := m.CanExecute("restart-service", false)
	assert.True(t, ok)
}

func TestAutonomousRequiresMinimumConfidence(t *testing.T) {
	m := NewManager(time.Minute)
	seedHighConfidenceActions(m)
	m.Promote(true, true)  // -> Assisted
	m.Promote(true, true)  // -> Autonomous

	for i := 0; i < 10; i++ {
		m.RecordOutcome("restart-service", false)
	}
	ok, reason := m.CanExecute("restart-service", false)
	assert.False(t, ok)
	assert.Contains(t, reason, "0.5")
}

func TestAutonomousBlocksWithinCooldownWindow(t *testing.T) {
	m := NewManager(50 * time.Millisecond)
	seedHighConfidenceActions(m)
	m.Promote(true, true)
	m.Promote(true, true)

	m.RecordOutcome("restart-service", true)
	ok, _ := m.CanExecute("restart-service", false)
	assert.True(t, ok)

	m.MarkExecuted("restart-service")
	ok, reason := m.CanExecute("restart-service", false)
	assert.False(t, ok)
	assert.Contains(t, reason, "cooldown")

	time.Sleep(60 * time.Millisecond)
	ok, _ = m.CanExecute("restart-service", false)
	assert.True(t, ok)
}

func TestPromoteRequiresOperatorCommand(t *testing.T) {
	m := NewManager(time.Minute)
	ok, reason := m.Promote(true, false)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
	assert.Equal(t, TierObserver, m.Tier())
}

func TestPromoteRequiresHealthySignals(t *testing.T) {
	m := NewManager(time.Minute)
	ok, _ := m.Promote(false, true)
	assert.False(t, ok)
}

func TestPromoteAdvancesOneTierAtATime(t *testing.T) {
	m := NewManager(time.Minute)
	seedHighConfidenceActions(m)
	ok, _ := m.Promote(true, true)
	assert.True(t, ok)
	assert.Equal(t, TierAssisted, m.Tier())

	ok, _ = m.Promote(true, true)
	assert.True(t, ok)
	assert.Equal(t, TierAutonomous, m.Tier())

	ok, reason := m.Promote(true, true)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestDowngradeResetsToObserver(t *testing.T) {
	m := NewManager(time.Minute)
	seedHighConfidenceActions(m)
	m.Promote(true, true)
	m.Promote(true, true)
	assert.Equal(t, TierAutonomous, m.Tier())

	m.Downgrade()
	assert.Equal(t, TierObserver, m.Tier())
}

func TestConfidenceIsBoundedBySlidingWindow(t *testing.T) {
	m := NewManager(time.Minute)
	for i := 0; i < slidingWindow; i++ {
		m.RecordOutcome("a", false)
	}
	for i := 0; i < slidingWindow; i++ {
		m.RecordOutcome("a", true)
	}
	assert.Equal(t, 1.0, m.Confidence("a"))
}
