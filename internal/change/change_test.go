package change

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/anna-assistant/annad/internal/recipe"
)

func TestRiskCeilingIsMaxStepRisk(t *testing.T) {
	p := Plan{Steps: []Step{{Risk: RiskLow}, {Risk: RiskHigh}, {Risk: RiskMedium}}}
	assert.Equal(t, RiskHigh, p.RiskCeiling())
}

func TestHasProtectedStepRefusesPlan(t *testing.T) {
	p := Plan{Steps: []Step{{Risk: RiskLow}, {Risk: RiskProtected}}}
	assert.True(t, p.HasProtectedStep())
	assert.Error(t, validatePlan(p))
}

func TestValidatePlanAcceptsNonProtected(t *testing.T) {
	p := Plan{Steps: []Step{{Risk: RiskHigh}}}
	assert.NoError(t, validatePlan(p))
}

func TestContentHashIsDeterministicAndOrderSensitive(t *testing.T) {
	a := Plan{Steps: []Step{{Command: "echo 1"}, {Command: "echo 2"}}}
	b := Plan{Steps: []Step{{Command: "echo 1"}, {Command: "echo 2"}}}
	c := Plan{Steps: []Step{{Command: "echo 2"}, {Command: "echo 1"}}}

	assert.Equal(t, a.ContentHash(), b.ContentHash())
	assert.NotEqual(t, a.ContentHash(), c.ContentHash())
}

func TestContentHashIgnoresIDAndCaseID(t *testing.T) {
	a := Plan{ID: "p1", CaseID: "c1", Steps: []Step{{Command: "echo 1"}}}
	b := Plan{ID: "p2", CaseID: "c2", Steps: []Step{{Command: "echo 1"}}}
	assert.Equal(t, a.ContentHash(), b.ContentHash())
}

func TestFromRecipeStepsAdapts(t *testing.T) {
	steps := []recipe.Step{
		{Description: "enable service", Command: "systemctl enable x", RollbackID: "r1", Risk: "medium", RequiresConfirmation: true},
	}
	out := FromRecipeSteps(steps)
	assert.Len(t, out, 1)
	assert.Equal(t, RiskMedium, out[0].Risk)
	assert.True(t, out[0].RequiresConfirmation)
}

func TestDedupRejectsReplayWithinWindow(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Now()

	assert.True(t, d.Admit("hash-1", now))
	assert.False(t, d.Admit("hash-1", now.Add(30*time.Second)))
	assert.True(t, d.Admit("hash-1", now.Add(2*time.Minute)))
}

func TestDedupTracksDistinctHashesIndependently(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Now()

	assert.True(t, d.Admit("a", now))
	assert.True(t, d.Admit("b", now))
}

func TestSortRollbacksDescending(t *testing.T) {
	steps := []RollbackStep{{StepIndex: 0}, {StepIndex: 2}, {StepIndex: 1}}
	sorted := sortRollbacksDescending(steps)
	assert.Equal(t, []int{2, 1, 0}, []int{sorted[0].StepIndex, sorted[1].StepIndex, sorted[2].StepIndex})
}
