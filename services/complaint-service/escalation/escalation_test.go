package escalation

import (
	"errors"
	"testing"
	"time"

	"civic-complaint-system/services/complaint-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

const sla = 72 * time.Hour

func TestLadder(t *testing.T) {
	cases := []struct {
		level     int
		wantLevel int
		wantState models.Status
		final     bool
	}{
		{0, 1, models.StatusSLAWarning, false},
		{1, 2, models.StatusEscalated, false},
		{2, 3, models.StatusEscalated, true},
		{3, 3, models.StatusResolved, false},
	}
	for _, tc := range cases {
		step := Ladder(tc.level, now, sla)
		assert.Equal(t, tc.wantLevel, step.Level, "level %d", tc.level)
		assert.Equal(t, tc.wantState, step.Status, "level %d", tc.level)
		assert.Equal(t, tc.final, step.Final, "level %d", tc.level)
		if step.Resolved() {
			assert.Nil(t, step.NextEscalationAt)
		} else {
			require.NotNil(t, step.NextEscalationAt)
			assert.Equal(t, now.Add(sla), *step.NextEscalationAt)
		}
		assert.GreaterOrEqual(t, step.Level, tc.level, "level never decreases")
	}
}

func TestStepWording(t *testing.T) {
	assert.Equal(t, "sla_warning", Ladder(0, now, sla).Action())
	assert.Equal(t, "escalated_level_2", Ladder(1, now, sla).Action())
	assert.Equal(t, "escalated_level_3", Ladder(2, now, sla).Action())
	assert.Equal(t, "auto_resolved", Ladder(3, now, sla).Action())

	seen := map[string]bool{}
	for level := 0; level <= 3; level++ {
		msg := Ladder(level, now, sla).Message()
		assert.False(t, seen[msg], "messages must differ per rung")
		seen[msg] = true
	}
}

func TestAdvance(t *testing.T) {
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	c := &models.Complaint{Status: models.StatusAnalyzed, NextEscalationAt: &past}
	step, err := Advance(c, now, sla)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSLAWarning, step.Status)

	c.NextEscalationAt = &future
	_, err = Advance(c, now, sla)
	assert.ErrorIs(t, err, ErrNotOverdue)

	c.NextEscalationAt = &now
	_, err = Advance(c, now, sla)
	assert.NoError(t, err, "deadline equal to now is overdue")

	resolved := &models.Complaint{Status: models.StatusResolved}
	_, err = Advance(resolved, now, sla)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestCanTransition(t *testing.T) {
	all := []models.Status{
		models.StatusSubmitted, models.StatusAnalyzed, models.StatusAssigned, models.StatusAcknowledged,
		models.StatusInProgress, models.StatusOnHold, models.StatusSLAWarning, models.StatusEscalated,
		models.StatusResolved,
	}
	for _, to := range all {
		assert.False(t, CanTransition(models.StatusResolved, to), "nothing leaves resolved (to %s)", to)
	}

	assert.True(t, CanTransition(models.StatusAnalyzed, models.StatusAcknowledged))
	assert.True(t, CanTransition(models.StatusSLAWarning, models.StatusInProgress))
	assert.True(t, CanTransition(models.StatusEscalated, models.StatusResolved))
	assert.True(t, CanTransition(models.StatusOnHold, models.StatusInProgress))
	assert.False(t, CanTransition(models.StatusInProgress, models.StatusInProgress))
	assert.False(t, CanTransition(models.StatusAnalyzed, models.StatusEscalated), "watchdog-owned status")
	assert.False(t, CanTransition(models.StatusAnalyzed, models.StatusSLAWarning), "watchdog-owned status")
	assert.False(t, CanTransition(models.StatusAcknowledged, models.StatusSubmitted))
	assert.True(t, IsTerminal(models.StatusResolved))
	assert.False(t, IsTerminal(models.StatusEscalated))
}

func TestOfficial(t *testing.T) {
	deadline := now.Add(time.Hour)
	c := &models.Complaint{Status: models.StatusEscalated, EscalationLevel: 2, NextEscalationAt: &deadline}

	change, err := Official(c, models.StatusInProgress, now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, change.Status)
	assert.Equal(t, &deadline, change.NextEscalationAt, "non-resolving transitions keep the deadline")
	assert.Nil(t, change.ResolvedAt)

	change, err = Official(c, models.StatusResolved, now)
	require.NoError(t, err)
	assert.Nil(t, change.NextEscalationAt)
	require.NotNil(t, change.ResolvedAt)
	assert.Equal(t, now, *change.ResolvedAt)

	_, err = Official(c, models.StatusSLAWarning, now)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	c.Status = models.StatusResolved
	_, err = Official(c, models.StatusInProgress, now)
	assert.ErrorIs(t, err, ErrTerminal)
}
