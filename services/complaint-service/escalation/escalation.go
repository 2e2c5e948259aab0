// Package escalation is the complaint status/level state machine.
//
// The watchdog drives the ladder with Advance; officials move complaints with
// Official. Neither ever leaves StatusResolved.
package escalation

import (
	"errors"
	"fmt"
	"time"

	"civic-complaint-system/services/complaint-service/models"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminal          = errors.New("complaint is resolved")
	ErrNotOverdue        = errors.New("complaint is not past its escalation deadline")
)

// Step is the outcome of one watchdog advance.
type Step struct {
	FromLevel        int
	Level            int
	Status           models.Status
	NextEscalationAt *time.Time
	Final            bool
}

// Resolved reports whether the step closes the complaint.
func (s Step) Resolved() bool { return s.Status == models.StatusResolved }

// Action names the audit action of the step.
func (s Step) Action() string {
	switch {
	case s.Resolved():
		return "auto_resolved"
	case s.Status == models.StatusSLAWarning:
		return "sla_warning"
	default:
		return fmt.Sprintf("escalated_level_%d", s.Level)
	}
}

// Message is the citizen-facing description of the step.
func (s Step) Message() string {
	switch {
	case s.Resolved():
		return "Complaint closed automatically after the final escalation level expired without action."
	case s.Status == models.StatusSLAWarning:
		return "Response time limit reached. The responsible department has been warned."
	case s.Final:
		return "Complaint escalated to the highest authority (level 3)."
	default:
		return fmt.Sprintf("Complaint escalated to level %d.", s.Level)
	}
}

// Ladder returns the step for a complaint currently at level whose deadline
// has passed. The level is capped at models.MaxEscalationLevel.
func Ladder(level int, now time.Time, sla time.Duration) Step {
	if level < 0 {
		level = 0
	}
	step := Step{FromLevel: level}
	switch {
	case level == 0:
		step.Level, step.Status = 1, models.StatusSLAWarning
	case level == 1:
		step.Level, step.Status = 2, models.StatusEscalated
	case level == 2:
		step.Level, step.Status, step.Final = 3, models.StatusEscalated, true
	default:
		step.Level, step.Status = models.MaxEscalationLevel, models.StatusResolved
	}
	if !step.Resolved() {
		next := now.Add(sla)
		step.NextEscalationAt = &next
	}
	return step
}

// Advance validates that c may be advanced at now and returns the step.
func Advance(c *models.Complaint, now time.Time, sla time.Duration) (Step, error) {
	if c.Status == models.StatusResolved {
		return Step{}, ErrTerminal
	}
	if !c.Overdue(now) {
		return Step{}, ErrNotOverdue
	}
	return Ladder(c.EscalationLevel, now, sla), nil
}

var officialTargets = map[models.Status]bool{
	models.StatusAssigned:     true,
	models.StatusAcknowledged: true,
	models.StatusInProgress:   true,
	models.StatusOnHold:       true,
	models.StatusResolved:     true,
}

// CanTransition reports whether an official may move a complaint from -> to.
func CanTransition(from, to models.Status) bool {
	if from == models.StatusResolved || from == to {
		return false
	}
	return officialTargets[to]
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status models.Status) bool {
	return status == models.StatusResolved
}

// OfficialChange describes the fields an official transition writes.
type OfficialChange struct {
	Status           models.Status
	NextEscalationAt *time.Time
	ResolvedAt       *time.Time
}

// Official validates an official transition on c. The escalation level is
// never touched; resolving clears the deadline.
func Official(c *models.Complaint, to models.Status, now time.Time) (OfficialChange, error) {
	if c.Status == models.StatusResolved {
		return OfficialChange{}, ErrTerminal
	}
	if !CanTransition(c.Status, to) {
		return OfficialChange{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	change := OfficialChange{Status: to, NextEscalationAt: c.NextEscalationAt}
	if to == models.StatusResolved {
		resolvedAt := now
		change.NextEscalationAt = nil
		change.ResolvedAt = &resolvedAt
	}
	return change, nil
}
