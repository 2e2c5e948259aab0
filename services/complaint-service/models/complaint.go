package models

import (
	"time"

	"civic-complaint-system/services/complaint-service/decision"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Status string

const (
	StatusSubmitted    Status = "submitted"
	StatusAnalyzed     Status = "analyzed"
	StatusAssigned     Status = "assigned"
	StatusAcknowledged Status = "acknowledged"
	StatusInProgress   Status = "in_progress"
	StatusOnHold       Status = "on_hold"
	StatusSLAWarning   Status = "sla_warning"
	StatusEscalated    Status = "escalated"
	StatusResolved     Status = "resolved"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusAnalyzed, StatusAssigned, StatusAcknowledged, StatusInProgress,
		StatusOnHold, StatusSLAWarning, StatusEscalated, StatusResolved:
		return true
	}
	return false
}

type Actor string

const (
	ActorSystem   Actor = "system"
	ActorCitizen  Actor = "citizen"
	ActorOfficial Actor = "official"
)

type AuthenticityStatus string

const (
	AuthenticityFake      AuthenticityStatus = "fake"
	AuthenticityUncertain AuthenticityStatus = "uncertain"
	AuthenticityReal      AuthenticityStatus = "real"
)

// ParseAuthenticity maps free text from the classifier onto the three known
// values; anything unrecognised is uncertain.
func ParseAuthenticity(s string) AuthenticityStatus {
	switch AuthenticityStatus(s) {
	case AuthenticityFake, AuthenticityReal:
		return AuthenticityStatus(s)
	}
	return AuthenticityUncertain
}

// MaxEscalationLevel is the last rung of the ladder.
const MaxEscalationLevel = 3

type AuditEntry struct {
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Action    string    `bson:"action" json:"action"`
	Actor     Actor     `bson:"actor" json:"actor"`
	Details   string    `bson:"details,omitempty" json:"details,omitempty"`
}

// TimelineEntry is the citizen-facing counterpart of AuditEntry.
type TimelineEntry struct {
	Type      string    `bson:"type" json:"type"`
	Action    string    `bson:"action" json:"action"`
	Message   string    `bson:"message" json:"message"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

const (
	TimelineTypeAnalysis   = "analysis"
	TimelineTypeStatus     = "status"
	TimelineTypeEscalation = "escalation"
	TimelineTypeAdvisory   = "advisory"
)

type Complaint struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Description string             `bson:"description" json:"description"`
	Location    string             `bson:"location,omitempty" json:"location,omitempty"`
	ImageURL    string             `bson:"image_url,omitempty" json:"image_url,omitempty"`
	Category    string             `bson:"category" json:"category"`
	Severity    string             `bson:"severity" json:"severity"`
	Priority    string             `bson:"priority" json:"priority"`
	Department  string             `bson:"department" json:"department"`

	IsAnonymous bool   `bson:"is_anonymous" json:"is_anonymous"`
	ReporterID  string `bson:"reporter_id,omitempty" json:"reporter_id,omitempty"`
	// ReporterIDEnc holds the sealed reporter id of anonymous complaints.
	// It is never returned in any API response.
	ReporterIDEnc string `bson:"reporter_id_enc,omitempty" json:"-"`

	Status          Status `bson:"status" json:"status"`
	EscalationLevel int    `bson:"escalation_level" json:"escalation_level"`
	// NextEscalationAt is the only deadline on the record. Nil iff resolved.
	NextEscalationAt *time.Time `bson:"next_escalation_at,omitempty" json:"next_escalation_at,omitempty"`

	ConfidenceScore    float64            `bson:"confidence_score" json:"confidence_score"`
	AuthenticityStatus AuthenticityStatus `bson:"authenticity_status" json:"authenticity_status"`
	AgentDecision      decision.Record    `bson:"agent_decision" json:"agent_decision"`

	AuditLog []AuditEntry    `bson:"audit_log" json:"audit_log"`
	Timeline []TimelineEntry `bson:"timeline" json:"timeline"`

	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at" json:"updated_at"`
	ResolvedAt *time.Time `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`

	// Version is bumped by every conditional update.
	Version int64 `bson:"version" json:"version"`
}

// Clone returns a deep copy.
func (c *Complaint) Clone() *Complaint {
	if c == nil {
		return nil
	}
	out := *c
	if c.NextEscalationAt != nil {
		t := *c.NextEscalationAt
		out.NextEscalationAt = &t
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	out.AuditLog = append([]AuditEntry(nil), c.AuditLog...)
	out.Timeline = append([]TimelineEntry(nil), c.Timeline...)
	return &out
}

// Overdue reports whether the watchdog may advance c at now.
func (c *Complaint) Overdue(now time.Time) bool {
	return c.Status != StatusResolved && c.NextEscalationAt != nil && !c.NextEscalationAt.After(now)
}

// ComplaintEvent is published to the complaints exchange.
type ComplaintEvent struct {
	ID              string    `json:"id"`
	Category        string    `json:"category"`
	Severity        string    `json:"severity"`
	Department      string    `json:"department"`
	Status          Status    `json:"status"`
	EscalationLevel int       `json:"escalation_level"`
	DecisionSource  string    `json:"decision_source"`
	Actor           Actor     `json:"actor"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func NewEvent(c *Complaint, actor Actor, at time.Time) ComplaintEvent {
	return ComplaintEvent{
		ID:              c.ID.Hex(),
		Category:        c.Category,
		Severity:        c.Severity,
		Department:      c.Department,
		Status:          c.Status,
		EscalationLevel: c.EscalationLevel,
		DecisionSource:  string(c.AgentDecision.Source()),
		Actor:           actor,
		OccurredAt:      at,
	}
}
