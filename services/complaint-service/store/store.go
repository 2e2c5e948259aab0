// Package store persists complaints. Every state change goes through Update,
// a conditional write that succeeds only when the caller saw the latest
// version and the complaint is not resolved.
package store

import (
	"context"
	"errors"
	"time"

	"civic-complaint-system/services/complaint-service/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound = errors.New("complaint not found")
	// ErrConflict means the record changed (or was resolved) since it was read.
	ErrConflict = errors.New("complaint changed concurrently")
)

// Mutation is a versioned state change plus its two log entries.
// A nil NextEscalationAt removes the deadline.
type Mutation struct {
	Status           models.Status
	EscalationLevel  int
	NextEscalationAt *time.Time
	ResolvedAt       *time.Time
	UpdatedAt        time.Time
	Audit            models.AuditEntry
	Timeline         models.TimelineEntry
}

// ListFilter narrows a department listing; zero fields match everything.
type ListFilter struct {
	Status   models.Status
	Category string
}

func (f ListFilter) matches(c *models.Complaint) bool {
	return (f.Status == "" || c.Status == f.Status) && (f.Category == "" || c.Category == f.Category)
}

type Store interface {
	Insert(ctx context.Context, c *models.Complaint) error
	Get(ctx context.Context, id primitive.ObjectID) (*models.Complaint, error)
	// FindOverdue returns up to limit unresolved complaints whose deadline is
	// at or before now, earliest deadline first.
	FindOverdue(ctx context.Context, now time.Time, limit int) ([]*models.Complaint, error)
	// Update applies m if the stored version equals expectedVersion and the
	// complaint is not resolved; otherwise ErrConflict (or ErrNotFound).
	Update(ctx context.Context, id primitive.ObjectID, expectedVersion int64, m Mutation) (*models.Complaint, error)
	// ListByReporter returns a reporter's complaints, newest first, without
	// their audit logs.
	ListByReporter(ctx context.Context, reporterID string, limit int) ([]*models.Complaint, error)
	// ListByDepartment returns complaints routed to department (all
	// departments when empty) that match f, newest first, without audit logs.
	ListByDepartment(ctx context.Context, department string, f ListFilter, limit int) ([]*models.Complaint, error)
	// AppendTimeline pushes a citizen-facing entry without touching the version.
	AppendTimeline(ctx context.Context, id primitive.ObjectID, entry models.TimelineEntry) error
}

func apply(c *models.Complaint, m Mutation) {
	c.Status = m.Status
	c.EscalationLevel = m.EscalationLevel
	c.NextEscalationAt = m.NextEscalationAt
	if m.ResolvedAt != nil {
		c.ResolvedAt = m.ResolvedAt
	}
	c.UpdatedAt = m.UpdatedAt
	c.AuditLog = append(c.AuditLog, m.Audit)
	c.Timeline = append(c.Timeline, m.Timeline)
	c.Version++
}
