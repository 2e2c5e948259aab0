// Package complaint implements the caller-facing reads and official status
// changes on stored complaints.
package complaint

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"civic-complaint-system/pkg/middleware"
	"civic-complaint-system/pkg/queue"
	"civic-complaint-system/services/complaint-service/escalation"
	"civic-complaint-system/services/complaint-service/models"
	"civic-complaint-system/services/complaint-service/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrForbidden     = errors.New("only officials may change complaint status")
	ErrInvalidID     = errors.New("invalid complaint id")
	ErrUnknownStatus = errors.New("unknown complaint status")
)

const maxUpdateAttempts = 3

type Service struct {
	store     store.Store
	publisher queue.Publisher
	now       func() time.Time
}

func NewService(st store.Store, pub queue.Publisher) *Service {
	if pub == nil {
		pub = queue.NopPublisher{}
	}
	return &Service{store: st, publisher: pub, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ParseID converts a hex id from a URL into an ObjectID.
func ParseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return oid, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Complaint, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, oid)
}

// DefaultListLimit caps listing results.
const DefaultListLimit = 100

// ListByReporter returns the caller's own non-anonymous complaints.
func (s *Service) ListByReporter(ctx context.Context, reporterID string) ([]*models.Complaint, error) {
	out, err := s.store.ListByReporter(ctx, reporterID, DefaultListLimit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.Complaint{}
	}
	return out, nil
}

// ListForDepartment returns complaints routed to department (every
// department when empty), optionally narrowed by status and category.
func (s *Service) ListForDepartment(ctx context.Context, department, status, category string) ([]*models.Complaint, error) {
	filter := store.ListFilter{Status: models.Status(strings.TrimSpace(status))}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	if c := strings.TrimSpace(category); c != "" {
		filter.Category = models.NormalizeCategory(c)
	}

	out, err := s.store.ListByDepartment(ctx, department, filter, DefaultListLimit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.Complaint{}
	}
	return out, nil
}

// UpdateStatus moves a complaint to newStatus on behalf of an official.
// The escalation level is left untouched. A concurrent write by the watchdog
// causes the change to be re-validated against the fresh record and retried.
func (s *Service) UpdateStatus(ctx context.Context, id string, actor models.Actor, newStatus models.Status, notes string) (*models.Complaint, error) {
	if actor != models.ActorOfficial {
		return nil, ErrForbidden
	}
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, newStatus)
	}
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		current, err := s.store.Get(ctx, oid)
		if err != nil {
			return nil, err
		}

		now := s.now()
		change, err := escalation.Official(current, newStatus, now)
		if err != nil {
			return nil, err
		}

		updated, err := s.store.Update(ctx, oid, current.Version, store.Mutation{
			Status:           change.Status,
			EscalationLevel:  current.EscalationLevel,
			NextEscalationAt: change.NextEscalationAt,
			ResolvedAt:       change.ResolvedAt,
			UpdatedAt:        now,
			Audit: models.AuditEntry{
				Timestamp: now,
				Action:    "status_" + string(change.Status),
				Actor:     models.ActorOfficial,
				Details:   strings.TrimSpace(notes),
			},
			Timeline: models.TimelineEntry{
				Type:      models.TimelineTypeStatus,
				Action:    string(change.Status),
				Message:   statusMessage(change.Status, notes),
				Timestamp: now,
			},
		})
		if errors.Is(err, store.ErrConflict) && attempt < maxUpdateAttempts {
			middleware.LogWarn(middleware.TraceIDFromContext(ctx), fmt.Sprintf("status update on %s lost a race (attempt %d), retrying", oid.Hex(), attempt), err)
			continue
		}
		if err != nil {
			return nil, err
		}

		log.Printf("[OK] Complaint %s: %s -> %s", oid.Hex(), current.Status, updated.Status)
		if err := s.publisher.Publish(ctx, queue.RoutingKeyStatusUpdated, models.NewEvent(updated, models.ActorOfficial, now)); err != nil {
			middleware.LogWarn(middleware.TraceIDFromContext(ctx), "status updated but event not published", err)
		}
		return updated, nil
	}
}

func statusMessage(status models.Status, notes string) string {
	var msg string
	switch status {
	case models.StatusAssigned:
		msg = "Your complaint has been assigned to an officer."
	case models.StatusAcknowledged:
		msg = "The department has acknowledged your complaint."
	case models.StatusInProgress:
		msg = "Work on your complaint is in progress."
	case models.StatusOnHold:
		msg = "Your complaint has been put on hold."
	case models.StatusResolved:
		msg = "Your complaint has been resolved."
	default:
		msg = "Complaint status changed to " + string(status) + "."
	}
	if n := strings.TrimSpace(notes); n != "" {
		msg += " Note: " + n
	}
	return msg
}
