package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"civic-complaint-system/services/complaint-service/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Memory is a process-local Store for development and tests.
type Memory struct {
	mu   sync.RWMutex
	docs map[primitive.ObjectID]*models.Complaint
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[primitive.ObjectID]*models.Complaint)}
}

func (m *Memory) Insert(_ context.Context, c *models.Complaint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if _, exists := m.docs[c.ID]; exists {
		return ErrConflict
	}
	m.docs[c.ID] = c.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id primitive.ObjectID) (*models.Complaint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *Memory) FindOverdue(_ context.Context, now time.Time, limit int) ([]*models.Complaint, error) {
	m.mu.RLock()
	var out []*models.Complaint
	for _, c := range m.docs {
		if c.Overdue(now) {
			out = append(out, c.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].NextEscalationAt.Before(*out[j].NextEscalationAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Update(_ context.Context, id primitive.ObjectID, expectedVersion int64, mut Mutation) (*models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Version != expectedVersion || c.Status == models.StatusResolved {
		return nil, ErrConflict
	}
	apply(c, mut)
	return c.Clone(), nil
}

func (m *Memory) ListByReporter(_ context.Context, reporterID string, limit int) ([]*models.Complaint, error) {
	m.mu.RLock()
	var out []*models.Complaint
	for _, c := range m.docs {
		if reporterID != "" && c.ReporterID == reporterID {
			cp := c.Clone()
			cp.AuditLog = nil
			out = append(out, cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListByDepartment(_ context.Context, department string, f ListFilter, limit int) ([]*models.Complaint, error) {
	m.mu.RLock()
	var out []*models.Complaint
	for _, c := range m.docs {
		if (department == "" || c.Department == department) && f.matches(c) {
			cp := c.Clone()
			cp.AuditLog = nil
			out = append(out, cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AppendTimeline(_ context.Context, id primitive.ObjectID, entry models.TimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	c.Timeline = append(c.Timeline, entry)
	return nil
}
