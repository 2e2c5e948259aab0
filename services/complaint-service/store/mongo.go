package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"civic-complaint-system/services/complaint-service/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ComplaintsCollection = "complaints"

// Mongo stores one document per complaint; the audit log and timeline are
// arrays inside it so a single-document update covers all three.
type Mongo struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{coll: db.Collection(ComplaintsCollection), timeout: 5 * time.Second}
}

// EnsureIndexes creates the indexes backing FindOverdue and the listings.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "next_escalation_at", Value: 1}},
		Options: options.Index().SetName("status_next_escalation_at"),
	})
	if err != nil {
		return fmt.Errorf("failed to create overdue index: %w", err)
	}
	_, err = s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "reporter_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("reporter_id_created_at"),
	})
	if err != nil {
		return fmt.Errorf("failed to create reporter index: %w", err)
	}
	_, err = s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "department", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("department_status_created_at"),
	})
	if err != nil {
		return fmt.Errorf("failed to create department index: %w", err)
	}
	return nil
}

func (s *Mongo) Insert(ctx context.Context, c *models.Complaint) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	// $push needs arrays, not nulls.
	if c.AuditLog == nil {
		c.AuditLog = []models.AuditEntry{}
	}
	if c.Timeline == nil {
		c.Timeline = []models.TimelineEntry{}
	}
	if _, err := s.coll.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert complaint: %w", err)
	}
	return nil
}

func (s *Mongo) Get(ctx context.Context, id primitive.ObjectID) (*models.Complaint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var c models.Complaint
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch complaint %s: %w", id.Hex(), err)
	}
	return &c, nil
}

func overdueFilter(now time.Time) bson.M {
	return bson.M{
		"status":             bson.M{"$ne": models.StatusResolved},
		"next_escalation_at": bson.M{"$lte": now},
	}
}

func (s *Mongo) FindOverdue(ctx context.Context, now time.Time, limit int) ([]*models.Complaint, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*s.timeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "next_escalation_at", Value: 1}}).
		SetProjection(bson.M{"audit_log": 0, "timeline": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, overdueFilter(now), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue complaints: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*models.Complaint
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode overdue complaints: %w", err)
	}
	return out, nil
}

func (s *Mongo) ListByReporter(ctx context.Context, reporterID string, limit int) ([]*models.Complaint, error) {
	if reporterID == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetProjection(bson.M{"audit_log": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, bson.M{"reporter_id": reporterID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query complaints of %s: %w", reporterID, err)
	}
	defer cursor.Close(ctx)

	var out []*models.Complaint
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode complaints: %w", err)
	}
	return out, nil
}

func (s *Mongo) ListByDepartment(ctx context.Context, department string, f ListFilter, limit int) ([]*models.Complaint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{}
	if department != "" {
		filter["department"] = department
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Category != "" {
		filter["category"] = f.Category
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetProjection(bson.M{"audit_log": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query complaints of department %q: %w", department, err)
	}
	defer cursor.Close(ctx)

	var out []*models.Complaint
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode complaints: %w", err)
	}
	return out, nil
}

func versionFilter(id primitive.ObjectID, expectedVersion int64) bson.M {
	return bson.M{
		"_id":     id,
		"version": expectedVersion,
		"status":  bson.M{"$ne": models.StatusResolved},
	}
}

func mutationUpdate(m Mutation) bson.M {
	set := bson.M{
		"status":           m.Status,
		"escalation_level": m.EscalationLevel,
		"updated_at":       m.UpdatedAt,
	}
	update := bson.M{
		"$inc": bson.M{"version": 1},
		"$push": bson.M{
			"audit_log": m.Audit,
			"timeline":  m.Timeline,
		},
	}
	if m.NextEscalationAt != nil {
		set["next_escalation_at"] = *m.NextEscalationAt
	} else {
		update["$unset"] = bson.M{"next_escalation_at": ""}
	}
	if m.ResolvedAt != nil {
		set["resolved_at"] = *m.ResolvedAt
	}
	update["$set"] = set
	return update
}

func (s *Mongo) Update(ctx context.Context, id primitive.ObjectID, expectedVersion int64, m Mutation) (*models.Complaint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var updated models.Complaint
	err := s.coll.FindOneAndUpdate(ctx,
		versionFilter(id, expectedVersion),
		mutationUpdate(m),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update complaint %s: %w", id.Hex(), err)
	}

	n, cerr := s.coll.CountDocuments(ctx, bson.M{"_id": id})
	if cerr != nil {
		return nil, fmt.Errorf("failed to check complaint %s: %w", id.Hex(), cerr)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrConflict
}

func (s *Mongo) AppendTimeline(ctx context.Context, id primitive.ObjectID, entry models.TimelineEntry) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$push": bson.M{"timeline": entry}})
	if err != nil {
		return fmt.Errorf("failed to append timeline for %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
