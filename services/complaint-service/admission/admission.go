// Package admission decides whether a citizen submission becomes a complaint.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"civic-complaint-system/pkg/objectstore"
	"civic-complaint-system/pkg/queue"
	"civic-complaint-system/services/complaint-service/classifier"
	"civic-complaint-system/services/complaint-service/decision"
	"civic-complaint-system/services/complaint-service/models"
	"civic-complaint-system/services/complaint-service/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Deterministic classification used when the service cannot answer.
const (
	FallbackCategory   = models.CategoryOther
	FallbackSeverity   = "medium"
	FallbackPriority   = "medium"
	FallbackConfidence = 0.5

	DefaultMinConfidence = 0.2
)

var ErrInvalidSubmission = errors.New("invalid submission")

// EvidenceStore keeps submitted images.
type EvidenceStore interface {
	PutEvidence(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
	RemoveEvidence(ctx context.Context, objectName string) error
}

// Sealer hides the reporter of anonymous complaints.
type Sealer interface {
	Seal(plaintext string) (string, error)
}

type Options struct {
	SLADuration     time.Duration
	MinConfidence   float64
	ClassifyTimeout time.Duration
}

type Submission struct {
	ReporterID    string
	Anonymous     bool
	Description   string
	Location      string
	Image         []byte
	ImageMIMEType string
}

// Rejection is a normal outcome, not an error.
type Rejection struct {
	Reason          string          `json:"reason"`
	ConfidenceScore float64         `json:"confidence_score"`
	DecisionSource  decision.Source `json:"decision_source"`
}

// Outcome holds exactly one of Complaint or Rejection.
type Outcome struct {
	Complaint *models.Complaint
	Rejection *Rejection
}

func (o *Outcome) Accepted() bool { return o.Complaint != nil }

type Gate struct {
	store     store.Store
	gateway   classifier.Gateway
	publisher queue.Publisher
	evidence  EvidenceStore
	sealer    Sealer
	opts      Options
	now       func() time.Time
}

func NewGate(st store.Store, gw classifier.Gateway, pub queue.Publisher, opts Options) *Gate {
	if pub == nil {
		pub = queue.NopPublisher{}
	}
	return &Gate{
		store:     st,
		gateway:   gw,
		publisher: pub,
		opts:      opts,
		now:       time.Now,
	}
}

func (g *Gate) WithEvidenceStore(e EvidenceStore) *Gate { g.evidence = e; return g }
func (g *Gate) WithSealer(s Sealer) *Gate               { g.sealer = s; return g }
func (g *Gate) WithClock(now func() time.Time) *Gate    { g.now = now; return g }

// Submit classifies sub and either persists a new complaint or returns a
// rejection. The returned error is reserved for validation and store failures.
func (g *Gate) Submit(ctx context.Context, sub Submission) (*Outcome, error) {
	sub.Description = strings.TrimSpace(sub.Description)
	if sub.Description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidSubmission)
	}

	agent, cls := g.classify(ctx, sub)

	if cls.ConfidenceScore < g.opts.MinConfidence {
		rej := &Rejection{
			Reason:          rejectionReason(agent, cls.ConfidenceScore, g.opts.MinConfidence),
			ConfidenceScore: cls.ConfidenceScore,
			DecisionSource:  agent.Source(),
		}
		log.Printf("[INFO] Submission rejected - confidence %.2f below %.2f (%s)", cls.ConfidenceScore, g.opts.MinConfidence, agent.Source())
		return &Outcome{Rejection: rej}, nil
	}

	c, err := g.assemble(ctx, sub, agent, cls)
	if err != nil {
		return nil, err
	}

	if err := g.store.Insert(ctx, c); err != nil {
		g.discardEvidence(ctx, c, sub.ImageMIMEType)
		return nil, fmt.Errorf("failed to save complaint: %w", err)
	}
	log.Printf("[OK] Complaint saved - ID: %s, Category: %s, Source: %s", c.ID.Hex(), c.Category, agent.Source())

	event := models.NewEvent(c, models.ActorCitizen, c.CreatedAt)
	if err := g.publisher.Publish(ctx, queue.RoutingKeyCreated, event); err != nil {
		log.Printf("[WARN] Complaint saved but failed to publish event: %v", err)
	}

	return &Outcome{Complaint: c}, nil
}

func (g *Gate) classify(ctx context.Context, sub Submission) (decision.AgentDecision, decision.Classification) {
	timeout := g.opts.ClassifyTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := g.gateway.Classify(cctx, classifier.Payload{
		Description:   sub.Description,
		Location:      sub.Location,
		Image:         sub.Image,
		ImageMIMEType: sub.ImageMIMEType,
	})
	if err == nil && res != nil {
		return decision.NewExternal(*res, g.now()), *res
	}
	if err == nil {
		err = classifier.ErrInvalidAnswer
	}

	reason := fallbackReason(err, timeout)
	log.Printf("[WARN] Classification unavailable (%v), applying fallback: %s", err, reason)
	return decision.NewFallback(reason, g.now()), fallbackClassification()
}

func fallbackClassification() decision.Classification {
	return decision.Classification{
		Category:           FallbackCategory,
		Severity:           FallbackSeverity,
		Priority:           FallbackPriority,
		ConfidenceScore:    FallbackConfidence,
		AuthenticityStatus: string(models.AuthenticityUncertain),
	}
}

// fallbackReason maps a classifier failure onto a fixed, citizen-safe
// category. The reason is persisted and returned to callers, so raw error
// text never reaches it.
func fallbackReason(err error, timeout time.Duration) string {
	var apiErr *classifier.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("classification timed out after %s", timeout)
	case errors.Is(err, classifier.ErrUnavailable):
		return "classification service not configured"
	case classifier.IsRateLimited(err):
		return "classification service rate limited"
	case errors.Is(err, classifier.ErrInvalidAnswer), errors.As(err, &apiErr):
		return "classification service returned an invalid answer"
	default:
		return "classification service unreachable"
	}
}

func rejectionReason(agent decision.AgentDecision, score, floor float64) string {
	return decision.Match(agent,
		func(e decision.External) string {
			msg := fmt.Sprintf("Submission rejected: confidence %.2f is below the required %.2f.", score, floor)
			if r := strings.TrimSpace(e.Raw().Reasoning); r != "" {
				msg += " " + r
			}
			return msg
		},
		func(f decision.Fallback) string {
			return fmt.Sprintf("Submission rejected: default confidence %.2f is below the required %.2f (%s).", score, floor, f.Reason())
		},
	)
}

func (g *Gate) assemble(ctx context.Context, sub Submission, agent decision.AgentDecision, cls decision.Classification) (*models.Complaint, error) {
	now := g.now()
	deadline := now.Add(g.opts.SLADuration)
	category := models.NormalizeCategory(cls.Category)

	c := &models.Complaint{
		ID:                 primitive.NewObjectID(),
		Description:        sub.Description,
		Location:           strings.TrimSpace(sub.Location),
		Category:           category,
		Severity:           strings.ToLower(strings.TrimSpace(cls.Severity)),
		Priority:           strings.ToLower(strings.TrimSpace(cls.Priority)),
		Department:         models.DepartmentFor(category),
		IsAnonymous:        sub.Anonymous,
		ReporterID:         sub.ReporterID,
		Status:             models.StatusAnalyzed,
		EscalationLevel:    0,
		NextEscalationAt:   &deadline,
		ConfidenceScore:    cls.ConfidenceScore,
		AuthenticityStatus: models.ParseAuthenticity(strings.ToLower(cls.AuthenticityStatus)),
		AgentDecision:      decision.Of(agent),
		AuditLog: []models.AuditEntry{
			{Timestamp: now, Action: "submitted", Actor: models.ActorCitizen},
			{Timestamp: now, Action: "analyzed", Actor: models.ActorSystem, Details: analysisDetails(agent)},
		},
		Timeline:  []models.TimelineEntry{analysisTimeline(agent, category, now)},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if sub.Anonymous {
		c.ReporterID = ""
		if g.sealer != nil && sub.ReporterID != "" {
			sealed, err := g.sealer.Seal(sub.ReporterID)
			if err != nil {
				return nil, fmt.Errorf("failed to seal reporter id: %w", err)
			}
			c.ReporterIDEnc = sealed
		}
	}

	if len(sub.Image) > 0 && g.evidence != nil {
		name := evidenceName(c, sub.ImageMIMEType)
		url, err := g.evidence.PutEvidence(ctx, name, sub.Image, sub.ImageMIMEType)
		if err != nil {
			log.Printf("[WARN] Evidence upload failed for %s: %v", c.ID.Hex(), err)
		} else {
			c.ImageURL = url
		}
	}

	return c, nil
}

func evidenceName(c *models.Complaint, contentType string) string {
	return c.ID.Hex() + objectstore.ExtensionFor(contentType)
}

// discardEvidence removes an uploaded image whose complaint was never stored.
func (g *Gate) discardEvidence(ctx context.Context, c *models.Complaint, contentType string) {
	if c.ImageURL == "" || g.evidence == nil {
		return
	}
	name := evidenceName(c, contentType)
	if err := g.evidence.RemoveEvidence(context.WithoutCancel(ctx), name); err != nil {
		log.Printf("[WARN] Failed to remove orphaned evidence %s: %v", name, err)
	}
}

func analysisDetails(agent decision.AgentDecision) string {
	return decision.Match(agent,
		func(e decision.External) string {
			raw := e.Raw()
			return fmt.Sprintf("external classification: category=%s severity=%s confidence=%.2f", raw.Category, raw.Severity, raw.ConfidenceScore)
		},
		func(f decision.Fallback) string {
			return "fallback classification applied: " + f.Reason()
		},
	)
}

func analysisTimeline(agent decision.AgentDecision, category string, at time.Time) models.TimelineEntry {
	msg := decision.Match(agent,
		func(e decision.External) string {
			return fmt.Sprintf("Your complaint was analyzed by our AI classification service and filed under %q.", category)
		},
		func(f decision.Fallback) string {
			return "Automatic analysis was unavailable, so a standard default classification was applied. An official will review it."
		},
	)
	return models.TimelineEntry{
		Type:      models.TimelineTypeAnalysis,
		Action:    "analyzed",
		Message:   msg,
		Timestamp: at,
	}
}
