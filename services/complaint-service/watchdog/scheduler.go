// Package watchdog runs the SLA escalation ladder on overdue complaints.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"civic-complaint-system/pkg/queue"
	"civic-complaint-system/services/complaint-service/classifier"
	"civic-complaint-system/services/complaint-service/escalation"
	"civic-complaint-system/services/complaint-service/models"
	"civic-complaint-system/services/complaint-service/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FallbackJustification is appended when the advisory service cannot answer.
const FallbackJustification = "Escalation enforced due to SLA breach."

type Options struct {
	SLADuration     time.Duration
	Interval        time.Duration
	BatchSize       int
	StartupJitter   time.Duration
	AdvisoryTimeout time.Duration
}

// TickResult summarises one tick. Skipped means another tick was running
// (or another instance held the lease) and nothing was scanned.
type TickResult struct {
	Scanned   int      `json:"scanned"`
	Escalated int      `json:"escalated"`
	IDs       []string `json:"ids,omitempty"`
	Skipped   bool     `json:"skipped,omitempty"`
}

type Stats struct {
	Skipped       uint64    `json:"skipped"`
	LastTickAt    time.Time `json:"last_tick_at"`
	LastEscalated int       `json:"last_escalated"`
}

type Scheduler struct {
	store     store.Store
	explainer classifier.Explainer
	publisher queue.Publisher
	lease     Lease
	metrics   *Metrics
	opts      Options
	now       func() time.Time

	// single-flight guard shared by the loop and on-demand ticks
	mu            sync.Mutex
	running       bool
	lastTickAt    time.Time
	lastEscalated int
	skipped       atomic.Uint64

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	// stopped blocks new advisories once Stop has begun draining them.
	stopped bool

	advisories sync.WaitGroup
}

func NewScheduler(st store.Store, explainer classifier.Explainer, pub queue.Publisher, metrics *Metrics, opts Options) *Scheduler {
	if explainer == nil {
		explainer = classifier.Unavailable{}
	}
	if pub == nil {
		pub = queue.NopPublisher{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.AdvisoryTimeout <= 0 {
		opts.AdvisoryTimeout = 5 * time.Second
	}
	return &Scheduler{
		store:     st,
		explainer: explainer,
		publisher: pub,
		metrics:   metrics,
		opts:      opts,
		now:       time.Now,
	}
}

// WithLease makes every tick hold l while it scans.
func (s *Scheduler) WithLease(l Lease) *Scheduler {
	s.lease = l
	return s
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Skipped:       s.skipped.Load(),
		LastTickAt:    s.lastTickAt,
		LastEscalated: s.lastEscalated,
	}
}

// Tick scans one batch of overdue complaints and advances each one rung.
// It never returns an error; failures shrink Escalated and are logged.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.skipped.Add(1)
		s.metrics.ticks.WithLabelValues(outcomeSkipped).Inc()
		log.Printf("[INFO] SLA tick skipped: previous tick still running")
		return TickResult{Skipped: true}
	}
	s.running = true
	s.mu.Unlock()

	start := time.Now()
	res, outcome := s.leasedScan(ctx)

	s.metrics.ticks.WithLabelValues(outcome).Inc()
	s.metrics.duration.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	s.running = false
	if !res.Skipped {
		s.lastTickAt = s.now()
		s.lastEscalated = res.Escalated
		s.metrics.lastEscalated.Set(float64(res.Escalated))
	}
	s.mu.Unlock()

	return res
}

func (s *Scheduler) leasedScan(ctx context.Context) (TickResult, string) {
	if s.lease != nil {
		release, ok, err := s.lease.Acquire(ctx)
		switch {
		case err != nil:
			log.Printf("[WARN] %v; scanning without lease", err)
		case !ok:
			log.Printf("[INFO] SLA tick skipped: lease held by another instance")
			return TickResult{Skipped: true}, outcomeLeaseHeld
		default:
			defer release()
		}
	}
	return s.scan(ctx)
}

func (s *Scheduler) scan(ctx context.Context) (TickResult, string) {
	now := s.now()
	res := TickResult{}

	candidates, err := s.store.FindOverdue(ctx, now, s.opts.BatchSize)
	if err != nil {
		log.Printf("[ERROR] SLA tick: failed to query overdue complaints: %v", err)
		return res, outcomeError
	}
	res.Scanned = len(candidates)

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			log.Printf("[WARN] SLA tick cancelled after %d of %d candidates", res.Escalated, res.Scanned)
			return res, outcomeAborted
		}

		updated, err := s.advance(ctx, candidate.ID, now)
		switch {
		case err == nil:
			res.Escalated++
			res.IDs = append(res.IDs, updated.ID.Hex())
			s.afterEscalation(ctx, updated, now)
		case isSkippable(err):
			log.Printf("[INFO] SLA tick: %s no longer eligible (%v)", candidate.ID.Hex(), err)
		default:
			log.Printf("[ERROR] SLA tick aborted at %s: %v", candidate.ID.Hex(), err)
			return res, outcomeAborted
		}
	}

	if res.Escalated > 0 {
		log.Printf("[OK] SLA tick: scanned %d, escalated %d", res.Scanned, res.Escalated)
	}
	return res, outcomeOK
}

func isSkippable(err error) bool {
	return errors.Is(err, store.ErrConflict) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, escalation.ErrNotOverdue) ||
		errors.Is(err, escalation.ErrTerminal)
}

// advance re-reads the complaint and applies one ladder step in a single
// versioned update.
func (s *Scheduler) advance(ctx context.Context, id primitive.ObjectID, now time.Time) (*models.Complaint, error) {
	fresh, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	step, err := escalation.Advance(fresh, now, s.opts.SLADuration)
	if err != nil {
		return nil, err
	}

	m := store.Mutation{
		Status:           step.Status,
		EscalationLevel:  step.Level,
		NextEscalationAt: step.NextEscalationAt,
		UpdatedAt:        now,
		Audit: models.AuditEntry{
			Timestamp: now,
			Action:    step.Action(),
			Actor:     models.ActorSystem,
			Details:   fmt.Sprintf("level %d -> %d, status %s -> %s", step.FromLevel, step.Level, fresh.Status, step.Status),
		},
		Timeline: models.TimelineEntry{
			Type:      models.TimelineTypeEscalation,
			Action:    step.Action(),
			Message:   step.Message(),
			Timestamp: now,
		},
	}
	if step.Resolved() {
		resolvedAt := now
		m.ResolvedAt = &resolvedAt
	}

	return s.store.Update(ctx, id, fresh.Version, m)
}

func (s *Scheduler) afterEscalation(ctx context.Context, c *models.Complaint, now time.Time) {
	s.metrics.escalations.WithLabelValues(string(c.Status)).Inc()

	if err := s.publisher.Publish(ctx, queue.RoutingKeyEscalated, models.NewEvent(c, models.ActorSystem, now)); err != nil {
		log.Printf("[WARN] Escalated %s but failed to publish event: %v", c.ID.Hex(), err)
	}

	if c.Status == models.StatusResolved {
		return
	}
	req := classifier.ExplainRequest{
		Department:     c.Department,
		Severity:       c.Severity,
		ElapsedSeconds: int64(now.Sub(c.CreatedAt).Seconds()),
		Status:         string(c.Status),
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.stopped {
		log.Printf("[WARN] Watchdog stopping, skipping advisory for %s", c.ID.Hex())
		return
	}
	s.advisories.Add(1)
	go s.advise(c.ID, req)
}

// advise appends a justification for an escalation. It runs detached from
// the tick and never touches the version.
func (s *Scheduler) advise(id primitive.ObjectID, req classifier.ExplainRequest) {
	defer s.advisories.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.AdvisoryTimeout)
	defer cancel()

	sentence, err := s.explainer.Explain(ctx, req)
	if err != nil || sentence == "" {
		if err != nil && !errors.Is(err, classifier.ErrUnavailable) {
			log.Printf("[WARN] Advisory justification for %s failed: %v", id.Hex(), err)
		}
		sentence = FallbackJustification
	}

	entry := models.TimelineEntry{
		Type:      models.TimelineTypeAdvisory,
		Action:    "justification",
		Message:   sentence,
		Timestamp: s.now(),
	}
	if err := s.store.AppendTimeline(context.Background(), id, entry); err != nil {
		log.Printf("[WARN] Failed to append advisory for %s: %v", id.Hex(), err)
	}
}

// Start runs Tick every Interval until ctx is cancelled or Stop is called.
// The first tick waits a random delay in [0, StartupJitter).
func (s *Scheduler) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.stopped = false

	go s.loop(ctx, s.done)
	log.Printf("[INFO] SLA watchdog started (interval %s, batch %d)", s.opts.Interval, s.opts.BatchSize)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if s.opts.StartupJitter > 0 {
		delay := rand.N(s.opts.StartupJitter)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	interval := s.opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the loop, waits for the running tick and drains pending
// advisory appends.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.lifecycle.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.lifecycle.Lock()
	s.stopped = true
	s.lifecycle.Unlock()
	s.advisories.Wait()
	log.Printf("[INFO] SLA watchdog stopped")
}
