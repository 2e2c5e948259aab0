package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"civic-complaint-system/pkg/queue"
	"civic-complaint-system/services/complaint-service/classifier"
	"civic-complaint-system/services/complaint-service/decision"
	"civic-complaint-system/services/complaint-service/models"
	"civic-complaint-system/services/complaint-service/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Classify(ctx context.Context, p classifier.Payload) (*decision.Classification, error) {
	args := m.Called(ctx, p)
	cls, _ := args.Get(0).(*decision.Classification)
	return cls, args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []interface{}
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.events = append(p.events, payload)
	return p.err
}

type fakeEvidence struct {
	names   []string
	removed []string
	err     error
}

func (f *fakeEvidence) RemoveEvidence(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeEvidence) PutEvidence(_ context.Context, name string, _ []byte, _ string) (string, error) {
	f.names = append(f.names, name)
	if f.err != nil {
		return "", f.err
	}
	return "http://minio.local/evidence/" + name, nil
}

type countingStore struct {
	*store.Memory
	inserts int
}

func (s *countingStore) Insert(ctx context.Context, c *models.Complaint) error {
	s.inserts++
	return s.Memory.Insert(ctx, c)
}

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newGate(gw classifier.Gateway, pub queue.Publisher) (*Gate, *countingStore) {
	st := &countingStore{Memory: store.NewMemory()}
	g := NewGate(st, gw, pub, Options{
		SLADuration:     72 * time.Hour,
		MinConfidence:   DefaultMinConfidence,
		ClassifyTimeout: time.Second,
	}).WithClock(func() time.Time { return fixedNow })
	return g, st
}

func classification(score float64) *decision.Classification {
	return &decision.Classification{
		Category:           "Pothole",
		Severity:           "high",
		Priority:           "high",
		ConfidenceScore:    score,
		AuthenticityStatus: "real",
		Reasoning:          "pothole visible in photo",
	}
}

func TestSubmitRejectsBelowFloor(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Classify", mock.Anything, mock.Anything).Return(classification(0.19), nil)
	pub := &recordingPublisher{}
	g, st := newGate(gw, pub)
	ev := &fakeEvidence{}
	g.WithEvidenceStore(ev)

	out, err := g.Submit(context.Background(), Submission{
		ReporterID:  "u1",
		Description: "Large pothole on Main St",
		Image:       []byte{0xff, 0xd8},
	})

	require.NoError(t, err)
	assert.False(t, out.Accepted())
	require.NotNil(t, out.Rejection)
	assert.Equal(t, 0.19, out.Rejection.ConfidenceScore)
	assert.Equal(t, decision.SourceExternal, out.Rejection.DecisionSource)
	assert.Contains(t, out.Rejection.Reason, "pothole visible in photo")

	assert.Zero(t, st.inserts, "rejection must not persist anything")
	assert.Empty(t, pub.keys)
	assert.Empty(t, ev.names, "rejected evidence must not be uploaded")
	gw.AssertExpectations(t)
}

func TestSubmitAcceptsAtFloor(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Classify", mock.Anything, mock.Anything).Return(classification(0.20), nil)
	pub := &recordingPublisher{}
	g, st := newGate(gw, pub)

	out, err := g.Submit(context.Background(), Submission{ReporterID: "u1", Description: "Streetlight out", Location: "5th Ave"})
	require.NoError(t, err)
	require.True(t, out.Accepted())

	c := out.Complaint
	assert.Equal(t, models.StatusAnalyzed, c.Status)
	assert.Equal(t, 0, c.EscalationLevel)
	require.NotNil(t, c.NextEscalationAt)
	assert.Equal(t, fixedNow.Add(72*time.Hour), *c.NextEscalationAt)
	assert.Equal(t, "pothole", c.Category)
	assert.Equal(t, "public_works", c.Department)
	assert.Equal(t, models.AuthenticityReal, c.AuthenticityStatus)
	assert.Equal(t, decision.SourceExternal, c.AgentDecision.Source())

	require.Len(t, c.AuditLog, 2)
	assert.Equal(t, "submitted", c.AuditLog[0].Action)
	assert.Equal(t, models.ActorCitizen, c.AuditLog[0].Actor)
	assert.Equal(t, "analyzed", c.AuditLog[1].Action)
	assert.Equal(t, models.ActorSystem, c.AuditLog[1].Actor)
	require.Len(t, c.Timeline, 1)
	assert.Equal(t, models.TimelineTypeAnalysis, c.Timeline[0].Type)

	assert.Equal(t, 1, st.inserts)
	stored, err := st.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, stored.ID)

	assert.Equal(t, []string{queue.RoutingKeyCreated}, pub.keys)
}

func TestSubmitFallsBackWhenClassifierFails(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Classify", mock.Anything, mock.Anything).Return(nil, &classifier.APIError{StatusCode: 429, Message: "quota"})
	g, _ := newGate(gw, nil)

	out, err := g.Submit(context.Background(), Submission{Description: "Garbage not collected"})
	require.NoError(t, err)
	require.True(t, out.Accepted())

	c := out.Complaint
	assert.Equal(t, FallbackCategory, c.Category)
	assert.Equal(t, FallbackSeverity, c.Severity)
	assert.Equal(t, FallbackPriority, c.Priority)
	assert.Equal(t, FallbackConfidence, c.ConfidenceScore)
	assert.Equal(t, models.AuthenticityUncertain, c.AuthenticityStatus)

	fb, ok := c.AgentDecision.Decision().(decision.Fallback)
	require.True(t, ok)
	assert.Equal(t, "classification service rate limited", fb.Reason())
	assert.Equal(t, fixedNow, fb.DecidedAt())
}

func TestSubmitFallsBackOnTimeout(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Classify", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	g, _ := newGate(gw, nil)
	g.opts.ClassifyTimeout = 20 * time.Millisecond

	out, err := g.Submit(context.Background(), Submission{Description: "Flooded underpass"})
	require.NoError(t, err)
	require.True(t, out.Accepted())
	fb, ok := out.Complaint.AgentDecision.Decision().(decision.Fallback)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(fb.Reason(), "classification timed out"))
}

func TestTimelineWordingDiffersBySource(t *testing.T) {
	ext := &mockGateway{}
	ext.On("Classify", mock.Anything, mock.Anything).Return(classification(0.9), nil)
	gExt, _ := newGate(ext, nil)

	fb := &mockGateway{}
	fb.On("Classify", mock.Anything, mock.Anything).Return(nil, classifier.ErrUnavailable)
	gFb, _ := newGate(fb, nil)

	a, err := gExt.Submit(context.Background(), Submission{Description: "Broken bench"})
	require.NoError(t, err)
	b, err := gFb.Submit(context.Background(), Submission{Description: "Broken bench"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Complaint.Timeline[0].Message, b.Complaint.Timeline[0].Message)
	assert.Contains(t, b.Complaint.AuditLog[1].Details, "not configured")
}

func TestSubmitSealsAnonymousReporter(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Classify", mock.Anything, mock.Anything).Return(classification(0.8), nil)
	g, _ := newGate(gw, nil)
	g.WithSealer(sealerFunc(func(s string) (string, error) { return "sealed:" + s, nil }))

	out, err := g.Submit(context.Background(), Submission{ReporterID: "u42", Anonymous: true, Description: "Noise at night"})
	require.NoError(t, err)
	assert.Empty(t, out.Complaint.ReporterID)
	assert.Equal(t, "sealed:u42", out.Complaint.ReporterIDEnc)
	assert.True(t, out.Complaint.IsAnonymous)
}

func TestSubmitUploadsEvidenceAfterAcceptance(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Classify", mock.Anything, mock.Anything).Return(classification(0.8), nil)
	g, _ := newGate(gw, nil)
	ev := &fakeEvidence{}
	g.WithEvidenceStore(ev)

	out, err := g.Submit(context.Background(), Submission{Description: "Fallen tree", Image: []byte{1, 2, 3}, ImageMIMEType: "image/png"})
	require.NoError(t, err)
	require.Len(t, ev.names, 1)
	assert.True(t, strings.HasPrefix(ev.names[0], out.Complaint.ID.Hex()))
	assert.Contains(t, out.Complaint.ImageURL, out.Complaint.ID.Hex())
}

func TestSubmitSurvivesEvidenceAndPublishFailures(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Classify", mock.Anything, mock.Anything).Return(classification(0.8), nil)
	pub := &recordingPublisher{err: errors.New("broker down")}
	g, st := newGate(gw, pub)
	g.WithEvidenceStore(&fakeEvidence{err: errors.New("bucket missing")})

	out, err := g.Submit(context.Background(), Submission{Description: "Leaking hydrant", Image: []byte{1}})
	require.NoError(t, err)
	require.True(t, out.Accepted())
	assert.Empty(t, out.Complaint.ImageURL)
	assert.Equal(t, 1, st.inserts)
}

func TestSubmitRequiresDescription(t *testing.T) {
	gw := &mockGateway{}
	g, _ := newGate(gw, nil)

	_, err := g.Submit(context.Background(), Submission{Description: "   "})
	assert.ErrorIs(t, err, ErrInvalidSubmission)
	gw.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
}

type failingStore struct{ store.Store }

func (failingStore) Insert(context.Context, *models.Complaint) error { return errors.New("disk full") }
func (failingStore) Get(context.Context, primitive.ObjectID) (*models.Complaint, error) {
	return nil, store.ErrNotFound
}

func TestSubmitReturnsStoreError(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Classify", mock.Anything, mock.Anything).Return(classification(0.8), nil)
	pub := &recordingPublisher{}
	g := NewGate(failingStore{}, gw, pub, Options{SLADuration: time.Hour, MinConfidence: 0.2})

	_, err := g.Submit(context.Background(), Submission{Description: "Pothole"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, pub.keys)
}

func TestSubmitRemovesEvidenceWhenInsertFails(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Classify", mock.Anything, mock.Anything).Return(classification(0.8), nil)
	ev := &fakeEvidence{}
	g := NewGate(failingStore{}, gw, nil, Options{SLADuration: time.Hour, MinConfidence: 0.2}).WithEvidenceStore(ev)

	_, err := g.Submit(context.Background(), Submission{Description: "Pothole", Image: []byte{1}, ImageMIMEType: "image/png"})
	require.Error(t, err)
	require.Len(t, ev.names, 1)
	assert.Equal(t, ev.names, ev.removed)
}

func TestSubmitKeepsEvidenceOnSuccess(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Classify", mock.Anything, mock.Anything).Return(classification(0.8), nil)
	g, _ := newGate(gw, nil)
	ev := &fakeEvidence{}
	g.WithEvidenceStore(ev)

	_, err := g.Submit(context.Background(), Submission{Description: "Pothole", Image: []byte{1}})
	require.NoError(t, err)
	assert.Empty(t, ev.removed)
}

func TestFallbackReasonHidesTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	gw := classifier.NewGemini("SUPER-SECRET-KEY", "").WithBaseURL(srv.URL)
	g, _ := newGate(gw, nil)

	out, err := g.Submit(context.Background(), Submission{Description: "Broken streetlight"})
	require.NoError(t, err)
	require.True(t, out.Accepted())

	fb, ok := out.Complaint.AgentDecision.Decision().(decision.Fallback)
	require.True(t, ok)
	assert.Equal(t, "classification service unreachable", fb.Reason())

	body, err := json.Marshal(out.Complaint)
	require.NoError(t, err)
	for _, leaked := range []string{"SUPER-SECRET-KEY", "dial tcp", "127.0.0.1", "generateContent"} {
		assert.NotContains(t, string(body), leaked)
	}
}

func TestFallbackReasonCategories(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{classifier.ErrUnavailable, "classification service not configured"},
		{&classifier.APIError{StatusCode: 429, Message: "quota"}, "classification service rate limited"},
		{&classifier.APIError{StatusCode: 500, Message: "upstream stack trace"}, "classification service returned an invalid answer"},
		{fmt.Errorf("%w: bad json", classifier.ErrInvalidAnswer), "classification service returned an invalid answer"},
		{errors.New("dial tcp 10.0.0.1:443: connection refused"), "classification service unreachable"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, fallbackReason(tc.err, time.Second), tc.err.Error())
	}
	assert.Equal(t, "classification timed out after 1s", fallbackReason(context.DeadlineExceeded, time.Second))
}

type sealerFunc func(string) (string, error)

func (f sealerFunc) Seal(s string) (string, error) { return f(s) }
