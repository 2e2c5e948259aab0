// Package classifier talks to the external classification service that tags
// complaints and writes the one-sentence escalation justifications.
package classifier

import (
	"context"
	"errors"
	"fmt"

	"civic-complaint-system/services/complaint-service/decision"
)

var (
	ErrUnavailable = errors.New("classification service not configured")
	// ErrUnreachable wraps transport failures.
	ErrUnreachable = errors.New("classification service unreachable")
	// ErrInvalidAnswer means the service answered with something unusable.
	ErrInvalidAnswer = errors.New("classification service returned an invalid answer")
)

// Payload is what a citizen submitted.
type Payload struct {
	Description   string
	Location      string
	Image         []byte
	ImageMIMEType string
}

// Gateway classifies a submission.
type Gateway interface {
	Classify(ctx context.Context, p Payload) (*decision.Classification, error)
}

// ExplainRequest describes an escalation to be justified.
type ExplainRequest struct {
	Department     string
	Severity       string
	ElapsedSeconds int64
	Status         string
}

// Explainer returns a one-sentence justification for an escalation.
type Explainer interface {
	Explain(ctx context.Context, req ExplainRequest) (string, error)
}

// Unavailable fails every call. Used when no API key is configured so callers
// take their deterministic paths.
type Unavailable struct{}

func (Unavailable) Classify(context.Context, Payload) (*decision.Classification, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Explain(context.Context, ExplainRequest) (string, error) {
	return "", ErrUnavailable
}

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("classification API error %d: %s", e.StatusCode, e.Message)
}

// RateLimited reports a 429 / quota response.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == 429
}

// IsRateLimited checks whether err is a rate-limit APIError.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RateLimited()
}
