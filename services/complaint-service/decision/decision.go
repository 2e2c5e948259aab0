// Package decision records how a complaint was classified.
//
// An AgentDecision is either External (the classification service answered and
// its payload is kept verbatim) or Fallback (a deterministic default was used).
// The Fallback variant has no payload field at all, so a default can never be
// rendered as if it were machine-derived. Consumers branch with Match.
package decision

import (
	"fmt"
	"time"
)

type Source string

const (
	SourceExternal Source = "external"
	SourceFallback Source = "fallback"
)

// Classification is the payload returned by the classification service.
type Classification struct {
	Category           string  `bson:"category" json:"category"`
	Severity           string  `bson:"severity" json:"severity"`
	Priority           string  `bson:"priority" json:"priority"`
	ConfidenceScore    float64 `bson:"confidence_score" json:"confidence_score"`
	AuthenticityStatus string  `bson:"authenticity_status" json:"authenticity_status"`
	Reasoning          string  `bson:"reasoning" json:"reasoning"`
}

// AgentDecision is sealed: only External and Fallback implement it.
type AgentDecision interface {
	Source() Source
	DecidedAt() time.Time
	sealed()
}

type External struct {
	raw Classification
	at  time.Time
}

func NewExternal(raw Classification, at time.Time) External {
	return External{raw: raw, at: at.UTC()}
}

// Raw returns a copy of the verbatim classification payload.
func (e External) Raw() Classification  { return e.raw }
func (e External) Source() Source       { return SourceExternal }
func (e External) DecidedAt() time.Time { return e.at }
func (External) sealed()                {}

type Fallback struct {
	reason string
	at     time.Time
}

func NewFallback(reason string, at time.Time) Fallback {
	return Fallback{reason: reason, at: at.UTC()}
}

func (f Fallback) Reason() string       { return f.reason }
func (f Fallback) Source() Source       { return SourceFallback }
func (f Fallback) DecidedAt() time.Time { return f.at }
func (Fallback) sealed()                {}

// Match calls exactly one of the handlers depending on the variant of d.
func Match[T any](d AgentDecision, external func(External) T, fallback func(Fallback) T) T {
	switch v := d.(type) {
	case External:
		return external(v)
	case Fallback:
		return fallback(v)
	default:
		panic(fmt.Sprintf("decision: unknown variant %T", d))
	}
}
