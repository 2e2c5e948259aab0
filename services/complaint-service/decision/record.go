package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

var ErrMissingRaw = errors.New("decision: external decision without raw payload")

// Record carries an AgentDecision through BSON and JSON. The zero Record
// holds no decision.
type Record struct {
	d AgentDecision
}

func Of(d AgentDecision) Record { return Record{d: d} }

func (r Record) Decision() AgentDecision { return r.d }
func (r Record) IsZero() bool            { return r.d == nil }

func (r Record) Source() Source {
	if r.d == nil {
		return ""
	}
	return r.d.Source()
}

type wireRecord struct {
	Source    Source          `bson:"source" json:"source"`
	Raw       *Classification `bson:"raw,omitempty" json:"raw,omitempty"`
	Reason    string          `bson:"reason,omitempty" json:"reason,omitempty"`
	DecidedAt time.Time       `bson:"decided_at" json:"decided_at"`
}

func (r Record) wire() wireRecord {
	if r.d == nil {
		return wireRecord{}
	}
	return Match(r.d,
		func(e External) wireRecord {
			raw := e.Raw()
			return wireRecord{Source: SourceExternal, Raw: &raw, DecidedAt: e.DecidedAt()}
		},
		func(f Fallback) wireRecord {
			return wireRecord{Source: SourceFallback, Reason: f.Reason(), DecidedAt: f.DecidedAt()}
		},
	)
}

func fromWire(w wireRecord) (Record, error) {
	switch w.Source {
	case SourceExternal:
		if w.Raw == nil {
			return Record{}, ErrMissingRaw
		}
		return Of(NewExternal(*w.Raw, w.DecidedAt)), nil
	case SourceFallback:
		// Any stray raw payload is dropped on purpose.
		return Of(NewFallback(w.Reason, w.DecidedAt)), nil
	case "":
		return Record{}, nil
	default:
		return Record{}, fmt.Errorf("decision: unknown source %q", w.Source)
	}
}

func (r Record) MarshalJSON() ([]byte, error) {
	if r.d == nil {
		return []byte("null"), nil
	}
	return json.Marshal(r.wire())
}

func (r *Record) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Record{}
		return nil
	}
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	rec, err := fromWire(w)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

func (r Record) MarshalBSON() ([]byte, error) {
	return bson.Marshal(r.wire())
}

func (r *Record) UnmarshalBSON(data []byte) error {
	var w wireRecord
	if err := bson.Unmarshal(data, &w); err != nil {
		return err
	}
	rec, err := fromWire(w)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}
