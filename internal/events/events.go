// Package events provides the publish/subscribe channel that analytics and
// accessibility code use to observe submission pipeline transitions.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event record type.
type Kind string

const (
	KindFieldFocus Kind = "field_focus"
	KindSubmit     Kind = "submit"
	KindSuccess    Kind = "success"
	KindError      Kind = "error"
	KindSecurity   Kind = "security"

	// KindView is the legacy name for the one-time mount notification.
	// It is normalised to KindFieldFocus everywhere.
	KindView Kind = "view"
)

// Kinds lists every canonical event kind.
var Kinds = []Kind{KindFieldFocus, KindSubmit, KindSuccess, KindError, KindSecurity}

// Normalize maps legacy aliases onto their canonical kind.
func Normalize(k Kind) Kind {
	if k == KindView {
		return KindFieldFocus
	}
	return k
}

// Valid reports whether k (after normalisation) is a known kind.
func (k Kind) Valid() bool {
	switch Normalize(k) {
	case KindFieldFocus, KindSubmit, KindSuccess, KindError, KindSecurity:
		return true
	}
	return false
}

// Record is a single pipeline notification. Records are never mutated after
// NewRecord returns; the bus hands each handler its own payload copy.
type Record struct {
	ID        string
	Kind      Kind
	Timestamp time.Time
	FormID    string
	Payload   map[string]any
}

// NewRecord builds a record stamped with a fresh id.
func NewRecord(kind Kind, formID string, ts time.Time, payload map[string]any) Record {
	return Record{
		ID:        uuid.NewString(),
		Kind:      Normalize(kind),
		Timestamp: ts,
		FormID:    formID,
		Payload:   clonePayload(payload),
	}
}

func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Handler reacts to a record. A returned error is logged by the bus and
// otherwise ignored.
type Handler func(Record) error
