// Package storeerr defines the chunk store's error taxonomy: the
// handful of conditions that abort an operation, as opposed to
// query-time misses which are reported as empty results rather than
// errors.
package storeerr

import "github.com/pkg/errors"

// ErrMalformedChunk is returned when a chunk fails construction-time
// validation: column length disagreement, non-monotonic RowIds, or a
// declared time range that disagrees with the data.
var ErrMalformedChunk = errors.New("malformed chunk")

// ErrSchemaMismatch is returned when an incoming column's DataType
// disagrees with the type already registered for its ComponentName.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Malformed wraps ErrMalformedChunk with a specific reason.
func Malformed(reason string) error {
	return errors.Wrap(ErrMalformedChunk, reason)
}

// SchemaMismatch wraps ErrSchemaMismatch with a specific reason.
func SchemaMismatch(reason string) error {
	return errors.Wrap(ErrSchemaMismatch, reason)
}

// SubscriberIncident records a subscriber panic recovered by the bus.
// The write that triggered it is never rolled back; incidents are
// reported out-of-band via ChunkStore.Incidents().
type SubscriberIncident struct {
	Subscriber string
	Recovered  any
}
