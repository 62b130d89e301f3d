// Package timeline implements the store's time model: interned
// timeline names, signed 64-bit time values with the STATIC/MAX
// sentinels, inclusive time ranges, and per-row time points.
package timeline

import (
	"fmt"
	"math"

	"github.com/rerun-io/chunkstore/internal/intern"
)

var names intern.Table

// TimelineName is an interned string naming a timeline.
type TimelineName struct {
	p *string
}

// Intern returns the TimelineName for the given name, reusing the
// same interned value for repeated calls with the same string.
func Intern(name string) TimelineName {
	return TimelineName{p: names.Intern(name)}
}

func (n TimelineName) String() string {
	if n.p == nil {
		return ""
	}
	return *n.p
}

// Kind controls only a timeline's formatting/semantics; the core
// always stores times as signed 64-bit integers regardless of kind.
type Kind int

const (
	KindSequence Kind = iota
	KindDurationNanos
	KindTimestampNanos
)

// Timeline names a timeline and its display kind.
type Timeline struct {
	Name TimelineName
	Kind Kind
}

// TimeInt is a 64-bit signed time value. MinTimeInt doubles as the
// STATIC sentinel: it never appears inside a temporal table, only as
// a marker on a TimePoint for timeless rows.
type TimeInt int64

const (
	MinTimeInt TimeInt = math.MinInt64
	MaxTimeInt TimeInt = math.MaxInt64
	Static             = MinTimeInt
)

// IsStatic reports whether t marks a timeless row.
func (t TimeInt) IsStatic() bool {
	return t == Static
}

// AbsoluteTimeRange is an inclusive [Min, Max] range.
type AbsoluteTimeRange struct {
	Min TimeInt
	Max TimeInt
}

// NewRange builds a range, ordering its endpoints defensively so that
// callers constructing a range from unordered min/max candidates (e.g.
// when merging two chunks) don't need to sort first.
func NewRange(a, b TimeInt) AbsoluteTimeRange {
	if a > b {
		a, b = b, a
	}
	return AbsoluteTimeRange{Min: a, Max: b}
}

// Contains reports whether t falls within the inclusive range.
func (r AbsoluteTimeRange) Contains(t TimeInt) bool {
	return t >= r.Min && t <= r.Max
}

// Intersects reports whether r and other overlap.
func (r AbsoluteTimeRange) Intersects(other AbsoluteTimeRange) bool {
	return r.Min <= other.Max && other.Min <= r.Max
}

// Union returns the smallest range containing both r and other.
func (r AbsoluteTimeRange) Union(other AbsoluteTimeRange) AbsoluteTimeRange {
	return AbsoluteTimeRange{Min: min(r.Min, other.Min), Max: max(r.Max, other.Max)}
}

func (r AbsoluteTimeRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

// TimePoint maps each timeline a row is logged on to its time on that
// timeline. A row with no entries is static.
type TimePoint map[TimelineName]TimeInt

// IsStatic reports whether the point carries no timeline references.
func (p TimePoint) IsStatic() bool {
	return len(p) == 0
}
