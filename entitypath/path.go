// Package entitypath implements the hierarchical entity path that
// identifies logical objects in a recording ("/a/b/c").
package entitypath

import (
	"strings"

	"github.com/rerun-io/chunkstore/hash"
)

// EntityPath is an ordered sequence of path parts.
type EntityPath struct {
	parts []string
}

// Root is the empty entity path.
var Root = EntityPath{}

// Parse splits a "/"-separated path string into an EntityPath. Leading
// and trailing slashes and empty segments are ignored, so "/a/b/" and
// "a/b" both parse to the same path.
func Parse(s string) EntityPath {
	raw := strings.Split(s, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return EntityPath{parts: parts}
}

// New builds an EntityPath directly from its parts.
func New(parts ...string) EntityPath {
	cp := make([]string, len(parts))
	copy(cp, parts)
	return EntityPath{parts: cp}
}

// Equal reports whether p and other name the same path.
func (p EntityPath) Equal(other EntityPath) bool {
	if len(p.parts) != len(other.parts) {
		return false
	}
	for i, part := range p.parts {
		if part != other.parts[i] {
			return false
		}
	}
	return true
}

// IsRoot reports whether this is the zero-depth root path.
func (p EntityPath) IsRoot() bool {
	return len(p.parts) == 0
}

// Parts returns the path's parts; callers must not mutate the result.
func (p EntityPath) Parts() []string {
	return p.parts
}

// Parent returns the path's parent, or the root path if p is already
// the root.
func (p EntityPath) Parent() EntityPath {
	if p.IsRoot() {
		return Root
	}
	return EntityPath{parts: p.parts[:len(p.parts)-1]}
}

// Child appends a single part, returning the descendant path.
func (p EntityPath) Child(part string) EntityPath {
	parts := make([]string, len(p.parts)+1)
	copy(parts, p.parts)
	parts[len(p.parts)] = part
	return EntityPath{parts: parts}
}

// IsDescendantOf reports whether p is other or a strict descendant of
// other (i.e. other is a prefix of p's parts).
func (p EntityPath) IsDescendantOf(other EntityPath) bool {
	if len(other.parts) > len(p.parts) {
		return false
	}
	for i, part := range other.parts {
		if p.parts[i] != part {
			return false
		}
	}
	return true
}

// String renders the canonical "/"-separated form.
func (p EntityPath) String() string {
	if p.IsRoot() {
		return "/"
	}
	return "/" + strings.Join(p.parts, "/")
}

// Hash returns the path's EntityPathHash, used as a map key wherever
// the path itself need not be reconstructed.
func (p EntityPath) Hash() hash.EntityPathHash {
	return hash.Of(p.String())
}
