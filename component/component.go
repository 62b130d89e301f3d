// Package component implements the store's component-identity and
// column types. The component type system itself (schemas, arrow-layer
// serialization) is assumed given upstream; this package treats
// component values as opaque typed column cells.
package component

import (
	"fmt"
	"reflect"

	"github.com/rerun-io/chunkstore/internal/intern"
	"github.com/rerun-io/chunkstore/rowid"
	"github.com/rerun-io/chunkstore/timeline"
)

var names intern.Table

// Name is an interned string naming a typed column (a.k.a.
// ComponentType).
type Name struct {
	p *string
}

// Intern returns the Name for the given string.
func Intern(name string) Name {
	return Name{p: names.Intern(name)}
}

func (n Name) String() string {
	if n.p == nil {
		return ""
	}
	return *n.p
}

// IsClear reports whether this is the well-known Clear component.
func (n Name) IsClear() bool {
	return n.String() == "rerun.components.Clear"
}

// Clear is the well-known component name whose presence masks
// subsequent queries on an entity (flat) or subtree (recursive).
var Clear = Intern("rerun.components.Clear")

// DataType is an opaque handle on a column's wire type. The core never
// interprets its contents; it only checks DataTypes for equality when
// guarding against a schema mismatch. Kind is derived from the Go
// runtime representation of a present cell's value — a stand-in for
// the real arrow-layer schema, which is assumed given upstream.
type DataType struct {
	Name string
	Kind string
}

func (d DataType) String() string {
	return d.Name + ":" + d.Kind
}

// InferKind derives a DataType.Kind from a cell's runtime
// representation. A nil value (a present cell with no concrete
// payload) has no runtime type to reflect on, so it reports a fixed
// sentinel kind rather than panicking on reflect.TypeOf(nil).
func InferKind(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}

// InferColumnType derives the DataType a column would register as,
// based on its first present cell. ok is false if the column has no
// present cells to infer from.
func InferColumnType(name Name, col Column) (DataType, bool) {
	for _, cell := range col {
		if cell.Present {
			return DataType{Name: name.String(), Kind: InferKind(cell.Value)}, true
		}
	}
	return DataType{}, false
}

// Descriptor distinguishes logically different uses of the same wire
// type on one entity: (archetype?, archetype_field?, component_type).
// Archetype and ArchetypeField are empty strings when absent so that
// Descriptor remains a plain comparable value usable as a map key.
type Descriptor struct {
	Archetype      string
	ArchetypeField string
	ComponentType  Name
}

func (d Descriptor) String() string {
	if d.Archetype == "" && d.ArchetypeField == "" {
		return d.ComponentType.String()
	}
	return fmt.Sprintf("%s::%s#%s", d.Archetype, d.ArchetypeField, d.ComponentType)
}

// Cell is one slot in a column: either absent, or present with a
// list-shaped typed value (supporting multi-instance rows).
type Cell struct {
	Present bool
	// Value holds the list-shaped typed value for a present cell. Its
	// concrete representation is owned by the component type system;
	// the core only moves it around.
	Value any
}

// AbsentCell is the zero value of Cell.
var AbsentCell = Cell{}

// PresentCell wraps v as a present cell.
func PresentCell(v any) Cell {
	return Cell{Present: true, Value: v}
}

// Column is the N-slot array backing one ComponentDescriptor on a
// chunk.
type Column []Cell

// UnitCell is a single-row, single-column query result: the RowId, the
// time at which the value was logged (Static for a static value), and
// the row's typed value.
type UnitCell struct {
	RowId rowid.RowId
	Time  timeline.TimeInt
	Value any
}
