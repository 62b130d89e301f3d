package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInternReuses(t *testing.T) {
	assert.Equal(t, Intern("rerun.components.Position3D"), Intern("rerun.components.Position3D"))
}

func TestClearIsRecognized(t *testing.T) {
	assert.True(t, Clear.IsClear())
	assert.False(t, Intern("rerun.components.Color").IsClear())
}

func TestDescriptorEquality(t *testing.T) {
	a := Descriptor{ComponentType: Intern("pos")}
	b := Descriptor{ComponentType: Intern("pos")}
	assert.Equal(t, a, b)

	c := Descriptor{Archetype: "Points3D", ArchetypeField: "positions", ComponentType: Intern("pos")}
	assert.NotEqual(t, a, c)
}

func TestCellPresence(t *testing.T) {
	assert.False(t, AbsentCell.Present)
	c := PresentCell([]float64{1, 2, 3})
	assert.True(t, c.Present)
	assert.Equal(t, []float64{1, 2, 3}, c.Value)
}
