package models

import "github.com/google/uuid"

// ColorGroup is a half-open color interval [Begin, End) allocated for one
// parallel-by expansion. Groups within a workflow are pairwise disjoint and
// every color above zero has exactly one enclosing group. Color 0 is the
// root color and has no group row.
// Maps to: color_group table
type ColorGroup struct {
	ID          int64     `db:"id" json:"id"`
	WorkflowID  uuid.UUID `db:"workflow_id" json:"workflow_id"`
	NodeID      int64     `db:"node_id" json:"node_id"`
	Begin       int       `db:"begin_color" json:"begin"`
	End         int       `db:"end_color" json:"end"`
	ParentColor *int      `db:"parent_color" json:"parent_color,omitempty"`
}

// Contains reports whether color falls inside the group
func (g *ColorGroup) Contains(color int) bool {
	return color >= g.Begin && color < g.End
}

// Width returns the number of colors in the group
func (g *ColorGroup) Width() int {
	return g.End - g.Begin
}

// Index returns the zero-based offset of color within the group
func (g *ColorGroup) Index(color int) int {
	return color - g.Begin
}

// Output is one serialized value produced by a node at a color. At most one
// Output exists per (node, name, color) and it is never modified after write.
// Maps to: output table
type Output struct {
	ID              int64     `db:"id" json:"id"`
	WorkflowID      uuid.UUID `db:"workflow_id" json:"workflow_id"`
	NodeID          int64     `db:"node_id" json:"node_id"`
	Name            string    `db:"name" json:"name"`
	Color           int       `db:"color" json:"color"`
	SerializedValue []byte    `db:"value" json:"value"`
}
