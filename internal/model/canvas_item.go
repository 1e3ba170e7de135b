package model

import (
	"time"
)

// Kind identifies what a canvas item displays. It is fixed at creation.
type Kind string

const (
	KindNote      Kind = "note"
	KindChecklist Kind = "checklist"
	KindImage     Kind = "image"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindNote, KindChecklist, KindImage:
		return true
	}
	return false
}

// HasSize reports whether items of this kind carry a resizable size.
func (k Kind) HasSize() bool {
	return k == KindNote || k == KindImage
}

// Minimum size of a sized item; smaller boxes make content unreadable.
const (
	MinWidth  = 150.0
	MinHeight = 100.0
)

// ClampSize raises w and h to the enforced minimum.
func ClampSize(w, h float64) (float64, float64) {
	if w < MinWidth {
		w = MinWidth
	}
	if h < MinHeight {
		h = MinHeight
	}
	return w, h
}

// ChecklistEntry is a single line of a checklist item.
type ChecklistEntry struct {
	ID   string `json:"id" validate:"required"`
	Text string `json:"text" validate:"max=1000"`
	Done bool   `json:"done"`
}

// CanvasItem is the unit of persistence and display on the canvas.
// It is a pure domain model shared by the sync engine, the HTTP layer and the repository.
type CanvasItem struct {
	ID        string           `json:"id" validate:"required,max=64"`
	Kind      Kind             `json:"kind" validate:"required,oneof=note checklist image"`
	X         float64          `json:"x"`
	Y         float64          `json:"y"`
	Width     float64          `json:"width,omitempty"`
	Height    float64          `json:"height,omitempty"`
	Content   string           `json:"content" validate:"max=10000"`
	Checklist []ChecklistEntry `json:"checklist,omitempty" validate:"dive"`
	ImageRef  string           `json:"imageRef,omitempty" validate:"max=512"`
	Color     string           `json:"color,omitempty" validate:"max=32"`
	Rotation  float64          `json:"rotation"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Clone returns a deep copy; the checklist slice is never shared.
func (c CanvasItem) Clone() CanvasItem {
	if c.Checklist != nil {
		entries := make([]ChecklistEntry, len(c.Checklist))
		copy(entries, c.Checklist)
		c.Checklist = entries
	}
	return c
}

// Normalize enforces the size invariant for sized kinds and drops size from unsized ones.
func (c CanvasItem) Normalize() CanvasItem {
	if c.Kind.HasSize() {
		c.Width, c.Height = ClampSize(c.Width, c.Height)
	} else {
		c.Width, c.Height = 0, 0
	}
	return c
}

// Apply returns a copy of c with the fields set in p merged in.
// Fields that do not apply to the item's kind are ignored and size stays clamped.
func (c CanvasItem) Apply(p Patch) CanvasItem {
	out := c.Clone()
	if p.X != nil {
		out.X = *p.X
	}
	if p.Y != nil {
		out.Y = *p.Y
	}
	if c.Kind.HasSize() {
		if p.Width != nil {
			out.Width = *p.Width
		}
		if p.Height != nil {
			out.Height = *p.Height
		}
		out.Width, out.Height = ClampSize(out.Width, out.Height)
	}
	if p.Content != nil {
		out.Content = *p.Content
	}
	if p.Checklist != nil && c.Kind == KindChecklist {
		entries := make([]ChecklistEntry, len(*p.Checklist))
		copy(entries, *p.Checklist)
		out.Checklist = entries
	}
	if p.ImageRef != nil && c.Kind == KindImage {
		out.ImageRef = *p.ImageRef
	}
	if p.Color != nil {
		out.Color = *p.Color
	}
	if p.Rotation != nil {
		out.Rotation = *p.Rotation
	}
	return out
}

// Capture returns a patch holding the item's current values for the given fields.
func (c CanvasItem) Capture(fields ...Field) Patch {
	var p Patch
	for _, f := range fields {
		switch f {
		case FieldX:
			p.X = ptr(c.X)
		case FieldY:
			p.Y = ptr(c.Y)
		case FieldWidth:
			p.Width = ptr(c.Width)
		case FieldHeight:
			p.Height = ptr(c.Height)
		case FieldContent:
			p.Content = ptr(c.Content)
		case FieldChecklist:
			entries := make([]ChecklistEntry, len(c.Checklist))
			copy(entries, c.Checklist)
			p.Checklist = &entries
		case FieldImageRef:
			p.ImageRef = ptr(c.ImageRef)
		case FieldColor:
			p.Color = ptr(c.Color)
		case FieldRotation:
			p.Rotation = ptr(c.Rotation)
		}
	}
	return p
}

// ChecklistEntryIndex returns the position of the entry with the given id, or -1.
func (c CanvasItem) ChecklistEntryIndex(entryID string) int {
	for i, e := range c.Checklist {
		if e.ID == entryID {
			return i
		}
	}
	return -1
}

func ptr[T any](v T) *T { return &v }
