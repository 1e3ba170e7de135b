package model

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Palette holds the sticky-note color tags in cycling order.
var Palette = []string{"yellow", "pink", "blue", "green", "purple", "orange"}

// Default placement sizes for freshly created items.
const (
	DefaultNoteWidth   = 200.0
	DefaultNoteHeight  = 150.0
	DefaultImageWidth  = 200.0
	DefaultImageHeight = 150.0
)

// NextColor returns the palette color following current. Unknown colors restart the cycle.
func NextColor(current string) string {
	for i, c := range Palette {
		if c == current {
			return Palette[(i+1)%len(Palette)]
		}
	}
	return Palette[0]
}

// RandomColor picks a palette color.
func RandomColor() string {
	return Palette[rand.Intn(len(Palette))]
}

// RandomRotation returns a small tilt in degrees within [-3, 3).
func RandomRotation() float64 {
	return rand.Float64()*6 - 3
}

// NewNote drafts a note centered horizontally on the given point.
func NewNote(x, y float64) CanvasItem {
	return newDraft(KindNote, x-DefaultNoteWidth/2, y, DefaultNoteWidth, DefaultNoteHeight)
}

// NewChecklist drafts an empty checklist at the given point.
func NewChecklist(x, y float64) CanvasItem {
	item := newDraft(KindChecklist, x-DefaultNoteWidth/2, y, 0, 0)
	item.Checklist = []ChecklistEntry{}
	return item
}

// NewImage drafts an image item referencing a stored object; caption goes into Content.
func NewImage(x, y float64, ref, caption string) CanvasItem {
	item := newDraft(KindImage, x-DefaultImageWidth/2, y-DefaultImageHeight/2, DefaultImageWidth, DefaultImageHeight)
	item.ImageRef = ref
	item.Content = caption
	item.Rotation = 0
	return item
}

// NewChecklistEntry returns an unchecked entry with a fresh id.
func NewChecklistEntry(text string) ChecklistEntry {
	return ChecklistEntry{ID: uuid.NewString(), Text: text}
}

func newDraft(kind Kind, x, y, w, h float64) CanvasItem {
	return CanvasItem{
		ID:        uuid.NewString(),
		Kind:      kind,
		X:         x,
		Y:         y,
		Width:     w,
		Height:    h,
		Color:     RandomColor(),
		Rotation:  RandomRotation(),
		CreatedAt: time.Now().UTC(),
	}
}
