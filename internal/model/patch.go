package model

import (
	"errors"
	"fmt"
	"math"
)

// Field names a mutable attribute of a CanvasItem. The string value is the JSON key.
type Field string

const (
	FieldX         Field = "x"
	FieldY         Field = "y"
	FieldWidth     Field = "width"
	FieldHeight    Field = "height"
	FieldContent   Field = "content"
	FieldChecklist Field = "checklist"
	FieldImageRef  Field = "imageRef"
	FieldColor     Field = "color"
	FieldRotation  Field = "rotation"
)

// MutationClass groups fields by how often interaction code changes them.
type MutationClass int

const (
	// Continuous fields change every frame while dragging or resizing.
	Continuous MutationClass = iota
	// Discrete fields change on edits such as typing or toggling.
	Discrete
)

func (m MutationClass) String() string {
	if m == Continuous {
		return "continuous"
	}
	return "discrete"
}

// Class returns the mutation class a field belongs to.
func (f Field) Class() MutationClass {
	switch f {
	case FieldX, FieldY, FieldWidth, FieldHeight:
		return Continuous
	}
	return Discrete
}

var (
	ErrUnknownField    = errors.New("unknown field")
	ErrFieldValue      = errors.New("invalid field value")
	ErrFieldNotAllowed = errors.New("field not applicable to item kind")
)

// Patch is a partial set of item fields. A nil pointer means "not set".
// Its JSON form is the body of a remote update.
type Patch struct {
	X         *float64          `json:"x,omitempty"`
	Y         *float64          `json:"y,omitempty"`
	Width     *float64          `json:"width,omitempty"`
	Height    *float64          `json:"height,omitempty"`
	Content   *string           `json:"content,omitempty"`
	Checklist *[]ChecklistEntry `json:"checklist,omitempty"`
	ImageRef  *string           `json:"imageRef,omitempty"`
	Color     *string           `json:"color,omitempty"`
	Rotation  *float64          `json:"rotation,omitempty"`
}

// Fields lists the fields set in p.
func (p Patch) Fields() []Field {
	var out []Field
	if p.X != nil {
		out = append(out, FieldX)
	}
	if p.Y != nil {
		out = append(out, FieldY)
	}
	if p.Width != nil {
		out = append(out, FieldWidth)
	}
	if p.Height != nil {
		out = append(out, FieldHeight)
	}
	if p.Content != nil {
		out = append(out, FieldContent)
	}
	if p.Checklist != nil {
		out = append(out, FieldChecklist)
	}
	if p.ImageRef != nil {
		out = append(out, FieldImageRef)
	}
	if p.Color != nil {
		out = append(out, FieldColor)
	}
	if p.Rotation != nil {
		out = append(out, FieldRotation)
	}
	return out
}

// IsEmpty reports whether no field is set.
func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Merge returns p with every field set in o overwriting p's value.
// Fields absent from o are left untouched.
func (p Patch) Merge(o Patch) Patch {
	if o.X != nil {
		p.X = o.X
	}
	if o.Y != nil {
		p.Y = o.Y
	}
	if o.Width != nil {
		p.Width = o.Width
	}
	if o.Height != nil {
		p.Height = o.Height
	}
	if o.Content != nil {
		p.Content = o.Content
	}
	if o.Checklist != nil {
		p.Checklist = o.Checklist
	}
	if o.ImageRef != nil {
		p.ImageRef = o.ImageRef
	}
	if o.Color != nil {
		p.Color = o.Color
	}
	if o.Rotation != nil {
		p.Rotation = o.Rotation
	}
	return p
}

// Only returns the subset of p restricted to the given fields.
func (p Patch) Only(fields ...Field) Patch {
	var out Patch
	for _, f := range fields {
		switch f {
		case FieldX:
			out.X = p.X
		case FieldY:
			out.Y = p.Y
		case FieldWidth:
			out.Width = p.Width
		case FieldHeight:
			out.Height = p.Height
		case FieldContent:
			out.Content = p.Content
		case FieldChecklist:
			out.Checklist = p.Checklist
		case FieldImageRef:
			out.ImageRef = p.ImageRef
		case FieldColor:
			out.Color = p.Color
		case FieldRotation:
			out.Rotation = p.Rotation
		}
	}
	return out
}

// Split partitions p into its continuous and discrete parts.
func (p Patch) Split() (continuous, discrete Patch) {
	var cont, disc []Field
	for _, f := range p.Fields() {
		if f.Class() == Continuous {
			cont = append(cont, f)
		} else {
			disc = append(disc, f)
		}
	}
	return p.Only(cont...), p.Only(disc...)
}

// Validate rejects non-finite numbers and fields that do not apply to kind.
func (p Patch) Validate(kind Kind) error {
	for _, v := range []*float64{p.X, p.Y, p.Width, p.Height, p.Rotation} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%w: non-finite number", ErrFieldValue)
		}
	}
	if !kind.HasSize() && (p.Width != nil || p.Height != nil) {
		return fmt.Errorf("%w: size on %s", ErrFieldNotAllowed, kind)
	}
	if kind != KindChecklist && p.Checklist != nil {
		return fmt.Errorf("%w: checklist on %s", ErrFieldNotAllowed, kind)
	}
	if kind != KindImage && p.ImageRef != nil {
		return fmt.Errorf("%w: imageRef on %s", ErrFieldNotAllowed, kind)
	}
	if p.Checklist != nil {
		seen := make(map[string]struct{}, len(*p.Checklist))
		for _, e := range *p.Checklist {
			if e.ID == "" {
				return fmt.Errorf("%w: checklist entry without id", ErrFieldValue)
			}
			if _, dup := seen[e.ID]; dup {
				return fmt.Errorf("%w: duplicate checklist entry %q", ErrFieldValue, e.ID)
			}
			seen[e.ID] = struct{}{}
		}
	}
	return nil
}

// PatchFor builds a single-field patch from an untyped value as produced by interaction code.
func PatchFor(field Field, value any) (Patch, error) {
	var p Patch
	switch field {
	case FieldX, FieldY, FieldWidth, FieldHeight, FieldRotation:
		n, ok := toFloat(value)
		if !ok {
			return p, fmt.Errorf("%w: %s wants a number, got %T", ErrFieldValue, field, value)
		}
		switch field {
		case FieldX:
			p.X = &n
		case FieldY:
			p.Y = &n
		case FieldWidth:
			p.Width = &n
		case FieldHeight:
			p.Height = &n
		case FieldRotation:
			p.Rotation = &n
		}
	case FieldContent, FieldImageRef, FieldColor:
		s, ok := value.(string)
		if !ok {
			return p, fmt.Errorf("%w: %s wants a string, got %T", ErrFieldValue, field, value)
		}
		switch field {
		case FieldContent:
			p.Content = &s
		case FieldImageRef:
			p.ImageRef = &s
		case FieldColor:
			p.Color = &s
		}
	case FieldChecklist:
		entries, ok := value.([]ChecklistEntry)
		if !ok {
			return p, fmt.Errorf("%w: checklist wants []ChecklistEntry, got %T", ErrFieldValue, value)
		}
		cp := make([]ChecklistEntry, len(entries))
		copy(cp, entries)
		p.Checklist = &cp
	default:
		return p, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return p, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// Normalize clamps any size set in p to the enforced minimum.
func (p Patch) Normalize() Patch {
	if p.Width != nil && *p.Width < MinWidth {
		p.Width = ptr(MinWidth)
	}
	if p.Height != nil && *p.Height < MinHeight {
		p.Height = ptr(MinHeight)
	}
	return p
}
