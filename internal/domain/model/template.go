package model

// Section is a named, ordered grouping of criteria in the checklist template.
type Section struct {
	ID        int64
	Name      string // Non-empty, unique within the template (case-insensitive).
	SortOrder int
}

// Criterion is a single checkable item of text belonging to one section.
// Within a section no two criteria may carry identical text (case-sensitive
// exact match); this is enforced at creation and import time.
type Criterion struct {
	ID        int64
	SectionID int64
	Text      string
	SortOrder int // Position within the owning section.
}

// TemplateSection is a section together with its criteria in display order.
// It is the shape the template editor and run creation consume.
type TemplateSection struct {
	Section
	Criteria []Criterion
}
