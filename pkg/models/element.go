package models

import (
	"time"

	"github.com/google/uuid"
)

// ElementType is the closed set of content kinds the classifier can propose.
type ElementType string

const (
	ElementTypeText       ElementType = "text"
	ElementTypeHeading    ElementType = "heading"
	ElementTypeParagraph  ElementType = "paragraph"
	ElementTypeImage      ElementType = "image"
	ElementTypeLink       ElementType = "link"
	ElementTypeButton     ElementType = "button"
	ElementTypeSection    ElementType = "section"
	ElementTypeList       ElementType = "list"
	ElementTypeNavigation ElementType = "navigation"
	ElementTypeFooter     ElementType = "footer"
	ElementTypeHero       ElementType = "hero"
	ElementTypeCard       ElementType = "card"
	ElementTypeCustom     ElementType = "custom"
)

// ValidElementTypes contains all valid element type values.
var ValidElementTypes = []ElementType{
	ElementTypeText,
	ElementTypeHeading,
	ElementTypeParagraph,
	ElementTypeImage,
	ElementTypeLink,
	ElementTypeButton,
	ElementTypeSection,
	ElementTypeList,
	ElementTypeNavigation,
	ElementTypeFooter,
	ElementTypeHero,
	ElementTypeCard,
	ElementTypeCustom,
}

// IsValidElementType checks if the given type is in the closed set.
func IsValidElementType(t ElementType) bool {
	for _, v := range ValidElementTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Element is a single piece of editable content discovered on a deployed page.
// Identity across rescans is (ProjectID, PageURL, Selector).
type Element struct {
	ID           uuid.UUID   `json:"id"`
	ProjectID    uuid.UUID   `json:"projectId"`
	Name         string      `json:"name"`
	Type         ElementType `json:"type"`
	Selector     string      `json:"selector"`
	XPath        *string     `json:"xpath,omitempty"`
	SourceFile   *string     `json:"sourceFile,omitempty"`
	SourceLine   *int        `json:"sourceLine,omitempty"`
	SourceColumn *int        `json:"sourceColumn,omitempty"`
	CurrentValue string      `json:"currentValue"`
	Confidence   float64     `json:"confidence"`
	PageURL      string      `json:"pageUrl"`
	ParentID     *uuid.UUID  `json:"parentId,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// HasSource returns true if a source file has been resolved for the element.
func (e *Element) HasSource() bool {
	return e.SourceFile != nil && *e.SourceFile != ""
}

// ElementUpsert is one classifier candidate ready to be merged into the catalog.
type ElementUpsert struct {
	Name           string
	Type           ElementType
	Selector       string
	XPath          *string
	SourceFile     *string
	SourceLine     *int
	SourceColumn   *int
	CurrentValue   string
	Confidence     float64
	ParentSelector *string
}

// ElementFilter narrows catalog listings.
type ElementFilter struct {
	Type    *ElementType
	PageURL *string
}

// Section groups elements that share a source region.
// Sections are derived on read and never stored.
type Section struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	SourceFile   *string     `json:"sourceFile,omitempty"`
	StartLine    *int        `json:"startLine,omitempty"`
	EndLine      *int        `json:"endLine,omitempty"`
	PageURL      *string     `json:"pageUrl,omitempty"`
	ElementCount int         `json:"elementCount"`
	ElementIDs   []uuid.UUID `json:"elementIds"`
}
