package domain

import (
	"strconv"
	"strings"

	"github.com/mediashelf/mediashelf/internal/normalize"
)

// WorkType classifies the creative work a copy belongs to.
type WorkType string

// Work types.
const (
	WorkTypeMovie       WorkType = "movie"
	WorkTypeSeries      WorkType = "series"
	WorkTypeDocumentary WorkType = "documentary"
	WorkTypeOther       WorkType = "other"
)

// IsValid reports whether t is a known work type.
func (t WorkType) IsValid() bool {
	switch t {
	case WorkTypeMovie, WorkTypeSeries, WorkTypeDocumentary, WorkTypeOther:
		return true
	default:
		return false
	}
}

// Format is the physical or digital medium of a copy.
type Format string

// Formats.
const (
	FormatDVD      Format = "DVD"
	FormatBluRay   Format = "Blu-ray"
	Format4KBluRay Format = "4K Blu-ray"
	FormatDigital  Format = "Digital"
	FormatVHS      Format = "VHS"
	FormatOther    Format = "Other"
)

// Formats lists every known format in display order.
func Formats() []Format {
	return []Format{FormatDVD, FormatBluRay, Format4KBluRay, FormatDigital, FormatVHS, FormatOther}
}

// IsValid reports whether f is a known format.
func (f Format) IsValid() bool {
	switch f {
	case FormatDVD, FormatBluRay, Format4KBluRay, FormatDigital, FormatVHS, FormatOther:
		return true
	default:
		return false
	}
}

// CollectionItem is one owned copy of a media work.
//
// ItemID is globally unique and preserved across sync. Two copies of the same
// work created independently keep distinct ItemIDs and stay distinct records.
type CollectionItem struct {
	ItemID        string   `json:"itemId" validate:"required"`
	LibraryID     string   `json:"libraryId"`
	SharedGroupID *string  `json:"sharedGroupId"`
	OwnerID       string   `json:"ownerId" validate:"required"`
	WorkType      WorkType `json:"workType" validate:"required,oneof=movie series documentary other"`
	Title         string   `json:"title" validate:"required"`
	Year          *int     `json:"year,omitempty"`
	Season        *int     `json:"season,omitempty"`
	Format        Format   `json:"format" validate:"required"`

	FrontImagePath string `json:"frontImagePath,omitempty"`
	BackImagePath  string `json:"backImagePath,omitempty"`
	OCRTextFront   string `json:"ocrTextFront,omitempty"`
	OCRTextBack    string `json:"ocrTextBack,omitempty"`

	// CatalogID is the external metadata catalogue id, when the copy was matched.
	CatalogID *int `json:"catalogId,omitempty"`

	Notes     string `json:"notes,omitempty"`
	AudioInfo string `json:"audioInfo,omitempty"`
	VideoInfo string `json:"videoInfo,omitempty"`
	Languages string `json:"languages,omitempty"`
	Subtitles string `json:"subtitles,omitempty"`

	Timestamps
}

// GroupID returns the shared group id, or "" when the item is private.
func (i *CollectionItem) GroupID() string {
	if i.SharedGroupID == nil {
		return ""
	}
	return *i.SharedGroupID
}

// WorkKey derives the non-unique key that identifies the creative work a copy
// belongs to: normalized title, year, work type and season.
// "Dune", 2021, movie -> "dune|2021|movie|0".
func WorkKey(item *CollectionItem) string {
	year := "unknown"
	if item.Year != nil && *item.Year != 0 {
		year = strconv.Itoa(*item.Year)
	}
	season := 0
	if item.Season != nil {
		season = *item.Season
	}

	var b strings.Builder
	b.WriteString(normalize.Title(item.Title))
	b.WriteByte('|')
	b.WriteString(year)
	b.WriteByte('|')
	b.WriteString(string(item.WorkType))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(season))
	return b.String()
}

// IntRef returns a pointer to v. Handy for optional year/season fields.
func IntRef(v int) *int {
	return &v
}
