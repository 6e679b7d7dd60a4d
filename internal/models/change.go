package models

import "time"

// ChangeType classifies what kind of difference was detected between two
// observations of the same book.
type ChangeType string

const (
	ChangeTypeNewBook            ChangeType = "new_book"
	ChangeTypePriceChange        ChangeType = "price_change"
	ChangeTypeAvailabilityChange ChangeType = "availability_change"
	ChangeTypeDescriptionChange  ChangeType = "description_change"
	ChangeTypeImageChange        ChangeType = "image_change"
	ChangeTypeRatingChange       ChangeType = "rating_change"
	ChangeTypeReviewsChange      ChangeType = "reviews_change"
	ChangeTypeCategoryChange     ChangeType = "category_change"
	ChangeTypeBookRemoved        ChangeType = "book_removed"
)

// Severity is the ordinal urgency of a change.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordinal position of the severity; unknown values rank
// below low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity validates a severity string from config or query params.
func ParseSeverity(raw string) (Severity, bool) {
	s := Severity(raw)
	_, ok := severityRank[s]
	return s, ok
}

// Change records a single detected difference. Changes are write-once: they
// are never updated after being persisted.
type Change struct {
	ChangeID  string `gorm:"type:varchar(36);primaryKey" json:"change_id"`
	BookID    string `gorm:"type:varchar(40);not null;index:idx_changes_book_type" json:"book_id"`
	SourceURL string `gorm:"type:varchar(500);not null" json:"source_url"`

	ChangeType ChangeType `gorm:"type:varchar(30);not null;index:idx_changes_book_type,priority:2;index" json:"change_type"`
	Severity   Severity   `gorm:"type:varchar(10);not null;index" json:"severity"`
	FieldName  string     `gorm:"type:varchar(50)" json:"field_name,omitempty"`
	OldValue   *string    `gorm:"type:text" json:"old_value,omitempty"`
	NewValue   *string    `gorm:"type:text" json:"new_value,omitempty"`
	Summary    string     `gorm:"type:text;not null" json:"summary"`

	ConfidenceScore float64   `gorm:"type:decimal(3,2);not null;default:1.0" json:"confidence_score"`
	DetectedAt      time.Time `gorm:"type:datetime;not null;index:idx_changes_detected_at,sort:desc" json:"detected_at"`
}

// TableName specifies the table name
func (Change) TableName() string {
	return "book_changes"
}
