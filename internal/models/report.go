package models

import "time"

// ChangeDigest is the trimmed view of a change embedded in a daily report.
type ChangeDigest struct {
	BookID     string     `json:"book_id"`
	BookName   string     `json:"book_name,omitempty"`
	ChangeType ChangeType `json:"change_type"`
	Severity   Severity   `json:"severity"`
	Summary    string     `json:"summary"`
	DetectedAt time.Time  `json:"detected_at"`
}

// DailyReport aggregates the detection activity of one calendar day. There
// is at most one report per date; regeneration overwrites the existing slot.
type DailyReport struct {
	ReportID    string    `gorm:"type:varchar(36);not null" json:"report_id"`
	ReportDate  string    `gorm:"type:varchar(10);primaryKey" json:"report_date"`
	GeneratedAt time.Time `gorm:"type:datetime;not null" json:"generated_at"`

	TotalBooksInSystem int `gorm:"type:int;not null" json:"total_books_in_system"`
	BooksChecked       int `gorm:"type:int;not null" json:"books_checked"`
	ChangesDetected    int `gorm:"type:int;not null" json:"changes_detected"`
	NewBooks           int `gorm:"type:int;not null" json:"new_books"`
	UpdatedBooks       int `gorm:"type:int;not null" json:"updated_books"`
	RemovedBooks       int `gorm:"type:int;not null" json:"removed_books"`

	ChangesByType     map[string]int `gorm:"serializer:json;type:text" json:"changes_by_type"`
	ChangesBySeverity map[string]int `gorm:"serializer:json;type:text" json:"changes_by_severity"`

	SystemHealthScore         float64 `gorm:"type:decimal(4,3);not null" json:"system_health_score"`
	DetectionDurationSeconds  float64 `gorm:"type:decimal(10,3)" json:"detection_duration_seconds"`
	AverageBookProcessingTime float64 `gorm:"type:decimal(10,4)" json:"average_book_processing_time"`

	SignificantChanges []ChangeDigest `gorm:"serializer:json;type:text" json:"significant_changes,omitempty"`
	NewBookList        []ChangeDigest `gorm:"serializer:json;type:text" json:"new_book_list,omitempty"`

	CreatedAt time.Time `gorm:"type:datetime;not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:datetime;not null;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (DailyReport) TableName() string {
	return "daily_reports"
}

// ReportDateFormat is the canonical YYYY-MM-DD key for report slots.
const ReportDateFormat = "2006-01-02"
