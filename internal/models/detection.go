package models

import "time"

// DetectionResult summarizes one orchestrated detection run. It is created
// when the run starts and finalized exactly once when the run ends.
type DetectionResult struct {
	RunID       string     `gorm:"type:varchar(36);primaryKey" json:"run_id"`
	StartedAt   time.Time  `gorm:"type:datetime;not null;index:idx_results_started_at,sort:desc" json:"started_at"`
	CompletedAt *time.Time `gorm:"type:datetime" json:"completed_at,omitempty"`

	TotalChecked    int `gorm:"type:int;not null" json:"total_checked"`
	ChangesDetected int `gorm:"type:int;not null" json:"changes_detected"`
	NewBooks        int `gorm:"type:int;not null" json:"new_books"`
	UpdatedBooks    int `gorm:"type:int;not null" json:"updated_books"`
	RemovedBooks    int `gorm:"type:int;not null" json:"removed_books"`

	ChangesByType     map[string]int `gorm:"serializer:json;type:text" json:"changes_by_type"`
	ChangesBySeverity map[string]int `gorm:"serializer:json;type:text" json:"changes_by_severity"`

	DurationSeconds float64  `gorm:"type:decimal(10,3)" json:"duration_seconds"`
	Success         bool     `gorm:"type:boolean;not null" json:"success"`
	Errors          []string `gorm:"serializer:json;type:text" json:"errors,omitempty"`

	CreatedAt time.Time `gorm:"type:datetime;not null;autoCreateTime" json:"created_at"`
}

// TableName specifies the table name
func (DetectionResult) TableName() string {
	return "detection_results"
}

// Finalize stamps the completion time, duration and success flag. A run is
// successful only when no per-item errors were recorded.
func (r *DetectionResult) Finalize(completedAt time.Time) {
	r.CompletedAt = &completedAt
	r.DurationSeconds = completedAt.Sub(r.StartedAt).Seconds()
	r.Success = len(r.Errors) == 0
}

// RecordChange bumps the aggregate counters for one detected change.
func (r *DetectionResult) RecordChange(c *Change) {
	if r.ChangesByType == nil {
		r.ChangesByType = make(map[string]int)
	}
	if r.ChangesBySeverity == nil {
		r.ChangesBySeverity = make(map[string]int)
	}
	r.ChangesDetected++
	r.ChangesByType[string(c.ChangeType)]++
	r.ChangesBySeverity[string(c.Severity)]++

	switch c.ChangeType {
	case ChangeTypeNewBook:
		r.NewBooks++
	case ChangeTypeBookRemoved:
		r.RemovedBooks++
	}
}
