package models

import "time"

// Fingerprint holds the digest set for one tracked book. Exactly one row
// exists per book ID; it survives removal so a reappearing book is diffed
// against it instead of being treated as new.
type Fingerprint struct {
	BookID    string `gorm:"type:varchar(40);primaryKey" json:"book_id"`
	SourceURL string `gorm:"type:varchar(500);not null" json:"source_url"`

	ContentHash      string `gorm:"type:char(64);not null" json:"content_hash"`
	PriceHash        string `gorm:"type:char(64);not null" json:"price_hash"`
	AvailabilityHash string `gorm:"type:char(64);not null" json:"availability_hash"`
	MetadataHash     string `gorm:"type:char(64);not null" json:"metadata_hash"`

	CreatedAt time.Time `gorm:"type:datetime;not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:datetime;not null;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (Fingerprint) TableName() string {
	return "book_fingerprints"
}

// Equal reports whether all four digests match.
func (f *Fingerprint) Equal(other *Fingerprint) bool {
	if other == nil {
		return false
	}
	return f.ContentHash == other.ContentHash &&
		f.PriceHash == other.PriceHash &&
		f.AvailabilityHash == other.AvailabilityHash &&
		f.MetadataHash == other.MetadataHash
}
