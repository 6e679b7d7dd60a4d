package models

import (
	"strings"
	"time"
)

// Book is the last raw observation of a catalog item. It is kept alongside
// the fingerprint so the detector can recover old field values when a hash
// group differs.
type Book struct {
	ID        string `gorm:"type:varchar(40);primaryKey" json:"id"`
	SourceURL string `gorm:"type:varchar(500);not null;uniqueIndex" json:"source_url"`
	Name      string `gorm:"type:text;not null" json:"name"`
	ImageURL  string `gorm:"type:text" json:"image_url,omitempty"`

	Description       string  `gorm:"type:text" json:"description,omitempty"`
	Category          string  `gorm:"type:varchar(100);index" json:"category,omitempty"`
	PriceIncludingTax float64 `gorm:"type:decimal(10,2)" json:"price_including_tax"`
	PriceExcludingTax float64 `gorm:"type:decimal(10,2)" json:"price_excluding_tax"`
	Availability      string  `gorm:"type:varchar(100)" json:"availability"`
	NumberOfReviews   int     `gorm:"type:int" json:"number_of_reviews"`
	Rating            *int    `gorm:"type:int" json:"rating,omitempty"`

	Status    BookStatus `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	RemovedAt *time.Time `gorm:"type:datetime" json:"removed_at,omitempty"`

	FetchedAt time.Time `gorm:"type:datetime;not null" json:"fetched_at"`
	CreatedAt time.Time `gorm:"type:datetime;not null;autoCreateTime;index:idx_books_created_at,sort:desc" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:datetime;not null;autoUpdateTime" json:"updated_at"`
}

// BookStatus is the lifecycle status of a tracked book
type BookStatus string

const (
	BookStatusActive  BookStatus = "active"
	BookStatusRemoved BookStatus = "removed"
)

// TableName specifies the table name
func (Book) TableName() string {
	return "books"
}

// IsActive reports whether the book is still listed in the catalog
func (b *Book) IsActive() bool {
	return b.Status == BookStatusActive
}

// MarkAsRemoved soft-deletes the book
func (b *Book) MarkAsRemoved() {
	b.Status = BookStatusRemoved
	now := time.Now()
	b.RemovedAt = &now
}

// InStock reports whether the availability text indicates stock
func (b *Book) InStock() bool {
	return AvailabilityInStock(b.Availability)
}

// AvailabilityInStock interprets a raw availability string ("In stock (22
// available)", "Out of stock") as a boolean stock flag.
func AvailabilityInStock(availability string) bool {
	return strings.Contains(strings.ToLower(availability), "in stock")
}
