package detector

import (
	"fmt"
	"math"
	"strconv"

	"book-monitor/internal/models"
)

// hashGroup names one digest group of the fingerprint.
type hashGroup string

const (
	groupPrice        hashGroup = "price"
	groupAvailability hashGroup = "availability"
	groupMetadata     hashGroup = "metadata"
)

// fieldPolicy maps one tracked field to its change classification. The
// policy table is the single place where field-to-type and severity rules
// live; detection logic never branches on field names.
type fieldPolicy struct {
	field      string
	changeType models.ChangeType
	value      func(*models.Book) string
	changed    func(old, new *models.Book) bool
	severity   func(p *Policy, old, new *models.Book) models.Severity
}

// groupPolicy ties a digest group to the fields it covers. fallbackType is
// used for hash-only evidence when the prior raw book is unavailable.
type groupPolicy struct {
	group        hashGroup
	hash         func(*models.Fingerprint) string
	fallbackType models.ChangeType
	fallbackSev  models.Severity
	fields       []fieldPolicy
}

// Policy holds the configurable thresholds of the classification table.
type Policy struct {
	// PriceChangeThreshold is the relative price delta at or above which a
	// price change is high severity instead of medium. 0.10 means 10%.
	PriceChangeThreshold float64
}

// hashOnlyConfidence is the confidence assigned when only group digests are
// available as evidence and old/new values cannot be recovered.
const hashOnlyConfidence = 0.6

func severityConst(s models.Severity) func(*Policy, *models.Book, *models.Book) models.Severity {
	return func(*Policy, *models.Book, *models.Book) models.Severity { return s }
}

func priceSeverity(field func(*models.Book) float64) func(*Policy, *models.Book, *models.Book) models.Severity {
	return func(p *Policy, old, new *models.Book) models.Severity {
		oldPrice := field(old)
		if oldPrice == 0 {
			return models.SeverityMedium
		}
		delta := math.Abs(field(new)-oldPrice) / oldPrice
		if delta >= p.PriceChangeThreshold {
			return models.SeverityHigh
		}
		return models.SeverityMedium
	}
}

// availabilitySeverity is high when stock flips between in and out, low for
// wording or quantity drift within the same stock state.
func availabilitySeverity(_ *Policy, old, new *models.Book) models.Severity {
	if old.InStock() != new.InStock() {
		return models.SeverityHigh
	}
	return models.SeverityLow
}

func priceValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func ratingValue(b *models.Book) string {
	if b.Rating == nil {
		return ""
	}
	return strconv.Itoa(*b.Rating)
}

// policyTable drives the whole classification. Order within a group fixes
// the order changes are emitted for one book.
var policyTable = []groupPolicy{
	{
		group:        groupPrice,
		hash:         func(fp *models.Fingerprint) string { return fp.PriceHash },
		fallbackType: models.ChangeTypePriceChange,
		fallbackSev:  models.SeverityMedium,
		fields: []fieldPolicy{
			{
				field:      "price_including_tax",
				changeType: models.ChangeTypePriceChange,
				value:      func(b *models.Book) string { return priceValue(b.PriceIncludingTax) },
				changed:    func(o, n *models.Book) bool { return priceValue(o.PriceIncludingTax) != priceValue(n.PriceIncludingTax) },
				severity:   priceSeverity(func(b *models.Book) float64 { return b.PriceIncludingTax }),
			},
			{
				field:      "price_excluding_tax",
				changeType: models.ChangeTypePriceChange,
				value:      func(b *models.Book) string { return priceValue(b.PriceExcludingTax) },
				changed:    func(o, n *models.Book) bool { return priceValue(o.PriceExcludingTax) != priceValue(n.PriceExcludingTax) },
				severity:   priceSeverity(func(b *models.Book) float64 { return b.PriceExcludingTax }),
			},
		},
	},
	{
		group:        groupAvailability,
		hash:         func(fp *models.Fingerprint) string { return fp.AvailabilityHash },
		fallbackType: models.ChangeTypeAvailabilityChange,
		fallbackSev:  models.SeverityLow,
		fields: []fieldPolicy{
			{
				field:      "availability",
				changeType: models.ChangeTypeAvailabilityChange,
				value:      func(b *models.Book) string { return b.Availability },
				changed:    func(o, n *models.Book) bool { return o.Availability != n.Availability },
				severity:   availabilitySeverity,
			},
			{
				field:      "number_of_reviews",
				changeType: models.ChangeTypeReviewsChange,
				value:      func(b *models.Book) string { return strconv.Itoa(b.NumberOfReviews) },
				changed:    func(o, n *models.Book) bool { return o.NumberOfReviews != n.NumberOfReviews },
				severity:   severityConst(models.SeverityLow),
			},
		},
	},
	{
		group:        groupMetadata,
		hash:         func(fp *models.Fingerprint) string { return fp.MetadataHash },
		fallbackType: models.ChangeTypeDescriptionChange,
		fallbackSev:  models.SeverityLow,
		fields: []fieldPolicy{
			{
				field:      "description",
				changeType: models.ChangeTypeDescriptionChange,
				value:      func(b *models.Book) string { return b.Description },
				changed:    func(o, n *models.Book) bool { return o.Description != n.Description },
				severity:   severityConst(models.SeverityLow),
			},
			{
				field:      "category",
				changeType: models.ChangeTypeCategoryChange,
				value:      func(b *models.Book) string { return b.Category },
				changed:    func(o, n *models.Book) bool { return o.Category != n.Category },
				severity:   severityConst(models.SeverityMedium),
			},
			{
				field:      "rating",
				changeType: models.ChangeTypeRatingChange,
				value:      ratingValue,
				changed:    func(o, n *models.Book) bool { return ratingValue(o) != ratingValue(n) },
				severity:   severityConst(models.SeverityLow),
			},
			{
				field:      "image_url",
				changeType: models.ChangeTypeImageChange,
				value:      func(b *models.Book) string { return b.ImageURL },
				changed:    func(o, n *models.Book) bool { return o.ImageURL != n.ImageURL },
				severity:   severityConst(models.SeverityLow),
			},
		},
	},
}

func changeSummary(field, oldValue, newValue string) string {
	return fmt.Sprintf("%s changed from '%s' to '%s'", field, oldValue, newValue)
}
