// Package fingerprint computes deterministic digests over a book's tracked
// fields, partitioned into semantic groups so the detector can tell which
// aspect of a book changed without keeping full history.
package fingerprint

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"

	"book-monitor/internal/models"
)

// absentToken stands in for missing optional fields so "field disappeared"
// is itself a detectable hash change.
const absentToken = "<absent>"

// BookID derives the stable item identity from the source URL.
func BookID(sourceURL string) string {
	sum := md5.Sum([]byte(sourceURL))
	return "book_" + hex.EncodeToString(sum[:])
}

// Compute builds the fingerprint for a book. Pure function of the tracked
// fields: equal field values always produce equal digests.
func Compute(b *models.Book) *models.Fingerprint {
	content := contentFields(b)

	return &models.Fingerprint{
		BookID:           BookID(b.SourceURL),
		SourceURL:        b.SourceURL,
		ContentHash:      hashFields(content),
		PriceHash:        hashFields(priceFields(b)),
		AvailabilityHash: hashFields(availabilityFields(b)),
		MetadataHash:     hashFields(metadataFields(b)),
	}
}

func priceFields(b *models.Book) map[string]string {
	return map[string]string{
		"price_including_tax": canonicalPrice(b.PriceIncludingTax),
		"price_excluding_tax": canonicalPrice(b.PriceExcludingTax),
	}
}

func availabilityFields(b *models.Book) map[string]string {
	return map[string]string{
		"availability":      canonicalString(b.Availability),
		"number_of_reviews": strconv.Itoa(b.NumberOfReviews),
	}
}

func metadataFields(b *models.Book) map[string]string {
	return map[string]string{
		"description": canonicalString(b.Description),
		"category":    canonicalString(b.Category),
		"rating":      canonicalRating(b.Rating),
		"image_url":   canonicalString(b.ImageURL),
	}
}

func contentFields(b *models.Book) map[string]string {
	fields := map[string]string{
		"name": canonicalString(b.Name),
	}
	for _, group := range []map[string]string{
		priceFields(b),
		availabilityFields(b),
		metadataFields(b),
	} {
		for k, v := range group {
			fields[k] = v
		}
	}
	return fields
}

// canonicalPrice renders a price as a fixed two-decimal string so 51.77 and
// 51.770 digest identically.
func canonicalPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func canonicalString(v string) string {
	if v == "" {
		return absentToken
	}
	return v
}

func canonicalRating(v *int) string {
	if v == nil {
		return absentToken
	}
	return strconv.Itoa(*v)
}

// hashFields serializes the field map as sorted-key JSON and returns the
// SHA-256 hex digest. Sorting makes the digest independent of map iteration
// order.
func hashFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([][2]string, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, [2]string{k, fields[k]})
	}

	// Marshal of a slice of pairs cannot fail for string data.
	data, _ := json.Marshal(ordered)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
