package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"book-monitor/internal/models"
)

func sampleBook() *models.Book {
	rating := 3
	return &models.Book{
		SourceURL:         "https://books.toscrape.com/catalogue/a-light-in-the-attic_1000/index.html",
		Name:              "A Light in the Attic",
		Description:       "A classic poetry collection.",
		Category:          "Poetry",
		PriceIncludingTax: 51.77,
		PriceExcludingTax: 51.77,
		Availability:      "In stock (22 available)",
		NumberOfReviews:   0,
		ImageURL:          "https://books.toscrape.com/media/cache/fe/72/cover.jpg",
		Rating:            &rating,
	}
}

func TestBookIDDeterministic(t *testing.T) {
	a := BookID("https://books.toscrape.com/catalogue/x/index.html")
	b := BookID("https://books.toscrape.com/catalogue/x/index.html")
	assert.Equal(t, a, b)
	assert.Regexp(t, `^book_[0-9a-f]{32}$`, a)

	other := BookID("https://books.toscrape.com/catalogue/y/index.html")
	assert.NotEqual(t, a, other)
}

func TestComputeDeterministic(t *testing.T) {
	fp1 := Compute(sampleBook())
	fp2 := Compute(sampleBook())

	assert.Equal(t, fp1.ContentHash, fp2.ContentHash)
	assert.Equal(t, fp1.PriceHash, fp2.PriceHash)
	assert.Equal(t, fp1.AvailabilityHash, fp2.AvailabilityHash)
	assert.Equal(t, fp1.MetadataHash, fp2.MetadataHash)
}

func TestComputeNormalizesPriceFormatting(t *testing.T) {
	a := sampleBook()
	a.PriceIncludingTax = 51.77

	b := sampleBook()
	b.PriceIncludingTax = 51.770

	assert.Equal(t, Compute(a).PriceHash, Compute(b).PriceHash)
	assert.Equal(t, Compute(a).ContentHash, Compute(b).ContentHash)
}

func TestPriceChangeIsolatedToPriceAndContent(t *testing.T) {
	base := Compute(sampleBook())

	changed := sampleBook()
	changed.PriceIncludingTax = 49.99
	fp := Compute(changed)

	assert.NotEqual(t, base.PriceHash, fp.PriceHash)
	assert.NotEqual(t, base.ContentHash, fp.ContentHash)
	assert.Equal(t, base.AvailabilityHash, fp.AvailabilityHash)
	assert.Equal(t, base.MetadataHash, fp.MetadataHash)
}

func TestAvailabilityGroupCoversReviews(t *testing.T) {
	base := Compute(sampleBook())

	changed := sampleBook()
	changed.NumberOfReviews = 5
	fp := Compute(changed)

	assert.NotEqual(t, base.AvailabilityHash, fp.AvailabilityHash)
	assert.Equal(t, base.PriceHash, fp.PriceHash)
	assert.Equal(t, base.MetadataHash, fp.MetadataHash)
}

func TestAbsentRatingIsDetectable(t *testing.T) {
	withRating := Compute(sampleBook())

	noRating := sampleBook()
	noRating.Rating = nil
	fp := Compute(noRating)

	assert.NotEqual(t, withRating.MetadataHash, fp.MetadataHash,
		"rating going absent must change the metadata hash")
	assert.Equal(t, withRating.PriceHash, fp.PriceHash)
}

func TestComputeSetsIdentity(t *testing.T) {
	b := sampleBook()
	fp := Compute(b)
	require.Equal(t, BookID(b.SourceURL), fp.BookID)
	require.Equal(t, b.SourceURL, fp.SourceURL)
}
