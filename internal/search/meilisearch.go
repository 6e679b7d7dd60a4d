package search

import (
	"github.com/meilisearch/meilisearch-go"

	"book-monitor/internal/models"
)

// SearchClient wraps the Meilisearch book index.
type SearchClient struct {
	client *meilisearch.Client
	index  string
}

// NewSearchClient creates a client over the books index.
func NewSearchClient(host, apiKey string) *SearchClient {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})

	return &SearchClient{
		client: client,
		index:  "books",
	}
}

// InitIndex initializes the Meilisearch index
func (s *SearchClient) InitIndex() error {
	_, err := s.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        s.index,
		PrimaryKey: "id",
	})
	// Ignore error if index already exists
	if err != nil && err.Error() != "index already exists" {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSearchableAttributes(&[]string{
		"name",
		"description",
		"category",
	})
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).UpdateFilterableAttributes(&[]string{
		"id",
		"category",
		"status",
		"rating",
		"price_including_tax",
	})
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSortableAttributes(&[]string{
		"price_including_tax",
		"rating",
		"number_of_reviews",
		"created_at",
	})
	if err != nil {
		return err
	}

	return nil
}

// IndexBook indexes a single book
func (s *SearchClient) IndexBook(book *models.Book) error {
	_, err := s.client.Index(s.index).AddDocuments([]models.Book{*book})
	return err
}

// IndexBooks indexes multiple books
func (s *SearchClient) IndexBooks(books []models.Book) error {
	if len(books) == 0 {
		return nil
	}
	_, err := s.client.Index(s.index).AddDocuments(books)
	return err
}

// RemoveBook removes a book from the index
func (s *SearchClient) RemoveBook(id string) error {
	_, err := s.client.Index(s.index).DeleteDocument(id)
	return err
}

// SearchRequest represents search parameters
type SearchRequest struct {
	Query    string
	Category string
	Limit    int64
	Offset   int64
	Sort     []string
}

// SearchResult represents search results
type SearchResult struct {
	Hits           []models.Book
	TotalHits      int64
	ProcessingTime int64
}

// Search searches for books, optionally filtered by category.
func (s *SearchClient) Search(req SearchRequest) (*SearchResult, error) {
	if req.Limit == 0 {
		req.Limit = 20
	}

	searchReq := &meilisearch.SearchRequest{
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	if req.Category != "" {
		searchReq.Filter = "category = \"" + req.Category + "\""
	}
	if len(req.Sort) > 0 {
		searchReq.Sort = req.Sort
	}

	searchRes, err := s.client.Index(s.index).Search(req.Query, searchReq)
	if err != nil {
		return nil, err
	}

	books := make([]models.Book, 0, len(searchRes.Hits))
	for _, hit := range searchRes.Hits {
		books = append(books, parseBookFromHit(hit))
	}

	return &SearchResult{
		Hits:           books,
		TotalHits:      searchRes.EstimatedTotalHits,
		ProcessingTime: searchRes.ProcessingTimeMs,
	}, nil
}

// parseBookFromHit converts a search hit to a Book
func parseBookFromHit(hit interface{}) models.Book {
	hitMap, ok := hit.(map[string]interface{})
	if !ok {
		return models.Book{}
	}

	book := models.Book{
		ID:           getString(hitMap, "id"),
		SourceURL:    getString(hitMap, "source_url"),
		Name:         getString(hitMap, "name"),
		ImageURL:     getString(hitMap, "image_url"),
		Description:  getString(hitMap, "description"),
		Category:     getString(hitMap, "category"),
		Availability: getString(hitMap, "availability"),
		Status:       models.BookStatus(getString(hitMap, "status")),
	}

	if price, ok := hitMap["price_including_tax"].(float64); ok {
		book.PriceIncludingTax = price
	}
	if price, ok := hitMap["price_excluding_tax"].(float64); ok {
		book.PriceExcludingTax = price
	}
	if reviews, ok := hitMap["number_of_reviews"].(float64); ok {
		book.NumberOfReviews = int(reviews)
	}
	if rating, ok := hitMap["rating"].(float64); ok {
		r := int(rating)
		book.Rating = &r
	}

	return book
}

// getString safely extracts a string from map
func getString(m map[string]interface{}, key string) string {
	if val, ok := m[key].(string); ok {
		return val
	}
	return ""
}
