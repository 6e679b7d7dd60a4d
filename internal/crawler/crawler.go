// Package crawler fetches the observed book batch from the catalog site.
package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"book-monitor/internal/config"
	"book-monitor/internal/models"
)

// Crawler walks the catalog listing pages and fetches book detail pages.
type Crawler struct {
	client            *resty.Client
	baseURL           string
	listPageLimit     int
	concurrentFetches int
	requestDelay      time.Duration
	log               zerolog.Logger
}

// New creates a crawler with retry and pacing from configuration.
func New(cfg *config.CrawlerConfig, log zerolog.Logger) *Crawler {
	client := resty.New().
		SetTimeout(cfg.GetTimeout()).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.GetRetryDelay()).
		SetHeader("User-Agent", cfg.UserAgent)

	return &Crawler{
		client:            client,
		baseURL:           strings.TrimSuffix(cfg.BaseURL, "/"),
		listPageLimit:     cfg.ListPageLimit,
		concurrentFetches: cfg.ConcurrentFetches,
		requestDelay:      cfg.GetRequestDelay(),
		log:               log.With().Str("component", "crawler").Logger(),
	}
}

// FetchCatalog walks the paginated catalog until the pages run out and
// fetches every book's detail page with bounded concurrency. Individual
// detail failures are logged and skipped; the rest of the batch survives.
func (c *Crawler) FetchCatalog(ctx context.Context) ([]models.Book, error) {
	detailURLs, err := c.collectDetailURLs(ctx)
	if err != nil {
		return nil, err
	}

	c.log.Info().Int("books", len(detailURLs)).Msg("catalog listing walked")

	var mu sync.Mutex
	books := make([]models.Book, 0, len(detailURLs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrentFetches)
	for _, detailURL := range detailURLs {
		g.Go(func() error {
			book, err := c.FetchBook(gctx, detailURL)
			if err != nil {
				c.log.Warn().Err(err).Str("url", detailURL).Msg("detail fetch failed, skipping")
				return nil
			}
			mu.Lock()
			books = append(books, *book)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return books, nil
}

// collectDetailURLs pages through catalogue/page-N.html until a page is
// missing or the configured page limit is hit.
func (c *Crawler) collectDetailURLs(ctx context.Context) ([]string, error) {
	var urls []string

	for page := 1; page <= c.listPageLimit; page++ {
		if page > 1 && c.requestDelay > 0 {
			select {
			case <-time.After(c.requestDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		pageURL := fmt.Sprintf("%s/catalogue/page-%d.html", c.baseURL, page)

		resp, err := c.client.R().SetContext(ctx).Get(pageURL)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("fetch first catalog page: %w", err)
			}
			return nil, fmt.Errorf("fetch catalog page %d: %w", page, err)
		}
		if resp.StatusCode() == 404 {
			// Past the last page.
			break
		}
		if resp.IsError() {
			return nil, fmt.Errorf("catalog page %d returned status %d", page, resp.StatusCode())
		}

		pageURLs, err := parseListingPage(resp.Body(), pageURL)
		if err != nil {
			return nil, fmt.Errorf("parse catalog page %d: %w", page, err)
		}
		if len(pageURLs) == 0 {
			break
		}
		urls = append(urls, pageURLs...)
	}

	return urls, nil
}

// parseListingPage extracts absolute detail URLs from one listing page.
func parseListingPage(body []byte, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	var urls []string
	doc.Find("article.product_pod h3 a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if ref, err := base.Parse(href); err == nil {
			urls = append(urls, ref.String())
		}
	})
	return urls, nil
}

// FetchBook fetches and parses one detail page.
func (c *Crawler) FetchBook(ctx context.Context, detailURL string) (*models.Book, error) {
	resp, err := c.client.R().SetContext(ctx).Get(detailURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", detailURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s: status %d", detailURL, resp.StatusCode())
	}

	return ParseBookPage(resp.Body(), detailURL)
}

var ratingWords = map[string]int{
	"One":   1,
	"Two":   2,
	"Three": 3,
	"Four":  4,
	"Five":  5,
}

// ParseBookPage extracts a book record from a detail page.
func ParseBookPage(body []byte, pageURL string) (*models.Book, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	book := &models.Book{SourceURL: pageURL}
	book.Name = strings.TrimSpace(doc.Find("div.product_main h1").First().Text())
	if book.Name == "" {
		return nil, fmt.Errorf("parse %s: no book title found", pageURL)
	}

	// Product information table.
	doc.Find("table.table-striped tr").Each(func(_ int, row *goquery.Selection) {
		header := strings.TrimSpace(row.Find("th").Text())
		value := strings.TrimSpace(row.Find("td").Text())
		switch header {
		case "Price (incl. tax)":
			book.PriceIncludingTax = parsePrice(value)
		case "Price (excl. tax)":
			book.PriceExcludingTax = parsePrice(value)
		case "Availability":
			book.Availability = value
		case "Number of reviews":
			if n, err := strconv.Atoi(value); err == nil {
				book.NumberOfReviews = n
			}
		}
	})

	// Star rating is encoded as a CSS class, e.g. "star-rating Three".
	doc.Find("p.star-rating").First().Each(func(_ int, sel *goquery.Selection) {
		class, _ := sel.Attr("class")
		for _, part := range strings.Fields(class) {
			if n, ok := ratingWords[part]; ok {
				rating := n
				book.Rating = &rating
			}
		}
	})

	// Category is the second-to-last breadcrumb entry.
	crumbs := doc.Find("ul.breadcrumb li a")
	if crumbs.Length() >= 3 {
		book.Category = strings.TrimSpace(crumbs.Eq(2).Text())
	}

	// Description is the paragraph after the #product_description header.
	book.Description = strings.TrimSpace(doc.Find("#product_description").NextFiltered("p").Text())

	if src, ok := doc.Find("#product_gallery img, div.item.active img").First().Attr("src"); ok {
		if ref, err := base.Parse(src); err == nil {
			book.ImageURL = ref.String()
		}
	}

	return book, nil
}

// parsePrice strips the currency symbol and parses the amount. "£51.77"
// and "51.77" both parse to 51.77.
func parsePrice(raw string) float64 {
	cleaned := strings.TrimFunc(raw, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}
