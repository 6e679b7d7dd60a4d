// Package handlers exposes the monitor's data over the REST API.
package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"book-monitor/internal/models"
	"book-monitor/internal/orchestrator"
	"book-monitor/internal/report"
	"book-monitor/internal/search"
	"book-monitor/internal/store"
)

// API bundles the handler dependencies.
type API struct {
	store   *store.Store
	orch    *orchestrator.Orchestrator
	reports *report.Generator
	search  *search.SearchClient
	auth    *KeyAuth
	log     zerolog.Logger
}

// NewAPI creates the handler set.
func NewAPI(st *store.Store, orch *orchestrator.Orchestrator, reports *report.Generator, sc *search.SearchClient, auth *KeyAuth, log zerolog.Logger) *API {
	return &API{
		store:   st,
		orch:    orch,
		reports: reports,
		search:  sc,
		auth:    auth,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Register attaches all routes to the router. The health probe stays open;
// everything under /api goes through the key guard.
func (a *API) Register(r *gin.Engine) {
	r.GET("/health", a.healthCheck)

	api := r.Group("/api")
	api.Use(a.auth.Middleware())
	{
		api.GET("/books", a.getBooks)
		api.GET("/books/:id", a.getBook)

		api.GET("/changes", a.getChanges)
		api.GET("/changes/recent", a.getRecentChanges)

		api.POST("/detection/run", a.triggerDetection)
		api.GET("/detection/status", a.getDetectionStatus)

		api.GET("/reports/:date", a.getReport)
		api.GET("/reports/:date/export", a.exportReport)
		api.POST("/reports/generate", a.generateReport)

		api.GET("/fingerprints/stats", a.getFingerprintStats)

		api.GET("/search", a.searchBooks)
		api.POST("/search/reindex", a.reindexBooks)

		api.POST("/admin/cleanup", a.runCleanup)
	}
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now(),
	})
}

func (a *API) getBooks(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 50)
	offset := parseIntQuery(c, "offset", 0)

	books, err := a.store.ListBooks(limit, offset)
	if err != nil {
		a.serverError(c, err)
		return
	}
	total, err := a.store.CountBooks()
	if err != nil {
		a.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"books":  books,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) getBook(c *gin.Context) {
	book, err := a.store.GetBook(c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "book not found"})
		return
	}
	if err != nil {
		a.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (a *API) getChanges(c *gin.Context) {
	filter := store.ChangeFilter{
		BookID: c.Query("book_id"),
		Limit:  parseIntQuery(c, "limit", 50),
		Offset: parseIntQuery(c, "offset", 0),
	}

	if raw := c.Query("type"); raw != "" {
		filter.ChangeType = models.ChangeType(raw)
	}
	if raw := c.Query("severity"); raw != "" {
		sev, ok := models.ParseSeverity(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity: " + raw})
			return
		}
		filter.Severity = sev
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = &since
	}

	changes, total, err := a.store.QueryChanges(filter)
	if err != nil {
		a.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"changes": changes,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (a *API) getRecentChanges(c *gin.Context) {
	hours := parseIntQuery(c, "hours", 24)
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	changes, err := a.store.ChangesSince(cutoff)
	if err != nil {
		a.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"changes": changes,
		"since":   cutoff,
	})
}

func (a *API) triggerDetection(c *gin.Context) {
	err := a.orch.TriggerAsync(c.Request.Context())
	if errors.Is(err, orchestrator.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "detection run already in progress"})
		return
	}
	if err != nil {
		a.serverError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "detection run started"})
}

func (a *API) getDetectionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.orch.Status())
}

func (a *API) getReport(c *gin.Context) {
	r, err := a.store.ReportByDate(c.Param("date"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report for date"})
		return
	}
	if err != nil {
		a.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (a *API) exportReport(c *gin.Context) {
	date := c.Param("date")
	r, err := a.store.ReportByDate(date)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report for date"})
		return
	}
	if err != nil {
		a.serverError(c, err)
		return
	}

	var buf bytes.Buffer
	switch c.DefaultQuery("format", "json") {
	case "json":
		if err := report.ExportJSON(r, &buf); err != nil {
			a.serverError(c, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename=report-"+date+".json")
		c.Data(http.StatusOK, "application/json", buf.Bytes())
	case "csv":
		if err := report.ExportCSV(r, &buf); err != nil {
			a.serverError(c, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename=report-"+date+".csv")
		c.Data(http.StatusOK, "text/csv", buf.Bytes())
	case "xlsx":
		if err := report.ExportXLSX(r, &buf); err != nil {
			a.serverError(c, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename=report-"+date+".xlsx")
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json, csv or xlsx"})
	}
}

func (a *API) generateReport(c *gin.Context) {
	asOf := time.Now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse(models.ReportDateFormat, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		asOf = parsed
	}

	results, err := a.store.DetectionResultsForDate(asOf)
	if err != nil {
		a.serverError(c, err)
		return
	}
	dayStart := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	changes, err := a.store.ChangesInRange(dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		a.serverError(c, err)
		return
	}

	r, err := a.reports.Generate(asOf, results, changes)
	if err != nil {
		a.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (a *API) getFingerprintStats(c *gin.Context) {
	fingerprints, err := a.store.CountFingerprints()
	if err != nil {
		a.serverError(c, err)
		return
	}
	books, err := a.store.CountBooks()
	if err != nil {
		a.serverError(c, err)
		return
	}

	stats := gin.H{
		"fingerprints": fingerprints,
		"books":        books,
	}
	last, err := a.store.LatestDetectionResult()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.serverError(c, err)
		return
	}
	if last != nil {
		stats["last_run_id"] = last.RunID
		stats["last_run_started_at"] = last.StartedAt
		stats["last_run_success"] = last.Success
	}

	c.JSON(http.StatusOK, stats)
}

func (a *API) searchBooks(c *gin.Context) {
	result, err := a.search.Search(search.SearchRequest{
		Query:    c.Query("q"),
		Category: c.Query("category"),
		Limit:    int64(parseIntQuery(c, "limit", 20)),
		Offset:   int64(parseIntQuery(c, "offset", 0)),
	})
	if err != nil {
		a.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"books":              result.Hits,
		"total":              result.TotalHits,
		"processing_time_ms": result.ProcessingTime,
	})
}

func (a *API) reindexBooks(c *gin.Context) {
	const batchSize = 200

	indexed := 0
	for offset := 0; ; offset += batchSize {
		books, err := a.store.ListBooks(batchSize, offset)
		if err != nil {
			a.serverError(c, err)
			return
		}
		if len(books) == 0 {
			break
		}
		if err := a.search.IndexBooks(books); err != nil {
			a.serverError(c, err)
			return
		}
		indexed += len(books)
	}

	c.JSON(http.StatusOK, gin.H{"indexed": indexed})
}

func (a *API) runCleanup(c *gin.Context) {
	deleted, err := a.reports.Cleanup(time.Now())
	if err != nil {
		a.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted_reports": deleted})
}

func (a *API) serverError(c *gin.Context, err error) {
	a.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
