package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"

	"book-monitor/internal/models"
)

// ExportJSON writes the structured report view.
func ExportJSON(r *models.DailyReport, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report json: %w", err)
	}
	return nil
}

// flatRows renders the report as metric/value pairs, one breakdown entry
// per row. Both tabular exports share this view so they cannot drift.
func flatRows(r *models.DailyReport) [][]string {
	rows := [][]string{
		{"metric", "value"},
		{"report_date", r.ReportDate},
		{"generated_at", r.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"total_books_in_system", strconv.Itoa(r.TotalBooksInSystem)},
		{"books_checked", strconv.Itoa(r.BooksChecked)},
		{"changes_detected", strconv.Itoa(r.ChangesDetected)},
		{"new_books", strconv.Itoa(r.NewBooks)},
		{"updated_books", strconv.Itoa(r.UpdatedBooks)},
		{"removed_books", strconv.Itoa(r.RemovedBooks)},
		{"system_health_score", strconv.FormatFloat(r.SystemHealthScore, 'f', 3, 64)},
		{"detection_duration_seconds", strconv.FormatFloat(r.DetectionDurationSeconds, 'f', 3, 64)},
		{"average_book_processing_time", strconv.FormatFloat(r.AverageBookProcessingTime, 'f', 4, 64)},
	}

	rows = append(rows, breakdownRows("changes_by_type", r.ChangesByType)...)
	rows = append(rows, breakdownRows("changes_by_severity", r.ChangesBySeverity)...)
	return rows
}

func breakdownRows(prefix string, counts map[string]int) [][]string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{prefix + "." + k, strconv.Itoa(counts[k])})
	}
	return rows
}

// ExportCSV writes the flat tabular report view.
func ExportCSV(r *models.DailyReport, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(flatRows(r)); err != nil {
		return fmt.Errorf("write report csv: %w", err)
	}
	return nil
}

// ExportXLSX writes the flat tabular report view as a spreadsheet.
func ExportXLSX(r *models.DailyReport, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Report"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	for i, row := range flatRows(r) {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return fmt.Errorf("cell coordinates: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write report xlsx: %w", err)
	}
	return nil
}
