// Package export renders attendance history as an Excel workbook.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"netoffice/internal/attendance"
	"netoffice/internal/geo"
)

// Sheet is the worksheet holding the log.
const Sheet = "Attendance"

// ContentType of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var header = []any{"Date", "Start", "End", "Total", "Geo-Cert", "Latitude", "Longitude", "Accuracy (m)", "Quality", "Certificate"}

// WriteWorkbook writes entries, one per row, followed by a total row.
func WriteWorkbook(w io.Writer, entries []attendance.LogEntry) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), Sheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(Sheet, "A1", &header); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(Sheet, 1, 1, bold); err != nil {
		return err
	}

	var total time.Duration
	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := entryRow(e)
		if err := f.SetSheetRow(Sheet, cell, &row); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		total += e.TotalDuration
	}

	cell, err := excelize.CoordinatesToCellName(1, len(entries)+2)
	if err != nil {
		return err
	}
	totals := []any{"Total", "", "", attendance.LogEntry{TotalDuration: total}.Clock()}
	if err := f.SetSheetRow(Sheet, cell, &totals); err != nil {
		return err
	}
	if err := f.SetRowStyle(Sheet, len(entries)+2, len(entries)+2, bold); err != nil {
		return err
	}
	if err := f.SetColWidth(Sheet, "A", "I", 14); err != nil {
		return err
	}
	if err := f.SetColWidth(Sheet, "J", "J", 40); err != nil {
		return err
	}
	return f.Write(w)
}

func entryRow(e attendance.LogEntry) []any {
	cert := "no"
	if e.LocationVerified {
		cert = "yes"
	}
	row := []any{e.Date, e.StartedAt.Format("15:04"), e.EndedAt.Format("15:04"), e.Clock(), cert}
	if e.Coordinates != nil {
		row = append(row, e.Coordinates.Latitude, e.Coordinates.Longitude)
	} else {
		row = append(row, "", "")
	}
	if e.AccuracyMeters != nil {
		row = append(row, *e.AccuracyMeters)
	} else {
		row = append(row, "")
	}
	quality := e.Quality.Label()
	if !e.LocationVerified && e.LocationError != geo.NoError {
		quality = "unverified: " + e.LocationError.String()
	}
	return append(row, quality, e.Certificate)
}
