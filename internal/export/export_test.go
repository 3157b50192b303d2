package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"netoffice/internal/attendance"
	"netoffice/internal/geo"
)

func TestWriteWorkbook(t *testing.T) {
	start := time.Date(2024, 3, 4, 8, 30, 0, 0, time.UTC)
	acc := 12.0
	entries := []attendance.LogEntry{
		{
			ID:               "e1",
			Date:             "2024-03-04",
			StartedAt:        start,
			EndedAt:          start.Add(150 * time.Minute),
			TotalDuration:    150 * time.Minute,
			LocationVerified: true,
			Coordinates:      &attendance.Coordinates{Latitude: 38.5, Longitude: -6.25},
			AccuracyMeters:   &acc,
			Quality:          geo.HighFidelity,
			Certificate:      "signed",
		},
		{
			ID:            "e2",
			Date:          "2024-03-05",
			StartedAt:     start.Add(24 * time.Hour),
			EndedAt:       start.Add(25 * time.Hour),
			TotalDuration: time.Hour,
			LocationError: geo.Timeout,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, entries))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, Sheet, f.GetSheetName(0))
	rows, err := f.GetRows(Sheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, "Date", rows[0][0])
	assert.Equal(t, "Certificate", rows[0][9])
	assert.Equal(t, []string{"2024-03-04", "08:30", "11:00", "02:30", "yes", "38.5", "-6.25", "12", "high fidelity", "signed"}, rows[1])
	assert.Equal(t, []string{"2024-03-05", "08:30", "09:30", "01:00", "no", "", "", "", "unverified: timeout"}, rows[2])
	assert.Equal(t, []string{"Total", "", "", "03:30"}, rows[3])
}

func TestWriteWorkbookEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(Sheet)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
