package input

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, rows [][]string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		for j, v := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}
	path := filepath.Join(t.TempDir(), "input.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestLoadSkipsHeaderRow(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"Flight Number", "Departure Date"},
		{"MU5100", "2026-08-27"},
		{"ca1234", "2026/08/28"},
	})

	records, rowErrors, err := NewLoader(nil).Load(path)

	require.NoError(t, err)
	require.Empty(t, rowErrors)
	require.Len(t, records, 2)
	assert.Equal(t, "MU5100", records[0].FlightNumber)
	assert.Equal(t, "2026-08-27", records[0].DateString())
	assert.Equal(t, "CA1234", records[1].FlightNumber, "flight numbers are upper-cased on load")
	assert.Equal(t, "2026-08-28", records[1].DateString())
}

func TestLoadWithoutHeader(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"MU5100", "2026-08-27"},
	})

	records, rowErrors, err := NewLoader(nil).Load(path)

	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	assert.Len(t, records, 1)
}

func TestLoadReportsBadRows(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"Flight Number", "Departure Date"},
		{"MU5100", "not a date"},
		{"", "2026-08-27"},
		{"CA1234", ""},
		{"CZ3456", "2026-08-27"},
	})

	records, rowErrors, err := NewLoader(nil).Load(path)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "CZ3456", records[0].FlightNumber)

	require.Len(t, rowErrors, 3)
	assert.Equal(t, 2, rowErrors[0].Row, "row numbers are 1-based as shown in Excel")
	assert.Contains(t, rowErrors[0].Message, "not a date")
	assert.Equal(t, 3, rowErrors[1].Row)
	assert.Equal(t, 4, rowErrors[2].Row)
}

func TestLoadSkipsBlankRows(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"MU5100", "2026-08-27"},
		{"", ""},
		{"CA1234", "2026-08-28"},
	})

	records, rowErrors, err := NewLoader(nil).Load(path)

	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	assert.Len(t, records, 2)
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := NewLoader(nil).Load(filepath.Join(t.TempDir(), "nope.xlsx"))
	require.Error(t, err)
}

func TestLoadEmptyWorkbook(t *testing.T) {
	path := writeWorkbook(t, nil)
	_, _, err := NewLoader(nil).Load(path)
	require.Error(t, err)
}

func TestSampleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.xlsx")
	require.NoError(t, WriteSample(path))

	records, rowErrors, err := NewLoader(nil).Load(path)

	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.NotEmpty(t, records)
	for _, r := range records {
		assert.NoError(t, r.Validate())
	}
}
