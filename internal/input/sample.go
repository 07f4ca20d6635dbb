package input

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// WriteSample writes a small query sheet to path so users have a template
// to fill in. The dates land a few days out so the sample stays queryable.
func WriteSample(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	_ = f.SetCellValue(sheet, "A1", "Flight Number")
	_ = f.SetCellValue(sheet, "B1", "Departure Date")

	base := time.Now().AddDate(0, 0, 1)
	samples := []string{"MU5100", "CA1234", "CZ3456", "3U8888"}
	for i, number := range samples {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), number)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), base.AddDate(0, 0, i%2).Format("2006-01-02"))
	}

	_ = f.SetColWidth(sheet, "A", "A", 16)
	_ = f.SetColWidth(sheet, "B", "B", 16)

	return f.SaveAs(path)
}
