package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/prospect-cli/internal/model"
)

// WriteXLSX writes records to a single-sheet workbook with a bold header.
func WriteXLSX(w io.Writer, sheetName string, records []model.Record) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	style := xlsx.NewStyle()
	style.Font.Bold = true
	style.ApplyFont = true
	for _, col := range Columns {
		cell := header.AddCell()
		cell.SetString(col)
		cell.SetStyle(style)
	}

	for _, rec := range records {
		row := sheet.AddRow()
		for _, v := range Row(rec) {
			row.AddCell().SetString(v)
		}
	}

	for i := range Columns {
		width := 18.0
		if i == 3 || i == 9 || i == 10 {
			width = 40
		}
		sheet.SetColWidth(i, i, width)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write workbook")
	}
	return nil
}
