// Package export renders listings as tabular attachments.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/engine-watch/internal/model"
)

// Supported attachment formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// SheetName is the worksheet that holds XLSX exports.
const SheetName = "New Engines"

// FileName returns the attachment name for a run at t, e.g.
// new_engines_20261017_040000.csv.
func FileName(format string, t time.Time) string {
	return "new_engines_" + t.Format("20060102_150405") + "." + strings.ToLower(format)
}

// Write renders listings to path in the given format.
func Write(format, path string, listings []model.Listing) error {
	switch strings.ToLower(format) {
	case FormatCSV, "":
		return WriteCSV(path, listings)
	case FormatXLSX:
		return WriteXLSX(path, listings)
	default:
		return eris.Errorf("export: unsupported format %q", format)
	}
}

// WriteCSV writes a header row then one row per listing in model.Columns
// order. Empty values render as model.Unknown.
func WriteCSV(path string, listings []model.Listing) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "export: create dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create csv")
	}
	if err := EncodeCSV(f, listings); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "export: close csv")
}

// EncodeCSV writes the CSV rendering of listings to w.
func EncodeCSV(w io.Writer, listings []model.Listing) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(model.Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, l := range listings {
		if err := cw.Write(l.Row()); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes the same rows as WriteCSV into the SheetName worksheet.
func WriteXLSX(path string, listings []model.Listing) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "export: create dir")
	}
	file, err := buildXLSX(listings)
	if err != nil {
		return err
	}
	return eris.Wrap(file.Save(path), "export: save xlsx")
}

// EncodeXLSX writes the XLSX rendering of listings to w.
func EncodeXLSX(w io.Writer, listings []model.Listing) error {
	file, err := buildXLSX(listings)
	if err != nil {
		return err
	}
	return eris.Wrap(file.Write(w), "export: write xlsx")
}

func buildXLSX(listings []model.Listing) (*xlsx.File, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "export: add sheet")
	}

	header := xlsx.NewStyle()
	header.Font.Bold = true
	header.ApplyFont = true

	addRow(sheet, model.Columns, header)
	for _, l := range listings {
		addRow(sheet, l.Row(), nil)
	}
	return file, nil
}

func addRow(sheet *xlsx.Sheet, values []string, style *xlsx.Style) {
	row := sheet.AddRow()
	for _, v := range values {
		cell := row.AddCell()
		cell.SetString(v)
		if style != nil {
			cell.SetStyle(style)
		}
	}
}
