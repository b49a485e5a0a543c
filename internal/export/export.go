// Package export writes lead lists as CSV or XLSX for download.
package export

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/prospect-cli/internal/model"
)

// Format names accepted by Write.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Header is the column row shared by both formats.
var Header = []string{
	"Entreprise", "Email", "Domaine", "Téléphone", "Ville",
	"Région", "Type d'activité", "Source", "Statut", "Date",
}

const (
	bom        = "\ufeff"
	dateLayout = "02/01/2006"
	sheetName  = "Prospects"
)

// ContentType returns the MIME type and file extension for a format.
func ContentType(format string) (string, string, error) {
	switch format {
	case "", FormatCSV:
		return "text/csv; charset=utf-8", "csv", nil
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx", nil
	default:
		return "", "", eris.Errorf("export: unknown format %q", format)
	}
}

// Write dispatches to the writer for format. An empty format means CSV.
func Write(w io.Writer, format string, leads []model.Lead) error {
	switch format {
	case "", FormatCSV:
		return WriteLeadsCSV(w, leads)
	case FormatXLSX:
		return WriteLeadsXLSX(w, leads)
	default:
		return eris.Errorf("export: unknown format %q", format)
	}
}

// WriteLeadsCSV writes leads as a BOM-prefixed UTF-8 CSV so spreadsheet
// tools detect the encoding.
func WriteLeadsCSV(w io.Writer, leads []model.Lead) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return eris.Wrap(err, "export: write bom")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for i := range leads {
		if err := cw.Write(record(leads[i])); err != nil {
			return eris.Wrapf(err, "export: write csv row %d", i+1)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteLeadsXLSX writes leads to a single-sheet workbook.
func WriteLeadsXLSX(w io.Writer, leads []model.Lead) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow(sheet, Header)
	for i := range leads {
		addRow(sheet, record(leads[i]))
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, v := range cells {
		row.AddCell().SetString(v)
	}
}

func record(l model.Lead) []string {
	date := ""
	if !l.ScrapedAt.IsZero() {
		date = l.ScrapedAt.Format(dateLayout)
	}
	return []string{
		l.CompanyName,
		l.Email,
		l.Domain,
		l.Phone,
		l.City,
		l.Region,
		l.ActivityType,
		l.Source,
		string(l.Status),
		date,
	}
}
