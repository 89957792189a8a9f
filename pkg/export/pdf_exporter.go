package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// pdfCellLimit truncates long values so wide account tables stay legible.
const pdfCellLimit = 40

// PDFExporter renders a Dataset as a landscape A4 table. Landscape because
// account exports carry enough columns to overflow a portrait page.
type PDFExporter struct{}

// NewPDFExporter builds a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render draws the title and a bordered table, one row per dataset row.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf export needs headers")
	}

	doc := gofpdf.New("L", "mm", "A4", "")
	doc.SetMargins(10, 12, 10)
	doc.AddPage()

	if title != "" {
		doc.SetFont("Arial", "B", 13)
		doc.CellFormat(0, 9, title, "", 1, "C", false, 0, "")
		doc.Ln(3)
	}

	pageWidth, _ := doc.GetPageSize()
	colWidth := (pageWidth - 20) / float64(len(data.Headers))

	doc.SetFont("Arial", "B", 9)
	doc.SetFillColor(235, 235, 235)
	for _, header := range data.Headers {
		doc.CellFormat(colWidth, 7, header, "1", 0, "C", true, 0, "")
	}
	doc.Ln(-1)

	doc.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			doc.CellFormat(colWidth, 6, clip(row[header]), "1", 0, "", false, 0, "")
		}
		doc.Ln(-1)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func clip(value string) string {
	if len(value) <= pdfCellLimit {
		return value
	}
	return value[:pdfCellLimit-3] + "..."
}
