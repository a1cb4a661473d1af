package render

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/joelkehle/clinical-agents/internal/clinical"
)

const (
	fontFamily   = "Helvetica"
	maxTokenLen  = 60
	maxValueLen  = 4000
	labelWidthMM = 45.0
)

// FPDFRenderer writes the report directly with core PDF fonts. It needs no
// browser and is used when Chromium is missing or fails.
type FPDFRenderer struct {
	now func() time.Time
}

func NewFPDFRenderer() *FPDFRenderer {
	return &FPDFRenderer{now: time.Now}
}

func (r *FPDFRenderer) Render(ctx context.Context, in clinical.ReportInput) ([]byte, error) {
	if in.Empty() {
		return nil, ErrEmptyReport
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	text := func(s string) string { return tr(SafeText(s, maxTokenLen, maxValueLen)) }
	generated := r.now().Format("2006-01-02 15:04")

	pdf.SetHeaderFunc(func() {
		pdf.SetFont(fontFamily, "B", 14)
		pdf.SetTextColor(33, 150, 243)
		pdf.CellFormat(120, 10, clinical.ReportTitle, "", 0, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.SetFont(fontFamily, "", 9)
		pdf.CellFormat(0, 10, generated, "", 1, "R", false, 0, "")
		pdf.SetDrawColor(220, 220, 220)
		w, _ := pdf.GetPageSize()
		left, _, right, _ := pdf.GetMargins()
		y := pdf.GetY()
		pdf.Line(left, y, w-right, y)
		pdf.Ln(2)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})
	pdf.AliasNbPages("")
	pdf.AddPage()

	contentWidth := func() float64 {
		w, _ := pdf.GetPageSize()
		left, _, right, _ := pdf.GetMargins()
		if cw := w - left - right; cw > 10 {
			return cw
		}
		return 10
	}

	pdf.SetFont(fontFamily, "I", 9)
	pdf.SetTextColor(90, 90, 90)
	pdf.MultiCell(contentWidth(), 5, text(clinical.DisclaimerSummary), "", "L", false)
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(3)

	for _, section := range in.Sections() {
		pdf.SetFillColor(245, 247, 250)
		pdf.SetTextColor(33, 33, 33)
		pdf.SetFont(fontFamily, "B", 12)
		pdf.CellFormat(0, 8, text(section.Title), "", 1, "L", true, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(2)

		for _, row := range section.Rows {
			if row.Items != nil {
				pdf.SetFont(fontFamily, "B", 10)
				pdf.CellFormat(0, 5, text(row.Label+":"), "", 1, "L", false, 0, "")
				pdf.SetFont(fontFamily, "", 10)
				if len(row.Items) == 0 {
					pdf.MultiCell(contentWidth(), 5, "  - (none)", "", "L", false)
				}
				for _, item := range row.Items {
					pdf.MultiCell(contentWidth(), 5, "  - "+text(item), "", "L", false)
				}
				pdf.Ln(1)
				continue
			}
			labelW := labelWidthMM
			if cw := contentWidth(); labelW > cw*0.35 {
				labelW = cw * 0.35
			}
			pdf.SetFont(fontFamily, "B", 10)
			pdf.SetTextColor(90, 90, 90)
			pdf.CellFormat(labelW, 6, text(row.Label), "", 0, "L", false, 0, "")
			pdf.SetFont(fontFamily, "", 10)
			pdf.SetTextColor(0, 0, 0)
			pdf.MultiCell(contentWidth()-labelW, 6, text(orNone(row.Value)), "", "L", false)
			pdf.Ln(1)
		}
		pdf.Ln(4)
	}

	if pdf.Err() {
		return nil, fmt.Errorf("fpdf layout: %w", pdf.Error())
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("fpdf output: %w", err)
	}
	return buf.Bytes(), nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
