package receipt

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf/v2"
)

const (
	paperWidth = 80.0 // mm, thermal roll
	margin     = 4.0
	lineHeight = 4.5
)

// RenderPDF lays the receipt out on an 80mm roll sized to its content.
func RenderPDF(r Receipt) ([]byte, error) {
	height := 70 + float64(len(r.Items))*lineHeight*2
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: paperWidth, Ht: height},
	})
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)
	pdf.AddPage()

	// Core fonts are cp1252; shop names like "Café" need translating.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	width := paperWidth - 2*margin

	// Header
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(width, 6, tr(r.Header.ShopName), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 8)
	if r.Header.Address != "" {
		pdf.CellFormat(width, lineHeight, tr(r.Header.Address), "", 1, "C", false, 0, "")
	}
	if r.Header.Phone != "" {
		pdf.CellFormat(width, lineHeight, tr("Tel: "+r.Header.Phone), "", 1, "C", false, 0, "")
	}
	rule(pdf, width)

	// Sale details
	pdf.CellFormat(width/2, lineHeight, fmt.Sprintf("Sale #%d", r.SaleID), "", 0, "L", false, 0, "")
	pdf.CellFormat(width/2, lineHeight, r.SettledAt.Format("02-Jan-2006 03:04 PM"), "", 1, "R", false, 0, "")
	if r.RoomNo != "" {
		pdf.CellFormat(width, lineHeight, tr("Room: "+r.RoomNo), "", 1, "L", false, 0, "")
	}
	if r.CustomerName != "" {
		pdf.CellFormat(width, lineHeight, tr("Customer: "+r.CustomerName), "", 1, "L", false, 0, "")
	}
	if r.Cashier != "" {
		pdf.CellFormat(width, lineHeight, tr("Cashier: "+r.Cashier), "", 1, "L", false, 0, "")
	}
	rule(pdf, width)

	// Items
	pdf.SetFont("Arial", "B", 8)
	pdf.CellFormat(width*0.5, lineHeight, "Item", "", 0, "L", false, 0, "")
	pdf.CellFormat(width*0.15, lineHeight, "Qty", "", 0, "R", false, 0, "")
	pdf.CellFormat(width*0.35, lineHeight, "Amount", "", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "", 8)
	for _, it := range r.Items {
		pdf.CellFormat(width*0.5, lineHeight, tr(truncate(it.Name, 28)), "", 0, "L", false, 0, "")
		pdf.CellFormat(width*0.15, lineHeight, fmt.Sprintf("%d", it.Quantity), "", 0, "R", false, 0, "")
		pdf.CellFormat(width*0.35, lineHeight, it.LineTotal.StringFixed(2), "", 1, "R", false, 0, "")
		pdf.SetFont("Arial", "I", 7)
		pdf.CellFormat(width, lineHeight, fmt.Sprintf("  @ %s", it.UnitPrice.StringFixed(2)), "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 8)
	}
	rule(pdf, width)

	// Totals
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(width/2, 6, "TOTAL", "", 0, "L", false, 0, "")
	pdf.CellFormat(width/2, 6, r.Total.StringFixed(2), "", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(width, lineHeight, "Paid by "+strings.ToUpper(r.PaymentMethod), "", 1, "L", false, 0, "")
	pdf.Ln(2)
	pdf.CellFormat(width, lineHeight, "Thank you!", "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt %d: %w", r.SaleID, err)
	}
	return buf.Bytes(), nil
}

func rule(pdf *gofpdf.Fpdf, width float64) {
	y := pdf.GetY() + 1
	pdf.Line(margin, y, margin+width, y)
	pdf.SetY(y + 1)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
