package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// RenderPDF lays the document out on a single A4 page using the core
// Arial font. Text is translated to cp1252, so characters outside it are
// replaced.
func RenderPDF(d Document) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetTitle("Food Lens "+d.Date, true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, "Food Lens daily summary")
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 11)
	pdf.Cell(0, 6, fmt.Sprintf("Date: %s", d.Date))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", d.GeneratedAt.Format("2006-01-02 15:04")))
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 13)
	pdf.Cell(0, 8, "Totals")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	for _, row := range progressRows(d) {
		pdf.CellFormat(30, 6, row.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, row.text(), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 13)
	pdf.Cell(0, 8, "Meals")
	pdf.Ln(8)

	drawMealsTable(pdf, tr, d.Meals)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func drawMealsTable(pdf *gofpdf.Fpdf, tr func(string) string, meals []MealLine) {
	pdf.SetFont("Arial", "", 10)
	if len(meals) == 0 {
		pdf.Cell(0, 6, "No meals logged.")
		pdf.Ln(6)
		return
	}

	widths := []float64{16, 74, 25, 20, 20, 20}
	headers := []string{"Time", "Meal", "kcal", "Protein", "Carbs", "Fats"}

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, m := range meals {
		name := m.Name
		if m.MealType != "" {
			name += " [" + m.MealType + "]"
		}
		cells := []string{
			m.Time,
			tr(truncate(name, 40)),
			fmt.Sprintf("%d", m.Calories),
			fmt.Sprintf("%dg", m.Protein),
			fmt.Sprintf("%dg", m.Carbs),
			fmt.Sprintf("%dg", m.Fats),
		}
		for i, c := range cells {
			align := "R"
			if i == 1 {
				align = "L"
			}
			pdf.CellFormat(widths[i], 6, c, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
