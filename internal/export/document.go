// Package export renders a day's ledger entry and goals into a shareable
// snapshot document. The output is a convenience snapshot, not a versioned
// interchange format.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mcp-food-lens/internal/models"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

// ParseFormat defaults to text for anything unknown.
func ParseFormat(s string) Format {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON
	case FormatPDF:
		return FormatPDF
	default:
		return FormatText
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/plain; charset=utf-8"
	}
}

func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatPDF:
		return ".pdf"
	default:
		return ".txt"
	}
}

type Document struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Date        string        `json:"date"`
	Meals       []MealLine    `json:"meals"`
	Totals      models.Totals `json:"totals"`
	WaterML     int           `json:"water_ml"`
	Goals       models.Goals  `json:"goals"`
}

type MealLine struct {
	Time        string `json:"time,omitempty"`
	Name        string `json:"name"`
	MealType    string `json:"meal_type,omitempty"`
	ServingSize string `json:"serving_size,omitempty"`
	Calories    int    `json:"calories"`
	Protein     int    `json:"protein"`
	Carbs       int    `json:"carbs"`
	Fats        int    `json:"fats"`
}

// Build snapshots entry and goals at now. Totals are recomputed from the meals.
func Build(entry models.DailyLedgerEntry, goals models.Goals, now time.Time) Document {
	doc := Document{
		GeneratedAt: now,
		Date:        entry.Date,
		Meals:       make([]MealLine, 0, len(entry.Meals)),
		Totals:      models.CalculateMealTotals(entry.Meals),
		WaterML:     max(entry.WaterML, 0),
		Goals:       goals,
	}
	for _, m := range entry.Meals {
		line := MealLine{
			Name:        m.Name,
			MealType:    string(m.MealType),
			ServingSize: m.ServingSize,
			Calories:    m.Calories,
			Protein:     m.Protein,
			Carbs:       m.Carbs,
			Fats:        m.Fats,
		}
		if !m.Timestamp.IsZero() {
			line.Time = m.Timestamp.In(now.Location()).Format("15:04")
		}
		doc.Meals = append(doc.Meals, line)
	}
	return doc
}

// FileName is the suggested name of the rendered document.
func (d Document) FileName(f Format) string {
	return "food-lens-" + d.Date + f.Extension()
}

// Render produces the document bytes in format f.
func Render(d Document, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(d, "", "  ")
	case FormatPDF:
		return RenderPDF(d)
	default:
		return RenderText(d), nil
	}
}

func RenderText(d Document) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "Food Lens daily summary\n")
	fmt.Fprintf(&b, "Date: %s\n", d.Date)
	fmt.Fprintf(&b, "Generated: %s\n\n", d.GeneratedAt.Format("2006-01-02 15:04"))

	b.WriteString("Totals\n")
	for _, row := range progressRows(d) {
		fmt.Fprintf(&b, "  %-9s %s\n", row.label+":", row.text())
	}

	b.WriteString("\nMeals\n")
	if len(d.Meals) == 0 {
		b.WriteString("  No meals logged.\n")
	}
	for i, m := range d.Meals {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, mealHeading(m))
		fmt.Fprintf(&b, "     %d kcal, protein %dg, carbs %dg, fats %dg\n", m.Calories, m.Protein, m.Carbs, m.Fats)
	}
	return b.Bytes()
}

type progressRow struct {
	label  string
	value  int
	goal   int
	suffix string
}

func (r progressRow) text() string {
	if r.goal <= 0 {
		return fmt.Sprintf("%d%s", r.value, r.suffix)
	}
	return fmt.Sprintf("%d / %d%s (%d%%)", r.value, r.goal, r.suffix, percentOf(r.value, r.goal))
}

func progressRows(d Document) []progressRow {
	return []progressRow{
		{"Calories", d.Totals.Calories, d.Goals.Calories, " kcal"},
		{"Protein", d.Totals.Protein, d.Goals.Protein, " g"},
		{"Carbs", d.Totals.Carbs, d.Goals.Carbs, " g"},
		{"Fats", d.Totals.Fats, d.Goals.Fats, " g"},
		{"Water", d.WaterML, d.Goals.WaterML, " ml"},
	}
}

func mealHeading(m MealLine) string {
	var parts []string
	if m.Time != "" {
		parts = append(parts, m.Time)
	}
	parts = append(parts, m.Name)
	if m.ServingSize != "" {
		parts = append(parts, "("+m.ServingSize+")")
	}
	if m.MealType != "" {
		parts = append(parts, "["+m.MealType+"]")
	}
	return strings.Join(parts, " ")
}

func percentOf(value, goal int) int {
	if goal <= 0 {
		return 0
	}
	return int(float64(value) * 100 / float64(goal))
}
