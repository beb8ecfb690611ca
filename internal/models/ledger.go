// internal/models/ledger.go
package models

import "time"

// DayKeyLayout is the calendar day key format used to bucket ledger entries.
const DayKeyLayout = "2006-01-02"

// DayKey returns the calendar day of t, in t's own location.
func DayKey(t time.Time) string {
	return t.Format(DayKeyLayout)
}

type Totals struct {
	Calories int `json:"calories"`
	Protein  int `json:"protein"`
	Carbs    int `json:"carbs"`
	Fats     int `json:"fats"`
}

// DailyLedgerEntry holds one calendar day of meals and water.
// Totals always equal CalculateMealTotals(Meals).
type DailyLedgerEntry struct {
	Date  string `json:"date"`
	Meals []Meal `json:"meals"`
	Totals
	WaterML int `json:"water_ml"`
}

// EmptyEntry returns a structurally valid entry with no meals.
func EmptyEntry(day string) DailyLedgerEntry {
	return DailyLedgerEntry{Date: day, Meals: []Meal{}}
}

func CalculateMealTotals(meals []Meal) Totals {
	var t Totals
	for _, m := range meals {
		t.Calories += m.Calories
		t.Protein += m.Protein
		t.Carbs += m.Carbs
		t.Fats += m.Fats
	}
	return t
}

// Recalculate rebuilds Totals from the meal list.
func (e *DailyLedgerEntry) Recalculate() {
	e.Totals = CalculateMealTotals(e.Meals)
}

// Clone returns a copy that shares no meal slice with e.
func (e DailyLedgerEntry) Clone() DailyLedgerEntry {
	out := e
	out.Meals = make([]Meal, len(e.Meals))
	copy(out.Meals, e.Meals)
	return out
}
