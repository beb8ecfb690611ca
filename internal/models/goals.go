// internal/models/goals.go
package models

import "fmt"

// Goals are the global daily nutrition targets.
type Goals struct {
	Calories int `json:"calories"`
	Protein  int `json:"protein"`
	Carbs    int `json:"carbs"`
	Fats     int `json:"fats"`
	WaterML  int `json:"water_ml"`
}

func DefaultGoals() Goals {
	return Goals{
		Calories: 2000,
		Protein:  150,
		Carbs:    200,
		Fats:     65,
		WaterML:  2500,
	}
}

func (g Goals) Validate() error {
	if g.Calories <= 0 || g.Calories > 10000 {
		return fmt.Errorf("calories must be between 1 and 10000")
	}
	if g.Protein < 0 || g.Protein > 1000 {
		return fmt.Errorf("protein must be between 0 and 1000")
	}
	if g.Carbs < 0 || g.Carbs > 1000 {
		return fmt.Errorf("carbs must be between 0 and 1000")
	}
	if g.Fats < 0 || g.Fats > 1000 {
		return fmt.Errorf("fats must be between 0 and 1000")
	}
	if g.WaterML < 0 || g.WaterML > 20000 {
		return fmt.Errorf("water_ml must be between 0 and 20000")
	}
	return nil
}

// Profile is the user context passed to the weekly summary.
type Profile struct {
	Name          string  `json:"name,omitempty"`
	Age           int     `json:"age,omitempty"`
	Sex           string  `json:"sex,omitempty"`
	HeightCm      float64 `json:"height_cm,omitempty"`
	WeightKg      float64 `json:"weight_kg,omitempty"`
	ActivityLevel string  `json:"activity_level,omitempty"`
	Goal          string  `json:"goal,omitempty"`
}

// DaySummary is one day of aggregated numbers for the weekly summary.
type DaySummary struct {
	Date string `json:"date"`
	Totals
	WaterML   int `json:"water_ml"`
	MealCount int `json:"meal_count"`
}

func SummarizeDay(e DailyLedgerEntry) DaySummary {
	return DaySummary{
		Date:      e.Date,
		Totals:    CalculateMealTotals(e.Meals),
		WaterML:   e.WaterML,
		MealCount: len(e.Meals),
	}
}
