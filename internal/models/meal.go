// internal/models/meal.go
package models

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidRecord is returned when a nutrition record has no usable name.
var ErrInvalidRecord = errors.New("invalid nutrition data")

type ConfidenceLevel string

const (
	HighConfidence   ConfidenceLevel = "high"
	MediumConfidence ConfidenceLevel = "medium"
	LowConfidence    ConfidenceLevel = "low"
)

// ParseConfidence accepts only the exact enumerated values and falls back to medium.
func ParseConfidence(v string) ConfidenceLevel {
	switch ConfidenceLevel(v) {
	case HighConfidence, MediumConfidence, LowConfidence:
		return ConfidenceLevel(v)
	default:
		return MediumConfidence
	}
}

type MealType string

const (
	Breakfast MealType = "breakfast"
	Lunch     MealType = "lunch"
	Dinner    MealType = "dinner"
	Snack     MealType = "snack"
)

// ParseMealType returns "" for anything outside the enumeration.
func ParseMealType(v string) MealType {
	switch MealType(strings.ToLower(strings.TrimSpace(v))) {
	case Breakfast:
		return Breakfast
	case Lunch:
		return Lunch
	case Dinner:
		return Dinner
	case Snack:
		return Snack
	default:
		return ""
	}
}

// NutritionRecord is a validated food analysis result.
type NutritionRecord struct {
	Name        string          `json:"name"`
	ServingSize string          `json:"serving_size,omitempty"`
	Calories    int             `json:"calories"`
	Protein     int             `json:"protein"`
	Carbs       int             `json:"carbs"`
	Fats        int             `json:"fats"`
	Fiber       *int            `json:"fiber,omitempty"`
	Confidence  ConfidenceLevel `json:"confidence"`
	Notes       string          `json:"notes,omitempty"`
}

// Validate enforces the record invariants: a non-blank name, non-negative
// nutrients and a known confidence level.
func (r NutritionRecord) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrInvalidRecord
	}
	if r.Calories < 0 || r.Protein < 0 || r.Carbs < 0 || r.Fats < 0 {
		return errors.New("nutrient values must not be negative")
	}
	if r.Fiber != nil && *r.Fiber < 0 {
		return errors.New("fiber must not be negative")
	}
	switch r.Confidence {
	case HighConfidence, MediumConfidence, LowConfidence:
	default:
		return errors.New("unknown confidence level")
	}
	return nil
}

// Meal is a logged NutritionRecord. ID and Timestamp are assigned by the ledger.
type Meal struct {
	NutritionRecord
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	MealType  MealType  `json:"meal_type,omitempty"`
	ImageURI  string    `json:"image_uri,omitempty"`
}

// MealDraft is a meal candidate before the ledger commits it.
type MealDraft struct {
	Record   NutritionRecord
	MealType MealType
	ImageURI string
}

// MealPatch carries the fields of an explicit user edit. Nil fields are left untouched.
type MealPatch struct {
	Name        *string          `json:"name,omitempty"`
	ServingSize *string          `json:"serving_size,omitempty"`
	Calories    *int             `json:"calories,omitempty"`
	Protein     *int             `json:"protein,omitempty"`
	Carbs       *int             `json:"carbs,omitempty"`
	Fats        *int             `json:"fats,omitempty"`
	Fiber       *int             `json:"fiber,omitempty"`
	Confidence  *ConfidenceLevel `json:"confidence,omitempty"`
	Notes       *string          `json:"notes,omitempty"`
	MealType    *MealType        `json:"meal_type,omitempty"`
	ImageURI    *string          `json:"image_uri,omitempty"`
	Timestamp   *time.Time       `json:"timestamp,omitempty"`
}
