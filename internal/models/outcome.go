// internal/models/outcome.go
package models

type OutcomeKind string

const (
	OutcomeFood    OutcomeKind = "food"
	OutcomeNotFood OutcomeKind = "not_food"
	OutcomeError   OutcomeKind = "error"
)

// AnalysisOutcome is the result of one image analysis. Exactly one of Food,
// Reason or Message is meaningful, selected by Kind. Build it with
// FoodOutcome, NotFoodOutcome or ErrorOutcome.
type AnalysisOutcome struct {
	Kind    OutcomeKind      `json:"kind"`
	Food    *NutritionRecord `json:"food,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	Message string           `json:"message,omitempty"`
}

func FoodOutcome(r NutritionRecord) AnalysisOutcome {
	return AnalysisOutcome{Kind: OutcomeFood, Food: &r}
}

func NotFoodOutcome(reason string) AnalysisOutcome {
	return AnalysisOutcome{Kind: OutcomeNotFood, Reason: reason}
}

func ErrorOutcome(message string) AnalysisOutcome {
	return AnalysisOutcome{Kind: OutcomeError, Message: message}
}

func (o AnalysisOutcome) IsFood() bool    { return o.Kind == OutcomeFood && o.Food != nil }
func (o AnalysisOutcome) IsNotFood() bool { return o.Kind == OutcomeNotFood }
func (o AnalysisOutcome) IsError() bool   { return o.Kind == OutcomeError }

// Final reports whether the outcome ends model iteration.
func (o AnalysisOutcome) Final() bool {
	return o.IsFood() || o.IsNotFood()
}
