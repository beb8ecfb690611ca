// internal/analysis/normalize.go
package analysis

import (
	"mcp-food-lens/internal/coerce"
	"mcp-food-lens/internal/models"
)

const (
	DefaultNotFoodReason = "The image does not appear to contain food"

	msgInvalidNutrition   = "invalid nutrition data"
	msgUnexpectedResponse = "unexpected response format"
)

// HandleParsed turns a decoded JSON value into an outcome. It never trusts the
// shape of v: every field is coerced independently.
func HandleParsed(v any) models.AnalysisOutcome {
	obj, ok := v.(map[string]any)
	if !ok {
		return models.ErrorOutcome(msgUnexpectedResponse)
	}

	isFood, hasFlag := coerce.Bool(obj["is_food"])
	if hasFlag && !isFood {
		reason, ok := obj["reason"].(string)
		if !ok {
			reason = DefaultNotFoodReason
		}
		return models.NotFoodOutcome(reason)
	}

	_, hasName := coerce.TrimmedString(obj["name"])
	if (hasFlag && isFood) || hasName {
		record, err := recordFromObject(obj)
		if err != nil {
			return models.ErrorOutcome(msgInvalidNutrition)
		}
		return models.FoodOutcome(record)
	}

	return models.ErrorOutcome(msgUnexpectedResponse)
}

func recordFromObject(obj map[string]any) (models.NutritionRecord, error) {
	name, ok := coerce.TrimmedString(obj["name"])
	if !ok {
		return models.NutritionRecord{}, models.ErrInvalidRecord
	}

	return models.NutritionRecord{
		Name:        name,
		ServingSize: coerce.String(obj["serving_size"]),
		Calories:    coerce.Int(obj["calories"]),
		Protein:     coerce.Int(obj["protein"]),
		Carbs:       coerce.Int(obj["carbs"]),
		Fats:        coerce.Int(obj["fats"]),
		Fiber:       coerce.OptionalInt(obj["fiber"]),
		Confidence:  models.ParseConfidence(coerce.String(obj["confidence"])),
		Notes:       coerce.String(obj["notes"]),
	}, nil
}
