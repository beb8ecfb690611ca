package ledger

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"mcp-food-lens/internal/coerce"
	"mcp-food-lens/internal/models"
)

// unnamedMeal replaces a stored meal name that is missing or blank.
const unnamedMeal = "Unnamed meal"

// decodeEntry reads a stored entry field by field. Malformed meals are kept
// with defaulted fields, and stored totals are ignored in favour of the
// recomputed sum. Only a document that is not JSON at all is an error.
func decodeEntry(day string, raw []byte) (models.DailyLedgerEntry, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.DailyLedgerEntry{}, err
	}

	entry := models.EmptyEntry(day)
	obj, _ := doc.(map[string]any)

	entry.WaterML = coerce.Int(obj["water_ml"])
	if items, ok := obj["meals"].([]any); ok {
		for i, item := range items {
			entry.Meals = append(entry.Meals, decodeMeal(item, func() string {
				return repairedID(day, i, item)
			}))
		}
	}
	entry.Recalculate()
	return entry, nil
}

func decodeMeal(v any, newID func() string) models.Meal {
	obj, _ := v.(map[string]any)

	name, ok := coerce.TrimmedString(obj["name"])
	if !ok {
		name = unnamedMeal
	}
	id, ok := coerce.TrimmedString(obj["id"])
	if !ok {
		id = newID()
	}
	ts, ok := coerce.Time(obj["timestamp"])
	if !ok {
		ts = time.Time{}
	}

	return models.Meal{
		NutritionRecord: models.NutritionRecord{
			Name:        name,
			ServingSize: coerce.String(obj["serving_size"]),
			Calories:    coerce.Int(obj["calories"]),
			Protein:     coerce.Int(obj["protein"]),
			Carbs:       coerce.Int(obj["carbs"]),
			Fats:        coerce.Int(obj["fats"]),
			Fiber:       coerce.OptionalInt(obj["fiber"]),
			Confidence:  models.ParseConfidence(coerce.String(obj["confidence"])),
			Notes:       coerce.String(obj["notes"]),
		},
		ID:        id,
		Timestamp: ts,
		MealType:  models.ParseMealType(coerce.String(obj["meal_type"])),
		ImageURI:  coerce.String(obj["image_uri"]),
	}
}

// repairedID names a stored meal that lacks an id. The id depends only on the
// day, the position and the stored content, so every load of an unchanged
// entry yields the same id and edits by that id find the meal.
func repairedID(day string, index int, v any) string {
	content, _ := json.Marshal(v)
	name := day + "#" + strconv.Itoa(index) + "#" + string(content)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
