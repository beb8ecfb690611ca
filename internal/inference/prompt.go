package inference

import (
	"fmt"
	"strings"

	"mcp-food-lens/internal/models"
)

const analysisPrompt = `You are a nutrition expert analyzing a photo of a meal.

First decide whether the image shows food or a drink someone could log.

IMPORTANT: Always respond with valid JSON only, no prose, in exactly one of these formats.

If the image shows food:
{
  "is_food": true,
  "name": "short name of the dish or food items",
  "serving_size": "estimated portion with units",
  "calories": [number],
  "protein": [grams as number],
  "carbs": [grams as number],
  "fats": [grams as number],
  "fiber": [grams as number],
  "confidence": "high|medium|low",
  "notes": "brief note about assumptions or hidden ingredients"
}

If the image does not show food:
{
  "is_food": false,
  "reason": "short description of what the image shows instead"
}

Estimate portions from visual cues such as plate size and utensils. Use whole numbers.`

// weeklyPrompt renders the last seven days of numbers and the profile into a
// short coaching request.
func weeklyPrompt(days []models.DaySummary, goals models.Goals, profile models.Profile) string {
	var b strings.Builder

	b.WriteString("You are a supportive nutrition coach. Write a 2-3 sentence summary of this week ")
	b.WriteString("of eating compared with the daily goals. Mention one thing that went well and one ")
	b.WriteString("concrete suggestion. Plain text only, no lists or markdown.\n\n")

	fmt.Fprintf(&b, "Daily goals: %d kcal, %dg protein, %dg carbs, %dg fat",
		goals.Calories, goals.Protein, goals.Carbs, goals.Fats)
	if goals.WaterML > 0 {
		fmt.Fprintf(&b, ", %d ml water", goals.WaterML)
	}
	b.WriteString("\n")

	if p := profileLine(profile); p != "" {
		b.WriteString("About the user: ")
		b.WriteString(p)
		b.WriteString("\n")
	}

	b.WriteString("\nDays (oldest first):\n")
	logged := 0
	for _, d := range days {
		if d.MealCount == 0 && d.WaterML == 0 {
			fmt.Fprintf(&b, "- %s: nothing logged\n", d.Date)
			continue
		}
		logged++
		fmt.Fprintf(&b, "- %s: %d meals, %d kcal, %dg protein, %dg carbs, %dg fat, %d ml water\n",
			d.Date, d.MealCount, d.Calories, d.Protein, d.Carbs, d.Fats, d.WaterML)
	}
	fmt.Fprintf(&b, "\nDays with data: %d of %d\n", logged, len(days))

	return b.String()
}

func profileLine(p models.Profile) string {
	var parts []string
	if p.Name != "" {
		parts = append(parts, "name "+p.Name)
	}
	if p.Age > 0 {
		parts = append(parts, fmt.Sprintf("age %d", p.Age))
	}
	if p.Sex != "" {
		parts = append(parts, "sex "+p.Sex)
	}
	if p.HeightCm > 0 {
		parts = append(parts, fmt.Sprintf("height %.0f cm", p.HeightCm))
	}
	if p.WeightKg > 0 {
		parts = append(parts, fmt.Sprintf("weight %.1f kg", p.WeightKg))
	}
	if p.ActivityLevel != "" {
		parts = append(parts, "activity "+p.ActivityLevel)
	}
	if p.Goal != "" {
		parts = append(parts, "goal "+p.Goal)
	}
	return strings.Join(parts, ", ")
}
