// internal/analysis/notfood.go
package analysis

import "strings"

// NotFoodCategory groups not-food reasons into user-facing message buckets.
type NotFoodCategory string

const (
	CategoryUnclear        NotFoodCategory = "unclear"
	CategoryPerson         NotFoodCategory = "person"
	CategoryDocument       NotFoodCategory = "document"
	CategoryAnimal         NotFoodCategory = "animal"
	CategoryEmptyContainer NotFoodCategory = "empty_container"
	CategoryGeneric        NotFoodCategory = "generic"
)

// Checked in order; first hit wins. Approximate by nature.
var notFoodKeywords = []struct {
	category NotFoodCategory
	words    []string
}{
	{CategoryUnclear, []string{"blurry", "blurred", "unclear", "out of focus", "too dark", "low quality"}},
	{CategoryPerson, []string{"person", "people", "face", "selfie", "human", "man", "woman"}},
	{CategoryDocument, []string{"menu", "document", "receipt", "text", "paper", "screen"}},
	{CategoryAnimal, []string{"animal", "cat", "dog", "pet", "bird"}},
	{CategoryEmptyContainer, []string{"empty plate", "empty bowl", "empty", "container"}},
}

// ClassifyNotFood maps a free-text reason to a category.
func ClassifyNotFood(reason string) NotFoodCategory {
	lowered := strings.ToLower(reason)
	for _, group := range notFoodKeywords {
		for _, w := range group.words {
			if containsWord(lowered, w) {
				return group.category
			}
		}
	}
	return CategoryGeneric
}

func (c NotFoodCategory) Message() string {
	switch c {
	case CategoryUnclear:
		return "The photo is too blurry or unclear. Try again with better lighting and focus."
	case CategoryPerson:
		return "This looks like a photo of a person. Point the camera at your meal instead."
	case CategoryDocument:
		return "This looks like a menu or document. Take a photo of the food itself."
	case CategoryAnimal:
		return "This looks like an animal, not a meal."
	case CategoryEmptyContainer:
		return "The plate or container looks empty. Snap the photo before you eat."
	default:
		return "No food detected in this photo. Try another angle or log it manually."
	}
}

// containsWord matches w on word boundaries so "cat" does not hit "category".
func containsWord(s, w string) bool {
	for i := 0; ; {
		idx := strings.Index(s[i:], w)
		if idx < 0 {
			return false
		}
		start := i + idx
		end := start + len(w)
		// A trailing plural "s" still counts as the same word.
		if end < len(s) && s[end] == 's' {
			end++
		}
		if (start == 0 || !isLetter(s[start-1])) && (end == len(s) || !isLetter(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
