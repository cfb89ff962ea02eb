package approval

import (
	"regexp"
	"strings"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

type categoryRule struct {
	category api.Category
	pattern  *regexp.Regexp
}

func words(ws ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(ws, "|") + `)\b`)
}

// Checked in order; the first match wins.
var categoryRules = []categoryRule{
	{api.CategoryHouseholdBill, words(
		"nea", "electricity", "khanepani", "water supply", "worldlink", "vianet", "subisu", "classic tech",
		"ntc", "nepal telecom", "ncell", "dish ?home", "internet", "broadband", "recharge", "top-?up",
		"rent", "insurance", "gas", "utility", "utilities",
	)},
	{api.CategoryTravel, words(
		"buddha air", "yeti airlines", "shree airlines", "airlines?", "pathao", "indrive", "tootle", "uber",
		"taxi", "yatayat", "bus", "travels?", "tours?", "hotel", "resort", "petrol", "fuel", "parking",
	)},
	{api.CategoryEntertainment, words(
		"qfx", "cinemas?", "movies?", "netflix", "spotify", "youtube", "steam", "playstation",
		"concert", "gaming", "games?",
	)},
	{api.CategoryFood, words(
		"foodmandu", "bhojdeals", "restaurant", "cafe", "coffee", "java", "bakery", "pizza",
		"momo", "kitchen", "canteen", "grocery", "supermarket", "bhatbhateni", "big ?mart", "mart",
		"salesberry", "kfc", "burger",
	)},
}

// SuggestCategory guesses a category from the extracted merchants, then the
// subject. Anything unrecognised is Other.
func SuggestCategory(data api.ExtractedData) api.Category {
	for _, m := range data.Merchants {
		if c, ok := matchCategory(m); ok {
			return c
		}
	}
	if c, ok := matchCategory(data.Source.Subject); ok {
		return c
	}
	return api.CategoryOther
}

func matchCategory(text string) (api.Category, bool) {
	if text == "" {
		return "", false
	}
	for _, r := range categoryRules {
		if r.pattern.MatchString(text) {
			return r.category, true
		}
	}
	return "", false
}
