package api

import "strings"

// Category is the fixed set of ledger categories.
type Category string

const (
	CategoryFood          Category = "Food"
	CategoryTravel        Category = "Travel"
	CategoryEntertainment Category = "Entertainment"
	CategoryHouseholdBill Category = "Household Bill"
	CategoryOther         Category = "Other"
)

// Categories returns every valid category in display order.
func Categories() []Category {
	return []Category{
		CategoryFood,
		CategoryTravel,
		CategoryEntertainment,
		CategoryHouseholdBill,
		CategoryOther,
	}
}

// ParseCategory matches s against the known categories, ignoring case and
// surrounding space.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Categories() {
		if strings.EqualFold(s, string(c)) {
			return c, true
		}
	}
	return "", false
}
