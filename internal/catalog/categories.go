package catalog

import "strings"

// UncategorizedID is assigned when neither the configured map nor the
// fallback rules can place a category name.
const UncategorizedID = "0"

// categoryRule is one ordered substring heuristic, applied to normalized
// category names the configured map does not cover. Kept as a table so the
// heuristic stays testable and extensible.
type categoryRule struct {
	keyword string
	id      string
}

var fallbackRules = []categoryRule{
	{"soup", "1"},
	{"first", "1"},
	{"second", "2"},
	{"main", "2"},
	{"salad", "3"},
	{"dessert", "4"},
	{"sweet", "4"},
	{"drink", "5"},
	{"beverage", "5"},
	{"bundle", "6"},
	{"combo", "6"},
	{"set", "6"},
}

// normalizeCategoryName lowercases, trims and collapses inner whitespace so
// map lookups survive the remote's inconsistent spacing.
func normalizeCategoryName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// resolveCategoryID maps a display name to a category id: exact normalized
// lookup first, then the ordered substring rules, then UncategorizedID.
func resolveCategoryID(name string, mapping map[string]string) string {
	normalized := normalizeCategoryName(name)
	if normalized == "" {
		return UncategorizedID
	}

	for key, id := range mapping {
		if normalizeCategoryName(key) == normalized {
			return id
		}
	}

	for _, rule := range fallbackRules {
		if strings.Contains(normalized, rule.keyword) {
			return rule.id
		}
	}

	return UncategorizedID
}
