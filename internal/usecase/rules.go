package usecase

import (
	"regexp"
	"strings"

	"roomservice-agent/internal/domain"
)

var wordPattern = regexp.MustCompile(`\w+`)

func tokenize(text string) map[string]struct{} {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// DetectPreferences extracts canonical dietary preference keys from raw
// guest text. It is total: any input yields a (possibly empty) result.
//
// The "non" guard is over-broad: any occurrence of the substring "non"
// suppresses vegetarian detection, so "nonstop vegetarian options" detects
// nothing.
func DetectPreferences(text string) []domain.Preference {
	l := strings.ToLower(text)
	var prefs []domain.Preference

	mentionsVeg := strings.Contains(l, "vegetarian") ||
		strings.Contains(l, " veg ") ||
		strings.HasSuffix(strings.TrimSpace(l), " veg")
	if mentionsVeg && !strings.Contains(l, "non") {
		prefs = append(prefs, domain.PreferenceVegetarian)
	}
	if strings.Contains(l, "vegan") {
		prefs = append(prefs, domain.PreferenceVegan)
	}
	if strings.Contains(l, "gluten") {
		prefs = append(prefs, domain.PreferenceGlutenFree)
	}
	if strings.Contains(l, "dairy-free") || strings.Contains(l, "lactose") {
		prefs = append(prefs, domain.PreferenceDairyFree)
	}
	if strings.Contains(l, "nut") {
		prefs = append(prefs, domain.PreferenceNutFree)
	}
	return prefs
}

// MatchCandidates returns the menu items textually relevant to the guest
// message, in menu iteration order. Each item is tested independently
// against three tiers; the first tier that fires admits the item once:
//
//  1. any word shared between the message and the item name
//  2. any item tag appearing as a substring of the message
//  3. any name word longer than 3 characters appearing as a substring
//
// No ranking is applied and an empty result is a valid outcome (the turn
// resolver answers it with a clarifying prompt).
func MatchCandidates(text string, menu []domain.MenuItem) []domain.MenuItem {
	l := strings.ToLower(text)
	textWords := tokenize(text)

	var candidates []domain.MenuItem
	for _, item := range menu {
		nameWords := tokenize(item.Name)

		if intersects(nameWords, textWords) {
			candidates = append(candidates, item)
			continue
		}

		matched := false
		for _, tag := range item.Tags {
			if strings.Contains(l, strings.ToLower(tag)) {
				candidates = append(candidates, item)
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		for w := range nameWords {
			if len(w) > 3 && strings.Contains(l, w) {
				candidates = append(candidates, item)
				break
			}
		}
	}
	return candidates
}

func intersects(a, b map[string]struct{}) bool {
	for w := range a {
		if _, ok := b[w]; ok {
			return true
		}
	}
	return false
}

// DietaryConflicts returns the stated preferences the item fails to satisfy.
// A vegan-tagged item satisfies a vegetarian preference. The result carries
// no duplicates; empty means the item fits every stated preference.
func DietaryConflicts(item domain.MenuItem, prefs []domain.Preference) []string {
	var conflicts []string
	seen := make(map[domain.Preference]struct{}, len(prefs))
	for _, p := range prefs {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}

		switch p {
		case domain.PreferenceVegetarian:
			if !item.HasTag("vegetarian") && !item.HasTag("vegan") {
				conflicts = append(conflicts, string(p))
			}
		case domain.PreferenceVegan, domain.PreferenceGlutenFree,
			domain.PreferenceDairyFree, domain.PreferenceNutFree:
			if !item.HasTag(string(p)) {
				conflicts = append(conflicts, string(p))
			}
		}
	}
	return conflicts
}
