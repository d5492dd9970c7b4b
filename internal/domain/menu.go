package domain

import "strings"

// Preference is a canonical dietary preference key detected from guest text.
type Preference string

const (
	PreferenceVegetarian Preference = "vegetarian"
	PreferenceVegan      Preference = "vegan"
	PreferenceGlutenFree Preference = "gluten-free"
	PreferenceDairyFree  Preference = "dairy-free"
	PreferenceNutFree    Preference = "nut-free"
)

// MenuItem is a single orderable dish. A nil Stock means the kitchen does
// not track a count for it and the item never runs out.
type MenuItem struct {
	ID        string   `json:"item_id"`
	Name      string   `json:"name"`
	Price     float64  `json:"price"`
	Tags      []string `json:"tags"`
	Available bool     `json:"available"`
	Stock     *int     `json:"stock,omitempty"`
}

// StockTracked reports whether the item carries a finite stock count.
func (m MenuItem) StockTracked() bool {
	return m.Stock != nil
}

// HasTag reports whether the item carries the given tag, case-insensitively.
func (m MenuItem) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
