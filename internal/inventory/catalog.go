// Package inventory generates the outfitter's shop for a voyage from the
// catalog store.
package inventory

import "github.com/petervdpas/voyage/internal/storage"

// Categories an item may belong to.
const (
	CategoryTools         = "tools"
	CategorySafety        = "safety"
	CategoryNavigation    = "navigation"
	CategoryCommunication = "communication"
	CategoryMedical       = "medical"
)

// Item is a shop entry as sent to clients.
type Item struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int    `json:"price"`
	Category    string `json:"category"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

type seedItem struct {
	name, description string
	price             int
	category          string
}

var starter = map[string][]seedItem{
	"space": {
		{"Zero-Gravity Multi-Tool", "Compact tool kit for repairs in microgravity", 250, CategoryTools},
		{"Emergency Oxygen Canister", "4-hour backup oxygen supply", 180, CategorySafety},
		{"Quantum Navigation Device", "Deep space navigation with quantum entanglement", 450, CategoryNavigation},
	},
	"pirate": {
		{"Cutlass of the Seven Seas", "Enchanted blade that never rusts", 320, CategoryTools},
		{"Eye of the Storm Compass", "Magical compass that points to treasure", 280, CategoryNavigation},
		{"Grog of Eternal Life", "Healing potion that cures scurvy and wounds", 150, CategoryMedical},
	},
	"jungle": {
		{"Machete of the Ancient Temple", "Sharp blade that cuts through magical vines", 200, CategoryTools},
		{"Anti-Poison Dart Kit", "Complete antivenom collection for jungle creatures", 220, CategoryMedical},
		{"Sunstone Navigation Amulet", "Ancient device that always points to civilization", 380, CategoryNavigation},
	},
}

// StarterCatalog returns the rows a fresh database is seeded with.
func StarterCatalog() []storage.CatalogRow {
	var out []storage.CatalogRow
	for _, voyage := range []string{"space", "pirate", "jungle"} {
		for i, it := range starter[voyage] {
			out = append(out, storage.CatalogRow{
				VoyageType:  voyage,
				Position:    i,
				Name:        it.name,
				Description: it.description,
				Price:       it.price,
				Category:    it.category,
			})
		}
	}
	return out
}
