package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/petervdpas/voyage/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "voyage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.SeedCatalog(StarterCatalog())
	require.NoError(t, err)
	return db
}

func names(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func TestGenerateCatalogOrder(t *testing.T) {
	g := NewGenerator(seededStore(t), Options{})

	items, err := g.Generate(context.Background(), Request{VoyageType: "Pirate"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Cutlass of the Seven Seas", "Eye of the Storm Compass", "Grog of Eternal Life"}, names(items))
	for _, it := range items {
		assert.Regexp(t, `^https://picsum\.photos/200/200\?random=\d{1,3}$`, it.ImageURL)
	}
}

func TestGenerateUnknownVoyageFallsBack(t *testing.T) {
	g := NewGenerator(seededStore(t), Options{})

	items, err := g.Generate(context.Background(), Request{VoyageType: "desert"})
	require.NoError(t, err)
	assert.Equal(t, "Zero-Gravity Multi-Tool", items[0].Name)
}

func TestGenerateRanksByMission(t *testing.T) {
	g := NewGenerator(seededStore(t), Options{})

	items, err := g.Generate(context.Background(), Request{
		VoyageType:         "space",
		MissionDescription: "Plot a navigation course through the asteroid belt",
	})
	require.NoError(t, err)
	assert.Equal(t, "Quantum Navigation Device", items[0].Name)
	assert.Len(t, items, 3)
}

func TestGenerateEmptyCatalog(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = NewGenerator(db, Options{}).Generate(context.Background(), Request{VoyageType: "space"})
	assert.True(t, errors.Is(err, ErrEmptyCatalog))
}

func TestImageSeedStable(t *testing.T) {
	a := ImageSeed("Cutlass of the Seven Seas", "pirate")
	assert.Equal(t, a, ImageSeed("Cutlass of the Seven Seas", "pirate"))
	assert.Less(t, a, uint32(1000))
}

func TestRequestAcceptsSnakeCase(t *testing.T) {
	var r Request
	require.NoError(t, json.Unmarshal([]byte(`{"voyage_type":"jungle","mission_description":"find the temple"}`), &r))
	assert.Equal(t, Request{VoyageType: "jungle", MissionDescription: "find the temple"}, r)

	require.NoError(t, json.Unmarshal([]byte(`{"voyageType":"space","missionDescription":"orbit"}`), &r))
	assert.Equal(t, "space", r.VoyageType)
}

func TestStarterCatalogCategories(t *testing.T) {
	valid := map[string]bool{
		CategoryTools: true, CategorySafety: true, CategoryNavigation: true,
		CategoryCommunication: true, CategoryMedical: true,
	}
	rows := StarterCatalog()
	assert.Len(t, rows, 9)
	for _, r := range rows {
		assert.True(t, valid[r.Category], r.Name)
	}
}
