package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"unicode"

	"github.com/petervdpas/voyage/internal/storage"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var log = logging.Logger("voyage/inventory")

var tracer = otel.Tracer("github.com/petervdpas/voyage/internal/inventory")

var ErrEmptyCatalog = errors.New("catalog has no items for this voyage")

// Store is the part of the catalog store the generator reads.
type Store interface {
	CatalogItems(voyageType string) ([]storage.CatalogRow, error)
}

// Request asks for a shop for one voyage. Both camelCase and snake_case
// field names are accepted on the wire.
type Request struct {
	VoyageType         string `json:"voyageType"`
	MissionDescription string `json:"missionDescription"`
}

func (r *Request) UnmarshalJSON(b []byte) error {
	var raw struct {
		VoyageType         string `json:"voyageType"`
		MissionDescription string `json:"missionDescription"`
		VoyageTypeSnake    string `json:"voyage_type"`
		MissionSnake       string `json:"mission_description"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.VoyageType = firstNonEmpty(raw.VoyageType, raw.VoyageTypeSnake)
	r.MissionDescription = firstNonEmpty(raw.MissionDescription, raw.MissionSnake)
	return nil
}

// Options configures a Generator.
type Options struct {
	// DefaultVoyage is used when the requested voyage type has no items.
	DefaultVoyage string
	// ImageBaseURL receives a ?random=<seed> query per item.
	ImageBaseURL string
}

// Generator builds shop inventories from the catalog.
type Generator struct {
	store Store
	opts  Options
}

func NewGenerator(store Store, opts Options) *Generator {
	if opts.DefaultVoyage == "" {
		opts.DefaultVoyage = "space"
	}
	if opts.ImageBaseURL == "" {
		opts.ImageBaseURL = "https://picsum.photos/200/200"
	}
	return &Generator{store: store, opts: opts}
}

// Generate returns the items for req.VoyageType, most relevant to the
// mission first. Unknown voyage types get the default voyage's items.
func (g *Generator) Generate(ctx context.Context, req Request) ([]Item, error) {
	voyage := strings.ToLower(strings.TrimSpace(req.VoyageType))
	_, span := tracer.Start(ctx, "inventory.generate")
	defer span.End()
	span.SetAttributes(attribute.String("voyage.type", voyage))

	rows, err := g.store.CatalogItems(voyage)
	if err == nil && len(rows) == 0 && voyage != g.opts.DefaultVoyage {
		log.Debugf("no catalog for %q, using %q", voyage, g.opts.DefaultVoyage)
		voyage = g.opts.DefaultVoyage
		rows, err = g.store.CatalogItems(voyage)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog lookup")
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if len(rows) == 0 {
		span.SetStatus(codes.Error, "empty catalog")
		return nil, fmt.Errorf("%w: %s", ErrEmptyCatalog, voyage)
	}

	rankByMission(rows, req.MissionDescription)

	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, Item{
			Name:        r.Name,
			Description: r.Description,
			Price:       r.Price,
			Category:    r.Category,
			ImageURL:    g.imageURL(r.Name, voyage),
		})
	}
	span.SetAttributes(attribute.Int("inventory.items", len(items)))
	return items, nil
}

func (g *Generator) imageURL(name, voyage string) string {
	return fmt.Sprintf("%s?random=%d", g.opts.ImageBaseURL, ImageSeed(name, voyage))
}

// ImageSeed is the stable placeholder image seed for an item, 0..999.
func ImageSeed(name, voyage string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name + voyage))
	return h.Sum32() % 1000
}

// rankByMission moves items that share words with the mission forward.
// Ties keep catalog order.
func rankByMission(rows []storage.CatalogRow, mission string) {
	words := tokenize(mission)
	if len(words) == 0 {
		return
	}
	score := make(map[int64]int, len(rows))
	for _, r := range rows {
		for w := range tokenize(r.Name + " " + r.Description + " " + r.Category) {
			if words[w] {
				score[r.ID]++
			}
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return score[rows[i].ID] > score[rows[j].ID]
	})
}

func tokenize(s string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(f) > 3 {
			out[f] = true
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
