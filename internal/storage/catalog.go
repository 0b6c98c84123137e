package storage

import (
	"fmt"
	"strings"
)

// CatalogRow is one item the outfitter can stock for a voyage type.
type CatalogRow struct {
	ID          int64  `json:"id"`
	VoyageType  string `json:"voyage_type"`
	Position    int    `json:"position"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int    `json:"price"`
	Category    string `json:"category"`
}

const seededKey = "catalog_seeded"

// SeedCatalog inserts rows once per database. Later calls are no-ops, so
// edits made to the catalog after the first run survive restarts.
func (d *DB) SeedCatalog(rows []CatalogRow) (bool, error) {
	done, err := d.Meta(seededKey)
	if err != nil {
		return false, fmt.Errorf("read seed marker: %w", err)
	}
	if done != "" {
		return false, nil
	}

	d.mu.Lock()
	tx, err := d.db.Begin()
	if err != nil {
		d.mu.Unlock()
		return false, fmt.Errorf("begin seed: %w", err)
	}
	for _, r := range rows {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO catalog_items (voyage_type, position, name, description, price, category)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			strings.ToLower(r.VoyageType), r.Position, r.Name, r.Description, r.Price, r.Category,
		); err != nil {
			tx.Rollback()
			d.mu.Unlock()
			return false, fmt.Errorf("seed %q: %w", r.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		d.mu.Unlock()
		return false, fmt.Errorf("commit seed: %w", err)
	}
	d.mu.Unlock()

	if err := d.SetMeta(seededKey, "1"); err != nil {
		return false, fmt.Errorf("write seed marker: %w", err)
	}
	log.Infof("catalog seeded with %d item(s)", len(rows))
	return true, nil
}

// AddCatalogItem inserts or replaces the item with the same name for the
// same voyage type.
func (d *DB) AddCatalogItem(r CatalogRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(
		`INSERT INTO catalog_items (voyage_type, position, name, description, price, category)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(voyage_type, name) DO UPDATE SET
		   position = excluded.position,
		   description = excluded.description,
		   price = excluded.price,
		   category = excluded.category`,
		strings.ToLower(r.VoyageType), r.Position, r.Name, r.Description, r.Price, r.Category,
	)
	if err != nil {
		return fmt.Errorf("add catalog item: %w", err)
	}
	return nil
}

// CatalogItems returns the items for a voyage type in catalog order.
func (d *DB) CatalogItems(voyageType string) ([]CatalogRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(
		`SELECT id, voyage_type, position, name, description, price, category
		 FROM catalog_items WHERE voyage_type = ? ORDER BY position, id`,
		strings.ToLower(strings.TrimSpace(voyageType)),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CatalogRow
	for rows.Next() {
		var r CatalogRow
		if err := rows.Scan(&r.ID, &r.VoyageType, &r.Position, &r.Name, &r.Description, &r.Price, &r.Category); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// VoyageTypes lists the voyage types that have at least one item.
func (d *DB) VoyageTypes() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`SELECT DISTINCT voyage_type FROM catalog_items ORDER BY voyage_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
