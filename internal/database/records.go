package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/bluray-scraper/internal/models"
)

var ErrRecordNotFound = errors.New("record not found")

// RecordRepository stores completed disc records as JSONB keyed by source
// url, with the commerce ids split out for lookups.
type RecordRepository struct {
	db *DB
}

func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// UpsertWithTx writes rec inside tx and reports whether it was new.
func (r *RecordRepository) UpsertWithTx(ctx context.Context, tx pgx.Tx, rec *models.Record) (bool, error) {
	if rec.SourceURL == "" {
		return false, errors.New("record has no source url")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal record: %w", err)
	}

	query := `
		INSERT INTO disc_record (
			source_url, release_year, country, title,
			upc, amazon_id, ebay_id, missing_links, data
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (source_url) DO UPDATE SET
			release_year = EXCLUDED.release_year,
			country = EXCLUDED.country,
			title = EXCLUDED.title,
			upc = EXCLUDED.upc,
			amazon_id = EXCLUDED.amazon_id,
			ebay_id = EXCLUDED.ebay_id,
			missing_links = EXCLUDED.missing_links,
			data = EXCLUDED.data,
			updated_at = now()
		RETURNING (xmax = 0)`

	var inserted bool
	err = tx.QueryRow(ctx, query,
		rec.SourceURL, rec.ReleaseYear, rec.Country, rec.Title,
		rec.UPC, rec.ASIN, rec.MarketplaceID, rec.MissingLinks, data,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert record: %w", err)
	}

	return inserted, nil
}

func (r *RecordRepository) GetBySourceURL(ctx context.Context, sourceURL string) (*models.Record, error) {
	var data []byte
	err := r.db.pool.QueryRow(ctx,
		"SELECT data FROM disc_record WHERE source_url = $1", sourceURL).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

// SourceURLs lists the records stored for a release year and country.
func (r *RecordRepository) SourceURLs(ctx context.Context, releaseYear, country string) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT source_url
		FROM disc_record
		WHERE release_year = $1 AND country = $2
		ORDER BY created_at ASC`, releaseYear, country)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	return urls, nil
}
