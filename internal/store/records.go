package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve/importer/internal/importer"
)

// RecordStore answers natural-key existence queries for duplicate and
// referential checks against committed data.
type RecordStore struct {
	pool *pgxpool.Pool
}

func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

func (s *RecordStore) ExistingKeys(ctx context.Context, companyID string, entity importer.EntityType, keys []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT natural_key FROM imported_records
		WHERE company_id = $1 AND entity_type = $2 AND natural_key = ANY($3)`,
		companyID, string(entity), keys)
	if err != nil {
		return nil, fmt.Errorf("query existing keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan existing key: %w", err)
		}
		found[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing keys: %w", err)
	}
	return found, nil
}
