package importer

// pipeline.go is the evaluation pass shared by the dry-run simulator and the
// commit executor. Both walk the file in chunks; for each chunk the
// evaluator prefetches the reference snapshot (existing natural keys for
// referential checks plus this entity's own keys for cross-file duplicate
// detection) in one query per referenced entity, then runs the pure
// Validation Engine row by row. Running the same pass twice over an
// unchanged file against unchanged data yields identical verdicts.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// evaluator carries the per-run state of one pass over a file: the
// intra-file natural keys seen so far.
type evaluator struct {
	companyID string
	contract  *Contract
	mapping   Mapping
	records   RecordStore

	seen map[string]struct{}
}

func newEvaluator(companyID string, c *Contract, m Mapping, records RecordStore) *evaluator {
	return &evaluator{
		companyID: companyID,
		contract:  c,
		mapping:   m,
		records:   records,
		seen:      make(map[string]struct{}),
	}
}

// evaluateChunk validates a chunk of rows and applies duplicate detection.
// Verdicts come back in row order; duplicate rejections carry
// CodeDuplicateInFile or CodeDuplicateKey so reporting can distinguish them
// from other validation failures.
func (e *evaluator) evaluateChunk(ctx context.Context, rows []Row) ([]RowVerdict, error) {
	refs, ownExisting, err := e.prefetch(ctx, rows)
	if err != nil {
		return nil, err
	}

	verdicts := make([]RowVerdict, 0, len(rows))
	for _, row := range rows {
		v := ValidateRow(row, e.mapping, e.contract, refs)

		if v.Accepted() {
			key := v.NaturalKey
			if _, dup := e.seen[key]; dup {
				v = rejectDuplicate(v, CodeDuplicateInFile,
					"duplicate of an earlier row in this file")
			} else if _, exists := ownExisting[key]; exists {
				v = rejectDuplicate(v, CodeDuplicateKey,
					"a record with this key already exists")
			} else {
				e.seen[key] = struct{}{}
			}
		}

		verdicts = append(verdicts, v)
	}
	return verdicts, nil
}

// prefetch collects every natural key and referenced value the chunk could
// touch and resolves them against persisted data in one query per entity.
func (e *evaluator) prefetch(ctx context.Context, rows []Row) (MapRefs, map[string]struct{}, error) {
	candidates := make(map[EntityType]map[string]struct{})
	add := func(entity EntityType, key string) {
		if key == "" {
			return
		}
		if candidates[entity] == nil {
			candidates[entity] = make(map[string]struct{})
		}
		candidates[entity][key] = struct{}{}
	}

	for _, row := range rows {
		mapped := e.mapping.Apply(row.Cells)

		parts := make([]string, len(e.contract.NaturalKey))
		for i, name := range e.contract.NaturalKey {
			parts[i] = normalizeKeyPart(CleanCell(mapped[name]))
		}
		add(e.contract.Entity, strings.Join(parts, "\x1f"))

		for _, ref := range e.contract.References {
			add(ref.Entity, normalizeKeyPart(CleanCell(mapped[ref.Field])))
		}
	}

	refs := make(MapRefs)
	var ownExisting map[string]struct{}

	for entity, keySet := range candidates {
		keys := make([]string, 0, len(keySet))
		for k := range keySet {
			keys = append(keys, k)
		}

		existing, err := e.records.ExistingKeys(ctx, e.companyID, entity, keys)
		if err != nil {
			return nil, nil, &StorageError{Op: fmt.Sprintf("lookup %s keys", entity), Err: err}
		}

		for k := range existing {
			refs.Add(entity, k)
		}
		if entity == e.contract.Entity {
			ownExisting = existing
		}
	}

	if ownExisting == nil {
		ownExisting = make(map[string]struct{})
	}
	return refs, ownExisting, nil
}

// forEachChunk drains a reader in fixed-size chunks, checking for context
// cancellation between chunks.
func forEachChunk(ctx context.Context, r RowReader, size int, fn func([]Row) error) error {
	chunk := make([]Row, 0, size)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := fn(chunk); err != nil {
			return err
		}
		chunk = chunk[:0]
		return nil
	}

	for {
		row, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		chunk = append(chunk, row)
		if len(chunk) == size {
			if err := flush(); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func rejectDuplicate(v RowVerdict, code, msg string) RowVerdict {
	v.Kind = VerdictRejected
	v.Errors = append(v.Errors, RowError{
		RowIndex: v.Index,
		Code:     code,
		Message:  msg,
	})
	return v
}
