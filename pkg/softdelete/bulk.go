package softdelete

import (
	"context"
	"fmt"
)

// SoftDeleteAll marks the rows of table with the given ids deleted with one
// write, then cascades for each of them and runs their after hooks. Before
// hooks and validation do not run. Existing markers are overwritten.
func (e *Engine) SoftDeleteAll(ctx context.Context, table string, ids ...string) error {
	if !e.registry.Enabled(table) {
		return fmt.Errorf("%w: %s", ErrNotSoftDeletable, table)
	}
	if len(ids) == 0 {
		return nil
	}
	return e.softDeleteAll(ctx, table, uniqueIDs(ids), nil)
}

// SoftDeleteRecords is SoftDeleteAll for loaded records, which are updated in
// place. All records must belong to the same table.
func (e *Engine) SoftDeleteRecords(ctx context.Context, recs ...Record) error {
	if len(recs) == 0 {
		return nil
	}

	table := recs[0].TableName()
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		if rec.TableName() != table {
			return fmt.Errorf("%w: %s and %s", ErrMixedTables, table, rec.TableName())
		}
		ids = append(ids, rec.GetID())
	}
	if !e.registry.Enabled(table) {
		return fmt.Errorf("%w: %s", ErrNotSoftDeletable, table)
	}
	return e.softDeleteAll(ctx, table, uniqueIDs(ids), recs)
}

// uniqueIDs drops repeated ids, keeping the first occurrence.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (e *Engine) softDeleteAll(ctx context.Context, table string, ids []string, recs []Record) error {
	_, err := e.transact(ctx, raising, SaveOptions{}, func(ctx context.Context, op *operation) (bool, error) {
		if recs == nil {
			found, err := op.store.Find(WithDeleted(ctx, table), table, ids)
			if err != nil {
				return false, fmt.Errorf("load %s: %w", table, err)
			}
			recs = found
		}

		if err := op.store.UpdateWhere(ctx, table, ids, e.MarkFields(table, op.now)); err != nil {
			return false, fmt.Errorf("mark %s: %w", table, err)
		}

		for _, rec := range recs {
			wasLive := rec.GetDeletedAt() == nil
			op.stamp(rec, true)
			// Repeated rows cascade and count once.
			if !op.visit(actionDelete, rec) {
				continue
			}

			for _, rel := range e.dependents(op.store, table) {
				ok, err := op.executeSoftDelete(ctx, rec, rel)
				if err != nil || !ok {
					return false, err
				}
			}

			if wasLive {
				if err := op.adjustCounters(ctx, rec, -1, nil); err != nil {
					return false, err
				}
			}
			op.runAfter(ctx, EventSoftDelete, rec)
		}

		e.logger.Debug("records soft deleted in bulk", "table", table, "count", len(ids))
		return true, nil
	})
	return err
}
