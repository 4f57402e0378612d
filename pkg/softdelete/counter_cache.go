package softdelete

import (
	"context"
	"fmt"
)

// adjustCounters moves the counter caches of every owner of rec by delta.
// The owner whose own transition caused this one is skipped, since its
// counter no longer matters to it.
func (op *operation) adjustCounters(ctx context.Context, rec Record, delta int, cause *Relationship) error {
	for _, rel := range op.store.Relationships(rec.TableName()) {
		if rel.Kind != BelongsTo || rel.CounterCache == "" {
			continue
		}
		if triggeredBy(cause, rel) {
			continue
		}

		owner, err := op.store.Owner(ctx, rec, rel)
		if err != nil {
			return fmt.Errorf("load %s owner: %w", rel, err)
		}
		if owner == nil {
			continue
		}

		if err := op.store.Increment(ctx, rel.Target, owner.GetID(), rel.CounterCache, delta); err != nil {
			return fmt.Errorf("adjust %s.%s: %w", rel.Target, rel.CounterCache, err)
		}
	}
	return nil
}

// triggeredBy reports whether the belongs-to rel points back along cause.
func triggeredBy(cause *Relationship, rel Relationship) bool {
	return cause != nil && cause.Table == rel.Target && cause.ForeignKey == rel.ForeignKey
}
