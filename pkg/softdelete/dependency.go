package softdelete

import (
	"context"
	"fmt"
	"time"
)

func recordIDs(recs []Record) []string {
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.GetID())
	}
	return ids
}

// executeSoftDelete applies the policy of rel to the dependents of rec.
func (op *operation) executeSoftDelete(ctx context.Context, rec Record, rel Relationship) (bool, error) {
	deps, err := op.store.Associated(ctx, rec, rel)
	if err != nil {
		return false, fmt.Errorf("load %s dependents: %w", rel, err)
	}
	if len(deps) == 0 {
		return true, nil
	}

	switch rel.Policy {
	case PolicyNullify:
		values := map[string]any{rel.ForeignKey: nil}
		if err := op.store.UpdateWhere(ctx, rel.Target, recordIDs(deps), values); err != nil {
			return false, fmt.Errorf("nullify %s: %w", rel, err)
		}
	case PolicyBulkMark:
		values := op.engine.MarkFields(rel.Target, op.now)
		if err := op.store.UpdateWhere(ctx, rel.Target, recordIDs(deps), values); err != nil {
			return false, fmt.Errorf("mark %s: %w", rel, err)
		}
	case PolicyCascade:
		cause := rel
		for _, dep := range deps {
			ok, err := op.softDelete(ctx, dep, &cause)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

// executeSoftUndelete restores the dependents of rec that were deleted no
// earlier than limit. Live dependents are left alone.
func (op *operation) executeSoftUndelete(ctx context.Context, rec Record, rel Relationship, limit time.Time) (bool, error) {
	ctx = WithDeleted(ctx, rel.Target)

	deps, err := op.store.Associated(ctx, rec, rel)
	if err != nil {
		return false, fmt.Errorf("load %s dependents: %w", rel, err)
	}

	cause := rel
	for _, dep := range deps {
		deletedAt := dep.GetDeletedAt()
		if deletedAt == nil || deletedAt.Unix() < limit.Unix() {
			continue
		}
		ok, err := op.softUndelete(ctx, dep, &cause)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
