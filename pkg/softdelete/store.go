package softdelete

import "context"

// SaveOptions is handed to Store.Save.
type SaveOptions struct {
	SkipValidation bool
}

type SaveOption func(*SaveOptions)

// SkipValidation persists the record without running validations.
func SkipValidation() SaveOption {
	return func(o *SaveOptions) {
		o.SkipValidation = true
	}
}

func buildSaveOptions(opts []SaveOption) SaveOptions {
	var out SaveOptions
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

// Store is the record store the engine runs against.
//
// Implementations must apply Registry.Filter to every query they build for
// Associated, Owner and Find so that default scopes and overrides carried by ctx
// are honoured.
type Store interface {
	// Transaction runs fn inside one transaction. A non-nil error from fn rolls
	// back every write made through tx and is returned unchanged.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// UpdateWhere writes values to every row of table whose id is in ids,
	// bypassing hooks and validation.
	UpdateWhere(ctx context.Context, table string, ids []string, values map[string]any) error

	// Save persists rec. Validation failures are reported as *ValidationError.
	Save(ctx context.Context, rec Record, opts SaveOptions) error

	// Relationships lists the associations declared for table.
	Relationships(table string) []Relationship

	// Associated loads the records currently associated with rec through rel.
	Associated(ctx context.Context, rec Record, rel Relationship) ([]Record, error)

	// Owner loads the owner of rec through a BelongsTo relationship. It returns
	// nil and no error when rec has no owner.
	Owner(ctx context.Context, rec Record, rel Relationship) (Record, error)

	// Find loads the rows of table with the given ids.
	Find(ctx context.Context, table string, ids []string) ([]Record, error)

	// Increment atomically adds delta to column of the row id in table.
	Increment(ctx context.Context, table string, id string, column string, delta int) error
}
