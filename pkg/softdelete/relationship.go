package softdelete

import (
	"fmt"
	"strings"
)

// Policy is the action applied to dependents when their owner changes state.
type Policy int

const (
	PolicyNone Policy = iota
	PolicyCascade
	PolicyNullify
	PolicyBulkMark
)

func (p Policy) String() string {
	switch p {
	case PolicyCascade:
		return "cascade"
	case PolicyNullify:
		return "nullify"
	case PolicyBulkMark:
		return "bulk"
	default:
		return "none"
	}
}

// ParsePolicy maps a declared policy name to a Policy. The names used by
// ActiveRecord style declarations (destroy, delete_all) are accepted as aliases.
func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return PolicyNone, nil
	case "cascade", "destroy":
		return PolicyCascade, nil
	case "nullify":
		return PolicyNullify, nil
	case "bulk", "bulk_mark", "delete_all":
		return PolicyBulkMark, nil
	default:
		return PolicyNone, fmt.Errorf("softdelete: unknown dependent policy %q", raw)
	}
}

// Kind is the shape of an association.
type Kind int

const (
	HasMany Kind = iota
	HasOne
	BelongsTo
)

func (k Kind) String() string {
	switch k {
	case HasOne:
		return "has_one"
	case BelongsTo:
		return "belongs_to"
	default:
		return "has_many"
	}
}

// Relationship declares a named association of Table to Target.
//
// For HasMany and HasOne the ForeignKey column lives on Target; for BelongsTo
// it lives on Table. CounterCache names the counter column on the owner and is
// only meaningful for BelongsTo.
type Relationship struct {
	Name         string
	Kind         Kind
	Table        string
	Target       string
	ForeignKey   string
	Policy       Policy
	CounterCache string
}

func (r Relationship) dependent() bool {
	return r.Kind != BelongsTo && r.Policy != PolicyNone
}

func (r Relationship) String() string {
	return fmt.Sprintf("%s.%s(%s -> %s.%s, %s)", r.Table, r.Name, r.Kind, r.Target, r.ForeignKey, r.Policy)
}
