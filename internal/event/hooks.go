package event

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/grosser/soft-deletion/pkg/softdelete"
)

// Notify registers after hooks on tables that publish each soft delete and
// undelete of their records to bus, cascaded ones included.
func Notify(registry *softdelete.Registry, bus Bus, tables ...string) {
	for _, table := range tables {
		registry.AfterSoftDelete(table, publisher(bus, TypeSoftDeleted))
		registry.AfterSoftUndelete(table, publisher(bus, TypeSoftUndeleted))
	}
}

func publisher(bus Bus, typ Type) softdelete.Hook {
	return func(_ context.Context, rec softdelete.Record) error {
		bus.Publish(Event{
			ID:        uuid.NewString(),
			Type:      typ,
			Payload:   Record{Table: rec.TableName(), ID: rec.GetID()},
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
		return nil
	}
}
