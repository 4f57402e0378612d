package event

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grosser/soft-deletion/internal/model"
	"github.com/grosser/soft-deletion/internal/storage"
	"github.com/grosser/soft-deletion/pkg/softdelete"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBusFansOut(t *testing.T) {
	t.Parallel()

	bus := NewBus(quietLogger())
	first, unsubscribeFirst := bus.Subscribe()
	second, unsubscribeSecond := bus.Subscribe()
	defer unsubscribeSecond()

	bus.Publish(Event{ID: "1", Type: TypeSoftDeleted})
	assert.Equal(t, "1", (<-first).ID)
	assert.Equal(t, "1", (<-second).ID)

	unsubscribeFirst()
	_, open := <-first
	assert.False(t, open)

	unsubscribeFirst()
	bus.Publish(Event{ID: "2"})
	assert.Equal(t, "2", (<-second).ID)
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	t.Parallel()

	bus := NewBus(quietLogger())
	bus.buffer = 1
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(Event{ID: "kept"})
	bus.Publish(Event{ID: "dropped"})

	assert.Equal(t, "kept", (<-ch).ID)
	assert.Empty(t, ch)
}

func TestNotifyPublishesCascadedTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := softdelete.NewRegistry()
	require.NoError(t, model.Enable(registry))

	rels := model.Relationships()
	store := storage.NewMemStore(registry,
		storage.Table{Name: model.TableCategories, Relationships: rels[model.TableCategories]},
		storage.Table{Name: model.TableForums, Relationships: rels[model.TableForums]},
		storage.Table{Name: model.TablePosts, Relationships: rels[model.TablePosts]},
	)

	category := &model.Category{Name: "General"}
	require.NoError(t, store.Insert(ctx, category))
	forum := &model.Forum{Name: "Announcements", CategoryID: &category.ID}
	require.NoError(t, store.Insert(ctx, forum))

	bus := NewBus(quietLogger())
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	Notify(registry, bus, model.TableCategories, model.TableForums)

	engine := softdelete.New(store, registry, softdelete.WithLogger(quietLogger()))
	require.NoError(t, engine.SoftDelete(ctx, category))

	forumEvent := <-ch
	categoryEvent := <-ch
	assert.Equal(t, TypeSoftDeleted, forumEvent.Type)
	assert.Equal(t, Record{Table: model.TableForums, ID: forum.ID}, forumEvent.Payload)
	assert.Equal(t, Record{Table: model.TableCategories, ID: category.ID}, categoryEvent.Payload)
	assert.NotEmpty(t, categoryEvent.ID)

	require.NoError(t, engine.SoftUndelete(ctx, category))
	assert.Equal(t, TypeSoftUndeleted, (<-ch).Type)
}
