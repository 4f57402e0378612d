package softdelete_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/grosser/soft-deletion/internal/storage"
	"github.com/grosser/soft-deletion/pkg/softdelete"
)

func TestSoftDeleteCascadesAndUndeleteRestores(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a, b := f.authorWithBook(t)

	require.NoError(t, f.engine.SoftDelete(f.ctx, a))
	require.NotNil(t, a.DeletedAt)
	assert.True(t, a.DeletedAt.Equal(f.clock.Now()))

	storedBook := f.reload(t, b)
	require.NotNil(t, storedBook.GetDeletedAt())
	assert.True(t, storedBook.GetDeletedAt().Equal(*a.DeletedAt))

	require.NoError(t, f.engine.SoftUndelete(f.ctx, a))
	assert.Nil(t, a.DeletedAt)
	assert.Nil(t, f.reload(t, a).GetDeletedAt())
	assert.Nil(t, f.reload(t, b).GetDeletedAt())
}

func TestTrySoftDeleteReturnsTrue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a, b := f.authorWithBook(t)

	ok, err := f.engine.TrySoftDelete(f.ctx, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, softdelete.IsDeleted(f.reload(t, b)))

	ok, err = f.engine.TrySoftUndelete(f.ctx, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, softdelete.IsDeleted(f.reload(t, b)))
}

func TestSoftDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a, b := f.authorWithBook(t)

	calls := 0
	f.registry.BeforeSoftDelete("books", func(context.Context, softdelete.Record) error {
		calls++
		return nil
	})

	require.NoError(t, f.engine.SoftDelete(f.ctx, b))
	first := *b.DeletedAt

	f.clock.Advance(time.Minute)
	require.NoError(t, f.engine.SoftDelete(f.ctx, b))

	assert.Equal(t, 2, calls)
	assert.True(t, b.DeletedAt.Equal(first))
	assert.True(t, f.reload(t, b).GetDeletedAt().Equal(first))
	assert.Equal(t, 0, f.reload(t, a).(*author).BooksCount)
}

func TestSoftUndeleteKeepsOlderDependentsDeleted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := &author{Name: "Butler", BooksCount: 3}
	f.insert(t, a)
	old := &book{AuthorID: &a.ID, Title: "Kindred"}
	recent := &book{AuthorID: &a.ID, Title: "Dawn"}
	live := &book{AuthorID: &a.ID, Title: "Fledgling"}
	f.insert(t, old, recent, live)

	require.NoError(t, f.engine.SoftDelete(f.ctx, old))
	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.engine.SoftDelete(f.ctx, recent))
	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.engine.SoftDelete(f.ctx, a))

	require.NoError(t, f.engine.SoftUndelete(f.ctx, a))

	assert.True(t, softdelete.IsDeleted(f.reload(t, old)))
	assert.False(t, softdelete.IsDeleted(f.reload(t, recent)))
	assert.False(t, softdelete.IsDeleted(f.reload(t, live)))
}

func TestUndeleteWindowIsConfigurable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	engine := softdelete.New(f.store, f.registry,
		softdelete.WithClock(f.clock.Now),
		softdelete.WithUndeleteWindow(0),
	)
	a, b := f.authorWithBook(t)

	require.NoError(t, engine.SoftDelete(f.ctx, b))
	f.clock.Advance(time.Second)
	require.NoError(t, engine.SoftDelete(f.ctx, a))
	require.NoError(t, engine.SoftUndelete(f.ctx, a))

	assert.True(t, softdelete.IsDeleted(f.reload(t, b)))
}

func TestSoftUndeleteOfLiveRecordFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a, _ := f.authorWithBook(t)

	err := f.engine.SoftUndelete(f.ctx, a)
	require.ErrorIs(t, err, softdelete.ErrNotDeleted)

	ok, err := f.engine.TrySoftUndelete(f.ctx, a)
	require.ErrorIs(t, err, softdelete.ErrNotDeleted)
	assert.False(t, ok)
}

func TestNullifyClearsForeignKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, b := f.authorWithBook(t)
	r := &review{BookID: &b.ID}
	f.insert(t, r)

	require.NoError(t, f.engine.SoftDelete(f.ctx, b))

	stored := f.reload(t, r).(*review)
	assert.Nil(t, stored.BookID)
	assert.Nil(t, stored.DeletedAt)
}

func TestBulkMarkUsesOneUpdateWithoutHooks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, b := f.authorWithBook(t)
	p1 := &page{BookID: &b.ID}
	p2 := &page{BookID: &b.ID}
	f.insert(t, p1, p2)

	hooked := 0
	f.registry.BeforeSoftDelete("pages", func(context.Context, softdelete.Record) error {
		hooked++
		return nil
	})
	f.registry.AfterSoftDelete("pages", func(context.Context, softdelete.Record) error {
		hooked++
		return nil
	})

	require.NoError(t, f.engine.SoftDelete(f.ctx, b))

	assert.Zero(t, hooked)
	for _, p := range []*page{p1, p2} {
		stored := f.reload(t, p)
		require.NotNil(t, stored.GetDeletedAt())
		assert.True(t, stored.GetDeletedAt().Equal(f.clock.Now()))
	}

	var pageUpdates []storage.Update
	for _, u := range f.store.Updates() {
		if u.Table == "pages" {
			pageUpdates = append(pageUpdates, u)
		}
	}
	require.Len(t, pageUpdates, 1)
	assert.ElementsMatch(t, []string{p1.ID, p2.ID}, pageUpdates[0].IDs)
	assert.Contains(t, pageUpdates[0].Values, softdelete.DeletedAtColumn)
	assert.Contains(t, pageUpdates[0].Values, "updated_at")
}

func TestHasOneCascade(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, b := f.authorWithBook(t)
	c := &cover{BookID: &b.ID}
	f.insert(t, c)

	require.NoError(t, f.engine.SoftDelete(f.ctx, b))
	assert.True(t, softdelete.IsDeleted(f.reload(t, c)))

	require.NoError(t, f.engine.SoftUndelete(f.ctx, b))
	assert.False(t, softdelete.IsDeleted(f.reload(t, c)))
}

func TestDependentsOfDisabledTablesAreIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, b := f.authorWithBook(t)
	n := &note{BookID: &b.ID}
	f.insert(t, n)

	require.NoError(t, f.engine.SoftDelete(f.ctx, b))
	assert.False(t, softdelete.IsDeleted(f.reload(t, n)))

	names := make([]string, 0)
	for _, rel := range f.engine.Dependents("books") {
		names = append(names, rel.Name)
	}
	assert.Equal(t, []string{"reviews", "pages", "cover"}, names)
}

func TestUnregisteredTypeIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	n := &note{}
	f.insert(t, n)

	require.ErrorIs(t, f.engine.SoftDelete(f.ctx, n), softdelete.ErrNotSoftDeletable)
	_, err := f.engine.TrySoftDelete(f.ctx, n)
	require.ErrorIs(t, err, softdelete.ErrNotSoftDeletable)
}

func TestTouchColumnStaysMonotonic(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := &author{Name: "Jemisin"}
	a.UpdatedAt = f.clock.Now().Add(-time.Hour)
	f.insert(t, a)

	require.NoError(t, f.engine.SoftDelete(f.ctx, a))
	assert.True(t, a.UpdatedAt.Equal(*a.DeletedAt))

	future := f.clock.Now().Add(24 * time.Hour)
	a.UpdatedAt = future
	f.clock.Advance(time.Minute)
	require.NoError(t, f.engine.SoftUndelete(f.ctx, a))
	assert.True(t, a.UpdatedAt.Equal(future))
}

func TestFailingDependentRollsBackEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := &author{Name: "Banks", BooksCount: 2}
	f.insert(t, a)
	free := &book{AuthorID: &a.ID, Title: "Excession"}
	locked := &book{AuthorID: &a.ID, Title: "Matter", Locked: true}
	f.insert(t, free, locked)

	ok, err := f.engine.TrySoftDelete(f.ctx, a)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, a.DeletedAt)
	assert.False(t, softdelete.IsDeleted(f.reload(t, a)))
	assert.False(t, softdelete.IsDeleted(f.reload(t, free)))

	err = f.engine.SoftDelete(f.ctx, a)
	var hookErr *softdelete.HookFailedError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "before_soft_delete hook failed, errors: book is locked", err.Error())
	assert.True(t, softdelete.IsAbort(err))
	assert.Nil(t, a.DeletedAt)
	assert.False(t, softdelete.IsDeleted(f.reload(t, free)))
	assert.Equal(t, 2, f.reload(t, a).(*author).BooksCount)
}

func TestValidationFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a, _ := f.authorWithBook(t)
	a.Name = ""

	ok, err := f.engine.TrySoftDelete(f.ctx, a)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, a.DeletedAt)

	err = f.engine.SoftDelete(f.ctx, a)
	require.True(t, softdelete.IsValidation(err))
	assert.False(t, softdelete.IsDeleted(f.reload(t, a)))

	require.NoError(t, f.engine.SoftDelete(f.ctx, a, softdelete.SkipValidation()))
	assert.True(t, softdelete.IsDeleted(f.reload(t, a)))
}

func TestCyclicDependentsTerminate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := &node{}
	second := &node{}
	f.insert(t, first, second)
	first.PeerID = &second.ID
	second.PeerID = &first.ID
	require.NoError(t, f.store.Save(f.ctx, first, softdelete.SaveOptions{}))
	require.NoError(t, f.store.Save(f.ctx, second, softdelete.SaveOptions{}))

	require.NoError(t, f.engine.SoftDelete(f.ctx, first))
	assert.True(t, softdelete.IsDeleted(f.reload(t, first)))
	assert.True(t, softdelete.IsDeleted(f.reload(t, second)))

	require.NoError(t, f.engine.SoftUndelete(f.ctx, first))
	assert.False(t, softdelete.IsDeleted(f.reload(t, second)))
}

func TestWithStoreJoinsCallerTransaction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a, b := f.authorWithBook(t)
	boom := errors.New("boom")

	err := f.store.Transaction(f.ctx, func(tx softdelete.Store) error {
		require.NoError(t, f.engine.WithStore(tx).SoftDelete(f.ctx, a))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, softdelete.IsDeleted(f.reload(t, a)))
	assert.False(t, softdelete.IsDeleted(f.reload(t, b)))
}

func TestStoreFailureRestoresRecord(t *testing.T) {
	t.Parallel()

	registry := softdelete.NewRegistry()
	require.NoError(t, registry.Enable(&author{}, softdelete.Options{}))

	store := new(storage.MockStore)
	a := &author{Model: softdelete.Model{ID: "a1"}, Name: "Herbert"}
	diskFull := errors.New("disk full")

	store.On("Transaction", mock.Anything).Return(nil)
	store.On("Relationships", "authors").Return([]softdelete.Relationship(nil))
	store.On("Save", mock.Anything, a, softdelete.SaveOptions{}).Return(diskFull)

	engine := softdelete.New(store, registry)

	err := engine.SoftDelete(context.Background(), a)
	require.ErrorIs(t, err, diskFull)
	assert.Nil(t, a.DeletedAt)

	ok, err := engine.TrySoftDelete(context.Background(), a)
	require.ErrorIs(t, err, diskFull)
	assert.False(t, ok)
	store.AssertExpectations(t)
}

func TestMarkFields(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := f.clock.Now()

	assert.Equal(t, map[string]any{"deleted_at": now, "updated_at": now}, f.engine.MarkFields("books", now))

	require.NoError(t, f.registry.Enable(&note{}, softdelete.Options{}))
	assert.Equal(t, map[string]any{"deleted_at": now}, f.engine.MarkFields("notes", now))
}
