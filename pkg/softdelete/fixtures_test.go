package softdelete_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grosser/soft-deletion/internal/storage"
	"github.com/grosser/soft-deletion/pkg/softdelete"
)

type author struct {
	softdelete.Model
	Name       string `db:"name" validate:"required"`
	BooksCount int    `db:"books_count"`
}

func (*author) TableName() string { return "authors" }

type book struct {
	softdelete.Model
	AuthorID *string  `db:"author_id"`
	Title    string   `db:"title"`
	Locked   bool     `db:"locked"`
	Errors   []string `db:"-"`
}

func (*book) TableName() string { return "books" }

func (b *book) BeforeSoftDelete(context.Context) error {
	if b.Locked {
		b.Errors = append(b.Errors, "book is locked")
		return softdelete.Abort("")
	}
	return nil
}

func (b *book) ErrorMessages() []string { return b.Errors }

type review struct {
	softdelete.Model
	BookID *string `db:"book_id"`
}

func (*review) TableName() string { return "reviews" }

type page struct {
	softdelete.Model
	BookID *string `db:"book_id"`
}

func (*page) TableName() string { return "pages" }

type cover struct {
	softdelete.Model
	BookID *string `db:"book_id"`
}

func (*cover) TableName() string { return "covers" }

// note is never enabled, so the cascade declared towards it is ignored.
type note struct {
	softdelete.Model
	BookID *string `db:"book_id"`
}

func (*note) TableName() string { return "notes" }

type node struct {
	softdelete.Model
	PeerID *string `db:"peer_id"`
}

func (*node) TableName() string { return "nodes" }

var tables = []storage.Table{
	{
		Name: "authors",
		Relationships: []softdelete.Relationship{
			{Name: "books", Kind: softdelete.HasMany, Table: "authors", Target: "books", ForeignKey: "author_id", Policy: softdelete.PolicyCascade},
		},
	},
	{
		Name: "books",
		Relationships: []softdelete.Relationship{
			{Name: "author", Kind: softdelete.BelongsTo, Table: "books", Target: "authors", ForeignKey: "author_id", CounterCache: "books_count"},
			{Name: "reviews", Kind: softdelete.HasMany, Table: "books", Target: "reviews", ForeignKey: "book_id", Policy: softdelete.PolicyNullify},
			{Name: "pages", Kind: softdelete.HasMany, Table: "books", Target: "pages", ForeignKey: "book_id", Policy: softdelete.PolicyBulkMark},
			{Name: "cover", Kind: softdelete.HasOne, Table: "books", Target: "covers", ForeignKey: "book_id", Policy: softdelete.PolicyCascade},
			{Name: "notes", Kind: softdelete.HasMany, Table: "books", Target: "notes", ForeignKey: "book_id", Policy: softdelete.PolicyCascade},
		},
	},
	{Name: "reviews"},
	{Name: "pages"},
	{Name: "covers"},
	{Name: "notes"},
	{
		Name: "nodes",
		Relationships: []softdelete.Relationship{
			{Name: "peers", Kind: softdelete.HasMany, Table: "nodes", Target: "nodes", ForeignKey: "peer_id", Policy: softdelete.PolicyCascade},
		},
	},
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	ctx      context.Context
	registry *softdelete.Registry
	store    *storage.MemStore
	engine   *softdelete.Engine
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := softdelete.NewRegistry()
	opts := softdelete.Options{DefaultScope: true, TouchColumn: "updated_at"}
	for _, rec := range []softdelete.Record{&author{}, &book{}, &review{}, &page{}, &cover{}, &node{}} {
		require.NoError(t, registry.Enable(rec, opts))
	}

	c := &clock{now: time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := storage.NewMemStore(registry, tables...)
	engine := softdelete.New(store, registry,
		softdelete.WithClock(c.Now),
		softdelete.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	return &fixture{
		ctx:      context.Background(),
		registry: registry,
		store:    store,
		engine:   engine,
		clock:    c,
	}
}

func (f *fixture) insert(t *testing.T, recs ...softdelete.Record) {
	t.Helper()
	require.NoError(t, f.store.Insert(f.ctx, recs...))
}

// reload reads the stored row of rec, deleted or not.
func (f *fixture) reload(t *testing.T, rec softdelete.Record) softdelete.Record {
	t.Helper()
	row, err := f.store.Get(softdelete.WithDeleted(f.ctx, rec.TableName()), rec.TableName(), rec.GetID())
	require.NoError(t, err)
	return row
}

// authorWithBook inserts a live author owning one live book.
func (f *fixture) authorWithBook(t *testing.T) (*author, *book) {
	t.Helper()

	a := &author{Name: "Le Guin", BooksCount: 1}
	f.insert(t, a)
	b := &book{AuthorID: &a.ID, Title: "The Dispossessed"}
	f.insert(t, b)
	return a, b
}

func ptr[T any](v T) *T { return &v }
