package model

import (
	"context"

	"github.com/grosser/soft-deletion/pkg/softdelete"
)

const (
	TableCategories = "categories"
	TableForums     = "forums"
	TablePosts      = "posts"
)

// Category groups forums. Soft deleting a category cascades to its forums.
type Category struct {
	softdelete.Model
	Name        string  `gorm:"size:120;not null" db:"name" json:"name" validate:"required,max=120"`
	ForumsCount int     `gorm:"not null;default:0" db:"forums_count" json:"forums_count"`
	Forums      []Forum `gorm:"foreignKey:CategoryID" softdelete:"dependent:cascade" db:"-" json:"forums,omitempty"`
}

func (*Category) TableName() string { return TableCategories }

// Forum belongs to a category and keeps its forums_count current.
type Forum struct {
	softdelete.Model
	CategoryID *string   `gorm:"size:36;index" db:"category_id" json:"category_id"`
	Name       string    `gorm:"size:120;not null" db:"name" json:"name" validate:"required,max=120"`
	Locked     bool      `gorm:"not null;default:false" db:"locked" json:"locked"`
	Category   *Category `gorm:"foreignKey:CategoryID" softdelete:"counter_cache:forums_count" db:"-" json:"-"`
	Posts      []Post    `gorm:"foreignKey:ForumID" softdelete:"dependent:delete_all" db:"-" json:"posts,omitempty"`
}

func (*Forum) TableName() string { return TableForums }

// BeforeSoftDelete keeps locked forums in place.
func (f *Forum) BeforeSoftDelete(context.Context) error {
	if f.Locked {
		return softdelete.Abort(ErrForumLocked.Error())
	}
	return nil
}

// Post is bulk marked together with its forum, without hooks.
type Post struct {
	softdelete.Model
	ForumID *string `gorm:"size:36;index" db:"forum_id" json:"forum_id"`
	Body    string  `gorm:"type:text" db:"body" json:"body"`
}

func (*Post) TableName() string { return TablePosts }

// Relationships declares the associations of the demo tables for stores that
// do not reflect them from the schema.
func Relationships() map[string][]softdelete.Relationship {
	return map[string][]softdelete.Relationship{
		TableCategories: {
			{Name: "forums", Kind: softdelete.HasMany, Table: TableCategories, Target: TableForums, ForeignKey: "category_id", Policy: softdelete.PolicyCascade},
		},
		TableForums: {
			{Name: "category", Kind: softdelete.BelongsTo, Table: TableForums, Target: TableCategories, ForeignKey: "category_id", CounterCache: "forums_count"},
			{Name: "posts", Kind: softdelete.HasMany, Table: TableForums, Target: TablePosts, ForeignKey: "forum_id", Policy: softdelete.PolicyBulkMark},
		},
		TablePosts: {
			{Name: "forum", Kind: softdelete.BelongsTo, Table: TablePosts, Target: TableForums, ForeignKey: "forum_id"},
		},
	}
}

// Enable registers the demo tables for soft deletion.
func Enable(registry *softdelete.Registry) error {
	for _, m := range []softdelete.Record{&Category{}, &Forum{}, &Post{}} {
		if err := registry.Enable(m, softdelete.Options{DefaultScope: true, TouchColumn: "updated_at"}); err != nil {
			return err
		}
	}
	return nil
}
