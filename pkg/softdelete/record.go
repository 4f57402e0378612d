package softdelete

import (
	"time"

	"github.com/google/uuid"
)

// DeletedAtColumn is the column holding the deletion marker.
const DeletedAtColumn = "deleted_at"

// Record is a persisted row that takes part in soft deletion.
type Record interface {
	TableName() string
	GetID() string
	GetDeletedAt() *time.Time
	SetDeletedAt(t *time.Time)
}

// Toucher is implemented by records with a secondary modification timestamp.
type Toucher interface {
	GetUpdatedAt() time.Time
	SetUpdatedAt(t time.Time)
}

// Messenger exposes validation messages accumulated on a record.
type Messenger interface {
	ErrorMessages() []string
}

// IsDeleted reports whether rec carries a deletion marker.
func IsDeleted(rec Record) bool {
	return rec.GetDeletedAt() != nil
}

// Model can be embedded into a struct to satisfy most of Record.
// The embedding type still provides TableName.
type Model struct {
	ID        string     `gorm:"primaryKey;size:36" db:"id" json:"id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `gorm:"index" db:"deleted_at" json:"deleted_at,omitempty"`
}

func (m *Model) GetID() string { return m.ID }

func (m *Model) GetDeletedAt() *time.Time { return m.DeletedAt }

func (m *Model) SetDeletedAt(t *time.Time) { m.DeletedAt = t }

func (m *Model) GetUpdatedAt() time.Time { return m.UpdatedAt }

func (m *Model) SetUpdatedAt(t time.Time) { m.UpdatedAt = t }

// EnsureID assigns a random UUID when the model has no ID yet and returns the ID.
func (m *Model) EnsureID() string {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return m.ID
}
