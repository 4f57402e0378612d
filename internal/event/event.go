package event

type Type string

const (
	TypeSoftDeleted   Type = "record.soft_deleted"
	TypeSoftUndeleted Type = "record.soft_undeleted"
)

// Record identifies the row a transition happened to.
type Record struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Payload   Record `json:"payload"`
	Timestamp string `json:"timestamp"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}
