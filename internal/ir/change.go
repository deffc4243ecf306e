package ir

import "fmt"

// ChangeType is the server-side operation a change event reports.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one server-pushed change notification.
// INSERT and UPDATE carry New; DELETE carries Old (or at least its id).
type ChangeEvent struct {
	EventType ChangeType `json:"eventType"`
	New       *Entity    `json:"new,omitempty"`
	Old       *Entity    `json:"old,omitempty"`
}

// TargetID returns the id of the entity the event concerns.
func (ev ChangeEvent) TargetID() string {
	switch ev.EventType {
	case ChangeDelete:
		if ev.Old != nil {
			return ev.Old.ID
		}
		if ev.New != nil {
			return ev.New.ID
		}
	default:
		if ev.New != nil {
			return ev.New.ID
		}
	}
	return ""
}

// Validate checks the event carries what its type requires.
func (ev ChangeEvent) Validate() error {
	switch ev.EventType {
	case ChangeInsert, ChangeUpdate:
		if ev.New == nil {
			return fmt.Errorf("%s event without new record", ev.EventType)
		}
		return nil
	case ChangeDelete:
		if ev.TargetID() == "" {
			return fmt.Errorf("DELETE event without id")
		}
		return nil
	default:
		return fmt.Errorf("unknown change event type %q", ev.EventType)
	}
}
