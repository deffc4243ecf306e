package ir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the kind of write a mutation performs.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Mutation is a closed union of write intents: Create, Update, or Delete.
// The unexported marker keeps the set exhaustive; callers switch on the
// concrete type.
type Mutation interface {
	Action() Action
	EntityType() EntityType
	EntityID() string
	isMutation()
}

// Create inserts a new entity.
type Create struct {
	Entity Entity `json:"entity"`
}

// Update replaces an existing entity.
type Update struct {
	Entity Entity `json:"entity"`
}

// Delete removes an entity by id.
type Delete struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

func (Create) Action() Action           { return ActionCreate }
func (m Create) EntityType() EntityType { return m.Entity.Type }
func (m Create) EntityID() string       { return m.Entity.ID }
func (Create) isMutation()              {}

func (Update) Action() Action           { return ActionUpdate }
func (m Update) EntityType() EntityType { return m.Entity.Type }
func (m Update) EntityID() string       { return m.Entity.ID }
func (Update) isMutation()              {}

func (Delete) Action() Action           { return ActionDelete }
func (m Delete) EntityType() EntityType { return m.Type }
func (m Delete) EntityID() string       { return m.ID }
func (Delete) isMutation()              {}

// ValidateMutation checks the mutation's entity type and id.
func ValidateMutation(m Mutation) error {
	if m == nil {
		return fmt.Errorf("mutation must not be nil")
	}
	switch v := m.(type) {
	case Create:
		return v.Entity.Validate()
	case Update:
		return v.Entity.Validate()
	case Delete:
		return Entity{Type: v.Type, ID: v.ID}.Validate()
	default:
		return fmt.Errorf("unknown mutation type %T", m)
	}
}

// MarshalMutation encodes the mutation's payload. The action travels
// separately (it is its own column in the sync queue).
func MarshalMutation(m Mutation) ([]byte, error) {
	switch v := m.(type) {
	case Create, Update, Delete:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("marshal mutation: unknown type %T", m)
	}
}

// UnmarshalMutation decodes a payload produced by MarshalMutation.
func UnmarshalMutation(action Action, payload []byte) (Mutation, error) {
	switch action {
	case ActionCreate:
		var c Create
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("unmarshal create: %w", err)
		}
		return c, nil
	case ActionUpdate:
		var u Update
		if err := json.Unmarshal(payload, &u); err != nil {
			return nil, fmt.Errorf("unmarshal update: %w", err)
		}
		return u, nil
	case ActionDelete:
		var d Delete
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, fmt.Errorf("unmarshal delete: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unmarshal mutation: unknown action %q", action)
	}
}

// QueuedOperation is a mutation waiting in the sync queue for replay.
// ID is a monotonic sequence and defines replay order.
type QueuedOperation struct {
	ID             int64     `json:"id"`
	Mutation       Mutation  `json:"-"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	RetryCount     int       `json:"retry_count"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// MarshalJSON flattens the mutation into action/entity_type/payload fields.
func (op QueuedOperation) MarshalJSON() ([]byte, error) {
	type alias QueuedOperation
	out := struct {
		alias
		Action     Action     `json:"action"`
		EntityType EntityType `json:"entity_type"`
		EntityID   string     `json:"entity_id"`
		Payload    Mutation   `json:"payload"`
	}{alias: alias(op)}
	if op.Mutation != nil {
		out.Action = op.Mutation.Action()
		out.EntityType = op.Mutation.EntityType()
		out.EntityID = op.Mutation.EntityID()
		out.Payload = op.Mutation
	}
	return json.Marshal(out)
}
