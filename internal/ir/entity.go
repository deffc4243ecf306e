package ir

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// EntityType names a collection of server-owned entities.
type EntityType string

const (
	EntityProduct  EntityType = "product"
	EntityCategory EntityType = "category"
	EntityOrder    EntityType = "order"
	EntityCustomer EntityType = "customer"
)

// EntityTypes lists every known entity type in a stable order.
var EntityTypes = []EntityType{EntityProduct, EntityCategory, EntityOrder, EntityCustomer}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (t EntityType) String() string {
	return string(t)
}

// ParseEntityType parses and validates an entity type name.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// Entity is one server-owned record held in the authoritative store.
// Data is canonical JSON (see CanonicalJSON).
type Entity struct {
	Type EntityType      `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEntity builds an Entity, marshalling data to canonical JSON.
func NewEntity(t EntityType, id string, data any) (Entity, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Entity{}, fmt.Errorf("marshal %s %s: %w", t, id, err)
	}
	return Entity{Type: t, ID: id, Data: raw}.Canonical()
}

// Canonical returns a copy with a normalized ID and canonical Data.
func (e Entity) Canonical() (Entity, error) {
	out := Entity{Type: e.Type, ID: NormalizeKey(e.ID)}
	if len(e.Data) == 0 {
		return out, nil
	}
	data, err := CanonicalJSON(e.Data)
	if err != nil {
		return Entity{}, fmt.Errorf("canonicalize %s %s: %w", e.Type, e.ID, err)
	}
	out.Data = data
	return out, nil
}

// Validate checks that the entity has a known type and a non-empty id.
func (e Entity) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("entity: unknown type %q", e.Type)
	}
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("entity: %s id must not be empty", e.Type)
	}
	return nil
}

// Equal reports whether two entities are byte-identical.
func (e Entity) Equal(other Entity) bool {
	return e.Type == other.Type && e.ID == other.ID && string(e.Data) == string(other.Data)
}

// Decode unmarshals the entity's data into v.
func (e Entity) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("entity %s %s has no data", e.Type, e.ID)
	}
	return json.Unmarshal(e.Data, v)
}

// NormalizeKey NFC-normalizes and trims a cache key or entity id so that
// visually identical keys address the same record.
func NormalizeKey(key string) string {
	return norm.NFC.String(strings.TrimSpace(key))
}
