package ir

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEntity(t *testing.T, typ EntityType, id string, data any) Entity {
	t.Helper()
	e, err := NewEntity(typ, id, data)
	require.NoError(t, err)
	return e
}

func TestMutation_Accessors(t *testing.T) {
	p := mustEntity(t, EntityProduct, "p-1", map[string]any{"name": "Mug"})

	var m Mutation = Create{Entity: p}
	assert.Equal(t, ActionCreate, m.Action())
	assert.Equal(t, EntityProduct, m.EntityType())
	assert.Equal(t, "p-1", m.EntityID())

	m = Delete{Type: EntityOrder, ID: "o-9"}
	assert.Equal(t, ActionDelete, m.Action())
	assert.Equal(t, EntityOrder, m.EntityType())
	assert.Equal(t, "o-9", m.EntityID())
}

func TestUnmarshalMutation_DecodesByAction(t *testing.T) {
	c := mustEntity(t, EntityCustomer, "c-1", map[string]any{"email": "a@example.com"})

	payload, err := MarshalMutation(Update{Entity: c})
	require.NoError(t, err)

	got, err := UnmarshalMutation(ActionUpdate, payload)
	require.NoError(t, err)

	upd, ok := got.(Update)
	require.True(t, ok, "expected Update, got %T", got)
	assert.True(t, upd.Entity.Equal(c))
}

func TestUnmarshalMutation_UnknownAction(t *testing.T) {
	_, err := UnmarshalMutation(Action("upsert"), []byte(`{}`))
	assert.ErrorContains(t, err, "unknown action")
}

func TestValidateMutation(t *testing.T) {
	tests := []struct {
		name    string
		m       Mutation
		wantErr bool
	}{
		{"valid create", Create{Entity: Entity{Type: EntityProduct, ID: "p"}}, false},
		{"unknown type", Update{Entity: Entity{Type: "widget", ID: "w"}}, true},
		{"empty id", Delete{Type: EntityOrder, ID: " "}, true},
		{"nil", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMutation(tt.m)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQueuedOperation_MarshalJSON(t *testing.T) {
	op := QueuedOperation{
		ID:             7,
		Mutation:       Delete{Type: EntityCategory, ID: "cat-3"},
		EnqueuedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		RetryCount:     2,
		IdempotencyKey: "k-1",
	}

	data, err := json.Marshal(op)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "delete", decoded["action"])
	assert.Equal(t, "category", decoded["entity_type"])
	assert.Equal(t, "cat-3", decoded["entity_id"])
	assert.Equal(t, float64(2), decoded["retry_count"])
	assert.Equal(t, "k-1", decoded["idempotency_key"])
}

func TestChangeEvent_Validate(t *testing.T) {
	e := mustEntity(t, EntityProduct, "p-1", map[string]any{"name": "Mug"})

	assert.NoError(t, ChangeEvent{EventType: ChangeInsert, New: &e}.Validate())
	assert.Error(t, ChangeEvent{EventType: ChangeUpdate}.Validate())
	assert.NoError(t, ChangeEvent{EventType: ChangeDelete, Old: &Entity{ID: "p-1"}}.Validate())
	assert.Error(t, ChangeEvent{EventType: ChangeDelete}.Validate())
	assert.Error(t, ChangeEvent{EventType: "TRUNCATE"}.Validate())

	assert.Equal(t, "p-1", ChangeEvent{EventType: ChangeDelete, Old: &Entity{ID: "p-1"}}.TargetID())
}

func TestMetrics_PromptDelay(t *testing.T) {
	m := Metrics{AverageLoadTime: 400 * time.Millisecond}
	assert.Equal(t, 1200*time.Millisecond, m.PromptDelay(time.Second))
	assert.Equal(t, 2*time.Second, m.PromptDelay(2*time.Second))
}
