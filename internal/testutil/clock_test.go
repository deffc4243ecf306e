package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shopsync/internal/ir"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	assert.Equal(t, start, c.Now())
	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestSequentialKeys(t *testing.T) {
	g := NewSequentialKeys("")
	assert.Equal(t, "key-1", g.Generate())
	assert.Equal(t, "key-2", g.Generate())
}

func TestScriptedRemote_ScriptThenFallback(t *testing.T) {
	r := NewScriptedRemote()
	boom := errors.New("boom")
	ctx := context.Background()

	r.Script("delete", boom, nil)
	assert.ErrorIs(t, r.Delete(ctx, ir.EntityOrder, "o-1", "k"), boom)
	assert.NoError(t, r.Delete(ctx, ir.EntityOrder, "o-1", "k"))
	assert.NoError(t, r.Delete(ctx, ir.EntityOrder, "o-1", "k"))

	r.FailAll(boom)
	assert.ErrorIs(t, r.Delete(ctx, ir.EntityOrder, "o-1", "k"), boom)
	assert.NoError(t, r.Probe(ctx), "probe is scripted separately")

	require.Len(t, r.CallsTo("delete"), 4)
	assert.Equal(t, "k", r.CallsTo("delete")[0].IdempotencyKey)
}
