package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario errors: %v", result.Errors)
		})
	}
}

func TestOfflineReplay_Golden(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/offline_replay.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "scenario errors: %v", result.Errors)
}

func TestRun_RecordsCallsAfterTheirStep(t *testing.T) {
	scenario := mustParse(t, `
name: trace_order
online: true
fetch:
  - type: customer
    key: c-1
    entities:
      - { id: c-1, data: { email: a@example.com } }
steps:
  - read: { type: customer, key: c-1 }
  - read: { type: customer, key: c-1 }
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "scenario errors: %v", result.Errors)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, "step", result.Trace[0].Type)
	assert.Equal(t, "call", result.Trace[1].Type)
	assert.Equal(t, "fetch", result.Trace[1].Op)
	assert.Equal(t, "c-1", result.Trace[1].ID)
	assert.Equal(t, "step", result.Trace[2].Type, "second read is a cache hit")
	assert.Equal(t, 3, result.Trace[2].Seq)
}

func TestRun_FailedExpectation(t *testing.T) {
	scenario := mustParse(t, `
name: wrong_status
online: false
steps:
  - mutate: { action: create, type: product, id: p-1, data: { price: 1 } }
    expect: { status: confirmed }
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `expected status "confirmed", got "queued"`)
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	scenario := mustParse(t, `
name: expected_error
online: true
steps:
  - read: { type: order, key: all }
    expect: { error: CONNECTIVITY_FAULT }
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected CONNECTIVITY_FAULT, got success")
}

func TestRun_FailedAssertions(t *testing.T) {
	scenario := mustParse(t, `
name: failed_assertions
online: false
steps:
  - mutate: { action: update, type: product, id: p-1, data: { price: 5 } }
assertions:
  - type: queue_length
    count: 0
  - type: entity
    entity_type: product
    id: p-1
    expect: { price: 6 }
  - type: entity_absent
    entity_type: product
    id: p-1
  - type: connection
    state: online
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "1 queued operations")
	assert.Contains(t, result.Errors[1], "price = 6")
	assert.Contains(t, result.Errors[2], "absent")
	assert.Contains(t, result.Errors[3], "Actual: offline")
}

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return s
}
