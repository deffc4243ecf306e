package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/shopsync/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against the runtime's final
// state and returns one message per failure.
func (h *Harness) EvaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var failures []string

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertQueueLength:
			err = h.assertQueueLength(ctx, a)
		case AssertRemoteCalls:
			err = h.assertRemoteCalls(a)
		case AssertEntity:
			err = h.assertEntity(a)
		case AssertEntityAbsent:
			err = h.assertEntityAbsent(a)
		case AssertConnection:
			err = h.assertConnection(a)
		case AssertMetrics:
			err = h.assertMetrics(a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}

		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) assertQueueLength(ctx context.Context, a Assertion) error {
	n, err := h.rt.Queue().Len(ctx)
	if err != nil {
		return fmt.Errorf("queue_length: %w", err)
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertQueueLength,
			Expected: fmt.Sprintf("%d queued operations", *a.Count),
			Actual:   fmt.Sprintf("%d queued operations", n),
		}
	}
	return nil
}

func (h *Harness) assertRemoteCalls(a Assertion) error {
	calls := h.remote.CallsTo(a.Op)

	if a.Count != nil && len(calls) != *a.Count {
		return &AssertionError{
			Type:     AssertRemoteCalls,
			Expected: fmt.Sprintf("%d %s calls", *a.Count, a.Op),
			Actual:   fmt.Sprintf("%d %s calls", len(calls), a.Op),
		}
	}

	if a.Keys != nil {
		keys := make([]string, 0, len(calls))
		for _, c := range calls {
			keys = append(keys, c.IdempotencyKey)
		}
		if !reflect.DeepEqual(keys, a.Keys) {
			return &AssertionError{
				Type:     AssertRemoteCalls,
				Expected: fmt.Sprintf("%s keys %v", a.Op, a.Keys),
				Actual:   fmt.Sprintf("%s keys %v", a.Op, keys),
			}
		}
	}
	return nil
}

func (h *Harness) assertEntity(a Assertion) error {
	e, ok := h.rt.Entity(ir.EntityType(a.EntityType), ir.NormalizeKey(a.ID))
	if !ok {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s %s present", a.EntityType, a.ID),
			Actual:   "not in store",
		}
	}
	if len(a.Expect) == 0 {
		return nil
	}

	var actual map[string]any
	if err := e.Decode(&actual); err != nil {
		return fmt.Errorf("entity: %w", err)
	}
	return matchSubset(AssertEntity, actual, a.Expect)
}

func (h *Harness) assertEntityAbsent(a Assertion) error {
	if e, ok := h.rt.Entity(ir.EntityType(a.EntityType), ir.NormalizeKey(a.ID)); ok {
		return &AssertionError{
			Type:     AssertEntityAbsent,
			Expected: fmt.Sprintf("%s %s absent", a.EntityType, a.ID),
			Actual:   string(e.Data),
		}
	}
	return nil
}

func (h *Harness) assertConnection(a Assertion) error {
	if got := h.rt.Monitor().State().String(); got != a.State {
		return &AssertionError{Type: AssertConnection, Expected: a.State, Actual: got}
	}
	return nil
}

func (h *Harness) assertMetrics(a Assertion) error {
	raw, err := json.Marshal(h.rt.MetricsSnapshot())
	if err != nil {
		return err
	}
	var actual map[string]any
	if err := json.Unmarshal(raw, &actual); err != nil {
		return err
	}
	return matchSubset(AssertMetrics, actual, a.Expect)
}

// matchSubset compares only the fields named in expected. Values are
// compared in their JSON form so YAML ints match decoded JSON numbers.
func matchSubset(kind string, actual, expected map[string]any) error {
	want, err := jsonNormalize(expected)
	if err != nil {
		return err
	}
	wantMap, _ := want.(map[string]any)

	for field, w := range wantMap {
		got, ok := actual[field]
		if !ok {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s = %v", field, w),
				Actual:   fmt.Sprintf("%s missing", field),
			}
		}
		if !reflect.DeepEqual(got, w) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s = %v", field, w),
				Actual:   fmt.Sprintf("%s = %v", field, got),
			}
		}
	}
	return nil
}

func jsonNormalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
