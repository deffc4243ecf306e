package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/shopsync/internal/cache"
	"github.com/roach88/shopsync/internal/core"
	"github.com/roach88/shopsync/internal/fault"
	"github.com/roach88/shopsync/internal/ir"
	"github.com/roach88/shopsync/internal/mutation"
	"github.com/roach88/shopsync/internal/realtime"
	"github.com/roach88/shopsync/internal/store"
	"github.com/roach88/shopsync/internal/testutil"
)

// Epoch is the manual clock's starting time for every scenario.
var Epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// Harness holds one scenario's runtime and its scripted collaborators.
type Harness struct {
	rt     *core.Runtime
	remote *testutil.ScriptedRemote
	clock  *testutil.ManualClock

	// seen is how many remote calls are already in the trace.
	seen int
}

// Run executes a scenario in a fresh database and returns the result.
//
// Execution flow:
//  1. Open a store in a temporary directory and seed the remote
//  2. Start a Runtime (offline), then reconnect if the scenario starts online
//  3. Execute steps in order, checking each expect clause
//  4. Evaluate assertions against the final state
//
// The returned error reports harness setup failures only; scenario
// failures are in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "shopsync-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		remote: testutil.NewScriptedRemote(),
		clock:  testutil.NewManualClock(Epoch),
	}
	if err := h.seed(scenario.Fetch); err != nil {
		return nil, err
	}

	feed, err := realtime.NewProvider(ctx, realtime.ProviderConfig{
		Provider:    realtime.ProviderGoChannel,
		TopicPrefix: "scenario." + scenario.Name,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open change feed: %w", err)
	}
	defer feed.Close()

	c := cache.New(cache.NewSQLiteBackend(st), cache.WithClock(h.clock.Now), cache.WithPerfLog(st, store.PerfLogCap))
	rt, err := core.New(ctx, core.Deps{Store: st, Cache: c, Remote: h.remote, Feed: feed}, core.Options{
		Clock:        h.clock.Now,
		KeyGenerator: testutil.NewSequentialKeys("op"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build runtime: %w", err)
	}
	if err := rt.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start runtime: %w", err)
	}
	defer rt.Close()
	h.rt = rt

	result := NewResult()
	if scenario.Online {
		rt.Monitor().HandleOnline(ctx)
		h.recordCalls(result)
	}

	for i, step := range scenario.Steps {
		ev, out := h.execute(ctx, step)
		result.addTrace(ev)
		h.recordCalls(result)

		if msg := checkExpect(step.Expect, out); msg != "" {
			result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, step.Kind(), msg))
		}
	}

	for _, msg := range h.EvaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) seed(seeds []FetchSeed) error {
	for _, s := range seeds {
		t, err := ir.ParseEntityType(s.Type)
		if err != nil {
			return err
		}
		entities := make([]ir.Entity, 0, len(s.Entities))
		for _, spec := range s.Entities {
			e, err := ir.NewEntity(t, spec.ID, dataOrEmpty(spec.Data))
			if err != nil {
				return fmt.Errorf("seed %s/%s: %w", s.Type, s.Key, err)
			}
			entities = append(entities, e)
		}
		h.remote.SetFetch(t, s.Key, entities...)
	}
	return nil
}

// outcome is what a step produced, for expect checking.
type outcome struct {
	status string
	count  *int
	err    error
}

func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, outcome) {
	ev := TraceEvent{Type: "step", Step: step.Kind()}
	var out outcome

	switch {
	case step.Read != nil:
		t, _ := ir.ParseEntityType(step.Read.Type)
		ev.EntityType, ev.Key = string(t), step.Read.Key
		entities, err := h.rt.ReadThroughCache(ctx, t, step.Read.Key)
		out.err = err
		if err == nil {
			n := len(entities)
			out.count = &n
		}

	case step.Mutate != nil:
		m, _ := buildMutation(*step.Mutate)
		ev.Op, ev.EntityType, ev.ID = string(m.Action()), string(m.EntityType()), m.EntityID()
		res, err := h.rt.Mutate(ctx, m)
		out.status, out.err = string(res.Status), err

	case step.Event != nil:
		t, change, _ := buildEvent(*step.Event)
		ev.Op, ev.EntityType, ev.ID = string(change.EventType), string(t), change.TargetID()
		if rec := h.rt.Reconciler(); rec != nil {
			out.err = rec.Apply(ctx, t, change)
		} else {
			out.err = errors.New("realtime reconciler is disabled")
		}
		if out.err == nil {
			out.status = "applied"
		}

	case step.Fail != nil:
		ferr, _ := scriptedError(*step.Fail)
		times := step.Fail.Times
		if times <= 0 {
			times = 1
		}
		for i := 0; i < times; i++ {
			h.remote.Script(step.Fail.Op, ferr)
		}
		ev.Op = step.Fail.Op
		ev.Outcome = string(fault.KindOf(ferr))
		ev.Count = &times
		return ev, out

	case step.Online:
		h.rt.Monitor().HandleOnline(ctx)
		out.status = h.rt.Monitor().State().String()

	case step.Offline:
		h.rt.Monitor().HandleOffline()
		out.status = h.rt.Monitor().State().String()

	case step.Advance != "":
		d, _ := time.ParseDuration(step.Advance)
		h.clock.Advance(d)
		ev.Key = step.Advance
		return ev, out

	case step.Refresh:
		n, err := h.rt.RefreshStale(ctx)
		out.count, out.err = &n, err
	}

	ev.Outcome = out.status
	if ev.Outcome == "" && out.err != nil {
		ev.Outcome = errorLabel(out.err)
	}
	ev.Count = out.count
	return ev, out
}

// recordCalls appends the remote calls made since the last record.
func (h *Harness) recordCalls(result *Result) {
	calls := h.remote.Calls()
	for _, c := range calls[h.seen:] {
		result.addTrace(TraceEvent{
			Type:       "call",
			Op:         c.Op,
			EntityType: string(c.EntityType),
			ID:         c.ID,
			Key:        c.IdempotencyKey,
		})
	}
	h.seen = len(calls)
}

func checkExpect(want *StepExpect, got outcome) string {
	if want == nil {
		return ""
	}

	if want.Error != "" {
		if got.err == nil {
			return fmt.Sprintf("expected %s, got success", want.Error)
		}
		if kind := string(fault.KindOf(got.err)); kind != want.Error {
			return fmt.Sprintf("expected %s, got %v", want.Error, got.err)
		}
	} else if got.err != nil && !(want.Status == string(mutation.StatusRejected) && fault.IsRejection(got.err)) {
		return fmt.Sprintf("unexpected error: %v", got.err)
	}

	if want.Status != "" && want.Status != got.status {
		return fmt.Sprintf("expected status %q, got %q", want.Status, got.status)
	}

	if want.Count != nil {
		if got.count == nil {
			return fmt.Sprintf("expected count %d, got none", *want.Count)
		}
		if *got.count != *want.Count {
			return fmt.Sprintf("expected count %d, got %d", *want.Count, *got.count)
		}
	}
	return ""
}

func errorLabel(err error) string {
	if kind := fault.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func buildMutation(s MutateStep) (ir.Mutation, error) {
	t, err := ir.ParseEntityType(s.Type)
	if err != nil {
		return nil, err
	}

	var m ir.Mutation
	switch ir.Action(s.Action) {
	case ir.ActionCreate, ir.ActionUpdate:
		e, err := ir.NewEntity(t, s.ID, dataOrEmpty(s.Data))
		if err != nil {
			return nil, err
		}
		if ir.Action(s.Action) == ir.ActionCreate {
			m = ir.Create{Entity: e}
		} else {
			m = ir.Update{Entity: e}
		}
	case ir.ActionDelete:
		m = ir.Delete{Type: t, ID: ir.NormalizeKey(s.ID)}
	default:
		return nil, fmt.Errorf("mutate: unknown action %q", s.Action)
	}

	if err := ir.ValidateMutation(m); err != nil {
		return nil, fmt.Errorf("mutate: %w", err)
	}
	return m, nil
}

func buildEvent(s EventStep) (ir.EntityType, ir.ChangeEvent, error) {
	t, err := ir.ParseEntityType(s.Type)
	if err != nil {
		return "", ir.ChangeEvent{}, err
	}

	ev := ir.ChangeEvent{EventType: ir.ChangeType(s.Event)}
	switch ev.EventType {
	case ir.ChangeInsert, ir.ChangeUpdate:
		e, err := ir.NewEntity(t, s.ID, dataOrEmpty(s.Data))
		if err != nil {
			return "", ir.ChangeEvent{}, err
		}
		ev.New = &e
	case ir.ChangeDelete:
		ev.Old = &ir.Entity{Type: t, ID: ir.NormalizeKey(s.ID)}
	}

	if err := ev.Validate(); err != nil {
		return "", ir.ChangeEvent{}, fmt.Errorf("event: %w", err)
	}
	return t, ev, nil
}

func scriptedError(s FailStep) (*fault.Fault, error) {
	msg := s.Message
	if msg == "" {
		msg = "scripted " + s.Error + " failure"
	}
	op := "remote." + s.Op

	switch s.Error {
	case "connectivity":
		return fault.Connectivity(op, errors.New(msg)), nil
	case "rejection":
		return fault.Rejection(op, errors.New(msg)), nil
	}
	return nil, fmt.Errorf("fail: unknown error %q", s.Error)
}

func dataOrEmpty(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return data
}
