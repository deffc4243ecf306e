package testutil

import (
	"context"
	"sync"

	"github.com/roach88/shopsync/internal/ir"
)

// Call records one request made to a ScriptedRemote.
type Call struct {
	Op             string // create, update, delete, fetch, probe
	EntityType     ir.EntityType
	ID             string
	IdempotencyKey string
}

// ScriptedRemote is an in-memory server of record whose answers are
// scripted per operation.
//
// Each call to an operation pops the next scripted error for that
// operation (nil means success). When the script is empty the fallback
// error set with FailAll is returned (nil by default).
type ScriptedRemote struct {
	mu       sync.Mutex
	calls    []Call
	scripts  map[string][]error
	fallback error
	probeErr error
	fetch    map[string][]ir.Entity

	// OnCall, if set, runs inside every call before it returns, outside
	// the lock. Tests use it to flip connectivity mid-request.
	OnCall func(Call)
}

// NewScriptedRemote creates a remote that succeeds at everything.
func NewScriptedRemote() *ScriptedRemote {
	return &ScriptedRemote{
		scripts: map[string][]error{},
		fetch:   map[string][]ir.Entity{},
	}
}

// Script queues answers for op.
func (r *ScriptedRemote) Script(op string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[op] = append(r.scripts[op], errs...)
}

// FailAll sets the answer for every unscripted write or fetch.
// Pass nil to recover.
func (r *ScriptedRemote) FailAll(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = err
}

// SetProbe sets the answer for Probe.
func (r *ScriptedRemote) SetProbe(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probeErr = err
}

// SetFetch sets the entities Fetch returns for (t, key).
func (r *ScriptedRemote) SetFetch(t ir.EntityType, key string, entities ...ir.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetch[string(t)+"/"+key] = entities
}

// Calls returns a copy of every recorded call.
func (r *ScriptedRemote) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the recorded calls for one operation.
func (r *ScriptedRemote) CallsTo(op string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (r *ScriptedRemote) answer(c Call) error {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	var err error
	switch {
	case c.Op == "probe":
		err = r.probeErr
	case len(r.scripts[c.Op]) > 0:
		err = r.scripts[c.Op][0]
		r.scripts[c.Op] = r.scripts[c.Op][1:]
	default:
		err = r.fallback
	}
	hook := r.OnCall
	r.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return err
}

func (r *ScriptedRemote) Create(_ context.Context, e ir.Entity, key string) error {
	return r.answer(Call{Op: "create", EntityType: e.Type, ID: e.ID, IdempotencyKey: key})
}

func (r *ScriptedRemote) Update(_ context.Context, e ir.Entity, key string) error {
	return r.answer(Call{Op: "update", EntityType: e.Type, ID: e.ID, IdempotencyKey: key})
}

func (r *ScriptedRemote) Delete(_ context.Context, t ir.EntityType, id string, key string) error {
	return r.answer(Call{Op: "delete", EntityType: t, ID: id, IdempotencyKey: key})
}

func (r *ScriptedRemote) Fetch(_ context.Context, t ir.EntityType, key string) ([]ir.Entity, error) {
	if err := r.answer(Call{Op: "fetch", EntityType: t, ID: key}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ir.Entity(nil), r.fetch[string(t)+"/"+key]...), nil
}

func (r *ScriptedRemote) Probe(_ context.Context) error {
	return r.answer(Call{Op: "probe"})
}
