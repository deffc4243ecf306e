// Package netmon tracks connectivity to the server of record and runs
// the reconnect sequence.
//
//	Offline ──online──▶ Reconnecting ──drain, refresh, stamp──▶ Online
//	   ▲                     │                                   │
//	   └──────offline────────┴────────offline / failed probe ────┘
//
// State reads are lock-free. Only the monitor changes the state.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/shopsync/internal/ir"
	"github.com/roach88/shopsync/internal/remote"
	"github.com/roach88/shopsync/internal/syncqueue"
)

// State is the monitor's connectivity state.
type State int32

const (
	Offline State = iota
	Online
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Online:
		return "online"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// DefaultProbeInterval is the liveness probe period.
const DefaultProbeInterval = 30 * time.Second

// Drainer replays queued mutations.
type Drainer interface {
	Drain(ctx context.Context) (syncqueue.DrainResult, error)
}

// idleWaiter is implemented by drainers that can report when a drain
// started elsewhere has finished.
type idleWaiter interface {
	Idle() <-chan struct{}
}

// Refresher re-fetches cache entries flagged stale.
type Refresher interface {
	RefreshStale(ctx context.Context) (int, error)
}

// ChangeFunc observes a state transition.
type ChangeFunc func(from, to State)

// Monitor is the Network Monitor.
type Monitor struct {
	state    atomic.Int32
	lastSync atomic.Int64 // unix nanos, 0 = never

	drainer        Drainer
	refresher      Refresher
	prober         remote.Prober
	interval       time.Duration
	probeTimeout   time.Duration
	recoverOnProbe bool
	persist        func(ctx context.Context, t time.Time) error
	now            func() time.Time

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	listeners  []ChangeFunc

	wg sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProber enables the liveness probe loop in Run.
func WithProber(p remote.Prober, interval time.Duration) Option {
	return func(m *Monitor) {
		m.prober = p
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithRecoverOnProbe treats a successful probe while offline as an online
// signal. Server processes have no platform connectivity events.
func WithRecoverOnProbe(enabled bool) Option {
	return func(m *Monitor) { m.recoverOnProbe = enabled }
}

// WithRefresher sets the stale-cache refresh step.
func WithRefresher(r Refresher) Option {
	return func(m *Monitor) { m.refresher = r }
}

// WithLastSyncPersist stores each new lastSyncTime.
func WithLastSyncPersist(fn func(ctx context.Context, t time.Time) error) Option {
	return func(m *Monitor) { m.persist = fn }
}

// WithLastSync restores a lastSyncTime from a previous run.
func WithLastSync(t time.Time) Option {
	return func(m *Monitor) {
		if !t.IsZero() {
			m.lastSync.Store(t.UnixNano())
		}
	}
}

// WithClock sets the time source for lastSyncTime.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor. online is the platform's connectivity report at
// startup; the monitor never reconnects on its own at construction.
func New(online bool, drainer Drainer, opts ...Option) *Monitor {
	m := &Monitor{
		drainer:  drainer,
		interval: DefaultProbeInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.probeTimeout == 0 {
		m.probeTimeout = min(m.interval/2, 10*time.Second)
	}
	if online {
		m.state.Store(int32(Online))
	}
	return m
}

// State returns the current state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// IsOnline reports whether the monitor believes the remote is reachable.
// Reconnecting counts as online.
func (m *Monitor) IsOnline() bool {
	return m.State() != Offline
}

// LastSyncTime returns the completion time of the last reconnect.
func (m *Monitor) LastSyncTime() time.Time {
	ns := m.lastSync.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// ConnectionState returns a snapshot for consumers.
func (m *Monitor) ConnectionState() ir.ConnectionState {
	s := m.State()
	return ir.ConnectionState{
		IsOnline:       s != Offline,
		IsReconnecting: s == Reconnecting,
		LastSyncTime:   m.LastSyncTime(),
	}
}

// OnChange registers a transition listener. Listeners run synchronously
// on the goroutine that caused the transition and must not block.
func (m *Monitor) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// HandleOnline processes a platform "online" signal and runs the
// reconnect sequence to completion: drain the sync queue, refresh stale
// cache entries, stamp lastSyncTime, then go Online. Step failures are
// logged and do not stop the sequence.
//
// A signal that arrives while a reconnect is running is a no-op. If
// HandleOffline is called meanwhile, the sequence stops at the next step
// boundary and neither lastSyncTime nor the Online state is written.
func (m *Monitor) HandleOnline(ctx context.Context) {
	m.mu.Lock()
	from := m.State()
	if from == Reconnecting {
		m.mu.Unlock()
		slog.Debug("online signal coalesced: reconnect in progress")
		return
	}
	m.generation++
	gen := m.generation
	rctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.state.Store(int32(Reconnecting))
	m.mu.Unlock()
	defer cancel()

	m.notify(from, Reconnecting)
	slog.Info("reconnecting", "from", from.String())

	if m.drainer != nil {
		m.drain(rctx)
	}
	if rctx.Err() != nil {
		slog.Info("reconnect abandoned", "step", "drain")
		return
	}

	if m.refresher != nil {
		n, err := m.refresher.RefreshStale(rctx)
		if err != nil {
			slog.Warn("reconnect: stale refresh failed", "error", err, "refreshed", n)
		} else if n > 0 {
			slog.Info("reconnect: stale entries refreshed", "count", n)
		}
	}
	if rctx.Err() != nil {
		slog.Info("reconnect abandoned", "step", "refresh")
		return
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		slog.Info("reconnect abandoned", "step", "finalize")
		return
	}
	synced := m.now().UTC()
	m.lastSync.Store(synced.UnixNano())
	m.state.Store(int32(Online))
	m.cancel = nil
	m.mu.Unlock()

	if m.persist != nil {
		if err := m.persist(context.WithoutCancel(ctx), synced); err != nil {
			slog.Warn("failed to persist last sync time", "error", err)
		}
	}

	m.notify(Reconnecting, Online)
	slog.Info("online", "last_sync_time", synced)
}

// drain runs one full drain pass. When another drain is already running
// (a reconnect cancelled by a network flap, or a manual drain), it waits
// for that drain to end and drains again, so the reconnect never goes
// Online with operations left behind.
func (m *Monitor) drain(ctx context.Context) {
	for {
		res, err := m.drainer.Drain(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("reconnect: drain failed", "error", err)
			return
		}
		if !res.Skipped {
			slog.Info("reconnect: queue drained", "succeeded", res.Succeeded, "failed", res.Failed, "dropped", res.Dropped)
			return
		}

		w, ok := m.drainer.(idleWaiter)
		if !ok {
			slog.Warn("reconnect: drain already running elsewhere")
			return
		}
		slog.Debug("reconnect: waiting for running drain")
		select {
		case <-w.Idle():
		case <-ctx.Done():
			return
		}
	}
}

// HandleOffline processes a platform "offline" signal. Any reconnect in
// progress is cancelled; remote calls it already issued are not aborted.
func (m *Monitor) HandleOffline() {
	m.mu.Lock()
	from := m.State()
	m.generation++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.state.Store(int32(Offline))
	m.mu.Unlock()

	if from != Offline {
		m.notify(from, Offline)
		slog.Info("offline", "from", from.String())
	}
}

// CheckLiveness runs one probe. A failed probe while the monitor claims
// online forces Offline. With recover-on-probe, a successful probe while
// Offline starts a reconnect in the background.
func (m *Monitor) CheckLiveness(ctx context.Context) error {
	if m.prober == nil {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.prober.Probe(pctx)
	cancel()

	switch {
	case err != nil && m.State() != Offline:
		slog.Warn("liveness probe failed, forcing offline", "error", err)
		m.HandleOffline()
	case err == nil && m.State() == Offline && m.recoverOnProbe:
		slog.Info("liveness probe succeeded while offline, reconnecting")
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.HandleOnline(ctx)
		}()
	}
	return err
}

// Run probes the remote every interval until ctx is done. It returns after
// any reconnect it started has finished.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.wg.Wait()

	if m.prober == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = m.CheckLiveness(ctx)
		}
	}
}

// Wait blocks until background reconnects started by CheckLiveness finish.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) notify(from, to State) {
	m.mu.Lock()
	listeners := append([]ChangeFunc(nil), m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(from, to)
	}
}
