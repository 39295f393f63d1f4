package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/practice-platform/internal/changefeed"
	"github.com/wolfman30/practice-platform/internal/connection"
	"github.com/wolfman30/practice-platform/internal/gateway"
)

type fakeGateway struct {
	mu          sync.Mutex
	states      map[string]gateway.Observation
	errs        map[string]error
	artifact    string
	artifactErr error
	stateCalls  map[string]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		states:     make(map[string]gateway.Observation),
		errs:       make(map[string]error),
		stateCalls: make(map[string]int),
	}
}

func (g *fakeGateway) set(name string, obs gateway.Observation) {
	g.mu.Lock()
	g.states[name] = obs
	g.mu.Unlock()
}

func (g *fakeGateway) fail(name string, err error) {
	g.mu.Lock()
	g.errs[name] = err
	g.mu.Unlock()
}

func (g *fakeGateway) calls(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateCalls[name]
}

func (g *fakeGateway) ConnectionState(_ context.Context, name string) (gateway.Observation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stateCalls[name]++
	if err := g.errs[name]; err != nil {
		return gateway.Observation{}, err
	}
	return g.states[name], nil
}

func (g *fakeGateway) PairingArtifact(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.artifact, g.artifactErr
}

type memoryRepo struct {
	mu       sync.Mutex
	rows     map[string]connection.Instance
	upserts  int
	touches  int
	listErr  error
	listHook func()
}

func newMemoryRepo(instances ...connection.Instance) *memoryRepo {
	r := &memoryRepo{rows: make(map[string]connection.Instance)}
	for _, inst := range instances {
		r.rows[inst.AccountID] = inst
	}
	return r
}

func (r *memoryRepo) Get(_ context.Context, accountID string) (*connection.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.rows[accountID]
	if !ok {
		return nil, connection.ErrNotFound
	}
	return &inst, nil
}

func (r *memoryRepo) Upsert(_ context.Context, inst *connection.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[inst.AccountID] = *inst
	r.upserts++
	return nil
}

func (r *memoryRepo) Touch(_ context.Context, accountID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.rows[accountID]; ok {
		inst.LastCheckedAt = at
		r.rows[accountID] = inst
	}
	r.touches++
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, accountID)
	return nil
}

func (r *memoryRepo) ListLive(context.Context) ([]string, error) {
	if r.listHook != nil {
		r.listHook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []string
	for id, inst := range r.rows {
		if inst.Status.Live() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memoryRepo) get(accountID string) (connection.Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.rows[accountID]
	return inst, ok
}

type recordingAlerter struct {
	mu        sync.Mutex
	alerts    []string
	forgotten []string
}

func (a *recordingAlerter) Disconnected(accountID, _ string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, accountID)
	return true
}

func (a *recordingAlerter) Forget(accountID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forgotten = append(a.forgotten, accountID)
}

func (a *recordingAlerter) forgot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.forgotten...)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type fakeLog struct {
	mu      sync.Mutex
	recent  bool
	records []string
	lookups int
}

func (l *fakeLog) RecordedWithin(context.Context, string, time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lookups++
	return l.recent, nil
}

func (l *fakeLog) RecordDisconnect(_ context.Context, accountID, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, accountID)
	return nil
}

func (l *fakeLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

type fakeFeed struct {
	started chan struct{}
	stopped chan struct{}
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{started: make(chan struct{}, 4), stopped: make(chan struct{}, 4)}
}

func (f *fakeFeed) Run(ctx context.Context, _ changefeed.Handler) error {
	f.started <- struct{}{}
	<-ctx.Done()
	f.stopped <- struct{}{}
	return nil
}

func updateEvent(accountID, from, to string) changefeed.Event {
	ev := changefeed.Event{Type: changefeed.EventUpdate, New: &changefeed.Row{AccountID: accountID, Status: to}}
	if from != "" {
		ev.Old = &changefeed.Row{AccountID: accountID, Status: from}
	}
	return ev
}
