package dispatch

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/fleetdeck/bridge-dispatch/internal/events"
	"github.com/fleetdeck/bridge-dispatch/internal/model"
	"github.com/fleetdeck/bridge-dispatch/internal/repository"
	"github.com/fleetdeck/bridge-dispatch/internal/runtime"
)

// ---- store fakes ----

type fakeConnections struct {
	mu    sync.Mutex
	conns map[string]model.Connection

	healthUpdates []healthUpdate
}

type healthUpdate struct {
	id, status, lastError string
}

func newFakeConnections(conns ...model.Connection) *fakeConnections {
	f := &fakeConnections{conns: make(map[string]model.Connection)}
	for _, c := range conns {
		f.conns[c.ID] = c
	}
	return f
}

func (f *fakeConnections) GetByID(_ context.Context, id string) (*model.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (f *fakeConnections) FindMatching(_ context.Context, filter repository.ConnectionFilter) ([]model.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	allow := map[string]bool{}
	for _, id := range filter.ConnectionIDs {
		allow[id] = true
	}

	var out []model.Connection
	for _, c := range f.conns {
		if c.DeploymentID != filter.DeploymentID {
			continue
		}
		if !filter.IncludeDisabled && !c.Enabled {
			continue
		}
		if filter.AutoRelayOnly && !c.AutoRelay {
			continue
		}
		if len(allow) > 0 && !allow[c.ID] {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeConnections) UpdateHealth(_ context.Context, id, status, lastError string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthUpdates = append(f.healthUpdates, healthUpdate{id, status, lastError})
	return nil
}

func (f *fakeConnections) UpdateCredentials(_ context.Context, id string, envelope json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Credentials = envelope
	f.conns[id] = c
	return nil
}

type fakeDeliveries struct {
	mu      sync.Mutex
	rows    map[string]*model.Delivery
	conns   *fakeConnections
	pruned  int
	created []string // insertion order
}

func newFakeDeliveries(conns *fakeConnections) *fakeDeliveries {
	return &fakeDeliveries{rows: make(map[string]*model.Delivery), conns: conns}
}

func (f *fakeDeliveries) InsertBatch(_ context.Context, rows []model.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range rows {
		d := rows[i]
		f.rows[d.ID] = &d
		f.created = append(f.created, d.ID)
	}
	return nil
}

func (f *fakeDeliveries) SelectDue(_ context.Context, limit int, deploymentID string, now time.Time) ([]repository.DueDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []repository.DueDelivery
	for _, id := range f.created {
		d := f.rows[id]
		if d == nil {
			continue
		}
		if deploymentID != "" && d.DeploymentID != deploymentID {
			continue
		}
		if !dueNow(d, now) {
			continue
		}
		out = append(out, repository.DueDelivery{
			Delivery:   *d,
			Connection: f.conns.conns[d.ConnectionID],
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func dueNow(d *model.Delivery, now time.Time) bool {
	switch d.Status {
	case model.DeliveryPending:
		return d.NextAttemptAt == nil || !d.NextAttemptAt.After(now)
	case model.DeliveryFailed:
		return d.NextAttemptAt != nil && !d.NextAttemptAt.After(now)
	}
	return false
}

// Claim mirrors the conditional UPDATE: one winner per eligible row, and
// eligibility is exactly the SelectDue predicate (terminal rows never match).
func (f *fakeDeliveries) Claim(_ context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.rows[id]
	if !ok {
		return false, nil
	}
	if !dueNow(d, now) {
		return false, nil
	}
	d.Status = model.DeliveryProcessing
	return true, nil
}

func (f *fakeDeliveries) MarkCompleted(_ context.Context, id, providerMessageID string, result []byte, deliveredAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.rows[id]
	d.Status = model.DeliveryCompleted
	d.DeliveredAt = &deliveredAt
	d.NextAttemptAt = nil
	d.LastError = ""
	d.ProviderMessageID = providerMessageID
	d.Result = result
	return nil
}

func (f *fakeDeliveries) MarkFailed(_ context.Context, id string, attempts int, lastError string, nextAttemptAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.rows[id]
	d.Status = model.DeliveryFailed
	d.Attempts = attempts
	d.LastError = lastError
	d.NextAttemptAt = nextAttemptAt
	return nil
}

func (f *fakeDeliveries) Prune(_ context.Context, deploymentID string, retain int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned++
	return 0, nil
}

func (f *fakeDeliveries) List(_ context.Context, deploymentID string, status model.DeliveryStatus, limit int) ([]model.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Delivery
	for _, id := range f.created {
		d := f.rows[id]
		if d.DeploymentID != deploymentID {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeDeliveries) get(id string) model.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

// ---- collaborator fakes ----

type fakeResolver struct {
	creds map[string]any
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, _ model.Provider, _ string, _ model.StoredCredentials) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.creds, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(_ context.Context, ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		kind, _ := ev.Payload["kind"].(string)
		out = append(out, kind)
	}
	return out
}

type fakeAdapter struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	res   runtime.Result
	err   error
}

func (a *fakeAdapter) Dispatch(_ context.Context, _ runtime.Request) (runtime.Result, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	return a.res, a.err
}

func (a *fakeAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
