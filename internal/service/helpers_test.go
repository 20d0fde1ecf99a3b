package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"approvals/internal/database/dbtest"
	"approvals/internal/model"
	"approvals/internal/notify"
	"approvals/internal/repository"
	"approvals/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var errAuditDown = errors.New("audit store unreachable")

// steppingClock advances by one second on every reading so audit entries
// written in sequence never share a timestamp.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *steppingClock {
	return &steppingClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDirectory struct {
	records map[string]map[string]interface{}
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{records: map[string]map[string]interface{}{
		"student/stu-1": {"name": "Amina", "grade": "P5", "guardian": "Halima"},
		"school/sch-1":  {"name": "Lake View", "region": "north"},
	}}
}

func (d *fakeDirectory) Exists(_ context.Context, targetType, targetID string) (bool, error) {
	if targetType == model.TargetPlatform {
		return true, nil
	}
	_, ok := d.records[targetType+"/"+targetID]
	return ok, nil
}

func (d *fakeDirectory) Fetch(_ context.Context, targetType, targetID string, fields []string) (map[string]interface{}, error) {
	rec, ok := d.records[targetType+"/"+targetID]
	if !ok {
		return nil, errors.New("target vanished")
	}
	out := map[string]interface{}{}
	if len(fields) == 0 {
		for k, v := range rec {
			out[k] = v
		}
		return out, nil
	}
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e notify.Event) error {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) actions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Action)
	}
	return out
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *recordingAlerter) Alert(_ context.Context, msg string, _ error, _ map[string]interface{}) {
	a.mu.Lock()
	a.alerts = append(a.alerts, msg)
	a.mu.Unlock()
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

// flakyAuditRepo fails appends for the actions listed in failing.
type flakyAuditRepo struct {
	repository.AuditRepository
	mu      sync.Mutex
	failing map[string]bool
}

func (r *flakyAuditRepo) Append(ctx context.Context, entry *model.AuditLog) error {
	r.mu.Lock()
	fail := r.failing[entry.Action]
	r.mu.Unlock()
	if fail {
		return errAuditDown
	}
	return r.AuditRepository.Append(ctx, entry)
}

func (r *flakyAuditRepo) setFailing(action string, fail bool) {
	r.mu.Lock()
	r.failing[action] = fail
	r.mu.Unlock()
}

// conflictingRepo loses every compare-and-swap, as if another writer always
// got there first.
type conflictingRepo struct {
	repository.ApprovalRepository
	mu    sync.Mutex
	swaps int
}

func (r *conflictingRepo) CompareAndSwap(context.Context, *model.ApprovalRequest, int64) error {
	r.mu.Lock()
	r.swaps++
	r.mu.Unlock()
	return repository.ErrVersionConflict
}

func (r *conflictingRepo) swapCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.swaps
}

type fixture struct {
	clock    *steppingClock
	requests repository.ApprovalRepository
	audits   *flakyAuditRepo
	notifier *recordingNotifier
	alerter  *recordingAlerter
	workflow service.Workflow

	registry service.ApprovalService
	quorum   service.QuorumService
	access   service.AccessService
	audit    service.AuditService
	reaper   *service.ExpiryReaper
}

func newFixture(t *testing.T, policy service.Policy) *fixture {
	t.Helper()
	db := dbtest.Open(t)

	f := &fixture{
		clock:    newClock(),
		requests: repository.NewApprovalRepository(db),
		audits: &flakyAuditRepo{
			AuditRepository: repository.NewAuditRepository(db),
			failing:         map[string]bool{},
		},
		notifier: &recordingNotifier{},
		alerter:  &recordingAlerter{},
	}
	f.audit = service.NewAuditService(f.audits, f.clock.Now)
	f.workflow = service.Workflow{
		Requests:  f.requests,
		Audit:     f.audit,
		Directory: newDirectory(),
		Notifier:  f.notifier,
		Alerter:   f.alerter,
		Tx:        repository.NewTransactionManager(db),
		Policy:    policy,
		Clock:     f.clock.Now,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	f.registry = service.NewApprovalService(f.workflow)
	f.quorum = service.NewQuorumService(f.workflow)
	f.access = service.NewAccessService(f.workflow)
	f.reaper = service.NewExpiryReaper(f.workflow, time.Minute)
	return f
}

func (f *fixture) create(t *testing.T, requestedBy string, required int) service.ApprovalRequestResponse {
	t.Helper()
	dto := service.CreateApprovalRequestDTO{
		ApprovalType:  model.ApprovalTypeStudentDataDrilldown,
		TargetType:    model.TargetStudent,
		TargetID:      "stu-1",
		Justification: "guardian dispute needs grade history",
		RequestedBy:   requestedBy,
	}
	if required > 0 {
		dto.RequiredApprovals = &required
	}
	resp, err := f.registry.CreateApprovalRequest(context.Background(), dto)
	require.NoError(t, err)
	return resp
}

func (f *fixture) load(t *testing.T, id string) *model.ApprovalRequest {
	t.Helper()
	resp, err := f.registry.GetApprovalRequest(context.Background(), id)
	require.NoError(t, err)
	req, err := f.requests.FindByID(context.Background(), uuid.MustParse(resp.ID))
	require.NoError(t, err)
	return req
}

func (f *fixture) trailActions(t *testing.T, id string) []string {
	t.Helper()
	trail, err := f.audit.ListForRequest(context.Background(), id)
	require.NoError(t, err)
	out := make([]string, 0, len(trail))
	for _, e := range trail {
		out = append(out, e.Action)
	}
	return out
}
