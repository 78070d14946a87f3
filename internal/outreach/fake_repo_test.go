package outreach

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/clinicore/outreach/internal/redis"
)

// fakeRepo is an in-memory Repository for dispatcher/scheduler/action tests.
type fakeRepo struct {
	mu sync.Mutex

	events       map[uuid.UUID]*OutboundEvent
	workflows    map[uuid.UUID]*Workflow
	appointments map[uuid.UUID]*Appointment
	patients     map[uuid.UUID]*Patient
	requests     []*AppointmentRequest
	tokens       map[string]*TokenValidation
	usedTokens   map[string]bool

	denyClaim         bool // simulate a concurrent worker winning every claim
	failWorkflowClose bool // simulate companion workflow write failures
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		events:       make(map[uuid.UUID]*OutboundEvent),
		workflows:    make(map[uuid.UUID]*Workflow),
		appointments: make(map[uuid.UUID]*Appointment),
		patients:     make(map[uuid.UUID]*Patient),
		tokens:       make(map[string]*TokenValidation),
		usedTokens:   make(map[string]bool),
	}
}

func (f *fakeRepo) FetchDuePending(ctx context.Context, now time.Time, reclaimBefore time.Time, limit int) ([]OutboundEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var due []OutboundEvent
	for _, ev := range f.events {
		pendingDue := ev.Status == EventPending && !ev.ScheduledFor.After(now)
		stuck := ev.Status == EventProcessing && ev.UpdatedAt.Before(reclaimBefore)
		if pendingDue || stuck {
			due = append(due, *ev)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeRepo) ClaimEvent(ctx context.Context, id uuid.UUID, reclaimBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.denyClaim {
		return false, nil
	}

	ev, ok := f.events[id]
	if !ok {
		return false, nil
	}
	claimable := ev.Status == EventPending ||
		(ev.Status == EventProcessing && ev.UpdatedAt.Before(reclaimBefore))
	if !claimable {
		return false, nil
	}

	ev.Status = EventProcessing
	ev.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeRepo) MarkEventSent(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ev, ok := f.events[id]
	if !ok || ev.Status != EventProcessing {
		return ErrEventNotFound
	}
	ev.Status = EventSent
	ev.ProcessedAt = &processedAt
	ev.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRepo) MarkEventRetry(ctx context.Context, id uuid.UUID, retryCount int, lastError string, nextAttempt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ev, ok := f.events[id]
	if !ok || ev.Status != EventProcessing {
		return ErrEventNotFound
	}
	ev.Status = EventPending
	ev.RetryCount = retryCount
	ev.LastError = &lastError
	if nextAttempt.After(ev.ScheduledFor) {
		ev.ScheduledFor = nextAttempt
	}
	ev.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRepo) MarkEventDeadLetter(ctx context.Context, id uuid.UUID, retryCount int, lastError string, processedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ev, ok := f.events[id]
	if !ok || ev.Status != EventProcessing {
		return ErrEventNotFound
	}
	ev.Status = EventDeadLetter
	ev.RetryCount = retryCount
	ev.LastError = &lastError
	ev.ProcessedAt = &processedAt
	ev.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRepo) CreateEvent(ctx context.Context, ev *OutboundEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	cp := *ev
	cp.Status = EventPending
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = cp.CreatedAt
	f.events[cp.ID] = &cp
	return nil
}

func (f *fakeRepo) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	cp := *wf
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = cp.CreatedAt
	f.workflows[cp.ID] = &cp
	return nil
}

func (f *fakeRepo) FindActiveWorkflow(ctx context.Context, appointmentID uuid.UUID, wfType WorkflowType) (*Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, wf := range f.workflows {
		if wf.AppointmentID != nil && *wf.AppointmentID == appointmentID &&
			wf.Type == wfType &&
			(wf.Status == WorkflowPending || wf.Status == WorkflowSent) {
			cp := *wf
			return &cp, nil
		}
	}
	return nil, ErrWorkflowNotFound
}

func (f *fakeRepo) FindSentWorkflow(ctx context.Context, appointmentID uuid.UUID, types []WorkflowType) (*Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, wf := range f.workflows {
		if wf.AppointmentID == nil || *wf.AppointmentID != appointmentID || wf.Status != WorkflowSent {
			continue
		}
		for _, t := range types {
			if wf.Type == t {
				cp := *wf
				return &cp, nil
			}
		}
	}
	return nil, ErrWorkflowNotFound
}

func (f *fakeRepo) MarkWorkflowSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	wf, ok := f.workflows[id]
	if !ok || wf.Status != WorkflowPending {
		return ErrWorkflowNotFound
	}
	wf.Status = WorkflowSent
	wf.SentAt = &sentAt
	wf.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRepo) MarkWorkflowCompleted(ctx context.Context, id uuid.UUID, response string, respondedAt time.Time) error {
	return f.closeWorkflow(id, WorkflowCompleted, response, respondedAt)
}

func (f *fakeRepo) MarkWorkflowCancelled(ctx context.Context, id uuid.UUID, response string, respondedAt time.Time) error {
	return f.closeWorkflow(id, WorkflowCancelled, response, respondedAt)
}

func (f *fakeRepo) closeWorkflow(id uuid.UUID, to WorkflowStatus, response string, respondedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWorkflowClose {
		return ErrWorkflowNotFound
	}

	wf, ok := f.workflows[id]
	if !ok || (wf.Status != WorkflowPending && wf.Status != WorkflowSent) {
		return ErrWorkflowNotFound
	}
	wf.Status = to
	wf.Response = &response
	wf.RespondedAt = &respondedAt
	wf.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRepo) RescheduleAppointment(ctx context.Context, id uuid.UUID, newDate time.Time, newTime string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.Date = newDate
	a.StartTime = newTime
	a.Status = AppointmentScheduled
	a.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRepo) FindAppointmentsBetween(ctx context.Context, from, to time.Time, statuses []AppointmentStatus) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []Appointment
	for _, a := range f.appointments {
		at := combineDateTime(a.Date, a.StartTime)
		if at.Before(from) || at.After(to) {
			continue
		}
		for _, s := range statuses {
			if a.Status == s {
				result = append(result, *a)
				break
			}
		}
	}
	return result, nil
}

func combineDateTime(date time.Time, hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return date
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location())
}

func (f *fakeRepo) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) ValidateActionToken(ctx context.Context, token string) (*TokenValidation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.usedTokens[token] {
		return &TokenValidation{Valid: false, Reason: "token already used"}, nil
	}
	v, ok := f.tokens[token]
	if !ok {
		return &TokenValidation{Valid: false, Reason: "token not found"}, nil
	}
	cp := *v
	return &cp, nil
}

func (f *fakeRepo) MarkTokenUsed(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.usedTokens[token] = true
	return nil
}

func (f *fakeRepo) CreateAppointmentRequest(ctx context.Context, req *AppointmentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	cp := *req
	f.requests = append(f.requests, &cp)
	return nil
}

func (f *fakeRepo) event(id uuid.UUID) OutboundEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.events[id]
}

func (f *fakeRepo) workflow(id uuid.UUID) Workflow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.workflows[id]
}

func (f *fakeRepo) appointment(id uuid.UUID) Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.appointments[id]
}

// fakeLocker runs the callback inline; when held it simulates an overlapping
// dispatcher invocation owning the lock.
type fakeLocker struct {
	held bool
}

func (l *fakeLocker) WithDispatchLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.held {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}
