package outreach

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/outreach/internal/config"
)

func testSchedulerConfig() config.Config {
	return config.Config{
		LookaheadFrom: 23 * time.Hour,
		LookaheadTo:   25 * time.Hour,
	}
}

func seedPatient(t *testing.T, repo *fakeRepo, phone string) uuid.UUID {
	t.Helper()

	p := &Patient{ID: uuid.New(), Name: "Maria Souza"}
	if phone != "" {
		p.Phone = &phone
	}
	repo.patients[p.ID] = p
	return p.ID
}

func seedUpcomingAppointment(t *testing.T, repo *fakeRepo, patientID uuid.UUID, in time.Duration, status AppointmentStatus) uuid.UUID {
	t.Helper()

	at := time.Now().Add(in)
	a := &Appointment{
		ID:             uuid.New(),
		PatientID:      patientID,
		PractitionerID: uuid.New(),
		Date:           time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location()),
		StartTime:      at.Format("15:04"),
		DurationMin:    45,
		Status:         status,
	}
	repo.appointments[a.ID] = a
	return a.ID
}

func TestSchedulerCreatesWorkflowAndEvent(t *testing.T) {
	repo := newFakeRepo()
	patientID := seedPatient(t, repo, "+5511988887777")
	apptID := seedUpcomingAppointment(t, repo, patientID, 24*time.Hour, AppointmentScheduled)

	s := NewScheduler(repo, testSchedulerConfig())

	result, err := s.RunPreConfirmations(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunPreConfirmations() error = %v", err)
	}
	if result.Checked != 1 || result.Created != 1 || result.Skipped != 0 {
		t.Errorf("result = %+v, want checked=1 created=1", result)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}

	wf, err := repo.FindActiveWorkflow(context.Background(), apptID, WorkflowPreConfirmation)
	if err != nil {
		t.Fatalf("workflow not created: %v", err)
	}
	if wf.Status != WorkflowPending {
		t.Errorf("workflow status = %s, want pending", wf.Status)
	}
	if wf.Phone != "+5511988887777" {
		t.Errorf("workflow phone = %q", wf.Phone)
	}

	events, err := repo.FetchDuePending(context.Background(), time.Now(), time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d pending events, want 1", len(events))
	}
	ev := events[0]
	if ev.EventType != "appointment.pre_confirmation" {
		t.Errorf("event type = %q", ev.EventType)
	}
	if ev.WorkflowID == nil || *ev.WorkflowID != wf.ID {
		t.Errorf("event workflow reference = %v, want %s", ev.WorkflowID, wf.ID)
	}
	if ev.MaxRetries != defaultMaxRetries {
		t.Errorf("event max_retries = %d", ev.MaxRetries)
	}
}

func TestSchedulerIdempotent(t *testing.T) {
	repo := newFakeRepo()
	patientID := seedPatient(t, repo, "+5511988887777")
	seedUpcomingAppointment(t, repo, patientID, 24*time.Hour, AppointmentScheduled)

	s := NewScheduler(repo, testSchedulerConfig())

	first, err := s.RunPreConfirmations(context.Background(), nil)
	if err != nil {
		t.Fatalf("first run error = %v", err)
	}
	if first.Created != 1 {
		t.Fatalf("first run = %+v, want created=1", first)
	}

	second, err := s.RunPreConfirmations(context.Background(), nil)
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if second.Created != 0 || second.Skipped != 1 {
		t.Errorf("second run = %+v, want created=0 skipped=1", second)
	}

	if got := len(repo.workflows); got != 1 {
		t.Errorf("workflow count after rerun = %d, want 1", got)
	}
	if got := len(repo.events); got != 1 {
		t.Errorf("event count after rerun = %d, want 1", got)
	}
}

func TestSchedulerSkipsOutsideWindowAndWrongStatus(t *testing.T) {
	repo := newFakeRepo()
	patientID := seedPatient(t, repo, "+5511988887777")
	seedUpcomingAppointment(t, repo, patientID, 2*time.Hour, AppointmentScheduled)    // too soon
	seedUpcomingAppointment(t, repo, patientID, 72*time.Hour, AppointmentScheduled)   // too far
	seedUpcomingAppointment(t, repo, patientID, 24*time.Hour, AppointmentCancelled)   // wrong status
	inWindow := seedUpcomingAppointment(t, repo, patientID, 24*time.Hour, AppointmentPreConfirmed)

	s := NewScheduler(repo, testSchedulerConfig())

	result, err := s.RunPreConfirmations(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunPreConfirmations() error = %v", err)
	}
	if result.Checked != 1 || result.Created != 1 {
		t.Errorf("result = %+v, want checked=1 created=1", result)
	}

	if _, err := repo.FindActiveWorkflow(context.Background(), inWindow, WorkflowPreConfirmation); err != nil {
		t.Errorf("in-window appointment missing workflow: %v", err)
	}
}

func TestSchedulerMissingPhone(t *testing.T) {
	repo := newFakeRepo()
	patientID := seedPatient(t, repo, "")
	apptID := seedUpcomingAppointment(t, repo, patientID, 24*time.Hour, AppointmentScheduled)

	s := NewScheduler(repo, testSchedulerConfig())

	result, err := s.RunPreConfirmations(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunPreConfirmations() error = %v", err)
	}
	if result.Created != 0 {
		t.Errorf("created = %d, want 0", result.Created)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "no phone") {
		t.Errorf("errors = %v, want one mentioning the missing phone", result.Errors)
	}
	if _, err := repo.FindActiveWorkflow(context.Background(), apptID, WorkflowPreConfirmation); err == nil {
		t.Error("workflow created despite missing phone")
	}
}

func TestSchedulerTargetDatePinsWindow(t *testing.T) {
	repo := newFakeRepo()
	patientID := seedPatient(t, repo, "+5511988887777")

	// Five days out: outside the rolling window, inside the pinned day.
	at := time.Now().AddDate(0, 0, 5)
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	a := &Appointment{
		ID:             uuid.New(),
		PatientID:      patientID,
		PractitionerID: uuid.New(),
		Date:           day,
		StartTime:      "10:00",
		DurationMin:    30,
		Status:         AppointmentScheduled,
	}
	repo.appointments[a.ID] = a

	s := NewScheduler(repo, testSchedulerConfig())

	rolling, err := s.RunPreConfirmations(context.Background(), nil)
	if err != nil {
		t.Fatalf("rolling run error = %v", err)
	}
	if rolling.Checked != 0 {
		t.Errorf("rolling window checked = %d, want 0", rolling.Checked)
	}

	pinned, err := s.RunPreConfirmations(context.Background(), &day)
	if err != nil {
		t.Fatalf("pinned run error = %v", err)
	}
	if pinned.Checked != 1 || pinned.Created != 1 {
		t.Errorf("pinned run = %+v, want checked=1 created=1", pinned)
	}
}
