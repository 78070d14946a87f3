package outreach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/clinicore/outreach/internal/config"
)

const defaultMaxRetries = 3

// SchedulerResult aggregates one pre-confirmation pass.
type SchedulerResult struct {
	Checked int
	Created int
	Skipped int
	Errors  []string
}

// Scheduler materializes one pre-confirmation workflow and event per
// appointment entering the lookahead window. Re-running over the same window
// is a no-op for appointments that already have an active workflow, so the
// engine may trigger it on an overlapping or retried schedule.
type Scheduler struct {
	repo          Repository
	lookaheadFrom time.Duration
	lookaheadTo   time.Duration
}

func NewScheduler(repo Repository, cfg config.Config) *Scheduler {
	return &Scheduler{
		repo:          repo,
		lookaheadFrom: cfg.LookaheadFrom,
		lookaheadTo:   cfg.LookaheadTo,
	}
}

// RunPreConfirmations scans the window and creates missing workflow+event
// pairs. targetDate pins the scan to one calendar day instead of the
// rolling window; it exists for test invocations.
func (s *Scheduler) RunPreConfirmations(ctx context.Context, targetDate *time.Time) (SchedulerResult, error) {
	var result SchedulerResult

	now := time.Now()
	from := now.Add(s.lookaheadFrom)
	to := now.Add(s.lookaheadTo)
	if targetDate != nil {
		day := targetDate.Truncate(24 * time.Hour)
		from = day
		to = day.Add(24*time.Hour - time.Second)
	}

	appts, err := s.repo.FindAppointmentsBetween(ctx, from, to,
		[]AppointmentStatus{AppointmentScheduled, AppointmentPreConfirmed})
	if err != nil {
		return result, fmt.Errorf("find appointments in window: %w", err)
	}

	for i := range appts {
		appt := &appts[i]
		result.Checked++

		existing, err := s.repo.FindActiveWorkflow(ctx, appt.ID, WorkflowPreConfirmation)
		if err != nil && !errors.Is(err, ErrWorkflowNotFound) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("appointment %s: check existing workflow: %v", appt.ID, err))
			continue
		}
		if existing != nil {
			result.Skipped++
			continue
		}

		patient, err := s.repo.GetPatientByID(ctx, appt.PatientID)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("appointment %s: load patient: %v", appt.ID, err))
			continue
		}
		if patient.Phone == nil || *patient.Phone == "" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("appointment %s: patient %s has no phone", appt.ID, patient.ID))
			continue
		}

		if err := s.createPreConfirmation(ctx, appt, patient); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("appointment %s: %v", appt.ID, err))
			continue
		}
		result.Created++
	}

	return result, nil
}

func (s *Scheduler) createPreConfirmation(ctx context.Context, appt *Appointment, patient *Patient) error {
	now := time.Now()

	message, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID.String(),
		"patient_id":     patient.ID.String(),
		"patient_name":   patient.Name,
		"phone":          *patient.Phone,
		"date":           appt.Date.Format("2006-01-02"),
		"time":           appt.StartTime,
	})
	if err != nil {
		return fmt.Errorf("marshal message payload: %w", err)
	}

	wf := &Workflow{
		AppointmentID: &appt.ID,
		PatientID:     patient.ID,
		Phone:         *patient.Phone,
		Type:          WorkflowPreConfirmation,
		Status:        WorkflowPending,
		ScheduledAt:   now,
		Message:       message,
	}
	if err := s.repo.CreateWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}

	ev := &OutboundEvent{
		EventType:    "appointment.pre_confirmation",
		EntityType:   "appointment",
		EntityID:     appt.ID,
		WorkflowID:   &wf.ID,
		Payload:      message,
		ScheduledFor: now,
		MaxRetries:   defaultMaxRetries,
	}
	if err := s.repo.CreateEvent(ctx, ev); err != nil {
		// The workflow row exists without its event; surface loudly since
		// the idempotency check will now skip this appointment.
		log.Printf("created workflow %s but failed to create its event: %v", wf.ID, err)
		return fmt.Errorf("create event: %w", err)
	}

	return nil
}
