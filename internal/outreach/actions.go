package outreach

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrActionMismatch = errors.New("token is not valid for this action")
)

const (
	responseConfirmedViaLink  = "confirmed via link"
	responseCancelledViaLink  = "cancelled via link"
	responseRescheduleViaLink = "reschedule requested via link"
)

// ActionOutcome reports a completed patient action. WorkflowUpdated is false
// when the companion workflow write failed or no matching workflow existed;
// the appointment transition is authoritative either way.
type ActionOutcome struct {
	Kind            ActionKind
	AppointmentID   uuid.UUID
	WorkflowUpdated bool
}

// Actions applies patient-driven state transitions. The action-link handler
// and the inbound webhook handler both dispatch into this service so the two
// paths cannot diverge on appointment/workflow state.
type Actions struct {
	repo Repository
}

func NewActions(repo Repository) *Actions {
	return &Actions{repo: repo}
}

// ResolveLink validates a signed link token and performs its bound action.
// The token is single-use: the validation collaborator rejects a replay, and
// a token minted for one action kind is rejected against another.
func (a *Actions) ResolveLink(ctx context.Context, kind ActionKind, token string) (ActionOutcome, error) {
	v, err := a.repo.ValidateActionToken(ctx, token)
	if err != nil {
		return ActionOutcome{}, fmt.Errorf("validate token: %w", err)
	}
	if !v.Valid {
		if v.Reason != "" {
			return ActionOutcome{}, fmt.Errorf("%w: %s", ErrInvalidToken, v.Reason)
		}
		return ActionOutcome{}, ErrInvalidToken
	}
	if v.ActionType != kind {
		return ActionOutcome{}, ErrActionMismatch
	}

	var outcome ActionOutcome
	switch kind {
	case ActionConfirm:
		outcome, err = a.Confirm(ctx, v.AppointmentID, responseConfirmedViaLink)
	case ActionCancel:
		outcome, err = a.Cancel(ctx, v.AppointmentID, responseCancelledViaLink)
	case ActionReschedule:
		// No new time arrives via the link; staff follow up out of band.
		outcome = ActionOutcome{Kind: ActionReschedule, AppointmentID: v.AppointmentID}
		outcome.WorkflowUpdated = a.completeSentWorkflow(ctx, v.AppointmentID,
			confirmationWorkflowTypes, WorkflowCompleted, responseRescheduleViaLink)
	default:
		return ActionOutcome{}, ErrActionMismatch
	}
	if err != nil {
		return ActionOutcome{}, err
	}

	if err := a.repo.MarkTokenUsed(ctx, token); err != nil {
		// The state change already happened; a consumed-flag failure only
		// risks a replay, which the validator's expiry still bounds.
		log.Printf("mark token used after %s: %v", kind, err)
	}

	return outcome, nil
}

var confirmationWorkflowTypes = []WorkflowType{
	WorkflowConfirmation24h,
	WorkflowPreConfirmation,
}

var rescheduleWorkflowTypes = []WorkflowType{
	WorkflowConfirmation24h,
	WorkflowPreConfirmation,
	WorkflowRescheduleNoShow,
	WorkflowReschedulePatient,
}

// Confirm sets the appointment to confirmed and completes the matching sent
// confirmation workflow.
func (a *Actions) Confirm(ctx context.Context, appointmentID uuid.UUID, response string) (ActionOutcome, error) {
	if err := a.repo.UpdateAppointmentStatus(ctx, appointmentID, AppointmentConfirmed); err != nil {
		return ActionOutcome{}, fmt.Errorf("confirm appointment: %w", err)
	}

	outcome := ActionOutcome{Kind: ActionConfirm, AppointmentID: appointmentID}
	outcome.WorkflowUpdated = a.completeSentWorkflow(ctx, appointmentID,
		confirmationWorkflowTypes, WorkflowCompleted, response)
	return outcome, nil
}

// Cancel sets the appointment to cancelled and cancels the matching sent
// confirmation workflow.
func (a *Actions) Cancel(ctx context.Context, appointmentID uuid.UUID, response string) (ActionOutcome, error) {
	if err := a.repo.UpdateAppointmentStatus(ctx, appointmentID, AppointmentCancelled); err != nil {
		return ActionOutcome{}, fmt.Errorf("cancel appointment: %w", err)
	}

	outcome := ActionOutcome{Kind: ActionCancel, AppointmentID: appointmentID}
	outcome.WorkflowUpdated = a.completeSentWorkflow(ctx, appointmentID,
		confirmationWorkflowTypes, WorkflowCancelled, response)
	return outcome, nil
}

// Reschedule moves the appointment to a new date and time relayed by the
// engine, returning it to scheduled so a fresh confirmation cycle can run.
func (a *Actions) Reschedule(ctx context.Context, appointmentID uuid.UUID, newDate time.Time, newTime, response string) (ActionOutcome, error) {
	if err := a.repo.RescheduleAppointment(ctx, appointmentID, newDate, newTime); err != nil {
		return ActionOutcome{}, fmt.Errorf("reschedule appointment: %w", err)
	}

	outcome := ActionOutcome{Kind: ActionReschedule, AppointmentID: appointmentID}
	outcome.WorkflowUpdated = a.completeSentWorkflow(ctx, appointmentID,
		rescheduleWorkflowTypes, WorkflowCompleted, response)
	return outcome, nil
}

// NoShowReschedule records a patient reply to a no-show follow-up without
// touching the appointment. The attempt counter tags the response so staff
// can see how many nudges were needed.
func (a *Actions) NoShowReschedule(ctx context.Context, appointmentID uuid.UUID, attempt int, response string) (ActionOutcome, error) {
	outcome := ActionOutcome{Kind: ActionNoShowReschedule, AppointmentID: appointmentID}
	tagged := fmt.Sprintf("attempt %d: %s", attempt, response)
	outcome.WorkflowUpdated = a.completeSentWorkflow(ctx, appointmentID,
		[]WorkflowType{WorkflowRescheduleNoShow}, WorkflowCompleted, tagged)
	if !outcome.WorkflowUpdated {
		return ActionOutcome{}, ErrWorkflowNotFound
	}
	return outcome, nil
}

// Reactivation records the outcome of a patient-level reactivation campaign.
// When the patient expressed interest a pending appointment request is
// created for staff to convert.
func (a *Actions) Reactivation(ctx context.Context, patientID uuid.UUID, interested bool, response string) (ActionOutcome, error) {
	patient, err := a.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		return ActionOutcome{}, fmt.Errorf("load patient: %w", err)
	}

	phone := ""
	if patient.Phone != nil {
		phone = *patient.Phone
	}

	now := time.Now()
	resp := response
	wf := &Workflow{
		PatientID:   patientID,
		Phone:       phone,
		Type:        WorkflowReactivation,
		Status:      WorkflowCompleted,
		ScheduledAt: now,
		RespondedAt: &now,
		Response:    &resp,
	}
	if err := a.repo.CreateWorkflow(ctx, wf); err != nil {
		return ActionOutcome{}, fmt.Errorf("record reactivation workflow: %w", err)
	}

	outcome := ActionOutcome{Kind: ActionReactivation, WorkflowUpdated: true}

	if interested {
		notes := response
		req := &AppointmentRequest{
			PatientID: patientID,
			Source:    "reactivation",
			Notes:     &notes,
			Status:    "pending",
		}
		if err := a.repo.CreateAppointmentRequest(ctx, req); err != nil {
			return ActionOutcome{}, fmt.Errorf("create appointment request: %w", err)
		}
	}

	return outcome, nil
}

// Review records a rating and free-text feedback against the sent post-visit
// review workflow. Appointment status is untouched.
func (a *Actions) Review(ctx context.Context, appointmentID uuid.UUID, rating int, feedback string) (ActionOutcome, error) {
	outcome := ActionOutcome{Kind: ActionReview, AppointmentID: appointmentID}
	response := fmt.Sprintf("rating %d: %s", rating, feedback)
	outcome.WorkflowUpdated = a.completeSentWorkflow(ctx, appointmentID,
		[]WorkflowType{WorkflowReview2h}, WorkflowCompleted, response)
	if !outcome.WorkflowUpdated {
		return ActionOutcome{}, ErrWorkflowNotFound
	}
	return outcome, nil
}

// completeSentWorkflow closes the most recent sent workflow of the given
// types. Failures are logged, never propagated: the primary appointment
// transition must not roll back because this companion write failed.
func (a *Actions) completeSentWorkflow(ctx context.Context, appointmentID uuid.UUID, types []WorkflowType, to WorkflowStatus, response string) bool {
	wf, err := a.repo.FindSentWorkflow(ctx, appointmentID, types)
	if err != nil {
		if !errors.Is(err, ErrWorkflowNotFound) {
			log.Printf("find sent workflow for appointment %s: %v", appointmentID, err)
		}
		return false
	}

	now := time.Now()
	switch to {
	case WorkflowCancelled:
		err = a.repo.MarkWorkflowCancelled(ctx, wf.ID, response, now)
	default:
		err = a.repo.MarkWorkflowCompleted(ctx, wf.ID, response, now)
	}
	if err != nil {
		log.Printf("close workflow %s for appointment %s: %v", wf.ID, appointmentID, err)
		return false
	}

	return true
}
