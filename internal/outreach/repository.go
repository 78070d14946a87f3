package outreach

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrEventNotFound       = errors.New("event not found")
)

// Repository contains all DB interactions needed by the dispatcher, the
// scheduler and the action services.
type Repository interface {
	// Event queue
	FetchDuePending(ctx context.Context, now time.Time, reclaimBefore time.Time, limit int) ([]OutboundEvent, error)
	// ClaimEvent atomically moves an event to processing. It returns false
	// when another worker already claimed the row.
	ClaimEvent(ctx context.Context, id uuid.UUID, reclaimBefore time.Time) (bool, error)
	MarkEventSent(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	MarkEventRetry(ctx context.Context, id uuid.UUID, retryCount int, lastError string, nextAttempt time.Time) error
	MarkEventDeadLetter(ctx context.Context, id uuid.UUID, retryCount int, lastError string, processedAt time.Time) error
	CreateEvent(ctx context.Context, ev *OutboundEvent) error

	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	FindActiveWorkflow(ctx context.Context, appointmentID uuid.UUID, wfType WorkflowType) (*Workflow, error)
	// FindSentWorkflow returns the most recent sent workflow of any of the
	// given types for the appointment.
	FindSentWorkflow(ctx context.Context, appointmentID uuid.UUID, types []WorkflowType) (*Workflow, error)
	MarkWorkflowSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	MarkWorkflowCompleted(ctx context.Context, id uuid.UUID, response string, respondedAt time.Time) error
	MarkWorkflowCancelled(ctx context.Context, id uuid.UUID, response string, respondedAt time.Time) error

	// Appointments
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) error
	RescheduleAppointment(ctx context.Context, id uuid.UUID, newDate time.Time, newTime string) error
	// FindAppointmentsBetween returns appointments whose combined date and
	// start time fall in [from, to] with one of the given statuses.
	FindAppointmentsBetween(ctx context.Context, from, to time.Time, statuses []AppointmentStatus) ([]Appointment, error)

	// Patients
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Action tokens, backed by database-side functions
	ValidateActionToken(ctx context.Context, token string) (*TokenValidation, error)
	MarkTokenUsed(ctx context.Context, token string) error

	// Reactivation follow-ups
	CreateAppointmentRequest(ctx context.Context, req *AppointmentRequest) error
}
