package outreach

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentScheduled    AppointmentStatus = "scheduled"
	AppointmentPreConfirmed AppointmentStatus = "pre_confirmed"
	AppointmentConfirmed    AppointmentStatus = "confirmed"
	AppointmentCancelled    AppointmentStatus = "cancelled"
	AppointmentCompleted    AppointmentStatus = "completed"
	AppointmentNoShow       AppointmentStatus = "no_show"
)

type WorkflowType string

const (
	WorkflowPreConfirmation   WorkflowType = "pre_confirmation"
	WorkflowConfirmation24h   WorkflowType = "confirmation_24h"
	WorkflowRescheduleNoShow  WorkflowType = "reschedule_no_show"
	WorkflowReschedulePatient WorkflowType = "reschedule_patient_cancel"
	WorkflowReactivation      WorkflowType = "reactivation"
	WorkflowReview2h          WorkflowType = "review_2h"
)

type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowSent      WorkflowStatus = "sent"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventSent       EventStatus = "sent"
	EventDeadLetter EventStatus = "dead_letter"
)

// ActionKind is the closed set of patient-driven transitions. Link tokens
// carry only the first three; the webhook accepts all of them.
type ActionKind string

const (
	ActionConfirm          ActionKind = "confirm"
	ActionCancel           ActionKind = "cancel"
	ActionReschedule       ActionKind = "reschedule"
	ActionNoShowReschedule ActionKind = "no_show_reschedule"
	ActionReactivation     ActionKind = "reactivation"
	ActionReview           ActionKind = "review"
)

// ParseLinkAction accepts only the kinds a public action link may carry.
func ParseLinkAction(s string) (ActionKind, bool) {
	switch ActionKind(s) {
	case ActionConfirm, ActionCancel, ActionReschedule:
		return ActionKind(s), true
	}
	return "", false
}

// ParseWebhookAction accepts every kind the automation engine may relay.
func ParseWebhookAction(s string) (ActionKind, bool) {
	switch ActionKind(s) {
	case ActionConfirm, ActionCancel, ActionReschedule,
		ActionNoShowReschedule, ActionReactivation, ActionReview:
		return ActionKind(s), true
	}
	return "", false
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	PractitionerID     uuid.UUID
	SpecialtyID        *uuid.UUID
	ConsultationTypeID *uuid.UUID
	Date               time.Time // calendar day
	StartTime          string    // HH:MM
	DurationMin        int
	Status             AppointmentStatus
	Notes              *string
	RoomID             *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Workflow is one attempt to engage a patient about one appointment, or a
// patient-level campaign when AppointmentID is nil.
type Workflow struct {
	ID            uuid.UUID
	AppointmentID *uuid.UUID
	PatientID     uuid.UUID
	Phone         string
	Type          WorkflowType
	Status        WorkflowStatus
	ScheduledAt   time.Time
	SentAt        *time.Time
	RespondedAt   *time.Time
	Response      *string
	Message       []byte // structured payload, JSON
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OutboundEvent is one unit of delivery work toward the automation engine.
// The row persists across retries; each attempt mutates status, retry_count
// and scheduled_for rather than inserting a new row.
type OutboundEvent struct {
	ID           uuid.UUID
	EventType    string
	EntityType   string
	EntityID     uuid.UUID
	WorkflowID   *uuid.UUID
	Payload      []byte
	Status       EventStatus
	ScheduledFor time.Time
	RetryCount   int
	MaxRetries   int
	LastError    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ProcessedAt  *time.Time
}

// TokenValidation is the result of the database-side validate_action_token
// function. When Valid is false, Reason carries the human-readable cause.
type TokenValidation struct {
	Valid         bool
	ActionType    ActionKind
	AppointmentID uuid.UUID
	Reason        string
}

// AppointmentRequest is a pending booking request created when a reactivated
// patient expresses interest. Staff convert it into an appointment in the UI.
type AppointmentRequest struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Source    string
	Notes     *string
	Status    string
	CreatedAt time.Time
}
