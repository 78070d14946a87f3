package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanEvent(row pgx.Row) (*OutboundEvent, error) {
	var ev OutboundEvent
	var workflowID *uuid.UUID
	var lastError *string
	var processedAt *time.Time

	err := row.Scan(
		&ev.ID,
		&ev.EventType,
		&ev.EntityType,
		&ev.EntityID,
		&workflowID,
		&ev.Payload,
		&ev.Status,
		&ev.ScheduledFor,
		&ev.RetryCount,
		&ev.MaxRetries,
		&lastError,
		&ev.CreatedAt,
		&ev.UpdatedAt,
		&processedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}

	ev.WorkflowID = workflowID
	ev.LastError = lastError
	ev.ProcessedAt = processedAt
	return &ev, nil
}

func scanWorkflow(row pgx.Row) (*Workflow, error) {
	var wf Workflow
	var appointmentID *uuid.UUID
	var sentAt, respondedAt *time.Time
	var response *string

	err := row.Scan(
		&wf.ID,
		&appointmentID,
		&wf.PatientID,
		&wf.Phone,
		&wf.Type,
		&wf.Status,
		&wf.ScheduledAt,
		&sentAt,
		&respondedAt,
		&response,
		&wf.Message,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}

	wf.AppointmentID = appointmentID
	wf.SentAt = sentAt
	wf.RespondedAt = respondedAt
	wf.Response = response
	return &wf, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var specialtyID, consultationTypeID, roomID *uuid.UUID
	var notes *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PractitionerID,
		&specialtyID,
		&consultationTypeID,
		&a.Date,
		&a.StartTime,
		&a.DurationMin,
		&a.Status,
		&notes,
		&roomID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.SpecialtyID = specialtyID
	a.ConsultationTypeID = consultationTypeID
	a.Notes = notes
	a.RoomID = roomID
	return &a, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var phone *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Phone = phone
	return &p, nil
}

const eventColumns = `id, event_type, entity_type, entity_id, workflow_id, payload,
		status, scheduled_for, retry_count, max_retries, last_error,
		created_at, updated_at, processed_at`

const workflowColumns = `id, appointment_id, patient_id, phone, workflow_type, status,
		scheduled_at, sent_at, responded_at, response, message, created_at, updated_at`

// Event queue

func (r *PgRepository) FetchDuePending(ctx context.Context, now time.Time, reclaimBefore time.Time, limit int) ([]OutboundEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM whatsapp_events
		WHERE (status = 'pending' AND scheduled_for <= $1)
		   OR (status = 'processing' AND updated_at < $2)
		ORDER BY created_at ASC
		LIMIT $3
	`, now, reclaimBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []OutboundEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ClaimEvent(ctx context.Context, id uuid.UUID, reclaimBefore time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE whatsapp_events
		SET status = 'processing',
		    updated_at = now()
		WHERE id = $1
		  AND (status = 'pending' OR (status = 'processing' AND updated_at < $2))
	`, id, reclaimBefore)
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) MarkEventSent(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE whatsapp_events
		SET status = 'sent',
		    processed_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'processing'
	`, id, processedAt)
	if err != nil {
		return fmt.Errorf("mark event sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	return nil
}

func (r *PgRepository) MarkEventRetry(ctx context.Context, id uuid.UUID, retryCount int, lastError string, nextAttempt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE whatsapp_events
		SET status = 'pending',
		    retry_count = $2,
		    last_error = $3,
		    scheduled_for = GREATEST(scheduled_for, $4),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'processing'
	`, id, retryCount, lastError, nextAttempt)
	if err != nil {
		return fmt.Errorf("mark event retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	return nil
}

func (r *PgRepository) MarkEventDeadLetter(ctx context.Context, id uuid.UUID, retryCount int, lastError string, processedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE whatsapp_events
		SET status = 'dead_letter',
		    retry_count = $2,
		    last_error = $3,
		    processed_at = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'processing'
	`, id, retryCount, lastError, processedAt)
	if err != nil {
		return fmt.Errorf("mark event dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	return nil
}

func (r *PgRepository) CreateEvent(ctx context.Context, ev *OutboundEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO whatsapp_events
			(id, event_type, entity_type, entity_id, workflow_id, payload,
			 status, scheduled_for, retry_count, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, 0, $8, now(), now())
	`, ev.ID, ev.EventType, ev.EntityType, ev.EntityID, ev.WorkflowID, ev.Payload,
		ev.ScheduledFor, ev.MaxRetries)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	return nil
}

// Workflows

func (r *PgRepository) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO whatsapp_workflows
			(id, appointment_id, patient_id, phone, workflow_type, status,
			 scheduled_at, response, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`, wf.ID, wf.AppointmentID, wf.PatientID, wf.Phone, wf.Type, wf.Status,
		wf.ScheduledAt, wf.Response, wf.Message)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	return nil
}

func (r *PgRepository) FindActiveWorkflow(ctx context.Context, appointmentID uuid.UUID, wfType WorkflowType) (*Workflow, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+workflowColumns+`
		FROM whatsapp_workflows
		WHERE appointment_id = $1
		  AND workflow_type = $2
		  AND status IN ('pending', 'sent')
		ORDER BY created_at DESC
		LIMIT 1
	`, appointmentID, wfType)
	return scanWorkflow(row)
}

func (r *PgRepository) FindSentWorkflow(ctx context.Context, appointmentID uuid.UUID, types []WorkflowType) (*Workflow, error) {
	typeStrs := make([]string, len(types))
	for i, t := range types {
		typeStrs[i] = string(t)
	}

	row := r.pool.QueryRow(ctx, `
		SELECT `+workflowColumns+`
		FROM whatsapp_workflows
		WHERE appointment_id = $1
		  AND workflow_type = ANY($2)
		  AND status = 'sent'
		ORDER BY sent_at DESC NULLS LAST
		LIMIT 1
	`, appointmentID, typeStrs)
	return scanWorkflow(row)
}

func (r *PgRepository) MarkWorkflowSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE whatsapp_workflows
		SET status = 'sent',
		    sent_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
	`, id, sentAt)
	if err != nil {
		return fmt.Errorf("mark workflow sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWorkflowNotFound
	}

	return nil
}

func (r *PgRepository) MarkWorkflowCompleted(ctx context.Context, id uuid.UUID, response string, respondedAt time.Time) error {
	return r.closeWorkflow(ctx, id, WorkflowCompleted, response, respondedAt)
}

func (r *PgRepository) MarkWorkflowCancelled(ctx context.Context, id uuid.UUID, response string, respondedAt time.Time) error {
	return r.closeWorkflow(ctx, id, WorkflowCancelled, response, respondedAt)
}

func (r *PgRepository) closeWorkflow(ctx context.Context, id uuid.UUID, to WorkflowStatus, response string, respondedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE whatsapp_workflows
		SET status = $2,
		    response = $3,
		    responded_at = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'sent')
	`, id, to, response, respondedAt)
	if err != nil {
		return fmt.Errorf("close workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWorkflowNotFound
	}

	return nil
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, practitioner_id, specialty_id, consultation_type_id,
		       date, start_time, duration_min,
		       status, notes, room_id, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}

	return nil
}

func (r *PgRepository) RescheduleAppointment(ctx context.Context, id uuid.UUID, newDate time.Time, newTime string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET date = $2,
		    start_time = $3,
		    status = 'scheduled',
		    updated_at = now()
		WHERE id = $1
	`, id, newDate, newTime)
	if err != nil {
		return fmt.Errorf("reschedule appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}

	return nil
}

func (r *PgRepository) FindAppointmentsBetween(ctx context.Context, from, to time.Time, statuses []AppointmentStatus) ([]Appointment, error) {
	statusStrs := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrs[i] = string(s)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, practitioner_id, specialty_id, consultation_type_id,
		       date, start_time, duration_min,
		       status, notes, room_id, created_at, updated_at
		FROM appointments
		WHERE (date + start_time::time) BETWEEN $1 AND $2
		  AND status = ANY($3)
		ORDER BY date, start_time
	`, from, to, statusStrs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Patients

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

// Action tokens. validate_action_token and mark_token_used are database
// functions owned by the schema, not by this service.

func (r *PgRepository) ValidateActionToken(ctx context.Context, token string) (*TokenValidation, error) {
	var v TokenValidation
	var actionType *string
	var appointmentID *uuid.UUID
	var reason *string

	err := r.pool.QueryRow(ctx, `
		SELECT valid, action_type, appointment_id, error_message
		FROM validate_action_token($1)
	`, token).Scan(&v.Valid, &actionType, &appointmentID, &reason)
	if err != nil {
		return nil, fmt.Errorf("validate action token: %w", err)
	}

	if actionType != nil {
		v.ActionType = ActionKind(*actionType)
	}
	if appointmentID != nil {
		v.AppointmentID = *appointmentID
	}
	if reason != nil {
		v.Reason = *reason
	}

	return &v, nil
}

func (r *PgRepository) MarkTokenUsed(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `SELECT mark_token_used($1)`, token)
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	return nil
}

// Reactivation follow-ups

func (r *PgRepository) CreateAppointmentRequest(ctx context.Context, req *AppointmentRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_requests (id, patient_id, source, notes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, req.ID, req.PatientID, req.Source, req.Notes, req.Status)
	if err != nil {
		return fmt.Errorf("insert appointment request: %w", err)
	}

	return nil
}
