package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/outreach/internal/outreach"
	"github.com/clinicore/outreach/internal/signature"
)

// Service dependencies, kept as small interfaces so handlers can be tested
// against fakes.

type DispatchRunner interface {
	Run(ctx context.Context) (outreach.DispatchResult, error)
}

type ConfirmationScheduler interface {
	RunPreConfirmations(ctx context.Context, targetDate *time.Time) (outreach.SchedulerResult, error)
}

type ActionService interface {
	ResolveLink(ctx context.Context, kind outreach.ActionKind, token string) (outreach.ActionOutcome, error)
	Confirm(ctx context.Context, appointmentID uuid.UUID, response string) (outreach.ActionOutcome, error)
	Cancel(ctx context.Context, appointmentID uuid.UUID, response string) (outreach.ActionOutcome, error)
	Reschedule(ctx context.Context, appointmentID uuid.UUID, newDate time.Time, newTime, response string) (outreach.ActionOutcome, error)
	NoShowReschedule(ctx context.Context, appointmentID uuid.UUID, attempt int, response string) (outreach.ActionOutcome, error)
	Reactivation(ctx context.Context, patientID uuid.UUID, interested bool, response string) (outreach.ActionOutcome, error)
	Review(ctx context.Context, appointmentID uuid.UUID, rating int, feedback string) (outreach.ActionOutcome, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json response: %v", err)
	}
}

func writeHTML(w http.ResponseWriter, status int, markup string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, markup); err != nil {
		log.Printf("write html response: %v", err)
	}
}

// POST /internal/confirmations/schedule

func scheduleConfirmationsHandler(scheduler ConfirmationScheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScheduleConfirmationsRequest
		if r.Body != nil {
			// An empty or absent body means the rolling window.
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		var targetDate *time.Time
		if req.TargetDate != "" {
			d, err := time.Parse("2006-01-02", req.TargetDate)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, WebhookResponse{
					Success: false,
					Error:   "targetDate must be YYYY-MM-DD",
				})
				return
			}
			targetDate = &d
		}

		result, err := scheduler.RunPreConfirmations(r.Context(), targetDate)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, WebhookResponse{
				Success: false,
				Error:   "scheduler run failed",
			})
			return
		}

		writeJSON(w, http.StatusOK, ScheduleConfirmationsResponse{
			Success: true,
			Checked: result.Checked,
			Created: result.Created,
			Skipped: result.Skipped,
			Errors:  result.Errors,
		})
	}
}

// POST /internal/events/dispatch and /internal/events/dispatch-test

func dispatchHandler(dispatcher DispatchRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := dispatcher.Run(r.Context())
		if err != nil {
			if errors.Is(err, outreach.ErrDispatchInProgress) {
				// Another run holds the lock; this invocation is a no-op.
				writeJSON(w, http.StatusOK, DispatchResponse{Success: true})
				return
			}
			writeJSON(w, http.StatusInternalServerError, WebhookResponse{
				Success: false,
				Error:   "dispatch run failed",
			})
			return
		}

		writeJSON(w, http.StatusOK, DispatchResponse{
			Success:   true,
			Processed: result.Processed,
			Failed:    result.Failed,
			Errors:    result.Errors,
		})
	}
}

// GET /action?type=...&token=...

func actionLinkHandler(actions ActionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := outreach.ParseLinkAction(r.URL.Query().Get("type"))
		if !ok {
			writeJSON(w, http.StatusBadRequest, LinkErrorResponse{
				Message: "type must be confirm, cancel or reschedule",
			})
			return
		}

		token := r.URL.Query().Get("token")
		if token == "" {
			writeJSON(w, http.StatusBadRequest, LinkErrorResponse{
				Message: "token is required",
			})
			return
		}

		outcome, err := actions.ResolveLink(r.Context(), kind, token)
		if err != nil {
			switch {
			case errors.Is(err, outreach.ErrInvalidToken):
				writeJSON(w, http.StatusBadRequest, LinkErrorResponse{
					Message: "link is invalid, expired or already used",
				})
			case errors.Is(err, outreach.ErrActionMismatch):
				writeJSON(w, http.StatusBadRequest, LinkErrorResponse{
					Message: "link is not valid for this action",
				})
			default:
				// The patient came from a clicked link; render a page rather
				// than a blank failure.
				log.Printf("action link %s failed: %v", kind, err)
				writeHTML(w, http.StatusInternalServerError, RenderActionPage(ErrorPage()))
			}
			return
		}

		writeHTML(w, http.StatusOK, RenderActionPage(PageForAction(outcome.Kind)))
	}
}

// POST /webhooks/n8n

func webhookHandler(actions ActionService, webhookSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, WebhookResponse{Success: false, Error: "could not read body"})
			return
		}

		// Verified over the exact raw bytes. Skipped when no secret is
		// provisioned for this environment.
		if webhookSecret != "" {
			sig := r.Header.Get("X-Webhook-Signature")
			if sig != "" && !signature.Verify(body, sig, webhookSecret) {
				writeJSON(w, http.StatusUnauthorized, WebhookResponse{Success: false, Error: "invalid signature"})
				return
			}
		}

		var req WebhookRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, WebhookResponse{Success: false, Error: "invalid JSON body"})
			return
		}

		kind, ok := outreach.ParseWebhookAction(req.Action)
		if !ok {
			writeJSON(w, http.StatusBadRequest, WebhookResponse{Success: false, Error: "unknown action"})
			return
		}

		outcome, status, err := applyWebhookAction(r.Context(), actions, kind, &req)
		if err != nil {
			writeJSON(w, status, WebhookResponse{Success: false, Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, WebhookResponse{
			Success: true,
			Message: string(outcome.Kind) + " applied",
			Data: map[string]any{
				"appointmentId":   nilIfZero(outcome.AppointmentID),
				"workflowUpdated": outcome.WorkflowUpdated,
			},
		})
	}
}

func applyWebhookAction(ctx context.Context, actions ActionService, kind outreach.ActionKind, req *WebhookRequest) (outreach.ActionOutcome, int, error) {
	switch kind {
	case outreach.ActionConfirm:
		id, err := parseID(req.AppointmentID, "appointmentId")
		if err != nil {
			return outreach.ActionOutcome{}, http.StatusBadRequest, err
		}
		return applied(actions.Confirm(ctx, id, orDefault(req.Response, "confirmed via whatsapp")))

	case outreach.ActionCancel:
		id, err := parseID(req.AppointmentID, "appointmentId")
		if err != nil {
			return outreach.ActionOutcome{}, http.StatusBadRequest, err
		}
		return applied(actions.Cancel(ctx, id, orDefault(req.Response, "cancelled via whatsapp")))

	case outreach.ActionReschedule:
		id, err := parseID(req.AppointmentID, "appointmentId")
		if err != nil {
			return outreach.ActionOutcome{}, http.StatusBadRequest, err
		}
		newDate, err := time.Parse("2006-01-02", req.NewDate)
		if err != nil {
			return outreach.ActionOutcome{}, http.StatusBadRequest, errors.New("newDate is required as YYYY-MM-DD")
		}
		if req.NewTime == "" {
			return outreach.ActionOutcome{}, http.StatusBadRequest, errors.New("newTime is required")
		}
		return applied(actions.Reschedule(ctx, id, newDate, req.NewTime,
			orDefault(req.Response, "rescheduled via whatsapp")))

	case outreach.ActionNoShowReschedule:
		id, err := parseID(req.AppointmentID, "appointmentId")
		if err != nil {
			return outreach.ActionOutcome{}, http.StatusBadRequest, err
		}
		return applied(actions.NoShowReschedule(ctx, id, req.Attempt, req.Response))

	case outreach.ActionReactivation:
		id, err := parseID(req.PatientID, "patientId")
		if err != nil {
			return outreach.ActionOutcome{}, http.StatusBadRequest, err
		}
		return applied(actions.Reactivation(ctx, id, req.Interested, req.Response))

	case outreach.ActionReview:
		id, err := parseID(req.AppointmentID, "appointmentId")
		if err != nil {
			return outreach.ActionOutcome{}, http.StatusBadRequest, err
		}
		return applied(actions.Review(ctx, id, req.Rating, req.Feedback))
	}

	return outreach.ActionOutcome{}, http.StatusBadRequest, errors.New("unknown action")
}

func applied(outcome outreach.ActionOutcome, err error) (outreach.ActionOutcome, int, error) {
	if err != nil {
		switch {
		case errors.Is(err, outreach.ErrAppointmentNotFound),
			errors.Is(err, outreach.ErrPatientNotFound),
			errors.Is(err, outreach.ErrWorkflowNotFound):
			return outreach.ActionOutcome{}, http.StatusBadRequest, err
		default:
			return outreach.ActionOutcome{}, http.StatusInternalServerError, errors.New("internal error")
		}
	}
	return outcome, http.StatusOK, nil
}

func parseID(raw, field string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, errors.New(field + " is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New(field + " must be a valid UUID")
	}
	return id, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nilIfZero(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}
