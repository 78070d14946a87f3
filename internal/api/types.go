package api

type ScheduleConfirmationsRequest struct {
	TargetDate string `json:"targetDate,omitempty"` // YYYY-MM-DD, test invocations only
}

type ScheduleConfirmationsResponse struct {
	Success bool     `json:"success"`
	Checked int      `json:"checked"`
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

type DispatchResponse struct {
	Success   bool     `json:"success"`
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// WebhookRequest is the engine callback envelope. Action decides which of
// the optional fields are required.
type WebhookRequest struct {
	Action        string `json:"action"`
	AppointmentID string `json:"appointmentId,omitempty"`
	PatientID     string `json:"patientId,omitempty"`
	NewDate       string `json:"newDate,omitempty"` // YYYY-MM-DD
	NewTime       string `json:"newTime,omitempty"` // HH:MM
	Response      string `json:"response,omitempty"`
	Attempt       int    `json:"attempt,omitempty"`
	Interested    bool   `json:"interested,omitempty"`
	Rating        int    `json:"rating,omitempty"`
	Feedback      string `json:"feedback,omitempty"`
}

type WebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// LinkErrorResponse is the JSON error shape of the action-link endpoint.
// Success responses on that endpoint are HTML, not JSON.
type LinkErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
