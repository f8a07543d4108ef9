package httpapi

import (
	"encoding/json"
	"time"

	"github.com/goliatone/go-reconciler/scheduler"
)

type errorBody struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []fieldError `json:"fields,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type paymentEventResponse struct {
	ID            string          `json:"id"`
	Reference     string          `json:"reference"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	DeliveryCount int             `json:"delivery_count"`
	ReceivedAt    time.Time       `json:"received_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type recordErrorResponse struct {
	RecordID string `json:"record_id"`
	Error    string `json:"error"`
}

type runReportResponse struct {
	Reconciler string                `json:"reconciler"`
	Trigger    string                `json:"trigger"`
	Status     string                `json:"status"`
	StartedAt  time.Time             `json:"started_at"`
	DurationMS int64                 `json:"duration_ms"`
	Scanned    int                   `json:"scanned"`
	Updated    int                   `json:"updated"`
	Errors     []recordErrorResponse `json:"errors,omitempty"`
	Error      string                `json:"error,omitempty"`
}

func newRunReportResponse(report scheduler.RunReport) runReportResponse {
	out := runReportResponse{
		Reconciler: report.Reconciler,
		Trigger:    report.Trigger,
		Status:     string(report.Status),
		StartedAt:  report.StartedAt,
		DurationMS: report.Duration.Milliseconds(),
		Scanned:    report.Result.ScannedCount,
		Updated:    report.Result.UpdatedCount,
	}
	for _, recordErr := range report.Result.Errors {
		out.Errors = append(out.Errors, recordErrorResponse{
			RecordID: recordErr.RecordID,
			Error:    recordErr.Error(),
		})
	}
	if report.Err != nil {
		out.Error = report.Err.Error()
	}
	return out
}

// rawJSON keeps stored payloads verbatim when they are valid JSON.
func rawJSON(payload []byte) json.RawMessage {
	if len(payload) == 0 || !json.Valid(payload) {
		data, _ := json.Marshal(string(payload))
		return data
	}
	return json.RawMessage(payload)
}
