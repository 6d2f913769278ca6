package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"medconsult.org/internal/auth"
	"medconsult.org/internal/obs"
)

// Event names written by the API.
const (
	EventPatientRegistered = "patient.registered"
	EventProfileUpdated    = "patient.profile_updated"
	EventLogin             = "auth.login"
	EventLoginFailed       = "auth.login_failed"
	EventAppointmentBooked = "appointment.booked"
	EventAppointmentDecide = "appointment.decided"
	EventImagesAttached    = "appointment.images_attached"
	EventImagesDeleted     = "appointment.images_deleted"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and actor context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		entry["actor_role"] = string(p.Role())
		entry["actor_id"] = p.ID()
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
