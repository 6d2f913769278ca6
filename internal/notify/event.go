// Package notify fans appointment events out to independent, best-effort
// delivery sinks.
package notify

import (
	"time"

	"medconsult.org/internal/auth"
	"medconsult.org/internal/clinic"
	"medconsult.org/internal/ids"
)

// Kind identifies what happened to an appointment.
type Kind string

const (
	KindNewAppointment Kind = "new_appointment"
	KindApproved       Kind = "approved"
	KindRejected       Kind = "rejected"
	KindImagesUploaded Kind = "images_uploaded"
)

// Event is generated once per committed transition. Appointment is the
// post-commit snapshot.
type Event struct {
	ID          string             `json:"id"`
	Kind        Kind               `json:"kind"`
	Appointment clinic.Appointment `json:"appointment"`
	Recipient   auth.Role          `json:"recipient"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// NewEvent stamps an event for appt. The recipient is the counter-party of
// the actor: the doctor for a new booking, the patient otherwise.
func NewEvent(kind Kind, appt clinic.Appointment) Event {
	recipient := auth.RolePatient
	if kind == KindNewAppointment {
		recipient = auth.RoleDoctor
	}
	return Event{
		ID:          ids.New(),
		Kind:        kind,
		Appointment: appt,
		Recipient:   recipient,
		OccurredAt:  time.Now().UTC(),
	}
}

type sinkName string

const (
	sinkEmail    sinkName = "email"
	sinkPush     sinkName = "push"
	sinkRealtime sinkName = "realtime"
)

// sinksFor is the fan-out table.
func sinksFor(kind Kind) []sinkName {
	switch kind {
	case KindNewAppointment:
		return []sinkName{sinkPush, sinkRealtime}
	case KindApproved, KindRejected:
		return []sinkName{sinkEmail, sinkPush, sinkRealtime}
	case KindImagesUploaded:
		return []sinkName{sinkPush}
	}
	return nil
}
