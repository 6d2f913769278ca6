package notify

import (
	"fmt"
	"strconv"
	"time"

	"medconsult.org/internal/clinic"
)

// Recipient is an email destination.
type Recipient struct {
	Name  string
	Email string
}

// Payload is the rendered content handed to a sink.
type Payload struct {
	Kind          Kind              `json:"kind"`
	AppointmentID int64             `json:"appointment_id"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	Data          map[string]string `json:"data,omitempty"`
}

// PendingSnapshot is published on a doctor's pending topic.
type PendingSnapshot struct {
	DoctorID     int64                `json:"doctor_id"`
	Appointments []clinic.Appointment `json:"appointments"`
	Cause        Kind                 `json:"cause"`
	EventID      string               `json:"event_id"`
}

func displaySlot(a clinic.Appointment) (string, string) {
	date, clock := a.Date, a.Time
	if d, err := time.Parse(clinic.DateLayout, a.Date); err == nil {
		date = d.Format("02 Jan 2006")
	}
	if t, err := time.Parse(clinic.TimeLayout, a.Time); err == nil {
		clock = t.Format("03:04 PM")
	}
	return date, clock
}

func render(kind Kind, a clinic.Appointment, patient clinic.Patient, doctor clinic.Doctor) Payload {
	date, clock := displaySlot(a)
	p := Payload{
		Kind:          kind,
		AppointmentID: a.ID,
		Data: map[string]string{
			"type":            string(kind),
			"appointmentId":   strconv.FormatInt(a.ID, 10),
			"appointmentDate": a.Date,
			"appointmentTime": a.Time,
			"status":          string(a.Status),
		},
	}
	switch kind {
	case KindNewAppointment:
		p.Title = "New appointment request"
		p.Body = fmt.Sprintf("%s requested an appointment on %s at %s", patient.Name, date, clock)
		p.Data["patientName"] = patient.Name
	case KindApproved:
		p.Title = "Appointment confirmed"
		p.Body = fmt.Sprintf("Dr. %s confirmed your appointment on %s at %s", doctor.Name, date, clock)
		p.Data["doctorName"] = doctor.Name
	case KindRejected:
		p.Title = "Appointment declined"
		p.Body = fmt.Sprintf("Dr. %s declined your appointment request. Please book another slot.", doctor.Name)
		p.Data["doctorName"] = doctor.Name
	case KindImagesUploaded:
		p.Title = "Prescription available"
		p.Body = fmt.Sprintf("Dr. %s uploaded your prescription for the appointment on %s", doctor.Name, date)
		p.Data["doctorName"] = doctor.Name
	}
	return p
}
