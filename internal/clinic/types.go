// Package clinic holds the consultation domain model shared by the state
// machine, the stores and the HTTP layer.
package clinic

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ParseStatus accepts any casing of a known status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, raw)
	}
	return s, nil
}

// Patient is a consulting user of the platform.
type Patient struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	PasswordHash    string    `json:"-"`
	Age             int       `json:"age,omitempty"`
	Gender          string    `json:"gender,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	PreviousDisease string    `json:"previous_disease,omitempty"`
	DeviceToken     string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// PatientUpdate is a partial profile change. Nil fields are left as stored.
type PatientUpdate struct {
	Name            *string
	Age             *int
	Gender          *string
	Phone           *string
	PreviousDisease *string
}

// Empty reports whether u changes nothing.
func (u PatientUpdate) Empty() bool {
	return u.Name == nil && u.Age == nil && u.Gender == nil && u.Phone == nil && u.PreviousDisease == nil
}

// Apply copies the set fields of u onto p.
func (u PatientUpdate) Apply(p *Patient) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Age != nil {
		p.Age = *u.Age
	}
	if u.Gender != nil {
		p.Gender = *u.Gender
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.PreviousDisease != nil {
		p.PreviousDisease = *u.PreviousDisease
	}
}

// Doctor is a practitioner who owns and decides on appointments.
type Doctor struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	Specialization string    `json:"specialization,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	ImageURL       string    `json:"image_url,omitempty"`
	DeviceToken    string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Appointment is a booking between a patient and a doctor.
// Date is a civil date (YYYY-MM-DD), Time a wall-clock time (HH:MM).
type Appointment struct {
	ID              int64      `json:"id"`
	PatientID       int64      `json:"patient_id"`
	DoctorID        int64      `json:"doctor_id"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	Status          Status     `json:"status"`
	PrescriptionRef string     `json:"prescription_ref,omitempty"`
	MedicineRef     string     `json:"medicine_ref,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	ImagesUpdatedAt *time.Time `json:"images_updated_at,omitempty"`
}

// HasImages reports whether at least one image slot is filled.
func (a Appointment) HasImages() bool {
	return a.PrescriptionRef != "" || a.MedicineRef != ""
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// NormalizeSlot validates a date and time pair and returns their canonical
// forms. Seconds are accepted on input and dropped.
func NormalizeSlot(date, clock string) (string, string, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return "", "", fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidArgument)
	}
	clock = strings.TrimSpace(clock)
	t, err := time.Parse(TimeLayout, clock)
	if err != nil {
		t, err = time.Parse("15:04:05", clock)
		if err != nil {
			return "", "", fmt.Errorf("%w: time must be HH:MM", ErrInvalidArgument)
		}
	}
	return d.Format(DateLayout), t.Format(TimeLayout), nil
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrConflict          = errors.New("already exists")
)
