// Package appointment owns the appointment lifecycle: booking, the
// pending -> approved | rejected decision, and prescription images.
//
// Every mutation goes through the store's per-id critical section and
// notifications are dispatched only after it has committed.
package appointment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"medconsult.org/internal/blob"
	"medconsult.org/internal/clinic"
	"medconsult.org/internal/ids"
	"medconsult.org/internal/notify"
	"medconsult.org/internal/obs"
)

// Notifier receives committed transitions. *notify.Dispatcher implements it.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event)
}

// Slot names an image slot on an appointment.
type Slot string

const (
	SlotPrescription Slot = "prescription"
	SlotMedicine     Slot = "medicine"
)

// ParseSlot accepts the two known slot names.
func ParseSlot(raw string) (Slot, error) {
	switch Slot(raw) {
	case SlotPrescription, SlotMedicine:
		return Slot(raw), nil
	}
	return "", fmt.Errorf("%w: unknown image slot %q", clinic.ErrInvalidArgument, raw)
}

// Image is an upload for one slot.
type Image struct {
	ContentType string
	Body        io.Reader
}

// Prescription lists the images attached to an appointment.
type Prescription struct {
	AppointmentID   int64      `json:"appointment_id"`
	PrescriptionRef string     `json:"prescription_ref,omitempty"`
	MedicineRef     string     `json:"medicine_ref,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// Service is the appointment state machine.
type Service struct {
	store    clinic.Store
	blobs    blob.Store
	notifier Notifier
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for decision and upload stamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store clinic.Store, blobs blob.Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:    store,
		blobs:    blobs,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) emit(ctx context.Context, kind notify.Kind, a clinic.Appointment) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, notify.NewEvent(kind, a))
}

// Book creates a pending appointment. It is the only creation path.
func (s *Service) Book(ctx context.Context, patientID, doctorID int64, date, clock string) (clinic.Appointment, error) {
	date, clock, err := clinic.NormalizeSlot(date, clock)
	if err != nil {
		return clinic.Appointment{}, err
	}
	if _, err := s.store.FindPatient(ctx, patientID); err != nil {
		return clinic.Appointment{}, fmt.Errorf("patient %d: %w", patientID, err)
	}
	if _, err := s.store.FindDoctor(ctx, doctorID); err != nil {
		return clinic.Appointment{}, fmt.Errorf("doctor %d: %w", doctorID, err)
	}
	a := clinic.Appointment{
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      date,
		Time:      clock,
		Status:    clinic.StatusPending,
	}
	if err := s.store.CreateAppointment(ctx, &a); err != nil {
		return clinic.Appointment{}, fmt.Errorf("create appointment: %w", err)
	}
	obs.AppointmentTransitions.WithLabelValues(string(clinic.StatusPending)).Inc()
	s.emit(ctx, notify.KindNewAppointment, a)
	return a, nil
}

// Approve moves a pending appointment to approved.
func (s *Service) Approve(ctx context.Context, id int64) (clinic.Appointment, error) {
	return s.decide(ctx, id, clinic.StatusApproved, notify.KindApproved)
}

// Reject moves a pending appointment to rejected.
func (s *Service) Reject(ctx context.Context, id int64) (clinic.Appointment, error) {
	return s.decide(ctx, id, clinic.StatusRejected, notify.KindRejected)
}

func (s *Service) decide(ctx context.Context, id int64, to clinic.Status, kind notify.Kind) (clinic.Appointment, error) {
	updated, err := s.store.UpdateAppointment(ctx, id, func(a *clinic.Appointment) error {
		if a.Status != clinic.StatusPending {
			return fmt.Errorf("%w: appointment %d is %s", clinic.ErrInvalidTransition, id, a.Status)
		}
		now := s.now()
		a.Status = to
		a.DecidedAt = &now
		return nil
	})
	if err != nil {
		return clinic.Appointment{}, err
	}
	obs.AppointmentTransitions.WithLabelValues(string(to)).Inc()
	s.emit(ctx, kind, updated)
	return updated, nil
}

// AttachImages stores the provided images on an approved appointment,
// superseding whatever was in the same slot. Only a prescription write
// produces a notification.
func (s *Service) AttachImages(ctx context.Context, id int64, prescription, medicine *Image) (clinic.Appointment, error) {
	if prescription == nil && medicine == nil {
		return clinic.Appointment{}, fmt.Errorf("%w: at least one image is required", clinic.ErrInvalidArgument)
	}
	current, err := s.store.FindAppointment(ctx, id)
	if err != nil {
		return clinic.Appointment{}, err
	}
	// Approved is terminal, so a status seen here cannot change before the
	// update below; the update checks again anyway.
	if current.Status != clinic.StatusApproved {
		return clinic.Appointment{}, fmt.Errorf("%w: images require an approved appointment, %d is %s", clinic.ErrInvalidTransition, id, current.Status)
	}

	var uploaded []string
	put := func(slot Slot, img *Image) (string, error) {
		if img == nil {
			return "", nil
		}
		key := ids.Key("appointment", fmt.Sprint(id), string(slot))
		if _, err := s.blobs.Put(ctx, key, img.ContentType, img.Body); err != nil {
			return "", fmt.Errorf("store %s image: %w", slot, err)
		}
		uploaded = append(uploaded, key)
		return key, nil
	}
	rxKey, err := put(SlotPrescription, prescription)
	if err == nil {
		var medKey string
		medKey, err = put(SlotMedicine, medicine)
		if err == nil {
			return s.commitImages(ctx, id, rxKey, medKey, uploaded)
		}
	}
	s.release(ctx, uploaded)
	return clinic.Appointment{}, err
}

func (s *Service) commitImages(ctx context.Context, id int64, rxKey, medKey string, uploaded []string) (clinic.Appointment, error) {
	var superseded []string
	updated, err := s.store.UpdateAppointment(ctx, id, func(a *clinic.Appointment) error {
		if a.Status != clinic.StatusApproved {
			return fmt.Errorf("%w: images require an approved appointment, %d is %s", clinic.ErrInvalidTransition, id, a.Status)
		}
		superseded = superseded[:0]
		if rxKey != "" {
			if a.PrescriptionRef != "" {
				superseded = append(superseded, a.PrescriptionRef)
			}
			a.PrescriptionRef = rxKey
		}
		if medKey != "" {
			if a.MedicineRef != "" {
				superseded = append(superseded, a.MedicineRef)
			}
			a.MedicineRef = medKey
		}
		now := s.now()
		a.ImagesUpdatedAt = &now
		return nil
	})
	if err != nil {
		s.release(ctx, uploaded)
		return clinic.Appointment{}, err
	}
	s.release(ctx, superseded)
	if rxKey != "" {
		s.emit(ctx, notify.KindImagesUploaded, updated)
	}
	return updated, nil
}

// DeleteImages clears both slots and releases their blobs.
func (s *Service) DeleteImages(ctx context.Context, id int64) (clinic.Appointment, error) {
	var released []string
	updated, err := s.store.UpdateAppointment(ctx, id, func(a *clinic.Appointment) error {
		if !a.HasImages() {
			return fmt.Errorf("%w: appointment %d has no images", clinic.ErrNotFound, id)
		}
		released = released[:0]
		for _, ref := range []string{a.PrescriptionRef, a.MedicineRef} {
			if ref != "" {
				released = append(released, ref)
			}
		}
		now := s.now()
		a.PrescriptionRef, a.MedicineRef = "", ""
		a.ImagesUpdatedAt = &now
		return nil
	})
	if err != nil {
		return clinic.Appointment{}, err
	}
	s.release(ctx, released)
	return updated, nil
}

// release deletes blobs best-effort; a leftover blob is only logged.
func (s *Service) release(ctx context.Context, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			obs.Warn("blob release failed", map[string]any{"key": key, "error": err})
		}
	}
}

func (s *Service) Get(ctx context.Context, id int64) (clinic.Appointment, error) {
	return s.store.FindAppointment(ctx, id)
}

func (s *Service) ListForPatient(ctx context.Context, patientID int64) ([]clinic.Appointment, error) {
	return s.store.ListAppointments(ctx, clinic.AppointmentFilter{PatientID: patientID})
}

// ListForDoctor lists a doctor's appointments, optionally narrowed to one status.
func (s *Service) ListForDoctor(ctx context.Context, doctorID int64, status clinic.Status) ([]clinic.Appointment, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", clinic.ErrInvalidArgument, status)
	}
	return s.store.ListAppointments(ctx, clinic.AppointmentFilter{DoctorID: doctorID, Status: status})
}

func (s *Service) PendingForDoctor(ctx context.Context, doctorID int64) ([]clinic.Appointment, error) {
	return s.ListForDoctor(ctx, doctorID, clinic.StatusPending)
}

// Prescription returns the attached image refs, or ErrNotFound when none are attached.
func (s *Service) Prescription(ctx context.Context, id int64) (Prescription, error) {
	a, err := s.store.FindAppointment(ctx, id)
	if err != nil {
		return Prescription{}, err
	}
	if !a.HasImages() {
		return Prescription{}, fmt.Errorf("%w: appointment %d has no prescription", clinic.ErrNotFound, id)
	}
	return Prescription{
		AppointmentID:   a.ID,
		PrescriptionRef: a.PrescriptionRef,
		MedicineRef:     a.MedicineRef,
		UpdatedAt:       a.ImagesUpdatedAt,
	}, nil
}

// OpenImage opens the blob in slot of a.
func (s *Service) OpenImage(ctx context.Context, a clinic.Appointment, slot Slot) (io.ReadCloser, blob.Info, error) {
	ref := a.PrescriptionRef
	if slot == SlotMedicine {
		ref = a.MedicineRef
	}
	if ref == "" {
		return nil, blob.Info{}, fmt.Errorf("%w: no %s image", clinic.ErrNotFound, slot)
	}
	rc, info, err := s.blobs.Open(ctx, ref)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, blob.Info{}, fmt.Errorf("%w: %s image missing from storage", clinic.ErrNotFound, slot)
	}
	return rc, info, err
}
