package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"

	"medconsult.org/internal/appointment"
	"medconsult.org/internal/audit"
	"medconsult.org/internal/auth"
	"medconsult.org/internal/clinic"
	"medconsult.org/internal/obs"
)

const multipartMemory = 8 << 20

type bookRequest struct {
	DoctorID int64  `json:"doctor_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

func (r bookRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DoctorID, validation.Required, validation.Min(int64(1))),
		validation.Field(&r.Date, validation.Required, validation.Date(clinic.DateLayout)),
		validation.Field(&r.Time, validation.Required),
	)
}

type appointmentView struct {
	clinic.Appointment
	PrescriptionURL string `json:"prescription_url,omitempty"`
	MedicineURL     string `json:"medicine_url,omitempty"`
}

func imageURL(id int64, slot appointment.Slot) string {
	return fmt.Sprintf("/api/appointments/%d/images/%s", id, slot)
}

func viewOf(a clinic.Appointment) appointmentView {
	v := appointmentView{Appointment: a}
	if a.PrescriptionRef != "" {
		v.PrescriptionURL = imageURL(a.ID, appointment.SlotPrescription)
	}
	if a.MedicineRef != "" {
		v.MedicineURL = imageURL(a.ID, appointment.SlotMedicine)
	}
	return v
}

func viewsOf(list []clinic.Appointment) []appointmentView {
	out := make([]appointmentView, 0, len(list))
	for _, a := range list {
		out = append(out, viewOf(a))
	}
	return out
}

// owned loads the appointment named in the path and checks that the bound
// principal is its patient or its doctor. Mismatches get the uniform 403.
func (a *API) owned(w http.ResponseWriter, r *http.Request) (clinic.Appointment, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return clinic.Appointment{}, false
	}
	appt, err := a.appointments.Get(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return clinic.Appointment{}, false
	}
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		denyAuthz(w, r, err)
		return clinic.Appointment{}, false
	}
	if !p.Is(auth.RolePatient, appt.PatientID) && !p.Is(auth.RoleDoctor, appt.DoctorID) {
		denyAuthz(w, r, auth.ErrForbidden)
		return clinic.Appointment{}, false
	}
	return appt, true
}

func (a *API) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(w, r, &req, a.maxBody); err != nil {
		handleError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	appt, err := a.appointments.Book(r.Context(), p.ID(), req.DoctorID, req.Date, req.Time)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventAppointmentBooked, map[string]any{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
	})
	w.Header().Set("Location", "/api/appointments/"+strconv.FormatInt(appt.ID, 10))
	writeJSON(w, http.StatusCreated, viewOf(appt))
}

func (a *API) getAppointment(w http.ResponseWriter, r *http.Request) {
	appt, ok := a.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(appt))
}

func (a *API) patientAppointments(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	list, err := a.appointments.ListForPatient(r.Context(), p.ID())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": viewsOf(list)})
}

func (a *API) doctorAppointments(w http.ResponseWriter, r *http.Request) {
	var status clinic.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, err := clinic.ParseStatus(raw)
		if err != nil {
			handleError(w, r, err)
			return
		}
		status = s
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	list, err := a.appointments.ListForDoctor(r.Context(), p.ID(), status)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": viewsOf(list)})
}

func (a *API) approveAppointment(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, a.appointments.Approve)
}

func (a *API) rejectAppointment(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, a.appointments.Reject)
}

func (a *API) decide(w http.ResponseWriter, r *http.Request, transition func(ctx context.Context, id int64) (clinic.Appointment, error)) {
	appt, ok := a.owned(w, r)
	if !ok {
		return
	}
	updated, err := transition(r.Context(), appt.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventAppointmentDecide, map[string]any{
		"appointment_id": updated.ID,
		"status":         updated.Status,
	})
	writeJSON(w, http.StatusOK, viewOf(updated))
}

func (a *API) attachImages(w http.ResponseWriter, r *http.Request) {
	appt, ok := a.owned(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			handleError(w, r, err)
			return
		}
		handleError(w, r, badRequest("expected a multipart form"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	rx, closeRx, err := formImage(r, appointment.SlotPrescription)
	if err != nil {
		handleError(w, r, err)
		return
	}
	defer closeRx()
	med, closeMed, err := formImage(r, appointment.SlotMedicine)
	if err != nil {
		handleError(w, r, err)
		return
	}
	defer closeMed()

	updated, err := a.appointments.AttachImages(r.Context(), appt.ID, rx, med)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventImagesAttached, map[string]any{
		"appointment_id": updated.ID,
		"prescription":   rx != nil,
		"medicine":       med != nil,
	})
	writeJSON(w, http.StatusOK, viewOf(updated))
}

// formImage returns the upload in the form field named after slot, or nil
// when the field is absent. The content type is sniffed when the client
// did not declare an image type.
func formImage(r *http.Request, slot appointment.Slot) (*appointment.Image, func(), error) {
	noop := func() {}
	file, header, err := r.FormFile(string(slot))
	if errors.Is(err, http.ErrMissingFile) {
		return nil, noop, nil
	}
	if err != nil {
		return nil, noop, badRequest(fmt.Sprintf("%s: %v", slot, err))
	}
	closeFile := func() { _ = file.Close() }

	ct := header.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		ct, err = sniff(file)
		if err != nil {
			closeFile()
			return nil, noop, err
		}
	}
	if !strings.HasPrefix(ct, "image/") {
		closeFile()
		return nil, noop, badRequest(fmt.Sprintf("%s must be an image", slot))
	}
	return &appointment.Image{ContentType: ct, Body: file}, closeFile, nil
}

func sniff(f multipart.File) (string, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}

func (a *API) deleteImages(w http.ResponseWriter, r *http.Request) {
	appt, ok := a.owned(w, r)
	if !ok {
		return
	}
	updated, err := a.appointments.DeleteImages(r.Context(), appt.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventImagesDeleted, map[string]any{
		"appointment_id": updated.ID,
	})
	writeJSON(w, http.StatusOK, viewOf(updated))
}

type prescriptionView struct {
	appointment.Prescription
	PrescriptionURL string `json:"prescription_url,omitempty"`
	MedicineURL     string `json:"medicine_url,omitempty"`
}

func (a *API) getPrescription(w http.ResponseWriter, r *http.Request) {
	appt, ok := a.owned(w, r)
	if !ok {
		return
	}
	rx, err := a.appointments.Prescription(r.Context(), appt.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	v := prescriptionView{Prescription: rx}
	if rx.PrescriptionRef != "" {
		v.PrescriptionURL = imageURL(appt.ID, appointment.SlotPrescription)
	}
	if rx.MedicineRef != "" {
		v.MedicineURL = imageURL(appt.ID, appointment.SlotMedicine)
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) getImage(w http.ResponseWriter, r *http.Request) {
	slot, err := appointment.ParseSlot(r.PathValue("slot"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	appt, ok := a.owned(w, r)
	if !ok {
		return
	}
	rc, info, err := a.appointments.OpenImage(r.Context(), appt, slot)
	if err != nil {
		handleError(w, r, err)
		return
	}
	defer rc.Close()

	ct := info.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "private, max-age=300")
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		obs.Warn("image stream interrupted", map[string]any{
			"request_id":     RequestIDFromContext(r.Context()),
			"appointment_id": appt.ID,
			"slot":           slot,
			"error":          err,
		})
	}
}
