package httpapi

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"

	"medconsult.org/internal/audit"
	"medconsult.org/internal/auth"
	"medconsult.org/internal/clinic"
)

var (
	phonePattern   = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	nonBlankString = regexp.MustCompile(`\S`)
)

type deviceTokenRequest struct {
	DeviceToken string `json:"device_token"`
}

func (r deviceTokenRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DeviceToken, validation.Required, validation.Length(1, 4096)),
	)
}

// updateProfileRequest carries a partial patient profile. Absent fields are
// left unchanged; present ones may not be empty except previous_disease.
type updateProfileRequest struct {
	Name            *string `json:"name"`
	Age             *int    `json:"age"`
	Gender          *string `json:"gender"`
	Phone           *string `json:"phone"`
	PreviousDisease *string `json:"previous_disease"`
}

func (r updateProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.NilOrNotEmpty, validation.Length(1, 100), validation.Match(nonBlankString)),
		validation.Field(&r.Age, validation.NilOrNotEmpty, validation.Min(1), validation.Max(150)),
		validation.Field(&r.Gender, validation.NilOrNotEmpty, validation.In("male", "female", "other")),
		validation.Field(&r.Phone, validation.NilOrNotEmpty, validation.Match(phonePattern)),
		validation.Field(&r.PreviousDisease, validation.Length(0, 500)),
	)
}

func (r updateProfileRequest) update() clinic.PatientUpdate {
	trim := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		return &t
	}
	return clinic.PatientUpdate{
		Name:            trim(r.Name),
		Age:             r.Age,
		Gender:          r.Gender,
		Phone:           r.Phone,
		PreviousDisease: trim(r.PreviousDisease),
	}
}

func (r updateProfileRequest) fields() []string {
	var out []string
	add := func(name string, set bool) {
		if set {
			out = append(out, name)
		}
	}
	add("name", r.Name != nil)
	add("age", r.Age != nil)
	add("gender", r.Gender != nil)
	add("phone", r.Phone != nil)
	add("previous_disease", r.PreviousDisease != nil)
	return out
}

func (a *API) listDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := a.store.ListDoctors(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if doctors == nil {
		doctors = []clinic.Doctor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctors": doctors})
}

func (a *API) getDoctor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	d, err := a.store.FindDoctor(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) patientMe(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	patient, err := a.store.FindPatient(r.Context(), p.ID())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (a *API) updatePatientMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req, a.maxBody); err != nil {
		handleError(w, r, err)
		return
	}
	u := req.update()
	if u.Empty() {
		writeError(w, r, http.StatusBadRequest, "no profile fields to update")
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	patient, err := a.store.UpdatePatient(r.Context(), p.ID(), u)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventProfileUpdated, map[string]any{
		"patient_id": patient.ID,
		"fields":     req.fields(),
	})
	writeJSON(w, http.StatusOK, patient)
}

func (a *API) doctorMe(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	doctor, err := a.store.FindDoctor(r.Context(), p.ID())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doctor)
}

func (a *API) patientDeviceToken(w http.ResponseWriter, r *http.Request) {
	a.setDeviceToken(w, r, a.store.SetPatientDeviceToken)
}

func (a *API) doctorDeviceToken(w http.ResponseWriter, r *http.Request) {
	a.setDeviceToken(w, r, a.store.SetDoctorDeviceToken)
}

func (a *API) setDeviceToken(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, id int64, token string) error) {
	var req deviceTokenRequest
	if err := decodeJSON(w, r, &req, a.maxBody); err != nil {
		handleError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := set(r.Context(), p.ID(), strings.TrimSpace(req.DeviceToken)); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
