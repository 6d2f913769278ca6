package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"medconsult.org/internal/audit"
	"medconsult.org/internal/auth"
	"medconsult.org/internal/clinic"
)

type registerRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	Age             int    `json:"age"`
	Gender          string `json:"gender"`
	Phone           string `json:"phone"`
	PreviousDisease string `json:"previous_disease"`
}

func (r registerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(auth.MinPasswordLength, 72)),
		validation.Field(&r.Age, validation.Min(0), validation.Max(150)),
		validation.Field(&r.Gender, validation.In("male", "female", "other")),
		validation.Field(&r.Phone, validation.Length(0, 32)),
		validation.Field(&r.PreviousDisease, validation.Length(0, 500)),
	)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      auth.Role `json:"role"`
	SubjectID int64     `json:"subject_id"`
	Profile   any       `json:"profile"`
}

func (a *API) issue(w http.ResponseWriter, r *http.Request, code int, role auth.Role, id int64, profile any) {
	token, exp, err := a.codec.Issue(role, id, 0)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, code, tokenResponse{
		Token:     token,
		TokenType: strings.TrimSpace(bearer),
		ExpiresAt: exp,
		Role:      role,
		SubjectID: id,
		Profile:   profile,
	})
}

func (a *API) registerPatient(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req, a.maxBody); err != nil {
		handleError(w, r, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		handleError(w, r, err)
		return
	}
	p := clinic.Patient{
		Name:            strings.TrimSpace(req.Name),
		Email:           req.Email,
		PasswordHash:    hash,
		Age:             req.Age,
		Gender:          req.Gender,
		Phone:           strings.TrimSpace(req.Phone),
		PreviousDisease: strings.TrimSpace(req.PreviousDisease),
	}
	if err := a.store.CreatePatient(r.Context(), &p); err != nil {
		if errors.Is(err, clinic.ErrConflict) {
			writeError(w, r, http.StatusConflict, "email already registered")
			return
		}
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventPatientRegistered, map[string]any{
		"patient_id": p.ID,
	})
	a.issue(w, r, http.StatusCreated, auth.RolePatient, p.ID, p)
}

func (a *API) loginPatient(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req, a.maxBody); err != nil {
		handleError(w, r, err)
		return
	}
	p, err := a.store.FindPatientByEmail(r.Context(), req.Email)
	if err == nil {
		err = auth.VerifyPassword(p.PasswordHash, req.Password)
	}
	if err != nil {
		a.loginFailed(w, r, auth.RolePatient, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventLogin, map[string]any{
		"role":       auth.RolePatient,
		"subject_id": p.ID,
	})
	a.issue(w, r, http.StatusOK, auth.RolePatient, p.ID, p)
}

func (a *API) loginDoctor(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req, a.maxBody); err != nil {
		handleError(w, r, err)
		return
	}
	d, err := a.store.FindDoctorByEmail(r.Context(), req.Email)
	if err == nil {
		err = auth.VerifyPassword(d.PasswordHash, req.Password)
	}
	if err != nil {
		a.loginFailed(w, r, auth.RoleDoctor, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventLogin, map[string]any{
		"role":       auth.RoleDoctor,
		"subject_id": d.ID,
	})
	a.issue(w, r, http.StatusOK, auth.RoleDoctor, d.ID, d)
}

// loginFailed answers an unknown email and a wrong password the same way.
func (a *API) loginFailed(w http.ResponseWriter, r *http.Request, role auth.Role, err error) {
	if !errors.Is(err, clinic.ErrNotFound) && !errors.Is(err, auth.ErrInvalidCredentials) {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{
		"role": role,
	})
	handleError(w, r, auth.ErrInvalidCredentials)
}
