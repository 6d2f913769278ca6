package auth

import (
	"context"
	"errors"
	"fmt"

	"medconsult.org/internal/clinic"
)

// Resolver turns verified claims into a principal by checking that the
// subject still exists in the store matching the claimed role.
type Resolver struct {
	patients clinic.PatientStore
	doctors  clinic.DoctorStore
}

func NewResolver(patients clinic.PatientStore, doctors clinic.DoctorStore) *Resolver {
	return &Resolver{patients: patients, doctors: doctors}
}

// Resolve fails with ErrUnknownPrincipal when the subject does not exist.
// Other store errors are returned wrapped.
func (r *Resolver) Resolve(ctx context.Context, claims Claims) (Principal, error) {
	if claims.SubjectID <= 0 {
		return Principal{}, ErrUnknownPrincipal
	}
	var err error
	switch claims.Role {
	case RolePatient:
		_, err = r.patients.FindPatient(ctx, claims.SubjectID)
	case RoleDoctor:
		_, err = r.doctors.FindDoctor(ctx, claims.SubjectID)
	default:
		return Principal{}, ErrUnknownPrincipal
	}
	if errors.Is(err, clinic.ErrNotFound) {
		return Principal{}, ErrUnknownPrincipal
	}
	if err != nil {
		return Principal{}, fmt.Errorf("resolve %s %d: %w", claims.Role, claims.SubjectID, err)
	}
	return NewPrincipal(claims.Role, claims.SubjectID), nil
}
