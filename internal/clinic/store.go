package clinic

import "context"

// PatientStore persists patients. UpdatePatient writes only the fields set
// in u and returns the stored profile.
type PatientStore interface {
	CreatePatient(ctx context.Context, p *Patient) error
	FindPatient(ctx context.Context, id int64) (Patient, error)
	FindPatientByEmail(ctx context.Context, email string) (Patient, error)
	UpdatePatient(ctx context.Context, id int64, u PatientUpdate) (Patient, error)
	SetPatientDeviceToken(ctx context.Context, id int64, token string) error
}

// DoctorStore persists doctors.
type DoctorStore interface {
	CreateDoctor(ctx context.Context, d *Doctor) error
	FindDoctor(ctx context.Context, id int64) (Doctor, error)
	FindDoctorByEmail(ctx context.Context, email string) (Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	SetDoctorDeviceToken(ctx context.Context, id int64, token string) error
}

// AppointmentFilter narrows list queries. Zero values match everything.
type AppointmentFilter struct {
	PatientID int64
	DoctorID  int64
	Status    Status
}

// AppointmentStore persists appointments.
//
// UpdateAppointment is the only mutation path after creation. It loads the
// record, calls fn on a copy and commits fn's changes, all under a critical
// section keyed by id: two concurrent updates on the same id are serialized
// and the second one observes the first one's result. If fn returns an error
// nothing is written and the error is returned unchanged.
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, a *Appointment) error
	FindAppointment(ctx context.Context, id int64) (Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	UpdateAppointment(ctx context.Context, id int64, fn func(*Appointment) error) (Appointment, error)
}

// Store bundles all repositories. Both the Postgres and in-memory
// implementations satisfy it.
type Store interface {
	PatientStore
	DoctorStore
	AppointmentStore
	Ping(ctx context.Context) error
}
