package clinic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs the
// service when no database DSN is configured, and the package tests.
type InMemory struct {
	mu           sync.RWMutex
	patients     map[int64]Patient
	doctors      map[int64]Doctor
	appointments map[int64]Appointment
	nextPatient  int64
	nextDoctor   int64
	nextAppt     int64

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	now func() time.Time
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		patients:     make(map[int64]Patient),
		doctors:      make(map[int64]Doctor),
		appointments: make(map[int64]Appointment),
		locks:        make(map[int64]*sync.Mutex),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) Ping(ctx context.Context) error { return ctx.Err() }

func (s *InMemory) CreatePatient(ctx context.Context, p *Patient) error {
	email := normalizeEmail(p.Email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.patients {
		if existing.Email == email {
			return ErrConflict
		}
	}
	s.nextPatient++
	p.ID = s.nextPatient
	p.Email = email
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.patients[p.ID] = *p
	return nil
}

func (s *InMemory) FindPatient(ctx context.Context, id int64) (Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return Patient{}, ErrNotFound
	}
	return p, nil
}

func (s *InMemory) FindPatientByEmail(ctx context.Context, email string) (Patient, error) {
	email = normalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.patients {
		if p.Email == email {
			return p, nil
		}
	}
	return Patient{}, ErrNotFound
}

func (s *InMemory) UpdatePatient(ctx context.Context, id int64, u PatientUpdate) (Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return Patient{}, ErrNotFound
	}
	u.Apply(&p)
	s.patients[id] = p
	return p, nil
}

func (s *InMemory) SetPatientDeviceToken(ctx context.Context, id int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return ErrNotFound
	}
	p.DeviceToken = strings.TrimSpace(token)
	s.patients[id] = p
	return nil
}

func (s *InMemory) CreateDoctor(ctx context.Context, d *Doctor) error {
	email := normalizeEmail(d.Email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.doctors {
		if existing.Email == email {
			return ErrConflict
		}
	}
	s.nextDoctor++
	d.ID = s.nextDoctor
	d.Email = email
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	s.doctors[d.ID] = *d
	return nil
}

func (s *InMemory) FindDoctor(ctx context.Context, id int64) (Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.doctors[id]
	if !ok {
		return Doctor{}, ErrNotFound
	}
	return d, nil
}

func (s *InMemory) FindDoctorByEmail(ctx context.Context, email string) (Doctor, error) {
	email = normalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.doctors {
		if d.Email == email {
			return d, nil
		}
	}
	return Doctor{}, ErrNotFound
}

func (s *InMemory) ListDoctors(ctx context.Context) ([]Doctor, error) {
	s.mu.RLock()
	out := make([]Doctor, 0, len(s.doctors))
	for _, d := range s.doctors {
		out = append(out, d)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) SetDoctorDeviceToken(ctx context.Context, id int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.doctors[id]
	if !ok {
		return ErrNotFound
	}
	d.DeviceToken = strings.TrimSpace(token)
	s.doctors[id] = d
	return nil
}

func (s *InMemory) CreateAppointment(ctx context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[a.PatientID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.doctors[a.DoctorID]; !ok {
		return ErrNotFound
	}
	s.nextAppt++
	now := s.now()
	a.ID = s.nextAppt
	a.CreatedAt = now
	a.UpdatedAt = now
	s.appointments[a.ID] = *a
	return nil
}

func (s *InMemory) FindAppointment(ctx context.Context, id int64) (Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return a, nil
}

func (s *InMemory) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	s.mu.RLock()
	var out []Appointment
	for _, a := range s.appointments {
		if f.PatientID != 0 && a.PatientID != f.PatientID {
			continue
		}
		if f.DoctorID != 0 && a.DoctorID != f.DoctorID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	s.mu.RUnlock()
	sortAppointments(out)
	return out, nil
}

func (s *InMemory) UpdateAppointment(ctx context.Context, id int64, fn func(*Appointment) error) (Appointment, error) {
	unlock := s.lockAppointment(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return Appointment{}, err
	}

	s.mu.RLock()
	current, ok := s.appointments[id]
	s.mu.RUnlock()
	if !ok {
		return Appointment{}, ErrNotFound
	}

	next := current
	if err := fn(&next); err != nil {
		return Appointment{}, err
	}
	next.ID = current.ID
	next.PatientID = current.PatientID
	next.DoctorID = current.DoctorID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now()

	s.mu.Lock()
	s.appointments[id] = next
	s.mu.Unlock()
	return next, nil
}

// lockAppointment acquires the per-id critical section.
func (s *InMemory) lockAppointment(id int64) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// sortAppointments orders by date, time, then id.
func sortAppointments(list []Appointment) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.ID < b.ID
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
