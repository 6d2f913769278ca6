package clinic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func seed(t *testing.T) (*InMemory, Patient, Doctor) {
	t.Helper()
	s := NewInMemory()
	ctx := context.Background()
	p := Patient{Name: "Asha", Email: "Asha@Example.com"}
	if err := s.CreatePatient(ctx, &p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	d := Doctor{Name: "Rao", Email: "rao@example.com"}
	if err := s.CreateDoctor(ctx, &d); err != nil {
		t.Fatalf("CreateDoctor: %v", err)
	}
	return s, p, d
}

func TestCreatePatientNormalizesAndRejectsDuplicates(t *testing.T) {
	s, p, _ := seed(t)
	if p.Email != "asha@example.com" {
		t.Fatalf("email not normalized: %s", p.Email)
	}
	dup := Patient{Name: "Other", Email: " ASHA@example.com "}
	if err := s.CreatePatient(context.Background(), &dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := s.FindPatientByEmail(context.Background(), "asha@EXAMPLE.com")
	if err != nil || got.ID != p.ID {
		t.Fatalf("FindPatientByEmail: %v %+v", err, got)
	}
}

func TestUpdatePatientAppliesOnlySetFields(t *testing.T) {
	s, p, _ := seed(t)
	ctx := context.Background()
	age, disease := 41, "asthma"

	got, err := s.UpdatePatient(ctx, p.ID, PatientUpdate{Age: &age, PreviousDisease: &disease})
	if err != nil {
		t.Fatalf("UpdatePatient: %v", err)
	}
	if got.Age != 41 || got.PreviousDisease != "asthma" || got.Name != "Asha" || got.Email != p.Email {
		t.Fatalf("unexpected profile %+v", got)
	}
	stored, _ := s.FindPatient(ctx, p.ID)
	if stored != got {
		t.Fatalf("stored %+v differs from returned %+v", stored, got)
	}
	if _, err := s.UpdatePatient(ctx, 99, PatientUpdate{Age: &age}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindMissing(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.FindPatient(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.FindDoctor(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.FindAppointment(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.UpdateAppointment(ctx, 1, func(*Appointment) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAppointmentAbortsOnError(t *testing.T) {
	s, p, d := seed(t)
	ctx := context.Background()
	a := Appointment{PatientID: p.ID, DoctorID: d.ID, Date: "2025-06-01", Time: "10:30", Status: StatusPending}
	if err := s.CreateAppointment(ctx, &a); err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	boom := errors.New("boom")
	_, err := s.UpdateAppointment(ctx, a.ID, func(x *Appointment) error {
		x.Status = StatusApproved
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := s.FindAppointment(ctx, a.ID)
	if got.Status != StatusPending {
		t.Fatalf("aborted update leaked: %s", got.Status)
	}
}

func TestUpdateAppointmentSerializesPerID(t *testing.T) {
	s, p, d := seed(t)
	ctx := context.Background()
	a := Appointment{PatientID: p.ID, DoctorID: d.ID, Date: "2025-06-01", Time: "10:30", Status: StatusPending}
	if err := s.CreateAppointment(ctx, &a); err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateAppointment(ctx, a.ID, func(x *Appointment) error {
				if x.Status != StatusPending {
					return ErrInvalidTransition
				}
				x.Status = StatusApproved
				return nil
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestListAppointmentsFilters(t *testing.T) {
	s, p, d := seed(t)
	ctx := context.Background()
	for _, slot := range []string{"11:00", "09:00"} {
		a := Appointment{PatientID: p.ID, DoctorID: d.ID, Date: "2025-06-01", Time: slot, Status: StatusPending}
		if err := s.CreateAppointment(ctx, &a); err != nil {
			t.Fatalf("CreateAppointment: %v", err)
		}
	}
	if _, err := s.UpdateAppointment(ctx, 1, func(x *Appointment) error {
		x.Status = StatusRejected
		return nil
	}); err != nil {
		t.Fatalf("UpdateAppointment: %v", err)
	}

	pending, _ := s.ListAppointments(ctx, AppointmentFilter{DoctorID: d.ID, Status: StatusPending})
	if len(pending) != 1 || pending[0].ID != 2 {
		t.Fatalf("unexpected pending list: %+v", pending)
	}
	all, _ := s.ListAppointments(ctx, AppointmentFilter{PatientID: p.ID})
	if len(all) != 2 || all[0].Time != "09:00" {
		t.Fatalf("expected ordering by time, got %+v", all)
	}
}

func TestCreateAppointmentRequiresParties(t *testing.T) {
	s, p, _ := seed(t)
	a := Appointment{PatientID: p.ID, DoctorID: 99, Date: "2025-06-01", Time: "10:30", Status: StatusPending}
	if err := s.CreateAppointment(context.Background(), &a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNormalizeSlot(t *testing.T) {
	d, tm, err := NormalizeSlot("2025-06-01", "10:30:00")
	if err != nil || d != "2025-06-01" || tm != "10:30" {
		t.Fatalf("unexpected %q %q %v", d, tm, err)
	}
	if _, _, err := NormalizeSlot("01/06/2025", "10:30"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, _, err := NormalizeSlot("2025-06-01", "25:99"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus(" Pending "); err != nil || s != StatusPending {
		t.Fatalf("ParseStatus: %v %v", s, err)
	}
	if _, err := ParseStatus("cancelled"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if !StatusApproved.Terminal() || StatusPending.Terminal() {
		t.Fatal("terminal flags wrong")
	}
}
