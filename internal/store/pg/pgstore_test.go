package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"medconsult.org/internal/clinic"
)

var fixed = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := New(db)
	s.now = func() time.Time { return fixed }
	return s, mock
}

var patientCols = []string{"id", "name", "email", "password_hash", "age", "gender", "phone",
	"previous_disease", "device_token", "created_at"}

var apptCols = []string{"id", "patient_id", "doctor_id", "date", "time", "status",
	"prescription_ref", "medicine_ref", "created_at", "updated_at", "decided_at", "images_updated_at"}

func TestCreatePatientMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into patients").
		WithArgs("Pat", "pat@example.com", "hash", 30, "", "", "", "", fixed).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery("insert into patients").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	p := &clinic.Patient{Name: "Pat", Email: " Pat@Example.com ", PasswordHash: "hash", Age: 30}
	if err := s.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID != 7 || p.Email != "pat@example.com" {
		t.Fatalf("unexpected patient %+v", p)
	}
	dup := &clinic.Patient{Name: "Pat", Email: "pat@example.com"}
	if err := s.CreatePatient(context.Background(), dup); !errors.Is(err, clinic.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdatePatientCoalescesUnsetFields(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`update patients set\s+name\s+= coalesce\(\$2, name\).*returning id, name`).
		WithArgs(int64(7), nil, int64(41), nil, nil, "asthma").
		WillReturnRows(sqlmock.NewRows(patientCols).
			AddRow(7, "Pat", "pat@example.com", "hash", 41, "female", "", "asthma", "", fixed))
	mock.ExpectQuery("update patients set").
		WithArgs(int64(99), "Ghost", nil, nil, nil, nil).
		WillReturnError(sql.ErrNoRows)

	age, disease := 41, "asthma"
	got, err := s.UpdatePatient(context.Background(), 7, clinic.PatientUpdate{Age: &age, PreviousDisease: &disease})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.ID != 7 || got.Age != 41 || got.PreviousDisease != "asthma" || got.Gender != "female" {
		t.Fatalf("unexpected patient %+v", got)
	}

	name := "Ghost"
	if _, err := s.UpdatePatient(context.Background(), 99, clinic.PatientUpdate{Name: &name}); !errors.Is(err, clinic.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindDoctorNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select .* from doctors where id=").WithArgs(int64(99)).WillReturnError(sql.ErrNoRows)
	if _, err := s.FindDoctor(context.Background(), 99); !errors.Is(err, clinic.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetDeviceTokenRequiresRow(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update doctors set device_token").WithArgs(int64(3), "tok").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update patients set device_token").WithArgs(int64(99), "tok").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.SetDoctorDeviceToken(context.Background(), 3, " tok "); err != nil {
		t.Fatalf("set doctor token: %v", err)
	}
	if err := s.SetPatientDeviceToken(context.Background(), 99, "tok"); !errors.Is(err, clinic.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateAppointmentMapsForeignKey(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into appointments").
		WithArgs(int64(7), int64(99), "2025-06-01", "10:30", "pending", fixed).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	a := &clinic.Appointment{PatientID: 7, DoctorID: 99, Date: "2025-06-01", Time: "10:30"}
	if err := s.CreateAppointment(context.Background(), a); !errors.Is(err, clinic.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListAppointmentsBuildsFilter(t *testing.T) {
	s, mock := newMock(t)
	decided := fixed.Add(time.Hour)
	mock.ExpectQuery(`from appointments where doctor_id=\$1 and status=\$2 order by`).
		WithArgs(int64(3), "pending").
		WillReturnRows(sqlmock.NewRows(apptCols).
			AddRow(1, 7, 3, "2025-06-01", "10:30", "pending", "", "", fixed, fixed, nil, nil).
			AddRow(2, 8, 3, "2025-06-02", "11:00", "pending", "", "", fixed, fixed, decided, nil))

	list, err := s.ListAppointments(context.Background(), clinic.AppointmentFilter{DoctorID: 3, Status: clinic.StatusPending})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Date != "2025-06-01" || list[0].DecidedAt != nil || list[1].DecidedAt == nil {
		t.Fatalf("unexpected list %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateAppointmentLocksAndCommits(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`from appointments where id=\$1 for update`).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(apptCols).
			AddRow(1, 7, 3, "2025-06-01", "10:30", "pending", "", "", fixed, fixed, nil, nil))
	mock.ExpectExec("update appointments").
		WithArgs(int64(1), "approved", "", "", fixed, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := s.UpdateAppointment(context.Background(), 1, func(a *clinic.Appointment) error {
		a.Status = clinic.StatusApproved
		a.DecidedAt = &fixed
		a.DoctorID = 42 // identity fields are not writable
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != clinic.StatusApproved || got.DoctorID != 3 {
		t.Fatalf("unexpected result %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateAppointmentRollsBackOnCallbackError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`for update`).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(apptCols).
			AddRow(1, 7, 3, "2025-06-01", "10:30", "approved", "", "", fixed, fixed, fixed, nil))
	mock.ExpectRollback()

	_, err := s.UpdateAppointment(context.Background(), 1, func(a *clinic.Appointment) error {
		return clinic.ErrInvalidTransition
	})
	if !errors.Is(err, clinic.ErrInvalidTransition) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateAppointmentNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`for update`).WithArgs(int64(5)).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	called := false
	_, err := s.UpdateAppointment(context.Background(), 5, func(a *clinic.Appointment) error {
		called = true
		return nil
	})
	if !errors.Is(err, clinic.ErrNotFound) || called {
		t.Fatalf("expected not found without callback, got %v (called=%v)", err, called)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	fsys := Migrations()
	for _, name := range []string{"0001_clinic.up.sql", "0001_clinic.down.sql", "0002_patient_profile.up.sql", "0002_patient_profile.down.sql"} {
		f, err := fsys.Open(name)
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		f.Close()
	}
}
