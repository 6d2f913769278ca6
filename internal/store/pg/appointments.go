package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"medconsult.org/internal/clinic"
)

const appointmentColumns = `id, patient_id, doctor_id,
	to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'),
	status, prescription_ref, medicine_ref, created_at, updated_at, decided_at, images_updated_at`

func scanAppointment(row scanner) (clinic.Appointment, error) {
	var (
		a             clinic.Appointment
		status        string
		decided, imgs sql.NullTime
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &a.Time, &status,
		&a.PrescriptionRef, &a.MedicineRef, &a.CreatedAt, &a.UpdatedAt, &decided, &imgs)
	if errors.Is(err, sql.ErrNoRows) {
		return clinic.Appointment{}, clinic.ErrNotFound
	}
	if err != nil {
		return clinic.Appointment{}, err
	}
	a.Status = clinic.Status(status)
	a.DecidedAt = timePtr(decided)
	a.ImagesUpdatedAt = timePtr(imgs)
	return a, nil
}

func (s *Store) CreateAppointment(ctx context.Context, a *clinic.Appointment) error {
	now := s.now()
	status := a.Status
	if status == "" {
		status = clinic.StatusPending
	}
	err := s.db.QueryRowContext(ctx, `
		insert into appointments(patient_id, doctor_id, appointment_date, appointment_time, status, created_at, updated_at)
		values ($1,$2,$3::date,$4::time,$5,$6,$6)
		returning id
	`, a.PatientID, a.DoctorID, a.Date, a.Time, string(status), now).Scan(&a.ID)
	if err != nil {
		return mapWriteErr(err)
	}
	a.Status = status
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

func (s *Store) FindAppointment(ctx context.Context, id int64) (clinic.Appointment, error) {
	return scanAppointment(s.db.QueryRowContext(ctx, `select `+appointmentColumns+` from appointments where id=$1`, id))
}

func (s *Store) ListAppointments(ctx context.Context, f clinic.AppointmentFilter) ([]clinic.Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != 0 {
		add("patient_id=$%d", f.PatientID)
	}
	if f.DoctorID != 0 {
		add("doctor_id=$%d", f.DoctorID)
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	query := `select ` + appointmentColumns + ` from appointments`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by appointment_date asc, appointment_time asc, id asc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []clinic.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAppointment locks the row for the length of the transaction, so
// concurrent updaters of one id are serialized by Postgres.
func (s *Store) UpdateAppointment(ctx context.Context, id int64, fn func(*clinic.Appointment) error) (clinic.Appointment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return clinic.Appointment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanAppointment(tx.QueryRowContext(ctx,
		`select `+appointmentColumns+` from appointments where id=$1 for update`, id))
	if err != nil {
		return clinic.Appointment{}, err
	}

	next := current
	if err := fn(&next); err != nil {
		return clinic.Appointment{}, err
	}
	next.ID = current.ID
	next.PatientID = current.PatientID
	next.DoctorID = current.DoctorID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now()

	if _, err := tx.ExecContext(ctx, `
		update appointments
		set status=$2, prescription_ref=$3, medicine_ref=$4, updated_at=$5, decided_at=$6, images_updated_at=$7
		where id=$1
	`, id, string(next.Status), next.PrescriptionRef, next.MedicineRef, next.UpdatedAt,
		nullTime(next.DecidedAt), nullTime(next.ImagesUpdatedAt)); err != nil {
		return clinic.Appointment{}, err
	}
	if err := tx.Commit(); err != nil {
		return clinic.Appointment{}, err
	}
	return next, nil
}
