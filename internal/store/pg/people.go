package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"medconsult.org/internal/clinic"
)

const patientColumns = `id, name, email, password_hash, age, gender, phone, previous_disease, device_token, created_at`

func scanPatient(row scanner) (clinic.Patient, error) {
	var p clinic.Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.Age, &p.Gender, &p.Phone, &p.PreviousDisease, &p.DeviceToken, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return clinic.Patient{}, clinic.ErrNotFound
	}
	return p, err
}

func (s *Store) CreatePatient(ctx context.Context, p *clinic.Patient) error {
	email := normalizeEmail(p.Email)
	if email == "" {
		return fmt.Errorf("%w: email is required", clinic.ErrInvalidArgument)
	}
	created := s.now()
	err := s.db.QueryRowContext(ctx, `
		insert into patients(name, email, password_hash, age, gender, phone, previous_disease, device_token, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		returning id
	`, p.Name, email, p.PasswordHash, p.Age, p.Gender, p.Phone, p.PreviousDisease, p.DeviceToken, created).Scan(&p.ID)
	if err != nil {
		return mapWriteErr(err)
	}
	p.Email = email
	p.CreatedAt = created
	return nil
}

func (s *Store) FindPatient(ctx context.Context, id int64) (clinic.Patient, error) {
	return scanPatient(s.db.QueryRowContext(ctx, `select `+patientColumns+` from patients where id=$1`, id))
}

func (s *Store) FindPatientByEmail(ctx context.Context, email string) (clinic.Patient, error) {
	return scanPatient(s.db.QueryRowContext(ctx, `select `+patientColumns+` from patients where email=$1`, normalizeEmail(email)))
}

// UpdatePatient coalesces each parameter with the stored column, so a NULL
// leaves the column untouched.
func (s *Store) UpdatePatient(ctx context.Context, id int64, u clinic.PatientUpdate) (clinic.Patient, error) {
	return scanPatient(s.db.QueryRowContext(ctx, `
		update patients set
			name             = coalesce($2, name),
			age              = coalesce($3, age),
			gender           = coalesce($4, gender),
			phone            = coalesce($5, phone),
			previous_disease = coalesce($6, previous_disease)
		where id = $1
		returning `+patientColumns,
		id, nullString(u.Name), nullInt(u.Age), nullString(u.Gender), nullString(u.Phone), nullString(u.PreviousDisease)))
}

func (s *Store) SetPatientDeviceToken(ctx context.Context, id int64, token string) error {
	res, err := s.db.ExecContext(ctx, `update patients set device_token=$2 where id=$1`, id, strings.TrimSpace(token))
	if err != nil {
		return err
	}
	return requireRow(res)
}

const doctorColumns = `id, name, email, password_hash, specialization, phone, image_url, device_token, created_at`

func scanDoctor(row scanner) (clinic.Doctor, error) {
	var d clinic.Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Email, &d.PasswordHash, &d.Specialization, &d.Phone, &d.ImageURL, &d.DeviceToken, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return clinic.Doctor{}, clinic.ErrNotFound
	}
	return d, err
}

func (s *Store) CreateDoctor(ctx context.Context, d *clinic.Doctor) error {
	email := normalizeEmail(d.Email)
	if email == "" {
		return fmt.Errorf("%w: email is required", clinic.ErrInvalidArgument)
	}
	created := s.now()
	err := s.db.QueryRowContext(ctx, `
		insert into doctors(name, email, password_hash, specialization, phone, image_url, device_token, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		returning id
	`, d.Name, email, d.PasswordHash, d.Specialization, d.Phone, d.ImageURL, d.DeviceToken, created).Scan(&d.ID)
	if err != nil {
		return mapWriteErr(err)
	}
	d.Email = email
	d.CreatedAt = created
	return nil
}

func (s *Store) FindDoctor(ctx context.Context, id int64) (clinic.Doctor, error) {
	return scanDoctor(s.db.QueryRowContext(ctx, `select `+doctorColumns+` from doctors where id=$1`, id))
}

func (s *Store) FindDoctorByEmail(ctx context.Context, email string) (clinic.Doctor, error) {
	return scanDoctor(s.db.QueryRowContext(ctx, `select `+doctorColumns+` from doctors where email=$1`, normalizeEmail(email)))
}

func (s *Store) ListDoctors(ctx context.Context) ([]clinic.Doctor, error) {
	rows, err := s.db.QueryContext(ctx, `select `+doctorColumns+` from doctors order by id asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []clinic.Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) SetDoctorDeviceToken(ctx context.Context, id int64, token string) error {
	res, err := s.db.ExecContext(ctx, `update doctors set device_token=$2 where id=$1`, id, strings.TrimSpace(token))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return clinic.ErrNotFound
	}
	return nil
}
