package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medconsult.org/internal/auth"
	"medconsult.org/internal/clinic"
	"medconsult.org/internal/obs"
)

const (
	demoDoctorPassword  = "doctor123"
	demoPatientPassword = "patient123"
)

// seedDemo fills an empty store with two doctors, three patients and three
// appointments for the first doctor. A store that already has the first demo
// doctor is left alone.
func seedDemo(ctx context.Context, store clinic.Store, now time.Time) error {
	if _, err := store.FindDoctorByEmail(ctx, "dr.sharma@hospital.com"); err == nil {
		return nil
	} else if !errors.Is(err, clinic.ErrNotFound) {
		return err
	}

	doctorHash, err := auth.HashPassword(demoDoctorPassword)
	if err != nil {
		return err
	}
	patientHash, err := auth.HashPassword(demoPatientPassword)
	if err != nil {
		return err
	}

	doctors := []clinic.Doctor{
		{Name: "Dr. Rajesh Sharma", Email: "dr.sharma@hospital.com", Phone: "+91-9876543210", Specialization: "General Physician", ImageURL: "https://randomuser.me/api/portraits/men/1.jpg"},
		{Name: "Dr. Priya Verma", Email: "dr.priya@hospital.com", Phone: "+91-9876543211", Specialization: "Dermatologist", ImageURL: "https://randomuser.me/api/portraits/women/2.jpg"},
	}
	for i := range doctors {
		doctors[i].PasswordHash = doctorHash
		if err := store.CreateDoctor(ctx, &doctors[i]); err != nil {
			return fmt.Errorf("seed doctor %s: %w", doctors[i].Email, err)
		}
	}

	patients := []clinic.Patient{
		{Name: "Amit Kumar", Email: "amit.kumar@gmail.com", Gender: "male", Age: 28},
		{Name: "Neha Singh", Email: "neha.singh@gmail.com", Gender: "female", Age: 32},
		{Name: "Rohit Patel", Email: "rohit.patel@gmail.com", Gender: "male", Age: 45},
	}
	for i := range patients {
		patients[i].PasswordHash = patientHash
		if err := store.CreatePatient(ctx, &patients[i]); err != nil {
			return fmt.Errorf("seed patient %s: %w", patients[i].Email, err)
		}
	}

	day := func(n int) string { return now.AddDate(0, 0, n).Format(clinic.DateLayout) }
	appts := []clinic.Appointment{
		{PatientID: patients[0].ID, DoctorID: doctors[0].ID, Date: day(2), Time: "10:30", Status: clinic.StatusPending},
		{PatientID: patients[1].ID, DoctorID: doctors[0].ID, Date: day(3), Time: "14:00", Status: clinic.StatusPending},
		{PatientID: patients[2].ID, DoctorID: doctors[0].ID, Date: day(5), Time: "11:00", Status: clinic.StatusPending},
	}
	for i := range appts {
		if err := store.CreateAppointment(ctx, &appts[i]); err != nil {
			return fmt.Errorf("seed appointment: %w", err)
		}
	}
	if _, err := store.UpdateAppointment(ctx, appts[2].ID, func(a *clinic.Appointment) error {
		decided := now
		a.Status = clinic.StatusApproved
		a.DecidedAt = &decided
		return nil
	}); err != nil {
		return fmt.Errorf("seed approval: %w", err)
	}

	obs.Info("demo data seeded", map[string]any{
		"doctors":      len(doctors),
		"patients":     len(patients),
		"appointments": len(appts),
	})
	return nil
}
