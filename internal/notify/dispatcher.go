package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"medconsult.org/internal/auth"
	"medconsult.org/internal/clinic"
	"medconsult.org/internal/obs"
	"medconsult.org/internal/stream"
)

// EmailSink delivers a rendered message to an email address.
type EmailSink interface {
	Send(ctx context.Context, kind Kind, to Recipient, p Payload) error
}

// PushSink delivers a rendered message to a device token.
type PushSink interface {
	Send(ctx context.Context, deviceToken string, p Payload) error
}

// Topic publishes to a real-time topic. *stream.Hub implements it.
type Topic interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Directory resolves recipients and the doctor's pending list at job time.
// clinic.Store implements it.
type Directory interface {
	FindPatient(ctx context.Context, id int64) (clinic.Patient, error)
	FindDoctor(ctx context.Context, id int64) (clinic.Doctor, error)
	ListAppointments(ctx context.Context, f clinic.AppointmentFilter) ([]clinic.Appointment, error)
}

// Config sizes the worker pool.
type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Second
	}
	return c
}

// errSkipped marks a job that had nothing to deliver to.
var errSkipped = errors.New("notify: no destination")

type job struct {
	sink sinkName
	ev   Event
	ctx  context.Context
}

// Dispatcher runs one job per sink per event on a bounded worker pool. Jobs
// are independent: one failing, panicking or being skipped never affects the
// others. Nothing is retried.
type Dispatcher struct {
	dir   Directory
	email EmailSink
	push  PushSink
	topic Topic
	cfg   Config

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

// NewDispatcher starts the workers. Any sink may be nil, in which case its
// jobs are counted as skipped.
func NewDispatcher(dir Directory, email EmailSink, push PushSink, topic Topic, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		dir:   dir,
		email: email,
		push:  push,
		topic: topic,
		cfg:   cfg,
		jobs:  make(chan job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch enqueues ev's sink jobs and returns immediately. Cancellation of
// ctx does not affect the jobs; only its values are kept.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	base := context.WithoutCancel(ctx)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sink := range sinksFor(ev.Kind) {
		if d.closed {
			d.record(sink, ev, "dropped", errors.New("dispatcher closed"))
			continue
		}
		select {
		case d.jobs <- job{sink: sink, ev: ev, ctx: base}:
			obs.NotificationQueueDepth.Inc()
		default:
			d.record(sink, ev, "dropped", errors.New("queue full"))
		}
	}
}

// Close stops accepting events and waits for queued jobs to finish or ctx
// to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify: drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		obs.NotificationQueueDepth.Dec()
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.cfg.JobTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		switch j.sink {
		case sinkEmail:
			return d.sendEmail(ctx, j.ev)
		case sinkPush:
			return d.sendPush(ctx, j.ev)
		case sinkRealtime:
			return d.publishPending(ctx, j.ev)
		}
		return fmt.Errorf("unknown sink %q", j.sink)
	}()

	switch {
	case err == nil:
		d.record(j.sink, j.ev, "sent", nil)
	case errors.Is(err, errSkipped):
		d.record(j.sink, j.ev, "skipped", err)
	default:
		d.record(j.sink, j.ev, "failed", err)
	}
}

func (d *Dispatcher) record(sink sinkName, ev Event, outcome string, err error) {
	obs.NotificationsTotal.WithLabelValues(string(sink), string(ev.Kind), outcome).Inc()
	fields := map[string]any{
		"sink":           string(sink),
		"kind":           string(ev.Kind),
		"event_id":       ev.ID,
		"appointment_id": ev.Appointment.ID,
		"outcome":        outcome,
	}
	switch outcome {
	case "sent":
		obs.Debug("notification sent", fields)
	case "skipped":
		fields["reason"] = err
		obs.Info("notification skipped", fields)
	default:
		fields["error"] = err
		obs.Warn("notification not delivered", fields)
	}
}

func (d *Dispatcher) parties(ctx context.Context, a clinic.Appointment) (clinic.Patient, clinic.Doctor, error) {
	patient, err := d.dir.FindPatient(ctx, a.PatientID)
	if err != nil {
		return clinic.Patient{}, clinic.Doctor{}, fmt.Errorf("load patient %d: %w", a.PatientID, err)
	}
	doctor, err := d.dir.FindDoctor(ctx, a.DoctorID)
	if err != nil {
		return clinic.Patient{}, clinic.Doctor{}, fmt.Errorf("load doctor %d: %w", a.DoctorID, err)
	}
	return patient, doctor, nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, ev Event) error {
	if d.email == nil {
		return fmt.Errorf("%w: email sink disabled", errSkipped)
	}
	patient, doctor, err := d.parties(ctx, ev.Appointment)
	if err != nil {
		return err
	}
	to := Recipient{Name: patient.Name, Email: patient.Email}
	if ev.Recipient == auth.RoleDoctor {
		to = Recipient{Name: doctor.Name, Email: doctor.Email}
	}
	if to.Email == "" {
		return fmt.Errorf("%w: recipient has no email", errSkipped)
	}
	return d.email.Send(ctx, ev.Kind, to, render(ev.Kind, ev.Appointment, patient, doctor))
}

func (d *Dispatcher) sendPush(ctx context.Context, ev Event) error {
	if d.push == nil {
		return fmt.Errorf("%w: push sink disabled", errSkipped)
	}
	patient, doctor, err := d.parties(ctx, ev.Appointment)
	if err != nil {
		return err
	}
	token := patient.DeviceToken
	if ev.Recipient == auth.RoleDoctor {
		token = doctor.DeviceToken
	}
	if token == "" {
		return fmt.Errorf("%w: no device token registered", errSkipped)
	}
	return d.push.Send(ctx, token, render(ev.Kind, ev.Appointment, patient, doctor))
}

func (d *Dispatcher) publishPending(ctx context.Context, ev Event) error {
	if d.topic == nil {
		return fmt.Errorf("%w: realtime topic disabled", errSkipped)
	}
	doctorID := ev.Appointment.DoctorID
	pending, err := d.dir.ListAppointments(ctx, clinic.AppointmentFilter{DoctorID: doctorID, Status: clinic.StatusPending})
	if err != nil {
		return fmt.Errorf("load pending for doctor %d: %w", doctorID, err)
	}
	if pending == nil {
		pending = []clinic.Appointment{}
	}
	return d.topic.Publish(ctx, stream.PendingTopic(doctorID), PendingSnapshot{
		DoctorID:     doctorID,
		Appointments: pending,
		Cause:        ev.Kind,
		EventID:      ev.ID,
	})
}
