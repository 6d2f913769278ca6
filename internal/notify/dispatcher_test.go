package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"medconsult.org/internal/clinic"
	"medconsult.org/internal/stream"
)

type recorder struct {
	mu     sync.Mutex
	emails []Recipient
	pushes []string
	kinds  []Kind
	err    error
	panic  bool
	block  chan struct{}
}

func (r *recorder) Send(ctx context.Context, kind Kind, to Recipient, p Payload) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panic {
		panic("sink exploded")
	}
	r.emails = append(r.emails, to)
	r.kinds = append(r.kinds, kind)
	return r.err
}

type pushRecorder struct {
	mu     sync.Mutex
	tokens []string
	titles []string
	err    error
	panic  bool
}

func (r *pushRecorder) Send(ctx context.Context, token string, p Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panic {
		panic("push exploded")
	}
	r.tokens = append(r.tokens, token)
	r.titles = append(r.titles, p.Title)
	return r.err
}

type fixture struct {
	store *clinic.InMemory
	hub   *stream.Hub
	appt  clinic.Appointment
}

func newFixture(t *testing.T, patientToken, doctorToken string) fixture {
	t.Helper()
	ctx := context.Background()
	store := clinic.NewInMemory()
	p := &clinic.Patient{Name: "Pat", Email: "pat@example.com", DeviceToken: patientToken}
	require.NoError(t, store.CreatePatient(ctx, p))
	d := &clinic.Doctor{Name: "House", Email: "house@example.com", DeviceToken: doctorToken}
	require.NoError(t, store.CreateDoctor(ctx, d))
	a := &clinic.Appointment{PatientID: p.ID, DoctorID: d.ID, Date: "2025-06-01", Time: "10:30", Status: clinic.StatusPending}
	require.NoError(t, store.CreateAppointment(ctx, a))
	return fixture{store: store, hub: stream.New(), appt: *a}
}

func drain(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestSinkTable(t *testing.T) {
	require.Equal(t, []sinkName{sinkPush, sinkRealtime}, sinksFor(KindNewAppointment))
	require.Equal(t, []sinkName{sinkEmail, sinkPush, sinkRealtime}, sinksFor(KindApproved))
	require.Equal(t, []sinkName{sinkEmail, sinkPush, sinkRealtime}, sinksFor(KindRejected))
	require.Equal(t, []sinkName{sinkPush}, sinksFor(KindImagesUploaded))
	require.Empty(t, sinksFor("unknown"))
}

func TestDispatchApprovedReachesEverySink(t *testing.T) {
	f := newFixture(t, "patient-device", "doctor-device")
	email, push := &recorder{}, &pushRecorder{}
	d := NewDispatcher(f.store, email, push, f.hub, Config{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := f.hub.Subscribe(ctx, stream.PendingTopic(f.appt.DoctorID))

	approved, err := f.store.UpdateAppointment(context.Background(), f.appt.ID, func(a *clinic.Appointment) error {
		a.Status = clinic.StatusApproved
		return nil
	})
	require.NoError(t, err)
	d.Dispatch(context.Background(), NewEvent(KindApproved, approved))
	drain(t, d)

	require.Equal(t, []Recipient{{Name: "Pat", Email: "pat@example.com"}}, email.emails)
	require.Equal(t, []string{"patient-device"}, push.tokens)

	select {
	case msg := <-feed:
		var snap PendingSnapshot
		require.NoError(t, json.Unmarshal(msg.Payload, &snap))
		require.Equal(t, f.appt.DoctorID, snap.DoctorID)
		require.Empty(t, snap.Appointments, "approved appointment must leave the pending list")
		require.Equal(t, KindApproved, snap.Cause)
	case <-time.After(time.Second):
		t.Fatal("no realtime snapshot published")
	}
}

func TestNewAppointmentGoesToDoctor(t *testing.T) {
	f := newFixture(t, "patient-device", "doctor-device")
	email, push := &recorder{}, &pushRecorder{}
	d := NewDispatcher(f.store, email, push, f.hub, Config{})

	d.Dispatch(context.Background(), NewEvent(KindNewAppointment, f.appt))
	drain(t, d)

	require.Empty(t, email.emails)
	require.Equal(t, []string{"doctor-device"}, push.tokens)
	msg, ok := f.hub.Last(stream.PendingTopic(f.appt.DoctorID))
	require.True(t, ok)
	var snap PendingSnapshot
	require.NoError(t, json.Unmarshal(msg.Payload, &snap))
	require.Len(t, snap.Appointments, 1)
}

func TestSinkFailuresAreIndependent(t *testing.T) {
	f := newFixture(t, "patient-device", "")
	email := &recorder{panic: true}
	push := &pushRecorder{err: errors.New("push gateway down")}
	d := NewDispatcher(f.store, email, push, f.hub, Config{Workers: 1})

	d.Dispatch(context.Background(), NewEvent(KindRejected, f.appt))
	drain(t, d)

	require.Len(t, push.tokens, 1, "push attempted despite email panic")
	_, ok := f.hub.Last(stream.PendingTopic(f.appt.DoctorID))
	require.True(t, ok, "realtime published despite other sinks failing")
}

func TestMissingDeviceTokenSkipsPushOnly(t *testing.T) {
	f := newFixture(t, "", "")
	email, push := &recorder{}, &pushRecorder{}
	d := NewDispatcher(f.store, email, push, nil, Config{})

	d.Dispatch(context.Background(), NewEvent(KindApproved, f.appt))
	drain(t, d)

	require.Len(t, email.emails, 1)
	require.Empty(t, push.tokens)
}

func TestDispatchDoesNotBlockAndDropsWhenFull(t *testing.T) {
	f := newFixture(t, "patient-device", "")
	block := make(chan struct{})
	email := &recorder{block: block}
	d := NewDispatcher(f.store, email, nil, nil, Config{Workers: 1, QueueSize: 1})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Dispatch(context.Background(), NewEvent(KindApproved, f.appt))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a stuck sink")
	}
	close(block)
	drain(t, d)

	email.mu.Lock()
	defer email.mu.Unlock()
	require.Less(t, len(email.emails), 10, "overflowing jobs are dropped")
	require.NotEmpty(t, email.emails)
}

func TestDispatchAfterCloseIsDropped(t *testing.T) {
	f := newFixture(t, "patient-device", "")
	email := &recorder{}
	d := NewDispatcher(f.store, email, nil, nil, Config{})
	drain(t, d)

	d.Dispatch(context.Background(), NewEvent(KindApproved, f.appt))
	require.Empty(t, email.emails)
	require.NoError(t, d.Close(context.Background()))
}

func TestJobsIgnoreRequestCancellation(t *testing.T) {
	f := newFixture(t, "patient-device", "")
	email := &recorder{}
	d := NewDispatcher(f.store, email, nil, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, NewEvent(KindApproved, f.appt))
	drain(t, d)
	require.Len(t, email.emails, 1)
}

func TestHTTPSinks(t *testing.T) {
	var got []map[string]any
	var headers []http.Header
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, body)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		if r.URL.Path == "/fail" {
			http.Error(w, "nope", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := Payload{Kind: KindApproved, Title: "Appointment confirmed", Body: "ok", Data: map[string]string{"status": "approved"}}
	email := &HTTPEmail{Endpoint: srv.URL + "/email", APIKey: "k", From: Recipient{Name: "Clinic", Email: "noreply@example.com"}}
	require.NoError(t, email.Send(context.Background(), KindApproved, Recipient{Name: "Pat", Email: "pat@example.com"}, p))

	push := &HTTPPush{Endpoint: srv.URL + "/push", ServerKey: "s"}
	require.NoError(t, push.Send(context.Background(), "device-1", p))

	bad := &HTTPPush{Endpoint: srv.URL + "/fail"}
	require.Error(t, bad.Send(context.Background(), "device-1", p))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "Appointment confirmed", got[0]["subject"])
	require.Equal(t, "k", headers[0].Get("api-key"))
	require.Equal(t, "device-1", got[1]["to"])
	require.Equal(t, "key=s", headers[1].Get("Authorization"))
}
