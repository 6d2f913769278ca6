package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"medconsult.org/internal/appointment"
	"medconsult.org/internal/blob"
	"medconsult.org/internal/clinic"
	"medconsult.org/internal/notify"
	"medconsult.org/internal/stream"
)

func TestPendingWebSocketFeed(t *testing.T) {
	c := newTestAPI(t)
	patientTok, _ := c.registerPatient("Ayesha", "ayesha@mail.test")
	booked := c.book(patientTok, c.doctorID, "2026-11-02", "10:30")
	doctorTok := c.loginDoctor("ahmed@clinic.test")

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := c.hub.Last(stream.PendingTopic(c.doctorID)); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("booking was never published")
		}
		time.Sleep(10 * time.Millisecond)
	}

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/doctor/pending/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected the handshake to be refused without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	header := http.Header{"Authorization": {"Bearer " + doctorTok}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() notify.PendingSnapshot {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var msg stream.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Topic != stream.PendingTopic(c.doctorID) {
			t.Fatalf("unexpected topic %q", msg.Topic)
		}
		var snap notify.PendingSnapshot
		if err := json.Unmarshal(msg.Payload, &snap); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		return snap
	}

	// The booking above was already published, so the retained message is replayed.
	first := read()
	if len(first.Appointments) != 1 || first.Appointments[0].ID != booked.ID {
		t.Fatalf("unexpected first snapshot %+v", first)
	}

	resp2 := c.post(fmt.Sprintf("/api/appointments/%d/reject", booked.ID), nil, doctorTok)
	expectStatus(t, resp2, http.StatusOK)
	resp2.Body.Close()

	next := read()
	if next.Cause != notify.KindRejected || len(next.Appointments) != 0 {
		t.Fatalf("unexpected snapshot after rejection %+v", next)
	}
}

// racingStore publishes a pending snapshot while the feed is reading the
// store, as the dispatcher would after a concurrent decision.
type racingStore struct {
	*clinic.InMemory
	hub       *stream.Hub
	published bool
}

func (s *racingStore) ListAppointments(ctx context.Context, f clinic.AppointmentFilter) ([]clinic.Appointment, error) {
	list, err := s.InMemory.ListAppointments(ctx, f)
	if !s.published {
		s.published = true
		_ = s.hub.Publish(ctx, stream.PendingTopic(f.DoctorID), notify.PendingSnapshot{
			DoctorID:     f.DoctorID,
			Appointments: []clinic.Appointment{},
			Cause:        notify.KindApproved,
		})
	}
	return list, err
}

func newFeedAPI(t *testing.T, race bool) (*API, int64) {
	t.Helper()
	ctx := context.Background()
	mem := clinic.NewInMemory()
	doc := clinic.Doctor{Name: "Dr. Ahmed Khan", Email: "ahmed@clinic.test"}
	if err := mem.CreateDoctor(ctx, &doc); err != nil {
		t.Fatalf("doctor: %v", err)
	}
	pat := clinic.Patient{Name: "Ayesha", Email: "ayesha@mail.test"}
	if err := mem.CreatePatient(ctx, &pat); err != nil {
		t.Fatalf("patient: %v", err)
	}
	appt := clinic.Appointment{PatientID: pat.ID, DoctorID: doc.ID, Date: "2026-11-02", Time: "10:30", Status: clinic.StatusPending}
	if err := mem.CreateAppointment(ctx, &appt); err != nil {
		t.Fatalf("appointment: %v", err)
	}

	hub := stream.New()
	var store clinic.Store = mem
	if race {
		store = &racingStore{InMemory: mem, hub: hub}
	}
	api := New(Deps{
		Store:        store,
		Appointments: appointment.NewService(store, blob.NewMemory(), nil),
		Hub:          hub,
	})
	return api, doc.ID
}

func decodeSnapshot(t *testing.T, msg stream.Message) notify.PendingSnapshot {
	t.Helper()
	var snap notify.PendingSnapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func TestPendingFeedUsesStoreWhenNothingPublished(t *testing.T) {
	api, doctorID := newFeedAPI(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, first, err := api.pendingFeed(ctx, doctorID)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	snap := decodeSnapshot(t, first)
	if len(snap.Appointments) != 1 || snap.Cause != "" {
		t.Fatalf("expected the store snapshot, got %+v", snap)
	}
	if _, ok := waiting(ch); ok {
		t.Fatal("nothing else should be queued")
	}
}

func TestPendingFeedPrefersPublicationDuringRead(t *testing.T) {
	api, doctorID := newFeedAPI(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, first, err := api.pendingFeed(ctx, doctorID)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	snap := decodeSnapshot(t, first)
	if snap.Cause != notify.KindApproved || len(snap.Appointments) != 0 {
		t.Fatalf("expected the publication made during the read, got %+v", snap)
	}
	if msg, ok := waiting(ch); ok {
		t.Fatalf("the stale store snapshot must not follow, got %+v", decodeSnapshot(t, msg))
	}
}
