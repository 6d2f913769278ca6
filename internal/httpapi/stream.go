package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"medconsult.org/internal/auth"
	"medconsult.org/internal/clinic"
	"medconsult.org/internal/notify"
	"medconsult.org/internal/obs"
	"medconsult.org/internal/stream"
)

const (
	heartbeatInterval = 25 * time.Second
	wsWriteTimeout    = 10 * time.Second
	wsPongTimeout     = 60 * time.Second
)

// pendingFeed subscribes to the doctor's pending topic and returns the first
// message to send. A publication already queued on the subscription is sent
// in place of the store read; the store snapshot is used only when nothing is
// waiting once the read returns.
func (a *API) pendingFeed(ctx context.Context, doctorID int64) (<-chan stream.Message, stream.Message, error) {
	topic := stream.PendingTopic(doctorID)
	ch := a.hub.Subscribe(ctx, topic)
	if msg, ok := waiting(ch); ok {
		return ch, msg, nil
	}
	list, err := a.appointments.PendingForDoctor(ctx, doctorID)
	if err != nil {
		return nil, stream.Message{}, err
	}
	if msg, ok := waiting(ch); ok {
		return ch, msg, nil
	}
	if list == nil {
		list = []clinic.Appointment{}
	}
	payload, err := json.Marshal(notify.PendingSnapshot{DoctorID: doctorID, Appointments: list})
	if err != nil {
		return nil, stream.Message{}, err
	}
	return ch, stream.Message{Topic: topic, Payload: payload, At: time.Now().UTC()}, nil
}

// waiting takes a message from ch without blocking.
func waiting(ch <-chan stream.Message) (stream.Message, bool) {
	select {
	case msg, ok := <-ch:
		return msg, ok
	default:
		return stream.Message{}, false
	}
}

// pendingSSE streams the doctor's pending list as Server-Sent Events.
func (a *API) pendingSSE(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, initial, err := a.pendingFeed(ctx, p.ID())
	if err != nil {
		handleError(w, r, err)
		return
	}

	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte(": stream started\n\n"))
	writeSSE(w, initial)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, msg)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, msg stream.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("event: pending\ndata: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}

func (a *API) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(a.origins) == 0 {
				return true
			}
			for _, allowed := range a.origins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// pendingWS streams the doctor's pending list over a WebSocket. Client
// frames are read only to detect close and to answer pings.
func (a *API) pendingWS(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())

	conn, err := a.upgrader().Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ch, initial, err := a.pendingFeed(ctx, p.ID())
	if err != nil {
		obs.Error("pending feed failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"doctor_id":  p.ID(),
			"error":      err,
		})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "internal error"),
			time.Now().Add(wsWriteTimeout))
		return
	}
	if err := writeWS(conn, initial); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := writeWS(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeWS(conn *websocket.Conn, msg stream.Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}
