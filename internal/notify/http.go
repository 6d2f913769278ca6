package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"medconsult.org/internal/obs"
)

// HTTPEmail posts transactional email to a Brevo-compatible HTTP API.
type HTTPEmail struct {
	Endpoint string
	APIKey   string
	From     Recipient
	Client   *http.Client
}

type emailAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type emailRequest struct {
	Sender      emailAddress      `json:"sender"`
	To          []emailAddress    `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent"`
	Tags        []string          `json:"tags,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

func (e *HTTPEmail) Send(ctx context.Context, kind Kind, to Recipient, p Payload) error {
	body := fmt.Sprintf("<p>Hello %s,</p><p>%s</p>", html.EscapeString(to.Name), html.EscapeString(p.Body))
	req := emailRequest{
		Sender:      emailAddress{Name: e.From.Name, Email: e.From.Email},
		To:          []emailAddress{{Name: to.Name, Email: to.Email}},
		Subject:     p.Title,
		HTMLContent: body,
		Tags:        []string{string(kind)},
		Params:      p.Data,
	}
	return postJSON(ctx, e.Client, e.Endpoint, map[string]string{"api-key": e.APIKey}, req)
}

// HTTPPush posts to an FCM-style HTTP push endpoint.
type HTTPPush struct {
	Endpoint  string
	ServerKey string
	Client    *http.Client
}

type pushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type pushRequest struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	Notification pushNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

func (s *HTTPPush) Send(ctx context.Context, deviceToken string, p Payload) error {
	req := pushRequest{
		To:           deviceToken,
		Priority:     "high",
		Notification: pushNotification{Title: p.Title, Body: p.Body},
		Data:         p.Data,
	}
	return postJSON(ctx, s.Client, s.Endpoint, map[string]string{"Authorization": "key=" + s.ServerKey}, req)
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, payload any) error {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogEmail writes messages to the service log instead of sending them.
type LogEmail struct{}

func (LogEmail) Send(ctx context.Context, kind Kind, to Recipient, p Payload) error {
	obs.Info("email", map[string]any{
		"kind":           string(kind),
		"to":             to.Email,
		"subject":        p.Title,
		"appointment_id": p.AppointmentID,
	})
	return nil
}

// LogPush writes push notifications to the service log instead of sending them.
type LogPush struct{}

func (LogPush) Send(ctx context.Context, deviceToken string, p Payload) error {
	obs.Info("push", map[string]any{
		"kind":           string(p.Kind),
		"title":          p.Title,
		"appointment_id": p.AppointmentID,
	})
	return nil
}
