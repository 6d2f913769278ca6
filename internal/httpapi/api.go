package httpapi

import (
	"context"
	"net/http"
	"time"

	"medconsult.org/internal/appointment"
	"medconsult.org/internal/auth"
	"medconsult.org/internal/clinic"
	"medconsult.org/internal/obs"
	"medconsult.org/internal/stream"
)

const serviceName = "medconsult-api"

const (
	defaultMaxBody   = 1 << 20
	defaultMaxUpload = 10 << 20
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe checks the backing store.
type ReadyProbe struct {
	Store interface {
		Ping(ctx context.Context) error
	}
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Deps wires the API to the core services.
type Deps struct {
	Store        clinic.Store
	Appointments *appointment.Service
	Codec        *auth.TokenCodec
	Resolver     PrincipalResolver
	Hub          *stream.Hub
	Ready        readinessChecker
	Version      string

	Public      PublicRoutes
	CORSOrigins []string

	AuthRateLimit float64
	AuthRateBurst int
	MaxBodyBytes  int64
	MaxUpload     int64
}

// API is the HTTP layer.
type API struct {
	mux          *http.ServeMux
	store        clinic.Store
	appointments *appointment.Service
	codec        *auth.TokenCodec
	resolver     PrincipalResolver
	hub          *stream.Hub
	ready        readinessChecker
	version      string
	public       PublicRoutes
	origins      []string
	maxBody      int64
	maxUpload    int64
	rateLimit    float64
	rateBurst    int
}

func New(d Deps) *API {
	a := &API{
		mux:          http.NewServeMux(),
		store:        d.Store,
		appointments: d.Appointments,
		codec:        d.Codec,
		resolver:     d.Resolver,
		hub:          d.Hub,
		ready:        d.Ready,
		version:      d.Version,
		public:       d.Public,
		origins:      d.CORSOrigins,
		maxBody:      d.MaxBodyBytes,
		maxUpload:    d.MaxUpload,
		rateLimit:    d.AuthRateLimit,
		rateBurst:    d.AuthRateBurst,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{Store: d.Store}
	}
	if a.maxBody <= 0 {
		a.maxBody = defaultMaxBody
	}
	if a.maxUpload <= 0 {
		a.maxUpload = defaultMaxUpload
	}
	if a.rateLimit <= 0 {
		a.rateLimit = 5
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 10
	}
	a.routes()
	return a
}

func (a *API) routes() {
	patient := RequireRole(auth.RolePatient)
	doctor := RequireRole(auth.RoleDoctor)
	anyone := RequireRole()
	limited := func(h http.HandlerFunc) http.Handler {
		return RateLimit(h, a.rateBurst, a.rateLimit)
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.Handle("POST /api/auth/patient/register", limited(a.registerPatient))
	a.mux.Handle("POST /api/auth/patient/login", limited(a.loginPatient))
	a.mux.Handle("POST /api/auth/doctor/login", limited(a.loginDoctor))

	a.mux.HandleFunc("GET /api/doctors", a.listDoctors)
	a.mux.Handle("GET /api/doctors/{id}", anyone(http.HandlerFunc(a.getDoctor)))

	a.mux.Handle("GET /api/patient/me", patient(http.HandlerFunc(a.patientMe)))
	a.mux.Handle("PUT /api/patient/me", patient(http.HandlerFunc(a.updatePatientMe)))
	a.mux.Handle("PUT /api/patient/device-token", patient(http.HandlerFunc(a.patientDeviceToken)))
	a.mux.Handle("GET /api/patient/appointments", patient(http.HandlerFunc(a.patientAppointments)))

	a.mux.Handle("GET /api/doctor/me", doctor(http.HandlerFunc(a.doctorMe)))
	a.mux.Handle("PUT /api/doctor/device-token", doctor(http.HandlerFunc(a.doctorDeviceToken)))
	a.mux.Handle("GET /api/doctor/appointments", doctor(http.HandlerFunc(a.doctorAppointments)))
	a.mux.Handle("GET /api/doctor/pending/stream", doctor(http.HandlerFunc(a.pendingSSE)))
	a.mux.Handle("GET /api/doctor/pending/ws", doctor(http.HandlerFunc(a.pendingWS)))

	a.mux.Handle("POST /api/appointments", patient(http.HandlerFunc(a.bookAppointment)))
	a.mux.Handle("GET /api/appointments/{id}", anyone(http.HandlerFunc(a.getAppointment)))
	a.mux.Handle("POST /api/appointments/{id}/approve", doctor(http.HandlerFunc(a.approveAppointment)))
	a.mux.Handle("POST /api/appointments/{id}/reject", doctor(http.HandlerFunc(a.rejectAppointment)))
	a.mux.Handle("PUT /api/appointments/{id}/images", doctor(MaxBodyBytes(http.HandlerFunc(a.attachImages), a.maxUpload)))
	a.mux.Handle("DELETE /api/appointments/{id}/images", doctor(http.HandlerFunc(a.deleteImages)))
	a.mux.Handle("GET /api/appointments/{id}/prescription", anyone(http.HandlerFunc(a.getPrescription)))
	a.mux.Handle("GET /api/appointments/{id}/images/{slot}", anyone(http.HandlerFunc(a.getImage)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
}

// Handler returns the mux wrapped in the middleware chain, auth gate innermost.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = AuthGate(a.public, a.codec, a.resolver)(h)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
