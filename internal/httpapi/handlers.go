package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"offboard.io/internal/auth"
	"offboard.io/internal/config"
	"offboard.io/internal/deprovision"
	"offboard.io/internal/obs"
	"offboard.io/internal/session"
)

const maxBody = 1 << 20

// SignIn is the delegated authorization-code flow. *signin.Flow satisfies it.
type SignIn interface {
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error)
	LogoutURL(postLogoutRedirect string) string
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	cfg      config.Config
	svc      *deprovision.Service
	sessions session.Store
	cookies  *auth.CookieCodec
	signin   SignIn
	version  string

	rateBurst  int
	ratePerSec int
	now        func() time.Time
}

// Option configures an API.
type Option func(*API)

// WithVersion sets the version reported by /health and /v1/info.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithRateLimit overrides the per-IP rate limit. Zero disables limiting.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

// WithClock overrides the time source used for session expiry.
func WithClock(fn func() time.Time) Option {
	return func(a *API) {
		if fn != nil {
			a.now = fn
		}
	}
}

func New(cfg config.Config, svc *deprovision.Service, sessions session.Store, cookies *auth.CookieCodec, flow SignIn, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		cfg:        cfg,
		svc:        svc,
		sessions:   sessions,
		cookies:    cookies,
		signin:     flow,
		version:    "dev",
		rateBurst:  cfg.RateBurst,
		ratePerSec: cfg.RatePerSec,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cfg.SessionTTL <= 0 {
		a.cfg.SessionTTL = 8 * time.Hour
	}

	a.mux.HandleFunc("GET /health", a.Health)
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("GET /login", a.Login)
	a.mux.HandleFunc("GET /auth-response", a.AuthResponse)
	a.mux.HandleFunc("GET /logout", a.Logout)

	a.mux.Handle("GET /{$}", a.requireOperator(http.HandlerFunc(a.Index), redirectToLogin))
	a.mux.Handle("POST /test-connections", a.requireOperator(http.HandlerFunc(a.TestConnections), rejectUnauthenticated))
	a.mux.Handle("POST /deprovision", a.requireOperator(http.HandlerFunc(a.Deprovision), rejectUnauthenticated))

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.cfg.TrustedProxies)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"version":      a.version,
		"config_valid": a.cfg.Valid(),
		"auth_method":  "oauth_with_ad_credentials",
	})
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "offboard",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "offboard",
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
