package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"offboard.io/internal/audit"
	"offboard.io/internal/auth"
	"offboard.io/internal/obs"
	"offboard.io/internal/session"
	"offboard.io/internal/signin"
)

const (
	sessionCookie = "offboard_session"
	notSignedIn   = "Not authenticated to Microsoft 365"
)

// unauthenticated decides what a protected route answers without a session.
type unauthenticated func(w http.ResponseWriter, r *http.Request)

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/login", http.StatusFound)
}

func rejectUnauthenticated(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusUnauthorized, notSignedIn)
}

// requireOperator admits only signed-in sessions and attaches the operator
// and the delegated token to the request context.
func (a *API) requireOperator(next http.Handler, deny unauthenticated) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := a.currentSession(r)
		if !ok || !s.SignedIn() {
			deny(w, r)
			return
		}
		ctx := auth.ContextWithOperator(r.Context(), s.Operator)
		ctx = auth.ContextWithToken(ctx, s.AccessToken)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) currentSession(r *http.Request) (session.Session, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return session.Session{}, false
	}
	claims, err := a.cookies.Parse(c.Value)
	if err != nil {
		return session.Session{}, false
	}
	s, err := a.sessions.Get(r.Context(), claims.SessionID())
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			obs.Warn("session lookup failed", map[string]any{"error": err.Error(), "request_id": RequestIDFromContext(r)})
		}
		return session.Session{}, false
	}
	return s, true
}

// Login starts a fresh session and redirects to the Microsoft authorize page.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	if prev, ok := a.currentSession(r); ok {
		_ = a.sessions.Delete(r.Context(), prev.ID)
	}
	now := a.now().UTC()
	s := session.Session{
		ID:        auth.NewSessionID(),
		State:     auth.NewSessionID(),
		Verifier:  signin.NewVerifier(),
		CreatedAt: now,
		ExpiresAt: now.Add(a.cfg.SessionTTL),
	}
	if err := a.sessions.Create(r.Context(), s); err != nil {
		obs.Error("session create failed", map[string]any{"error": err.Error(), "request_id": RequestIDFromContext(r)})
		writeError(w, r, http.StatusInternalServerError, "could not start sign-in")
		return
	}
	if err := a.setSessionCookie(w, r, s.ID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "could not start sign-in")
		return
	}
	http.Redirect(w, r, a.signin.AuthCodeURL(s.State, s.Verifier), http.StatusFound)
}

// AuthResponse completes the authorization-code flow.
func (a *API) AuthResponse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s, ok := a.currentSession(r)
	if !ok || s.State == "" || q.Get("state") != s.State {
		writeError(w, r, http.StatusBadRequest, "Invalid state parameter")
		return
	}
	if e := q.Get("error"); e != "" {
		writeError(w, r, http.StatusBadRequest, e)
		return
	}

	tok, err := a.signin.Exchange(r.Context(), q.Get("code"), s.Verifier)
	if err != nil {
		obs.Error("authentication failed", map[string]any{"error": err.Error(), "request_id": RequestIDFromContext(r)})
		writeError(w, r, http.StatusBadRequest, "Authentication failed")
		return
	}
	me, err := a.svc.Operator(r.Context(), tok.AccessToken)
	if err != nil {
		obs.Error("operator lookup failed", map[string]any{"error": err.Error(), "request_id": RequestIDFromContext(r)})
		writeError(w, r, http.StatusBadRequest, "Authentication failed")
		return
	}

	s.State, s.Verifier = "", ""
	s.AccessToken = tok.AccessToken
	s.Operator = auth.Operator{
		ID:    me.ID,
		Name:  me.DisplayName,
		Email: firstNonEmpty(me.UserPrincipalName, me.Mail),
	}
	if err := a.sessions.Save(r.Context(), s); err != nil {
		obs.Error("session save failed", map[string]any{"error": err.Error(), "request_id": RequestIDFromContext(r)})
		writeError(w, r, http.StatusInternalServerError, "could not complete sign-in")
		return
	}
	_ = audit.LogEvent(auth.ContextWithOperator(r.Context(), s.Operator), audit.EventSignIn, map[string]any{
		"name": s.Operator.Name,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout ends the session here and at Microsoft.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if s, ok := a.currentSession(r); ok {
		_ = a.sessions.Delete(r.Context(), s.ID)
		if s.SignedIn() {
			_ = audit.LogEvent(auth.ContextWithOperator(r.Context(), s.Operator), audit.EventSignOut, nil)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, a.signin.LogoutURL(absoluteURL(r, "/login")), http.StatusFound)
}

func (a *API) setSessionCookie(w http.ResponseWriter, r *http.Request, id string) error {
	value, expires, err := a.cookies.Issue(id, a.cfg.SessionTTL)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func absoluteURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil || (behindProxy(r) && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")) {
		scheme = "https"
	}
	return scheme + "://" + r.Host + path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
