package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	abstractions "github.com/microsoft/kiota-abstractions-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offboard.io/internal/results"
)

func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *results.Log) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	log := results.NewLog()
	return New("tok-123", log, WithBaseURL(srv.URL), WithHTTPClient(srv.Client())), log
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statuses(log *results.Log) []results.Status {
	var out []results.Status
	for _, r := range log.Entries() {
		out = append(out, r.Status)
	}
	return out
}

func TestFindUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Query().Get("$select"), "givenName")
		switch r.PathValue("id") {
		case "jane.doe@corp.example":
			writeJSON(w, http.StatusOK, map[string]any{
				"id": "u-1", "displayName": "Jane Doe", "givenName": "Jane", "surname": "Doe",
			})
		case "expired@corp.example":
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "InvalidAuthenticationToken"}})
		case "boom@corp.example":
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]string{"code": "generalException", "message": "backend down"}})
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "Request_ResourceNotFound"}})
		}
	})
	c, log := newTestClient(t, mux)
	ctx := context.Background()

	u, err := c.FindUser(ctx, "jane.doe@corp.example")
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)
	assert.Equal(t, "Jane", u.GivenName)
	last, _ := log.Last()
	assert.Equal(t, "Found M365 user: Jane Doe", last.Message)

	u, err = c.FindUser(ctx, "ghost@corp.example")
	assert.Nil(t, u)
	assert.True(t, results.IsNotFound(err))
	last, _ = log.Last()
	assert.Equal(t, results.StatusWarning, last.Status)
	assert.Equal(t, "User not found in M365: ghost@corp.example", last.Message)

	_, err = c.FindUser(ctx, "expired@corp.example")
	assert.Equal(t, results.ReasonAuthentication, results.ReasonOf(err))
	last, _ = log.Last()
	assert.Equal(t, results.StatusError, last.Status)
	assert.Equal(t, "Access token expired or insufficient permissions", last.Message)

	_, err = c.FindUser(ctx, "boom@corp.example")
	assert.Equal(t, results.ReasonRejected, results.ReasonOf(err))
	last, _ = log.Last()
	assert.Equal(t, "Graph user search failed: generalException: backend down", last.Message)

	assert.Equal(t, 4, log.Len())
	for _, r := range log.Entries() {
		assert.Equal(t, ActionSearch, r.Action)
	}
}

func TestFindUserWithoutToken(t *testing.T) {
	log := results.NewLog()
	c := New("", log, WithBaseURL("http://127.0.0.1:1"))

	_, err := c.FindUser(context.Background(), "jane@corp.example")
	assert.Equal(t, results.ReasonAuthentication, results.ReasonOf(err))
	assert.Equal(t, []results.Status{results.StatusError}, statuses(log))
}

func TestFindUserTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	log := results.NewLog()
	c := New("tok", log, WithBaseURL(srv.URL))

	_, err := c.FindUser(context.Background(), "jane@corp.example")
	assert.Equal(t, results.ReasonTransport, results.ReasonOf(err))
	last, _ := log.Last()
	assert.Equal(t, results.StatusError, last.Status)
}

func TestDisableAccount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, false, body["accountEnabled"])
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		if r.PathValue("id") == "locked" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	c, log := newTestClient(t, mux)

	require.NoError(t, c.DisableAccount(context.Background(), "u-1"))
	last, _ := log.Last()
	assert.Equal(t, ActionDisable, last.Action)
	assert.Equal(t, results.StatusSuccess, last.Status)

	err := c.DisableAccount(context.Background(), "locked")
	assert.Equal(t, results.ReasonPermission, results.ReasonOf(err))
	last, _ = log.Last()
	assert.Equal(t, "Insufficient permissions to disable M365 account", last.Message)
}

func TestRevokeSessions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/{id}/revokeSignInSessions", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "u-1":
			writeJSON(w, http.StatusOK, map[string]any{"value": true})
		case "denied":
			w.WriteHeader(http.StatusForbidden)
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"message": "bad id"}})
		}
	})
	c, log := newTestClient(t, mux)
	ctx := context.Background()

	require.NoError(t, c.RevokeSessions(ctx, "u-1"))
	last, _ := log.Last()
	assert.Equal(t, "All M365 sessions revoked successfully: true", last.Message)

	err := c.RevokeSessions(ctx, "denied")
	assert.Equal(t, results.ReasonPermission, results.ReasonOf(err))
	last, _ = log.Last()
	assert.Equal(t, "Insufficient permissions to revoke sessions", last.Message)

	err = c.RevokeSessions(ctx, "other")
	assert.Equal(t, results.ReasonRejected, results.ReasonOf(err))
	last, _ = log.Last()
	assert.Equal(t, "Failed to revoke sessions: bad id", last.Message)
}

func TestRemoveMFAMethodsPartialFailure(t *testing.T) {
	var deleted []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/u-1/authentication/phoneMethods", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]string{
			{"id": "p-1", "phoneType": "mobile"},
			{"id": "p-2", "phoneType": "alternateMobile"},
		}})
	})
	mux.HandleFunc("GET /users/u-1/authentication/microsoftAuthenticatorMethods", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]string{
			{"id": "a-1", "displayName": "Pixel 8"},
		}})
	})
	mux.HandleFunc("DELETE /users/u-1/authentication/{kind}/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "p-2" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"message": "default method"}})
			return
		}
		deleted = append(deleted, r.PathValue("kind")+"/"+r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	c, log := newTestClient(t, mux)

	require.NoError(t, c.RemoveMFAMethods(context.Background(), "u-1"))
	assert.Equal(t, []string{"phoneMethods/p-1", "microsoftAuthenticatorMethods/a-1"}, deleted)

	warnings := 0
	for _, r := range log.Entries() {
		assert.Equal(t, ActionMFA, r.Action)
		if r.Status == results.StatusWarning {
			warnings++
			assert.Equal(t, "Failed to remove phone method: p-2", r.Message)
		}
	}
	assert.Equal(t, 1, warnings)

	entries := log.Entries()
	assert.Equal(t, "Removed phone method: mobile", entries[0].Message)
	assert.Equal(t, "Removed authenticator method: a-1", entries[2].Message)
	last, _ := log.Last()
	assert.Equal(t, results.StatusSuccess, last.Status)
	assert.Equal(t, "Successfully removed 2 MFA methods", last.Message)
}

func TestRemoveMFAMethodsFollowsNextLink(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/u-1/authentication/phoneMethods", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$skiptoken") == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"value":           []map[string]string{{"id": "p-1", "phoneType": "mobile"}},
				"@odata.nextLink": srvURL + "/users/u-1/authentication/phoneMethods?$skiptoken=2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]string{{"id": "p-2", "phoneType": "office"}}})
	})
	mux.HandleFunc("GET /users/u-1/authentication/microsoftAuthenticatorMethods", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{}})
	})
	mux.HandleFunc("DELETE /users/u-1/authentication/phoneMethods/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL
	log := results.NewLog()
	c := New("tok", log, WithBaseURL(srv.URL))

	require.NoError(t, c.RemoveMFAMethods(context.Background(), "u-1"))
	last, _ := log.Last()
	assert.Equal(t, "Successfully removed 2 MFA methods", last.Message)
}

func TestRemoveMFAMethodsNone(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/u-1/authentication/{kind}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{}})
	})
	c, log := newTestClient(t, mux)

	require.NoError(t, c.RemoveMFAMethods(context.Background(), "u-1"))
	assert.Equal(t, []results.Status{results.StatusInfo}, statuses(log))
	last, _ := log.Last()
	assert.Equal(t, "No MFA methods found to remove", last.Message)
}

func TestRemoveMFAMethodsListingForbidden(t *testing.T) {
	tests := []struct {
		name      string
		forbidden string
		wantCalls int
	}{
		{name: "phone", forbidden: "phoneMethods", wantCalls: 1},
		{name: "authenticator", forbidden: "microsoftAuthenticatorMethods", wantCalls: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			mux := http.NewServeMux()
			mux.HandleFunc("GET /users/u-1/authentication/{kind}", func(w http.ResponseWriter, r *http.Request) {
				calls++
				if r.PathValue("kind") == tc.forbidden {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"value": []any{}})
			})
			c, log := newTestClient(t, mux)

			err := c.RemoveMFAMethods(context.Background(), "u-1")
			assert.Equal(t, results.ReasonPermission, results.ReasonOf(err))
			assert.Equal(t, tc.wantCalls, calls)
			assert.Equal(t, []results.Status{results.StatusError}, statuses(log))
			last, _ := log.Last()
			assert.Equal(t, "Insufficient permissions to access MFA methods", last.Message)
		})
	}
}

func TestRemoveMFAMethodsListingRejectedContinues(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/u-1/authentication/phoneMethods", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"message": "unsupported"}})
	})
	mux.HandleFunc("GET /users/u-1/authentication/microsoftAuthenticatorMethods", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]string{{"id": "a-1"}}})
	})
	mux.HandleFunc("DELETE /users/u-1/authentication/microsoftAuthenticatorMethods/a-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c, log := newTestClient(t, mux)

	require.NoError(t, c.RemoveMFAMethods(context.Background(), "u-1"))
	assert.Equal(t, []results.Status{results.StatusWarning, results.StatusSuccess, results.StatusSuccess}, statuses(log))
}

func TestMe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "op-1", "displayName": "Ops Admin", "userPrincipalName": "ops@corp.example"})
	})
	c, log := newTestClient(t, mux)

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ops Admin", me.DisplayName)
	assert.Zero(t, log.Len())

	_, err = New("", nil).Me(context.Background())
	assert.Equal(t, results.ReasonAuthentication, results.ReasonOf(err))
}

func TestRemoveMFAMethodsRejectsForeignNextLink(t *testing.T) {
	foreignCalls := 0
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignCalls++
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{}})
	}))
	t.Cleanup(foreign.Close)

	var deleted []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/u-1/authentication/phoneMethods", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"value":           []map[string]string{{"id": "p-1", "phoneType": "mobile"}},
			"@odata.nextLink": foreign.URL + "/users/u-1/authentication/phoneMethods?$skiptoken=2",
		})
	})
	mux.HandleFunc("GET /users/u-1/authentication/microsoftAuthenticatorMethods", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]string{{"id": "a-1"}}})
	})
	mux.HandleFunc("DELETE /users/u-1/authentication/{kind}/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleted = append(deleted, r.PathValue("kind")+"/"+r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	c, log := newTestClient(t, mux)

	require.NoError(t, c.RemoveMFAMethods(context.Background(), "u-1"))
	assert.Zero(t, foreignCalls)
	assert.Equal(t, []string{"microsoftAuthenticatorMethods/a-1"}, deleted)

	entries := log.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, results.StatusWarning, entries[0].Status)
	assert.Contains(t, entries[0].Message, "Could not list phone methods: next page link leaves")
}

func TestDelegatedTokenStaysOnGraphOrigin(t *testing.T) {
	base, err := url.Parse("https://graph.microsoft.com/v1.0")
	require.NoError(t, err)
	provider := newDelegatedToken("tok", base)
	ctx := context.Background()

	tests := []struct {
		target string
		want   string
	}{
		{target: "https://graph.microsoft.com/v1.0/me", want: "tok"},
		{target: "https://GRAPH.microsoft.com/v1.0/users/u-1", want: "tok"},
		{target: "http://graph.microsoft.com/v1.0/me", want: ""},
		{target: "https://graph.microsoft.com:8443/v1.0/me", want: ""},
		{target: "https://attacker.example/v1.0/me", want: ""},
	}
	for _, tc := range tests {
		u, err := url.Parse(tc.target)
		require.NoError(t, err)
		got, err := provider.GetAuthorizationToken(ctx, u, nil)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.target)
	}
	assert.NotNil(t, provider.GetAllowedHostsValidator())
}

func TestStatusOfSDKErrors(t *testing.T) {
	mainErr := odataerrors.NewMainError()
	code, msg := "Authorization_RequestDenied", "Insufficient privileges"
	mainErr.SetCode(&code)
	mainErr.SetMessage(&msg)
	odataErr := odataerrors.NewODataError()
	odataErr.SetErrorEscaped(mainErr)
	odataErr.ResponseStatusCode = http.StatusForbidden

	assert.Equal(t, http.StatusForbidden, statusOf(odataErr))
	assert.Equal(t, "Authorization_RequestDenied: Insufficient privileges", errorText(odataErr))

	bare := &abstractions.ApiError{ResponseStatusCode: http.StatusNotFound}
	assert.Equal(t, http.StatusNotFound, statusOf(bare))
	assert.Equal(t, "Not Found", errorText(bare))

	plain := errors.New("dial tcp: connection refused")
	assert.Zero(t, statusOf(plain))
	assert.Equal(t, "dial tcp: connection refused", errorText(plain))
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	log := results.NewLog()
	c := New("tok", log, WithBaseURL("not a url"))

	_, err := c.FindUser(context.Background(), "jane@corp.example")
	assert.Equal(t, results.ReasonTransport, results.ReasonOf(err))
	_, err = c.Me(context.Background())
	assert.Equal(t, results.ReasonTransport, results.ReasonOf(err))
}
