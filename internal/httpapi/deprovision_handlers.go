package httpapi

import (
	"context"
	"net/http"
	"strings"

	"offboard.io/internal/audit"
	"offboard.io/internal/auth"
	"offboard.io/internal/deprovision"
	"offboard.io/internal/obs"
	"offboard.io/internal/results"
)

type credentialsRequest struct {
	ADUsername string `json:"adUsername"`
	ADPassword string `json:"adPassword"`
}

func (c credentialsRequest) trimmed() (string, string, bool) {
	u, p := strings.TrimSpace(c.ADUsername), strings.TrimSpace(c.ADPassword)
	return u, p, u != "" && p != ""
}

// actionFlags is the flat checkbox map posted by the browser form.
type actionFlags struct {
	ADActions        bool `json:"adActions"`
	DisableAD        bool `json:"disableAD"`
	ExpireAD         bool `json:"expireAD"`
	ResetADPassword  bool `json:"resetADPassword"`
	M365Actions      bool `json:"m365Actions"`
	DisableM365      bool `json:"disableM365"`
	RevokeSessions   bool `json:"revokeSessions"`
	MFAActions       bool `json:"mfaActions"`
	RemoveMFA        bool `json:"removeMFA"`
	OrgActions       bool `json:"orgActions"`
	MoveToTerminated bool `json:"moveToTerminated"`
}

func (f actionFlags) selection() deprovision.Selection {
	return deprovision.Selection{
		Directory: deprovision.DirectoryActions{
			Enabled:       f.ADActions,
			Disable:       f.DisableAD,
			Expire:        f.ExpireAD,
			ResetPassword: f.ResetADPassword,
		},
		Cloud: deprovision.CloudActions{
			Enabled:        f.M365Actions,
			Disable:        f.DisableM365,
			RevokeSessions: f.RevokeSessions,
		},
		MFA: deprovision.MFAActions{
			Enabled:       f.MFAActions,
			RemoveMethods: f.RemoveMFA,
		},
		Org: deprovision.OrgActions{
			Enabled:          f.OrgActions,
			MoveToTerminated: f.MoveToTerminated,
		},
	}
}

type deprovisionRequest struct {
	credentialsRequest
	UserEmail string      `json:"userEmail"`
	Actions   actionFlags `json:"actions"`
	Confirmed bool        `json:"confirmed"`
}

// Index reports configuration status for the signed-in operator.
func (a *API) Index(w http.ResponseWriter, r *http.Request) {
	op, _ := auth.OperatorFromContext(r.Context())
	missing := a.cfg.Missing()
	if missing == nil {
		missing = []string{}
	}
	name := op.Name
	if name == "" {
		name = "Unknown"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"is_configured":      len(missing) == 0,
		"missing_fields":     missing,
		"user_authenticated": true,
		"user_name":          name,
		"user_email":         op.Email,
	})
}

func (a *API) TestConnections(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, pw, ok := req.trimmed()
	if !ok {
		writeError(w, r, http.StatusBadRequest, "AD credentials required for testing")
		return
	}
	token, _ := auth.TokenFromContext(r.Context())

	rep := a.svc.TestConnections(r.Context(), user, pw, token)
	_ = audit.LogEvent(r.Context(), audit.EventConnectionsTested, map[string]any{
		"ad_username": user,
		"ad":          rep.AD,
		"graph":       rep.Graph,
	})
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) Deprovision(w http.ResponseWriter, r *http.Request) {
	var req deprovisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.UserEmail)
	if email == "" {
		writeError(w, r, http.StatusBadRequest, "User email is required")
		return
	}
	user, pw, ok := req.trimmed()
	if !ok {
		writeError(w, r, http.StatusBadRequest, "AD credentials are required")
		return
	}
	if a.cfg.RequireConfirmation && !req.Confirmed {
		writeError(w, r, http.StatusBadRequest, "Confirmation is required")
		return
	}

	ctx := r.Context()
	op, _ := auth.OperatorFromContext(ctx)
	token, _ := auth.TokenFromContext(ctx)
	_ = audit.LogEvent(ctx, audit.EventDeprovisionStart, map[string]any{
		"target":      email,
		"ad_username": user,
	})

	rep := a.svc.Deprovision(ctx, deprovision.Request{
		Email:     email,
		Actions:   req.Actions.selection(),
		Token:     token,
		Directory: deprovision.Credentials{Username: user, Password: pw},
		Operator:  op.DisplayName(),
	})

	obs.RecordRun(rep.Outcome)
	_ = audit.LogEvent(ctx, audit.EventDeprovisionDone, map[string]any{
		"target":  email,
		"outcome": rep.Outcome,
		"results": len(rep.Results),
	})
	writeJSON(w, http.StatusOK, rep)
}

// ObserveResult audits and counts one deprovisioning result. It is meant to
// be installed with deprovision.WithObserver.
func ObserveResult(ctx context.Context, r results.Result) {
	obs.RecordAction(r.Action, string(r.Status))
	_ = audit.LogEvent(ctx, audit.EventDeprovisionAction, map[string]any{
		"action":  r.Action,
		"status":  string(r.Status),
		"message": r.Message,
	})
}
