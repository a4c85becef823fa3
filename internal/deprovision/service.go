// Package deprovision runs the offboarding of one user across Active
// Directory and Microsoft 365 and collects the per-action results.
package deprovision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"offboard.io/internal/directory"
	"offboard.io/internal/graph"
	"offboard.io/internal/password"
	"offboard.io/internal/results"
)

// Result actions recorded by the orchestrator itself.
const (
	ActionAuth     = "Auth"
	ActionSearch   = "User Search"
	ActionPassword = "Password"
	ActionComplete = "Complete"
)

// Run outcomes.
const (
	OutcomeCompleted     = "completed"
	OutcomeConnectFailed = "connect_failed"
	OutcomeNotFound      = "not_found"
)

var errNoConnector = errors.New("deprovision: directory connector is required")

// Credentials are the directory credentials supplied for one run.
type Credentials struct {
	Username string
	Password string
}

// Request describes one deprovisioning run.
type Request struct {
	Email     string
	Actions   Selection
	Token     string
	Directory Credentials
	// Operator is the display name of the signed-in operator.
	Operator string
}

// Report is the outcome of a run. Password is set only when the run reached
// the terminal step with a generated password.
type Report struct {
	Results  []results.Result `json:"results"`
	Password *string          `json:"password"`
	Outcome  string           `json:"-"`
}

// ResultObserver sees every result as it is recorded.
type ResultObserver func(ctx context.Context, r results.Result)

// Service orchestrates deprovisioning runs. It holds no per-run state and is
// safe for concurrent use.
type Service struct {
	connect  DirectoryConnector
	cloud    CloudFactory
	password PasswordFunc
	observe  ResultObserver
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithPasswordFunc replaces the password generator.
func WithPasswordFunc(fn PasswordFunc) ServiceOption {
	return func(s *Service) error {
		if fn == nil {
			return errors.New("deprovision: password func is nil")
		}
		s.password = fn
		return nil
	}
}

// WithObserver registers a callback for every recorded result.
func WithObserver(fn ResultObserver) ServiceOption {
	return func(s *Service) error {
		s.observe = fn
		return nil
	}
}

// NewService wires the adapters used by every run.
func NewService(connect DirectoryConnector, cloud CloudFactory, opts ...ServiceOption) (*Service, error) {
	if connect == nil {
		return nil, errNoConnector
	}
	if cloud == nil {
		cloud = GraphFactory()
	}
	s := &Service{
		connect:  connect,
		cloud:    cloud,
		password: defaultPassword,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) newLog(ctx context.Context) *results.Log {
	if s.observe == nil {
		return results.NewLog()
	}
	return results.NewLog(results.WithObserver(func(r results.Result) {
		s.observe(ctx, r)
	}))
}

// run holds the state of a single Deprovision call.
type run struct {
	req    Request
	log    *results.Log
	dir    DirectorySession
	cloud  CloudClient
	adUser *directory.User
	m365   *graph.User
	pw     *password.Password
}

// Deprovision executes the selected actions for req.Email. It never returns
// an error: every failure is a result entry. The directory session, when one
// was opened, is closed before returning.
func (s *Service) Deprovision(ctx context.Context, req Request) Report {
	r := &run{req: req, log: s.newLog(ctx)}
	r.log.Success(ActionAuth, "Authenticated as: "+operatorName(req.Operator))

	if req.Actions.NeedsDirectory() {
		sess, err := s.connect(ctx, req.Directory.Username, req.Directory.Password, r.log)
		if err != nil {
			return r.report(OutcomeConnectFailed)
		}
		r.dir = sess
		defer func() { _ = sess.Close() }()
	}
	if req.Actions.NeedsCloud() {
		r.cloud = s.cloud(req.Token, r.log)
	}

	if r.dir != nil {
		if u, err := r.dir.FindUser(ctx, req.Email); err == nil {
			r.adUser = u
		}
	}
	if r.cloud != nil {
		if u, err := r.cloud.FindUser(ctx, req.Email); err == nil {
			r.m365 = u
		}
	}
	if r.adUser == nil && r.m365 == nil {
		r.log.Error(ActionSearch, "User not found in any connected system")
		return r.report(OutcomeNotFound)
	}

	s.generatePassword(r)
	r.directoryActions(ctx)
	r.cloudActions(ctx)
	r.mfaActions(ctx)
	r.orgActions(ctx)

	r.log.Success(ActionComplete, "User deprovisioning process completed successfully!")
	rep := r.report(OutcomeCompleted)
	if r.pw != nil {
		value := r.pw.Value
		rep.Password = &value
	}
	return rep
}

func (s *Service) generatePassword(r *run) {
	pw, err := s.password(r.excludeNames())
	if err != nil {
		r.log.Error(ActionPassword, fmt.Sprintf("Failed to generate password: %v", err))
		return
	}
	r.pw = &pw
	if pw.Fallback {
		r.log.Warning(ActionPassword, fmt.Sprintf(
			"Secure password generated, but user names could not be excluded after %d attempts", password.MaxAttempts))
		return
	}
	r.log.Success(ActionPassword, "Secure password generated (excluding user names)")
}

// excludeNames prefers the cloud identity's names and falls back to the
// directory record.
func (r *run) excludeNames() []string {
	if r.m365 != nil {
		if names := nonEmpty(r.m365.GivenName, r.m365.Surname); len(names) > 0 {
			return names
		}
	}
	if r.adUser != nil {
		return nonEmpty(r.adUser.GivenName, r.adUser.Surname)
	}
	return nil
}

func (r *run) directoryActions(ctx context.Context) {
	sel := r.req.Actions.Directory
	if r.adUser == nil || !sel.Enabled {
		return
	}
	dn := r.adUser.DN
	if sel.Disable {
		_ = r.dir.Disable(ctx, dn)
	}
	if sel.Expire {
		_ = r.dir.SetExpiration(ctx, dn)
	}
	if r.req.Actions.wantsDirectoryReset() {
		if r.pw == nil {
			r.log.Error(directory.ActionPassword, "AD password reset skipped: no password was generated")
		} else {
			_ = r.dir.ResetPassword(ctx, dn, r.pw.Value)
		}
	}
}

func (r *run) cloudActions(ctx context.Context) {
	sel := r.req.Actions.Cloud
	if r.m365 == nil || !sel.Enabled {
		return
	}
	if sel.Disable {
		_ = r.cloud.DisableAccount(ctx, r.m365.ID)
	}
	if sel.RevokeSessions {
		_ = r.cloud.RevokeSessions(ctx, r.m365.ID)
	}
}

func (r *run) mfaActions(ctx context.Context) {
	sel := r.req.Actions.MFA
	if r.m365 == nil || !sel.Enabled || !sel.RemoveMethods {
		return
	}
	_ = r.cloud.RemoveMFAMethods(ctx, r.m365.ID)
}

func (r *run) orgActions(ctx context.Context) {
	sel := r.req.Actions.Org
	if r.adUser == nil || !sel.Enabled || !sel.MoveToTerminated {
		return
	}
	_ = r.dir.Move(ctx, r.adUser.DN)
}

func (r *run) report(outcome string) Report {
	return Report{Results: r.log.Entries(), Outcome: outcome}
}

func operatorName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "Unknown User"
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
