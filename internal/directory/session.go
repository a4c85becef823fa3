package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/text/encoding/unicode"

	"offboard.io/internal/results"
)

// Session is an authenticated directory connection bound to one run.
type Session struct {
	conn    Conn
	cfg     Config
	log     *results.Log
	boundAs string
	now     func() time.Time
	closed  bool
}

// Option configures Connect.
type Option func(*options)

type options struct {
	dial Dialer
	now  func() time.Time
}

// WithDialer replaces the LDAP dialer (tests).
func WithDialer(d Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dial = d
		}
	}
}

// WithClock overrides the time source used for account expiration.
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

// Connect dials the directory and binds as username. Exactly one
// ActionConnect result is recorded. The caller must Close a returned session.
func Connect(ctx context.Context, cfg Config, username, password string, log *results.Log, opts ...Option) (*Session, error) {
	o := options{dial: DialLDAP, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := ctx.Err(); err != nil {
		log.Error(ActionConnect, fmt.Sprintf("AD connection failed: %v", err))
		return nil, results.Fail(ActionConnect, results.ReasonTransport, err)
	}

	bindName := FormatUsername(username, cfg.SearchBase)
	conn, err := o.dial(ctx, cfg)
	if err != nil {
		log.Error(ActionConnect, fmt.Sprintf("AD connection failed: %v", err))
		return nil, results.Fail(ActionConnect, results.ReasonTransport, err)
	}
	if err := conn.Bind(bindName, password); err != nil {
		_ = conn.Close()
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			log.Error(ActionConnect, fmt.Sprintf("AD authentication failed - invalid credentials: %v", err))
			return nil, results.Fail(ActionConnect, results.ReasonAuthentication, err)
		}
		log.Error(ActionConnect, fmt.Sprintf("AD connection failed: %v", err))
		return nil, results.Fail(ActionConnect, results.ReasonTransport, err)
	}

	log.Success(ActionConnect, "Successfully connected to Active Directory as: "+bindName)
	return &Session{
		conn:    conn,
		cfg:     cfg,
		log:     log,
		boundAs: bindName,
		now:     o.now,
	}, nil
}

// BoundAs returns the user name the session authenticated with.
func (s *Session) BoundAs() string { return s.boundAs }

// Close releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// FindUser looks up the entry whose mail attribute equals email.
func (s *Session) FindUser(ctx context.Context, email string) (*User, error) {
	if err := s.usable(ctx); err != nil {
		s.log.Error(ActionSearch, fmt.Sprintf("AD user search failed: %v", err))
		return nil, results.Fail(ActionSearch, results.ReasonTransport, err)
	}
	req := ldap.NewSearchRequest(
		s.cfg.SearchBase,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		fmt.Sprintf("(mail=%s)", ldap.EscapeFilter(email)),
		userAttributes,
		nil,
	)
	res, err := s.conn.Search(req)
	if err != nil {
		s.log.Error(ActionSearch, fmt.Sprintf("AD user search failed: %v", err))
		return nil, results.Fail(ActionSearch, classify(err), err)
	}
	if len(res.Entries) == 0 {
		s.log.Warning(ActionSearch, "User not found in AD: "+email)
		return nil, results.Failf(ActionSearch, results.ReasonNotFound, "no entry with mail %q", email)
	}

	user := userFromEntry(res.Entries[0])
	s.log.Add(ActionSearch, results.StatusSuccess, "Found AD user: "+user.SAMAccountName, map[string]any{
		"dn": user.DN,
	})
	return user, nil
}

// Disable marks the account disabled.
func (s *Session) Disable(ctx context.Context, dn string) error {
	req := ldap.NewModifyRequest(dn, nil)
	req.Replace("userAccountControl", []string{strconv.Itoa(DisabledAccount)})
	return s.modify(ctx, ActionDisable, req,
		"AD account disabled successfully",
		"Failed to disable AD account")
}

// SetExpiration expires the account as of yesterday.
func (s *Session) SetExpiration(ctx context.Context, dn string) error {
	ticks := FileTime(s.now().Add(-24 * time.Hour))
	req := ldap.NewModifyRequest(dn, nil)
	req.Replace("accountExpires", []string{strconv.FormatInt(ticks, 10)})
	return s.modify(ctx, ActionExpiration, req,
		"Account expiration set to yesterday",
		"Failed to set expiration")
}

// ResetPassword replaces the account password.
func (s *Session) ResetPassword(ctx context.Context, dn, password string) error {
	encoded, err := EncodePassword(password)
	if err != nil {
		s.log.Error(ActionPassword, fmt.Sprintf("Failed to reset AD password: %v", err))
		return results.Fail(ActionPassword, results.ReasonInvalidInput, err)
	}
	req := ldap.NewModifyRequest(dn, nil)
	req.Replace("unicodePwd", []string{encoded})
	return s.modify(ctx, ActionPassword, req,
		"AD password reset successfully",
		"Failed to reset AD password")
}

// Move re-parents the entry under the terminated users OU.
func (s *Session) Move(ctx context.Context, dn string) error {
	if err := s.usable(ctx); err != nil {
		s.log.Error(ActionMove, fmt.Sprintf("Failed to move user: %v", err))
		return results.Fail(ActionMove, results.ReasonTransport, err)
	}
	rdn, err := LeadingRDN(dn)
	if err != nil {
		s.log.Error(ActionMove, fmt.Sprintf("Failed to move user: %v", err))
		return results.Fail(ActionMove, results.ReasonInvalidInput, err)
	}
	if strings.TrimSpace(s.cfg.TerminatedOU) == "" {
		err := errors.New("terminated users OU is not configured")
		s.log.Error(ActionMove, fmt.Sprintf("Failed to move user: %v", err))
		return results.Fail(ActionMove, results.ReasonInvalidInput, err)
	}
	req := ldap.NewModifyDNRequest(dn, rdn, true, s.cfg.TerminatedOU)
	if err := s.conn.ModifyDN(req); err != nil {
		s.log.Error(ActionMove, fmt.Sprintf("Failed to move user: %v", err))
		return results.Fail(ActionMove, classify(err), err)
	}
	s.log.Add(ActionMove, results.StatusSuccess, "User moved to terminated OU", map[string]any{
		"dn":  dn,
		"ou":  s.cfg.TerminatedOU,
		"rdn": rdn,
	})
	return nil
}

func (s *Session) modify(ctx context.Context, action string, req *ldap.ModifyRequest, okMsg, failMsg string) error {
	if err := s.usable(ctx); err != nil {
		s.log.Error(action, fmt.Sprintf("%s: %v", failMsg, err))
		return results.Fail(action, results.ReasonTransport, err)
	}
	if err := s.conn.Modify(req); err != nil {
		s.log.Error(action, fmt.Sprintf("%s: %v", failMsg, err))
		return results.Fail(action, classify(err), err)
	}
	s.log.Add(action, results.StatusSuccess, okMsg, map[string]any{"dn": req.DN})
	return nil
}

func (s *Session) usable(ctx context.Context) error {
	if s.closed {
		return errors.New("directory session is closed")
	}
	return ctx.Err()
}

func classify(err error) results.Reason {
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInsufficientAccessRights):
		return results.ReasonPermission
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials):
		return results.ReasonAuthentication
	case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
		return results.ReasonNotFound
	case ldap.IsErrorWithCode(err, ldap.ErrorNetwork):
		return results.ReasonTransport
	default:
		return results.ReasonRejected
	}
}

func userFromEntry(e *ldap.Entry) *User {
	dn := e.DN
	if v := e.GetAttributeValue("distinguishedName"); v != "" {
		dn = v
	}
	uac, _ := strconv.Atoi(e.GetAttributeValue("userAccountControl"))
	return &User{
		DN:                 dn,
		SAMAccountName:     e.GetAttributeValue("sAMAccountName"),
		UserPrincipalName:  e.GetAttributeValue("userPrincipalName"),
		GivenName:          e.GetAttributeValue("givenName"),
		Surname:            e.GetAttributeValue("sn"),
		Mail:               e.GetAttributeValue("mail"),
		UserAccountControl: uac,
	}
}

// fileTimeEpochOffset is the number of seconds between 1601-01-01 and 1970-01-01.
const fileTimeEpochOffset = 11644473600

// FileTime converts t to 100-nanosecond ticks since 1601-01-01T00:00:00Z.
func FileTime(t time.Time) int64 {
	t = t.UTC()
	return (t.Unix()+fileTimeEpochOffset)*10_000_000 + int64(t.Nanosecond()/100)
}

// EncodePassword returns the unicodePwd value for password: the quoted
// string encoded as UTF-16LE.
func EncodePassword(password string) (string, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	return enc.String(`"` + password + `"`)
}

// FormatUsername qualifies a bare account name with the DNS domain derived
// from the DC components of searchBase.
func FormatUsername(username, searchBase string) string {
	username = strings.TrimSpace(username)
	if strings.ContainsAny(username, `@\`) {
		return username
	}
	domain := DomainFromBase(searchBase)
	if domain == "" {
		return username
	}
	return username + "@" + domain
}

// DomainFromBase turns "OU=Staff,DC=corp,DC=example" into "corp.example".
func DomainFromBase(base string) string {
	dn, err := ldap.ParseDN(base)
	if err != nil {
		return ""
	}
	var parts []string
	for _, rdn := range dn.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.EqualFold(attr.Type, "dc") && attr.Value != "" {
				parts = append(parts, attr.Value)
			}
		}
	}
	return strings.Join(parts, ".")
}

// LeadingRDN returns the first relative distinguished name of dn exactly as
// written, e.g. `CN=Doe\, Jane` for `CN=Doe\, Jane,OU=Staff,DC=corp`.
func LeadingRDN(dn string) (string, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("parse dn %q: %w", dn, err)
	}
	if len(parsed.RDNs) < 2 {
		return "", fmt.Errorf("dn %q has no parent", dn)
	}
	escaped := false
	for i, r := range dn {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			return strings.TrimSpace(dn[:i]), nil
		}
	}
	return "", fmt.Errorf("dn %q has no parent", dn)
}
