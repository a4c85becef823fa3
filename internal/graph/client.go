// Package graph deprovisions Microsoft 365 identities through the Microsoft
// Graph SDK using the operator's delegated bearer token.
package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	abstractions "github.com/microsoft/kiota-abstractions-go"
	"github.com/microsoft/kiota-abstractions-go/authentication"
	"github.com/microsoft/kiota-abstractions-go/serialization"
	nethttplibrary "github.com/microsoft/kiota-http-go"
	msgraph "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"

	"offboard.io/internal/results"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Result actions recorded by this package.
const (
	ActionSearch   = "Graph User Search"
	ActionDisable  = "M365 Disable"
	ActionSessions = "M365 Sessions"
	ActionMFA      = "MFA Cleanup"

	actionAuth = "Graph Auth"
)

var errMissingToken = errors.New("no delegated access token")

// User is a located cloud identity.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
	UserPrincipalName string `json:"userPrincipalName"`
	Mail              string `json:"mail"`
}

func userFrom(u models.Userable) *User {
	return &User{
		ID:                deref(u.GetId()),
		DisplayName:       deref(u.GetDisplayName()),
		GivenName:         deref(u.GetGivenName()),
		Surname:           deref(u.GetSurname()),
		UserPrincipalName: deref(u.GetUserPrincipalName()),
		Mail:              deref(u.GetMail()),
	}
}

// Client calls Graph on behalf of the signed-in operator. A Client is built
// per run with the operator's token and writes into that run's log.
type Client struct {
	sdk     *msgraph.GraphServiceClient
	adapter abstractions.RequestAdapter
	base    *url.URL
	token   string
	log     *results.Log
	initErr error
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
	http    *http.Client
}

// WithBaseURL points the client at a different Graph root (tests, national clouds).
func WithBaseURL(u string) Option {
	return func(o *clientOptions) {
		if u = strings.TrimSpace(u); u != "" {
			o.baseURL = u
		}
	}
}

// WithHTTPClient sets the client the request adapter sends through.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) {
		if hc != nil {
			o.http = hc
		}
	}
}

// New returns a client authenticating with token. log may be nil when the
// caller only needs Me.
func New(token string, log *results.Log, opts ...Option) *Client {
	o := clientOptions{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = results.NewLog()
	}
	c := &Client{token: token, log: log}

	base, err := url.Parse(strings.TrimRight(o.baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		c.initErr = fmt.Errorf("invalid graph base url %q", o.baseURL)
		return c
	}
	provider := authentication.NewBaseBearerTokenAuthenticationProvider(newDelegatedToken(token, base))
	adapter, err := nethttplibrary.NewNetHttpRequestAdapterWithParseNodeFactoryAndSerializationWriterFactoryAndHttpClient(
		provider,
		serialization.DefaultParseNodeFactoryInstance,
		serialization.DefaultSerializationWriterFactoryInstance,
		o.http,
	)
	if err != nil {
		c.initErr = fmt.Errorf("graph request adapter: %w", err)
		return c
	}
	adapter.SetBaseUrl(base.String())
	c.sdk = msgraph.NewGraphServiceClient(adapter)
	c.adapter = adapter
	c.base = base
	return c
}

// Me returns the identity the token was issued to.
func (c *Client) Me(ctx context.Context) (*User, error) {
	if strings.TrimSpace(c.token) == "" {
		return nil, results.Fail(actionAuth, results.ReasonAuthentication, errMissingToken)
	}
	if c.initErr != nil {
		return nil, results.Fail(actionAuth, results.ReasonTransport, c.initErr)
	}
	u, err := c.sdk.Me().Get(ctx, nil)
	if err != nil {
		switch statusOf(err) {
		case 0:
			return nil, results.Fail(actionAuth, results.ReasonTransport, err)
		case http.StatusUnauthorized:
			return nil, results.Failf(actionAuth, results.ReasonAuthentication, "token rejected: %s", errorText(err))
		default:
			return nil, results.Failf(actionAuth, results.ReasonRejected, "status %d: %s", statusOf(err), errorText(err))
		}
	}
	if u == nil {
		return nil, results.Failf(actionAuth, results.ReasonTransport, "empty /me response")
	}
	return userFrom(u), nil
}

// delegatedToken hands the operator's token to the SDK, but only for
// requests addressed to the configured Graph origin.
type delegatedToken struct {
	token string
	base  *url.URL
	hosts *authentication.AllowedHostsValidator
}

func newDelegatedToken(token string, base *url.URL) *delegatedToken {
	hosts := authentication.NewAllowedHostsValidator([]string{base.Hostname()})
	return &delegatedToken{token: token, base: base, hosts: &hosts}
}

func (d *delegatedToken) GetAuthorizationToken(_ context.Context, u *url.URL, _ map[string]interface{}) (string, error) {
	if !sameOrigin(d.base, u) {
		return "", nil
	}
	return d.token, nil
}

func (d *delegatedToken) GetAllowedHostsValidator() *authentication.AllowedHostsValidator {
	return d.hosts
}

func sameOrigin(base, u *url.URL) bool {
	return u != nil &&
		strings.EqualFold(base.Scheme, u.Scheme) &&
		strings.EqualFold(base.Host, u.Host)
}

// statusOf returns the HTTP status carried by an SDK error, or 0 when the
// request never produced a response.
func statusOf(err error) int {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		return odataErr.ResponseStatusCode
	}
	var apiErr *abstractions.ApiError
	if errors.As(err, &apiErr) {
		return apiErr.ResponseStatusCode
	}
	return 0
}

// errorText extracts the Graph error code and message.
func errorText(err error) string {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		if main := odataErr.GetErrorEscaped(); main != nil {
			code, msg := deref(main.GetCode()), deref(main.GetMessage())
			switch {
			case code != "" && msg != "":
				return code + ": " + msg
			case msg != "":
				return msg
			case code != "":
				return code
			}
		}
	}
	if status := statusOf(err); status != 0 {
		return http.StatusText(status)
	}
	return err.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
