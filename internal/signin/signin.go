// Package signin drives the delegated OAuth2 authorization-code flow against
// Microsoft Entra ID.
package signin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"offboard.io/internal/config"
)

const loginHost = "https://login.microsoftonline.com/"

var ErrNoAccessToken = errors.New("signin: token response carried no access token")

// Flow builds authorize redirects and redeems authorization codes.
type Flow struct {
	oauth     *oauth2.Config
	authority string
	client    *http.Client
}

// Option configures a Flow.
type Option func(*Flow)

// WithHTTPClient sets the client used for the token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Flow) {
		if c != nil {
			f.client = c
		}
	}
}

// New returns a Flow for the application registration in g requesting scopes.
func New(g config.Graph, scopes []string, opts ...Option) *Flow {
	authority := strings.TrimRight(g.Authority, "/")
	if authority == "" {
		authority = loginHost + tenantOrCommon(g.TenantID)
	}
	f := &Flow{
		oauth: &oauth2.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			RedirectURL:  g.RedirectURL,
			Scopes:       append([]string(nil), scopes...),
			Endpoint:     endpoint(authority, g.TenantID),
		},
		authority: authority,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// endpoint uses the library's Entra endpoint for the public cloud authority
// and derives v2.0 endpoints from any other authority.
func endpoint(authority, tenant string) oauth2.Endpoint {
	if authority == loginHost+tenantOrCommon(tenant) {
		return microsoft.AzureADEndpoint(tenantOrCommon(tenant))
	}
	return oauth2.Endpoint{
		AuthURL:  authority + "/oauth2/v2.0/authorize",
		TokenURL: authority + "/oauth2/v2.0/token",
	}
}

func tenantOrCommon(tenant string) string {
	if tenant = strings.TrimSpace(tenant); tenant != "" {
		return tenant
	}
	return "common"
}

// NewVerifier returns a fresh PKCE code verifier.
func NewVerifier() string { return oauth2.GenerateVerifier() }

// AuthCodeURL returns the authorize redirect for state, bound to verifier.
func (f *Flow) AuthCodeURL(state, verifier string) string {
	return f.oauth.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// Exchange redeems an authorization code for a delegated token.
func (f *Flow) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("signin: authorization code is required")
	}
	if f.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.client)
	}
	tok, err := f.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("signin: exchange code: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	return tok, nil
}

// LogoutURL returns the Entra sign-out URL that sends the browser back to
// postLogoutRedirect afterwards.
func (f *Flow) LogoutURL(postLogoutRedirect string) string {
	u := f.authority + "/oauth2/v2.0/logout"
	if postLogoutRedirect == "" {
		return u
	}
	return u + "?post_logout_redirect_uri=" + url.QueryEscape(postLogoutRedirect)
}
