package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"offboard.io/internal/results"
)

type authMethod struct {
	id   string
	name string
}

// methodKind is one family of registered authentication methods. page
// fetches the first page when next is empty and the given link otherwise.
type methodKind struct {
	label  string
	page   func(ctx context.Context, userID, next string) ([]authMethod, string, error)
	remove func(ctx context.Context, userID, methodID string) error
}

func (c *Client) methodKinds() []methodKind {
	return []methodKind{
		{label: "phone", page: c.phonePage, remove: c.removePhone},
		{label: "authenticator", page: c.authenticatorPage, remove: c.removeAuthenticator},
	}
}

// RemoveMFAMethods deletes every phone and Microsoft Authenticator
// registration of the user. A failed delete is a warning and the remaining
// methods are still processed. Listing denied with 401 or 403 aborts the
// operation for both kinds.
func (c *Client) RemoveMFAMethods(ctx context.Context, userID string) error {
	if c.initErr != nil {
		c.log.Error(ActionMFA, fmt.Sprintf("MFA cleanup exception: %v", c.initErr))
		return results.Fail(ActionMFA, results.ReasonTransport, c.initErr)
	}
	removed := 0
	for _, kind := range c.methodKinds() {
		methods, err := c.listMethods(ctx, userID, kind)
		if err != nil {
			if results.ReasonOf(err) == results.ReasonRejected {
				continue
			}
			return err
		}
		for _, m := range methods {
			if c.deleteMethod(ctx, userID, kind, m) {
				removed++
			}
		}
	}

	if removed > 0 {
		c.log.Add(ActionMFA, results.StatusSuccess, fmt.Sprintf("Successfully removed %d MFA methods", removed), map[string]any{
			"removed": removed,
		})
		return nil
	}
	c.log.Info(ActionMFA, "No MFA methods found to remove")
	return nil
}

// listMethods follows @odata.nextLink until the collection is exhausted.
// A rejected listing is recorded as a warning so the caller can move on.
// Links leaving the configured Graph origin count as rejected.
func (c *Client) listMethods(ctx context.Context, userID string, kind methodKind) ([]authMethod, error) {
	var all []authMethod
	next := ""
	for {
		page, link, err := kind.page(ctx, userID, next)
		if err != nil {
			return nil, c.listFailure(kind, err)
		}
		all = append(all, page...)
		if link == "" {
			return all, nil
		}
		u, err := url.Parse(link)
		if err != nil || !sameOrigin(c.base, u) {
			c.log.Warning(ActionMFA, fmt.Sprintf("Could not list %s methods: next page link leaves %s", kind.label, c.base.Host))
			return nil, results.Failf(ActionMFA, results.ReasonRejected, "list %s methods: foreign next link", kind.label)
		}
		next = link
	}
}

func (c *Client) listFailure(kind methodKind, err error) error {
	switch status := statusOf(err); status {
	case 0:
		c.log.Error(ActionMFA, fmt.Sprintf("MFA cleanup exception: %v", err))
		return results.Fail(ActionMFA, results.ReasonTransport, err)
	case http.StatusForbidden:
		c.log.Error(ActionMFA, "Insufficient permissions to access MFA methods")
		return results.Failf(ActionMFA, results.ReasonPermission, "list %s methods: status %d", kind.label, status)
	case http.StatusUnauthorized:
		c.log.Error(ActionMFA, "Access token expired or insufficient permissions")
		return results.Failf(ActionMFA, results.ReasonAuthentication, "list %s methods: status %d", kind.label, status)
	default:
		c.log.Warning(ActionMFA, fmt.Sprintf("Could not list %s methods: %s", kind.label, errorText(err)))
		return results.Failf(ActionMFA, results.ReasonRejected, "list %s methods: status %d", kind.label, status)
	}
}

func (c *Client) deleteMethod(ctx context.Context, userID string, kind methodKind, m authMethod) bool {
	if strings.TrimSpace(m.id) == "" {
		c.log.Warning(ActionMFA, fmt.Sprintf("Skipped %s method without an id", kind.label))
		return false
	}
	if err := kind.remove(ctx, userID, m.id); err != nil {
		c.log.Add(ActionMFA, results.StatusWarning, fmt.Sprintf("Failed to remove %s method: %s", kind.label, m.id), map[string]any{
			"status": statusOf(err),
			"error":  errorText(err),
		})
		return false
	}
	c.log.Success(ActionMFA, fmt.Sprintf("Removed %s method: %s", kind.label, m.name))
	return true
}

func (c *Client) phonePage(ctx context.Context, userID, next string) ([]authMethod, string, error) {
	rb := c.sdk.Users().ByUserId(userID).Authentication().PhoneMethods()
	if next != "" {
		rb = users.NewItemAuthenticationPhoneMethodsRequestBuilder(next, c.adapter)
	}
	resp, err := rb.Get(ctx, nil)
	if err != nil || resp == nil {
		return nil, "", err
	}
	var out []authMethod
	for _, m := range resp.GetValue() {
		name := "Unknown"
		if pt := m.GetPhoneType(); pt != nil {
			name = pt.String()
		}
		out = append(out, authMethod{id: deref(m.GetId()), name: name})
	}
	return out, deref(resp.GetOdataNextLink()), nil
}

func (c *Client) removePhone(ctx context.Context, userID, methodID string) error {
	return c.sdk.Users().ByUserId(userID).Authentication().PhoneMethods().
		ByPhoneAuthenticationMethodId(methodID).Delete(ctx, nil)
}

func (c *Client) authenticatorPage(ctx context.Context, userID, next string) ([]authMethod, string, error) {
	rb := c.sdk.Users().ByUserId(userID).Authentication().MicrosoftAuthenticatorMethods()
	if next != "" {
		rb = users.NewItemAuthenticationMicrosoftAuthenticatorMethodsRequestBuilder(next, c.adapter)
	}
	resp, err := rb.Get(ctx, nil)
	if err != nil || resp == nil {
		return nil, "", err
	}
	var out []authMethod
	for _, m := range resp.GetValue() {
		id := deref(m.GetId())
		out = append(out, authMethod{id: id, name: id})
	}
	return out, deref(resp.GetOdataNextLink()), nil
}

func (c *Client) removeAuthenticator(ctx context.Context, userID, methodID string) error {
	return c.sdk.Users().ByUserId(userID).Authentication().MicrosoftAuthenticatorMethods().
		ByMicrosoftAuthenticatorAuthenticationMethodId(methodID).Delete(ctx, nil)
}
