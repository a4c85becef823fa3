package graph

import (
	"context"
	"fmt"
	"net/http"

	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"offboard.io/internal/results"
)

var userFields = []string{"id", "displayName", "givenName", "surname", "userPrincipalName", "mail"}

// FindUser resolves a user by mail or user principal name.
func (c *Client) FindUser(ctx context.Context, email string) (*User, error) {
	if c.token == "" {
		c.log.Error(ActionSearch, "Access token expired or insufficient permissions")
		return nil, results.Fail(ActionSearch, results.ReasonAuthentication, errMissingToken)
	}
	if c.initErr != nil {
		c.log.Error(ActionSearch, fmt.Sprintf("Graph user search exception: %v", c.initErr))
		return nil, results.Fail(ActionSearch, results.ReasonTransport, c.initErr)
	}

	found, err := c.sdk.Users().ByUserId(email).Get(ctx, &users.UserItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.UserItemRequestBuilderGetQueryParameters{Select: userFields},
	})
	if err != nil {
		switch status := statusOf(err); status {
		case 0:
			c.log.Error(ActionSearch, fmt.Sprintf("Graph user search exception: %v", err))
			return nil, results.Fail(ActionSearch, results.ReasonTransport, err)
		case http.StatusNotFound:
			c.log.Warning(ActionSearch, "User not found in M365: "+email)
			return nil, results.Failf(ActionSearch, results.ReasonNotFound, "no user %q", email)
		case http.StatusUnauthorized:
			c.log.Error(ActionSearch, "Access token expired or insufficient permissions")
			return nil, results.Failf(ActionSearch, results.ReasonAuthentication, "status %d", status)
		default:
			text := errorText(err)
			c.log.Error(ActionSearch, "Graph user search failed: "+text)
			return nil, results.Failf(ActionSearch, results.ReasonRejected, "status %d: %s", status, text)
		}
	}

	if found == nil || deref(found.GetId()) == "" {
		c.log.Error(ActionSearch, "Graph user search returned a user without an id")
		return nil, results.Failf(ActionSearch, results.ReasonTransport, "user %q has no id", email)
	}
	u := userFrom(found)
	c.log.Add(ActionSearch, results.StatusSuccess, "Found M365 user: "+u.DisplayName, map[string]any{
		"id":                u.ID,
		"userPrincipalName": u.UserPrincipalName,
	})
	return u, nil
}

// DisableAccount sets accountEnabled to false.
func (c *Client) DisableAccount(ctx context.Context, userID string) error {
	if c.initErr != nil {
		c.log.Error(ActionDisable, fmt.Sprintf("M365 disable exception: %v", c.initErr))
		return results.Fail(ActionDisable, results.ReasonTransport, c.initErr)
	}
	patch := models.NewUser()
	enabled := false
	patch.SetAccountEnabled(&enabled)

	if _, err := c.sdk.Users().ByUserId(userID).Patch(ctx, patch, nil); err != nil {
		switch statusOf(err) {
		case 0:
			c.log.Error(ActionDisable, fmt.Sprintf("M365 disable exception: %v", err))
			return results.Fail(ActionDisable, results.ReasonTransport, err)
		case http.StatusForbidden:
			c.log.Error(ActionDisable, "Insufficient permissions to disable M365 account")
			return results.Failf(ActionDisable, results.ReasonPermission, "status %d", http.StatusForbidden)
		default:
			return c.rejected(ActionDisable, "Failed to disable M365 account", err)
		}
	}
	c.log.Add(ActionDisable, results.StatusSuccess, "M365 account disabled successfully", map[string]any{"id": userID})
	return nil
}

// RevokeSessions invalidates refresh tokens and session cookies for the user.
func (c *Client) RevokeSessions(ctx context.Context, userID string) error {
	if c.initErr != nil {
		c.log.Error(ActionSessions, fmt.Sprintf("M365 session revocation exception: %v", c.initErr))
		return results.Fail(ActionSessions, results.ReasonTransport, c.initErr)
	}
	resp, err := c.sdk.Users().ByUserId(userID).RevokeSignInSessions().Post(ctx, nil)
	if err != nil {
		switch statusOf(err) {
		case 0:
			c.log.Error(ActionSessions, fmt.Sprintf("M365 session revocation exception: %v", err))
			return results.Fail(ActionSessions, results.ReasonTransport, err)
		case http.StatusForbidden:
			c.log.Error(ActionSessions, "Insufficient permissions to revoke sessions")
			return results.Failf(ActionSessions, results.ReasonPermission, "status %d", http.StatusForbidden)
		default:
			return c.rejected(ActionSessions, "Failed to revoke sessions", err)
		}
	}

	outcome := "Success"
	if resp != nil && resp.GetValue() != nil {
		outcome = fmt.Sprintf("%t", *resp.GetValue())
	}
	c.log.Add(ActionSessions, results.StatusSuccess, "All M365 sessions revoked successfully: "+outcome, map[string]any{"id": userID})
	return nil
}

func (c *Client) rejected(action, prefix string, err error) error {
	text := errorText(err)
	c.log.Error(action, prefix+": "+text)
	status := statusOf(err)
	reason := results.ReasonRejected
	switch status {
	case http.StatusUnauthorized:
		reason = results.ReasonAuthentication
	case http.StatusNotFound:
		reason = results.ReasonNotFound
	}
	return results.Failf(action, reason, "status %d: %s", status, text)
}
