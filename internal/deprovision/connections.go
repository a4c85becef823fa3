package deprovision

import (
	"context"
	"fmt"
	"strings"

	"offboard.io/internal/graph"
	"offboard.io/internal/results"
)

// ActionGraphAuth labels the delegated token check.
const ActionGraphAuth = "Graph Auth"

// Message is a result reduced to what the connection test reports.
type Message struct {
	Message string         `json:"message"`
	Status  results.Status `json:"status"`
}

// ConnectionReport is the outcome of TestConnections. Service and OU are
// derived from the two checks rather than tested independently.
type ConnectionReport struct {
	AD       bool      `json:"ad"`
	Graph    bool      `json:"graph"`
	Service  bool      `json:"service"`
	OU       bool      `json:"ou"`
	Messages []Message `json:"messages"`
}

// TestConnections verifies the delegated token and the directory
// credentials without changing anything.
func (s *Service) TestConnections(ctx context.Context, username, pw, token string) ConnectionReport {
	log := s.newLog(ctx)
	var rep ConnectionReport

	if strings.TrimSpace(token) == "" {
		log.Error(ActionGraphAuth, "No valid OAuth token found")
	} else if me, err := s.cloud(token, log).Me(ctx); err != nil {
		log.Error(ActionGraphAuth, fmt.Sprintf("Graph authentication failed: %v", err))
	} else {
		rep.Graph = true
		log.Success(ActionGraphAuth, "Using OAuth token for user: "+principalName(me.UserPrincipalName, me.DisplayName))
	}

	if sess, err := s.connect(ctx, username, pw, log); err == nil {
		rep.AD = true
		_ = sess.Close()
	}

	rep.Service = rep.AD && rep.Graph
	rep.OU = rep.AD && rep.Graph
	for _, r := range log.Entries() {
		rep.Messages = append(rep.Messages, Message{Message: r.Message, Status: r.Status})
	}
	return rep
}

func principalName(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return "Unknown"
}

// Operator resolves the identity behind a delegated token. It records
// nothing in any run log.
func (s *Service) Operator(ctx context.Context, token string) (*graph.User, error) {
	return s.cloud(token, results.NewLog()).Me(ctx)
}
