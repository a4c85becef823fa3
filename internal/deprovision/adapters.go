package deprovision

import (
	"context"

	"offboard.io/internal/directory"
	"offboard.io/internal/graph"
	"offboard.io/internal/password"
	"offboard.io/internal/results"
)

// DirectorySession is an authenticated directory connection for one run.
// *directory.Session satisfies it.
type DirectorySession interface {
	FindUser(ctx context.Context, email string) (*directory.User, error)
	Disable(ctx context.Context, dn string) error
	SetExpiration(ctx context.Context, dn string) error
	ResetPassword(ctx context.Context, dn, password string) error
	Move(ctx context.Context, dn string) error
	Close() error
}

// DirectoryConnector opens a DirectorySession. It records the connection
// outcome in log itself.
type DirectoryConnector func(ctx context.Context, username, password string, log *results.Log) (DirectorySession, error)

// CloudClient is the Graph surface used by a run. *graph.Client satisfies it.
type CloudClient interface {
	Me(ctx context.Context) (*graph.User, error)
	FindUser(ctx context.Context, email string) (*graph.User, error)
	DisableAccount(ctx context.Context, userID string) error
	RevokeSessions(ctx context.Context, userID string) error
	RemoveMFAMethods(ctx context.Context, userID string) error
}

// CloudFactory builds a CloudClient bound to the operator's token and the run's log.
type CloudFactory func(token string, log *results.Log) CloudClient

// PasswordFunc generates a password that avoids the given names.
type PasswordFunc func(exclude []string) (password.Password, error)

// LDAPConnector returns the production DirectoryConnector for cfg.
func LDAPConnector(cfg directory.Config, opts ...directory.Option) DirectoryConnector {
	return func(ctx context.Context, username, pw string, log *results.Log) (DirectorySession, error) {
		sess, err := directory.Connect(ctx, cfg, username, pw, log, opts...)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}

// GraphFactory returns the production CloudFactory.
func GraphFactory(opts ...graph.Option) CloudFactory {
	return func(token string, log *results.Log) CloudClient {
		return graph.New(token, log, opts...)
	}
}

func defaultPassword(exclude []string) (password.Password, error) {
	return password.Generate(exclude...)
}
