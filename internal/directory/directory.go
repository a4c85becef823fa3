// Package directory deprovisions accounts in Active Directory over LDAP.
package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Result actions recorded by this package.
const (
	ActionConnect    = "AD Connection"
	ActionSearch     = "AD User Search"
	ActionDisable    = "AD Disable"
	ActionExpiration = "AD Expiration"
	ActionPassword   = "AD Password"
	ActionMove       = "AD Move"
)

// DisabledAccount is the userAccountControl value of a normal account with
// ACCOUNTDISABLE set (NORMAL_ACCOUNT 0x200 | ACCOUNTDISABLE 0x2).
const DisabledAccount = 514

var userAttributes = []string{
	"sAMAccountName",
	"mail",
	"givenName",
	"sn",
	"distinguishedName",
	"userAccountControl",
	"userPrincipalName",
}

// Config holds the directory connection settings.
type Config struct {
	Server             string
	Port               int
	UseTLS             bool
	InsecureSkipVerify bool
	SearchBase         string
	TerminatedOU       string
	Timeout            time.Duration
}

// URL returns the ldap:// or ldaps:// address of the server.
func (c Config) URL() string {
	scheme := "ldap"
	if c.UseTLS {
		scheme = "ldaps"
	}
	port := c.Port
	if port == 0 {
		port = 389
		if c.UseTLS {
			port = 636
		}
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(c.Server, strconv.Itoa(port)))
}

// User is a located directory record.
type User struct {
	DN                 string `json:"dn"`
	SAMAccountName     string `json:"sam_account_name"`
	UserPrincipalName  string `json:"user_principal_name,omitempty"`
	GivenName          string `json:"given_name"`
	Surname            string `json:"surname"`
	Mail               string `json:"mail"`
	UserAccountControl int    `json:"user_account_control"`
}

// Conn is the subset of *ldap.Conn used by a Session.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Modify(req *ldap.ModifyRequest) error
	ModifyDN(req *ldap.ModifyDNRequest) error
	Close() error
}

// Dialer opens an unauthenticated connection to the directory.
type Dialer func(ctx context.Context, cfg Config) (Conn, error)

type ldapConn struct {
	*ldap.Conn
}

func (c ldapConn) Close() error {
	c.Conn.Close()
	return nil
}

// DialLDAP is the production Dialer.
func DialLDAP(ctx context.Context, cfg Config) (Conn, error) {
	if strings.TrimSpace(cfg.Server) == "" {
		return nil, fmt.Errorf("directory server is not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: timeout})}
	if cfg.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{
			ServerName:         cfg.Server,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		}))
	}
	conn, err := ldap.DialURL(cfg.URL(), opts...)
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(timeout)
	return ldapConn{Conn: conn}, nil
}
