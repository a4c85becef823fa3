// Package config resolves service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"offboard.io/internal/directory"
)

// DefaultSecretKey is used when SECRET_KEY is unset. It must not reach production.
const DefaultSecretKey = "dev-key-change-in-production"

// Scopes are the delegated Graph permissions requested at sign-in.
var Scopes = []string{
	"User.ReadWrite.All",
	"Directory.ReadWrite.All",
	"UserAuthenticationMethod.ReadWrite.All",
	"Group.ReadWrite.All",
}

// Graph holds the Entra ID application registration.
type Graph struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	Authority    string
	BaseURL      string
	RedirectURL  string
}

// Config is resolved once at start-up and read-only afterwards.
type Config struct {
	ListenAddr string
	// GRPCAddr enables the gRPC health listener when set.
	GRPCAddr  string
	SecretKey string
	TLSCert   string
	TLSKey    string

	Graph     Graph
	Directory directory.Config

	RequireConfirmation bool
	LogLevel            string

	PostgresDSN string
	SessionTTL  time.Duration
	RateBurst   int
	RatePerSec  int

	// TrustedProxies are peers whose X-Forwarded-For header is believed.
	TrustedProxies []netip.Prefix
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	r := reader{getenv: getenv}
	tenant := r.str("GRAPH_TENANT_ID", "")
	authorityTenant := tenant
	if authorityTenant == "" {
		authorityTenant = "common"
	}

	cfg := Config{
		ListenAddr: r.str("OFFBOARD_LISTEN_ADDR", ":8443"),
		GRPCAddr:   r.str("OFFBOARD_GRPC_ADDR", ""),
		SecretKey:  r.str("SECRET_KEY", DefaultSecretKey),
		TLSCert:    r.str("OFFBOARD_TLS_CERT", "cert.pem"),
		TLSKey:     r.str("OFFBOARD_TLS_KEY", "key.pem"),
		Graph: Graph{
			ClientID:     r.str("GRAPH_CLIENT_ID", ""),
			ClientSecret: r.str("GRAPH_CLIENT_SECRET", ""),
			TenantID:     tenant,
			Authority:    strings.TrimRight(r.str("GRAPH_AUTHORITY", "https://login.microsoftonline.com/"+authorityTenant), "/"),
			BaseURL:      r.str("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),
			RedirectURL:  r.str("GRAPH_REDIRECT_URL", "https://localhost:8443/auth-response"),
		},
		Directory: directory.Config{
			Server:       r.str("AD_SERVER", ""),
			Port:         r.integer("AD_PORT", 389),
			UseTLS:       r.boolean("AD_USE_SSL", false),
			SearchBase:   r.str("AD_SEARCH_BASE", ""),
			TerminatedOU: r.str("AD_TERMINATED_OU", "OU=Terminated Users,DC=domain,DC=com"),
			Timeout:      r.duration("AD_TIMEOUT", 10*time.Second),
		},
		RequireConfirmation: r.boolean("REQUIRE_CONFIRMATION", true),
		LogLevel:            strings.ToUpper(r.str("LOG_LEVEL", "INFO")),
		PostgresDSN:         r.str("OFFBOARD_PG_DSN", ""),
		SessionTTL:          r.duration("OFFBOARD_SESSION_TTL", 8*time.Hour),
		RateBurst:           r.integer("OFFBOARD_RATE_BURST", 10),
		RatePerSec:          r.integer("OFFBOARD_RATE_PER_SEC", 5),
		TrustedProxies:      r.prefixes("OFFBOARD_TRUSTED_PROXIES"),
	}
	if len(r.errs) > 0 {
		return cfg, errors.Join(r.errs...)
	}
	return cfg, nil
}

// Missing lists required settings that are empty.
func (c Config) Missing() []string {
	var missing []string
	check := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	check("GRAPH_CLIENT_ID", c.Graph.ClientID)
	check("GRAPH_CLIENT_SECRET", c.Graph.ClientSecret)
	check("GRAPH_TENANT_ID", c.Graph.TenantID)
	check("AD_SERVER", c.Directory.Server)
	check("AD_SEARCH_BASE", c.Directory.SearchBase)
	return missing
}

// Valid reports whether every required setting is present.
func (c Config) Valid() bool { return len(c.Missing()) == 0 }

// TLSEnabled reports whether both the certificate and key files exist.
func (c Config) TLSEnabled() bool {
	if c.TLSCert == "" || c.TLSKey == "" {
		return false
	}
	for _, p := range []string{c.TLSCert, c.TLSKey} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return d
}

// prefixes reads a comma separated list of CIDRs or bare addresses.
func (r *reader) prefixes(key string) []netip.Prefix {
	var out []netip.Prefix
	for _, item := range strings.Split(r.getenv(key), ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
			continue
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out
}
