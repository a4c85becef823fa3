package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"offboard.io/internal/auth"
	"offboard.io/internal/config"
	"offboard.io/internal/deprovision"
	"offboard.io/internal/graph"
	"offboard.io/internal/httpapi"
	"offboard.io/internal/obs"
	"offboard.io/internal/session"
	"offboard.io/internal/signin"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	obs.SetLevel(obs.ParseLevel(cfg.LogLevel))
	obs.Init(version, commit)

	if missing := cfg.Missing(); len(missing) > 0 {
		obs.Warn("missing configuration", map[string]any{"fields": strings.Join(missing, ",")})
	}
	if cfg.SecretKey == config.DefaultSecretKey {
		obs.Warn("SECRET_KEY is unset; using the development key", nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("session store: %v", err)
	}
	defer closeStore()

	svc, err := deprovision.NewService(
		deprovision.LDAPConnector(cfg.Directory),
		deprovision.GraphFactory(graph.WithBaseURL(cfg.Graph.BaseURL)),
		deprovision.WithObserver(httpapi.ObserveResult),
	)
	if err != nil {
		log.Fatalf("deprovision service: %v", err)
	}
	cookies, err := auth.NewCookieCodec(cfg.SecretKey)
	if err != nil {
		log.Fatalf("cookie codec: %v", err)
	}

	api := httpapi.New(cfg, svc, store, cookies, signin.New(cfg.Graph, config.Scopes), httpapi.WithVersion(version))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// A run touches several remote systems in sequence.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	tls := cfg.TLSEnabled()
	obs.Info("starting offboard", map[string]any{"version": version, "addr": srv.Addr, "tls": tls})

	errCh := make(chan error, 1)
	go func() {
		if tls {
			errCh <- srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	stopGRPC, err := serveGRPC(cfg.GRPCAddr, store, errCh)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	case <-ctx.Done():
	}

	obs.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopGRPC()
	_ = srv.Shutdown(shutdownCtx)
	obs.Info("stopped", nil)
}

// serveGRPC starts the grpc.health.v1 listener when addr is set. The returned
// func stops it.
func serveGRPC(addr string, store session.Store, errCh chan<- error) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	gs, hs := httpapi.NewGRPCServer(store)
	obs.Info("starting grpc health", map[string]any{"addr": lis.Addr().String()})
	go func() {
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	return func() {
		hs.Shutdown()
		gs.GracefulStop()
	}, nil
}

// openStore picks Postgres when a DSN is configured and memory otherwise.
func openStore(ctx context.Context, cfg config.Config) (session.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		obs.Info("using in-memory sessions", nil)
		return session.NewMemory(), func() {}, nil
	}
	pg, err := session.OpenPostgres(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pg.EnsureSchema(schemaCtx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	go purgeExpired(ctx, pg)
	return pg, func() { _ = pg.Close() }, nil
}

func purgeExpired(ctx context.Context, pg *session.Postgres) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pg.PurgeExpired(ctx)
			if err != nil {
				obs.Warn("session purge failed", map[string]any{"error": err.Error()})
				continue
			}
			if n > 0 {
				obs.Debug("expired sessions purged", map[string]any{"count": n})
			}
		}
	}
}
