// Package server assembles the beacond HTTP service from configuration.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/beacon"
	"github.com/zoobzio/beacon/internal/config"
	"github.com/zoobzio/beacon/pkg/guard"
	"github.com/zoobzio/beacon/pkg/live"
	"github.com/zoobzio/beacon/pkg/notify"
	"github.com/zoobzio/beacon/pkg/postgres"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Server owns the shared Selection and Versions and every adapter wired to
// them.
type Server struct {
	cfg        config.Config
	selection  *beacon.Selection
	versions   *beacon.Versions
	auth       *guard.JWTProvider
	guard      *guard.Guard
	hub        *live.Hub
	link       *beacon.Link
	relay      *postgres.Relay
	notify     *notify.Service
	dispatcher notify.Dispatcher

	closers []func() error
}

// Option configures a Server.
type Option func(*Server)

// WithDispatcher sets the notification dispatcher. Without one, the
// notification endpoints are not mounted.
func WithDispatcher(d notify.Dispatcher) Option {
	return func(s *Server) {
		s.dispatcher = d
	}
}

// New builds a Server and restores the persisted selection. It does not
// start watching or listening; Run does.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		selection: beacon.NewSelection(),
		versions:  beacon.NewVersions(cfg.Domains...),
	}
	for _, opt := range opts {
		opt(s)
	}

	var jwtOpts []guard.JWTOption
	if cfg.Auth.Issuer != "" {
		jwtOpts = append(jwtOpts, guard.WithIssuer(cfg.Auth.Issuer))
	}
	s.auth = guard.NewJWTProvider([]byte(cfg.Auth.Secret), jwtOpts...)
	s.guard = guard.New(nil, guard.WithLoginPath(cfg.Auth.LoginPath))
	s.hub = live.NewHub(s.selection, s.versions)

	if err := s.wireSelection(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.wireRelay(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.wireNotify(); err != nil {
		s.Close()
		return nil, err
	}

	if err := s.selection.Restore(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) wireSelection(ctx context.Context) error {
	b := &backends{cfg: s.cfg, closers: &s.closers}

	p, err := b.persister(ctx, s.cfg.Selection.Persist)
	if err != nil {
		return err
	}
	if p != nil {
		s.selection.Persist(p)
	}

	w, err := b.watcher(ctx, s.cfg.Selection.Source)
	if err != nil {
		return err
	}
	if w != nil {
		s.link = beacon.NewLink(w, s.selection, beacon.WithRetry(3)).
			Debounce(s.cfg.Selection.Debounce).
			FailureHistory(8)
	}
	return nil
}

func (s *Server) wireRelay(ctx context.Context) error {
	if s.cfg.Postgres.URL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, s.cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	s.closers = append(s.closers, func() error { pool.Close(); return nil })

	opts := []postgres.Option{postgres.WithChannel(s.cfg.Postgres.Channel)}
	if len(s.cfg.Domains) > 0 {
		opts = append(opts, postgres.WithDomains(s.cfg.Domains...))
	}
	s.relay = postgres.New(pool, s.versions, opts...)
	return nil
}

func (s *Server) wireNotify() error {
	if s.cfg.Notify.Database == "" || s.dispatcher == nil {
		return nil
	}
	store, err := notify.OpenSQLite(s.cfg.Notify.Database)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, store.Close)
	s.notify = notify.NewService(store, s.dispatcher, notify.WithBatchSize(s.cfg.Notify.BatchSize))
	return nil
}

// Selection returns the shared selection.
func (s *Server) Selection() *beacon.Selection {
	return s.selection
}

// Versions returns the shared version table.
func (s *Server) Versions() *beacon.Versions {
	return s.versions
}

// Auth returns the bearer token provider.
func (s *Server) Auth() *guard.JWTProvider {
	return s.auth
}

// Handler returns the HTTP routes:
//
//	GET  /api/selection                current selection
//	PUT  /api/selection                replace the selection ({"id": "..."})
//	GET  /api/versions                 version snapshot
//	POST /api/versions/{domain}/bump   bump a domain
//	GET  /live                         websocket event stream
//	     /notify, /tokens              notification endpoints, when enabled
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/selection", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, beacon.RecordOf(s.selection.Current()))
	})
	api.HandleFunc("PUT /api/selection", func(w http.ResponseWriter, r *http.Request) {
		var rec beacon.Record
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&rec); err != nil {
			http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := rec.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.selection.Set(r.Context(), rec.Choice())
		writeJSON(w, http.StatusOK, beacon.RecordOf(s.selection.Current()))
	})
	api.HandleFunc("GET /api/versions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.versions.Snapshot())
	})
	api.HandleFunc("POST /api/versions/{domain}/bump", func(w http.ResponseWriter, r *http.Request) {
		domain := r.PathValue("domain")
		v := s.versions.Bump(r.Context(), domain)
		writeJSON(w, http.StatusOK, beacon.VersionChange{Domain: domain, Version: v})
	})
	api.Handle("GET /live", s.hub)

	root := http.NewServeMux()
	root.Handle("/", s.guard.Middleware(s.auth, api))
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if s.notify != nil {
		h := notify.Handler(s.notify, s.auth)
		root.Handle("/notify", h)
		root.Handle("/tokens", h)
		root.Handle("/tokens/", h)
	}
	return root
}

// Run starts the link and the relay, serves HTTP on the configured address
// and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A rejected initial record leaves the link watching for a valid one;
	// only a source that never produced anything is fatal.
	if s.link != nil {
		if err := s.link.Start(ctx); err != nil && s.link.State() == beacon.StateLoading {
			return fmt.Errorf("link: %w", err)
		}
	}

	errs := make(chan error, 2)
	if s.relay != nil {
		go func() {
			if err := s.relay.Run(ctx); err != nil {
				errs <- fmt.Errorf("relay: %w", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	return runErr
}

// Close releases every client the server opened.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
