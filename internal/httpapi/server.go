// Package httpapi exposes the credential service over HTTP/JSON.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/and161185/backoffice/internal/model"
	"github.com/and161185/backoffice/internal/obs"
	"github.com/and161185/backoffice/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
)

// Options tunes the router. Zero values disable the optional parts.
type Options struct {
	CORSOrigins    []string
	AuthRatePerMin int   // per-IP limit on public auth routes
	MaxBodyBytes   int64 // request body cap, default 64 KiB
	// TrustProxy takes the client address from X-Forwarded-For, X-Real-IP
	// or True-Client-IP. Only enable it behind a proxy that overwrites them;
	// otherwise the socket peer is used.
	TrustProxy bool
}

const defaultMaxBody = 64 << 10

// API holds handler dependencies.
type API struct {
	svc     service.CredentialService
	log     *zap.Logger
	metrics *obs.Metrics
	opts    Options
}

// New builds the API. metrics may be nil.
func New(svc service.CredentialService, log *zap.Logger, metrics *obs.Metrics, opts Options) *API {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	return &API{svc: svc, log: log, metrics: metrics, opts: opts}
}

// Router wires middleware and routes.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if a.opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(AccessLog(a.log))
	r.Use(Recover(a.log))
	if a.metrics != nil {
		r.Use(a.metrics.Instrument)
	}
	if len(a.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", a.handleHealthz)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}

	r.Route("/api/admin", func(r chi.Router) {
		// public credential routes
		r.Group(func(r chi.Router) {
			if a.opts.AuthRatePerMin > 0 {
				r.Use(httprate.LimitByIP(a.opts.AuthRatePerMin, time.Minute))
			}
			r.Post("/login", a.Login)
			r.Post("/register", a.Register)
			r.Post("/forgot-password", a.ForgotPassword)
			r.Put("/reset-password", a.ResetPassword)
			r.Put("/reset-password/{token}", a.ResetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.RequireSession)
			r.Get("/me", a.Me)
			r.Put("/password", a.ChangePassword)

			r.Group(func(r chi.Router) {
				r.Use(a.RequireRole(model.RoleSuperAdmin))
				r.Get("/users", a.ListUsers)
				r.Put("/users/{id}/role", a.SetRole)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "NotFound", Message: "not found"})
	})
	return r
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServeConfig describes the listener. TLS is used when both files are set.
type ServeConfig struct {
	Addr            string
	CertFile        string
	KeyFile         string
	ShutdownTimeout time.Duration
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for at most ShutdownTimeout.
func ListenAndServe(ctx context.Context, cfg ServeConfig, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	tls := cfg.CertFile != "" && cfg.KeyFile != ""

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.Addr), zap.Bool("tls", tls))
		if tls {
			errCh <- srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
