package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"datauniverse/relay/internal/scraper"
	"datauniverse/relay/internal/server/api"
	"datauniverse/relay/internal/storage"
)

const (
	ServiceName    = "relay-api"
	ServiceVersion = "1.0.0"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Repo storage.PostReader
	// DB backs /health. Optional.
	DB Pinger
	// Live is the real-time fallback for searches. Optional.
	Live  scraper.Scraper
	Token string
}

// bearerAuth checks the Authorization header against token. An empty token
// disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				api.WriteError(w, r, http.StatusUnauthorized, "Authorization header required")
				return
			}

			reqToken, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				api.WriteError(w, r, http.StatusUnauthorized, "Invalid authorization format")
				return
			}

			if subtle.ConstantTimeCompare([]byte(reqToken), []byte(token)) != 1 {
				hlog.FromRequest(r).Warn().Msg("Rejected request with invalid token")
				api.WriteError(w, r, http.StatusUnauthorized, "Invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewRouter builds the HTTP handler with logging middleware and routes.
func NewRouter(deps Deps, logger zerolog.Logger) http.Handler {
	tweets := api.NewTweetsHandler(deps.Repo, deps.Live)

	r := chi.NewRouter()
	r.Use(
		hlog.NewHandler(logger),
		hlog.RequestIDHandler("req_id", "Request-Id"),
		hlog.MethodHandler("method"),
		hlog.URLHandler("url"),
		hlog.RemoteAddrHandler("remote_addr"),
		hlog.UserAgentHandler("user_agent"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("HTTP Request")
		}),
		middleware.Recoverer,
	)

	r.Get("/", rootHandler(deps.Live != nil))
	r.Get("/health", healthCheckHandler(deps.DB))

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(deps.Token))
		r.Post("/search", tweets.Search)
		r.Post("/validate", tweets.Validate)
		r.Get("/stats", tweets.Stats)
	})

	return r
}

// RunServer serves the API on listenAddr until ctx is cancelled, then shuts
// down gracefully.
func RunServer(ctx context.Context, deps Deps, listenAddr string, logger zerolog.Logger) error {
	logger = logger.With().Str("service", ServiceName).Logger()

	if deps.Token == "" {
		logger.Warn().Msg("Bearer token authentication disabled")
	} else {
		logger.Info().Msg("Bearer token authentication enabled")
	}

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           NewRouter(deps, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listenAddr).Msg("API Server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err

	case <-ctx.Done():
		logger.Info().Msg("Shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
			if err := httpServer.Close(); err != nil {
				logger.Error().Err(err).Msg("HTTP server force close error")
			}
		} else {
			logger.Info().Msg("HTTP server shutdown complete.")
		}
		if err := <-serverErr; err != nil {
			logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
		}
	}

	logger.Info().Msg("Server exiting.")
	return nil
}

type rootResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	Version          string `json:"version"`
	ScraperAvailable bool   `json:"scraper_available"`
}

// rootHandler is the unauthenticated liveness probe.
func rootHandler(scraperAvailable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, r, http.StatusOK, rootResponse{
			Status:           "running",
			Service:          ServiceName,
			Version:          ServiceVersion,
			ScraperAvailable: scraperAvailable,
		})
	}
}

// healthCheckHandler responds 200 OK when the database answers a ping, and
// 503 otherwise.
func healthCheckHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Health check request received")

		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				log.Error().Err(err).Msg("Database ping failed")
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("Error writing health check response")
		}
	}
}
