package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"fhgateway/internal/config"
	"fhgateway/internal/executor"
	"fhgateway/internal/futurehouse"
	"fhgateway/internal/registry"
)

const (
	serviceName    = "FutureHouse API Gateway"
	serviceVersion = "1.0.0"
)

type Server struct {
	router *chi.Mux
}

func NewServer(cfg *config.Config, client futurehouse.Client, reg *registry.Registry, exec *executor.Executor) *Server {
	h := newHandlers(cfg, client, reg, exec)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(jsonRecoverer)

	r.Get("/health", h.health)
	r.Get("/jobs", h.jobs)
	r.Get("/tasks", h.listTasks)

	r.Route("/task", func(r chi.Router) {
		r.Post("/", h.createTask)
		r.Post("/run", h.runTask)
		r.Post("/batch", h.runBatch)
		r.Post("/async", h.submitAsync)
		r.Post("/test", h.testTask)
		r.Get("/{id}/status", h.taskStatus)
		r.Get("/{id}/result", h.taskResult)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return &Server{router: r}
}

// jsonRecoverer keeps uncaught panics inside the uniform error envelope.
func jsonRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("panic while serving request")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the configured routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP on the given port until SIGINT/SIGTERM, then shuts down
// gracefully. Detached background tasks are not waited for.
func (s *Server) Run(port int) {
	addr := fmt.Sprintf(":%d", port)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatal().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Failed to listen and serve")
	}

	<-done
	log.Info().Msg("Server stopped")
}
