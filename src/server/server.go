package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"orderengine/src/auth"
	"orderengine/src/handler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"
)

type Deps struct {
	Engine    handler.OrderEngine
	Exposure  handler.ExposureFeed
	Users     auth.UserLookup
	JWTSecret string
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(deps.JWTSecret, deps.Users))
		handler.Register(r, deps.Engine, deps.Exposure)
	})
	return r
}

// StartServer serves h on port until ctx is done, then shuts down gracefully.
func StartServer(ctx context.Context, port string, h http.Handler) error {
	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
