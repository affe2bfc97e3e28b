package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"storygate/internal/limiter"
	"storygate/internal/middleware"
)

type RouteOptions struct {
	ClientKeys  []string
	JWTSecret   string
	CORSOrigins []string
	Limiter     *limiter.Limiter
}

func (s *Server) Routes(o RouteOptions) http.Handler {
	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   o.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}))
	router.Use(func(next http.Handler) http.Handler { return otelhttp.NewHandler(next, "http") })
	router.Use(middleware.RequestID)

	router.Get("/health", s.Health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.WithAPIKey(o.ClientKeys))
		r.Use(middleware.RateLimit(o.Limiter, s.Logger))
		r.Post("/text/generate", s.TextGenerate)
		r.Post("/text/stream", s.TextStream)
		r.Post("/structured", s.Structured)
		r.Post("/image", s.Image)
		r.Post("/video", s.Video)
		r.Post("/vision/image", s.VisionImage)
		r.Post("/vision/video", s.VisionVideo)
		r.Post("/search", s.Search)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminAuth(o.JWTSecret))
		r.Get("/calls", s.AdminCalls)
		r.Get("/calls/{id}", s.AdminCall)
		r.Get("/usage", s.AdminUsage)
	})
	return router
}
