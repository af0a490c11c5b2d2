package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/handlers"
)

// RouterDependencies holds all the dependencies required by the router setup,
// primarily handlers and configuration.
type RouterDependencies struct {
	AuthHandler         *handlers.AuthHandler
	ConversationHandler *handlers.ConversationHandler
	MessageHandler      *handlers.MessageHandler
	ChatHandler         *handlers.ChatHandler
	UpstreamHandler     *handlers.UpstreamHandler
	StreamHandler       *handlers.StreamHandler
	Authenticator       Authenticator
	Config              *config.Config
	Logger              zerolog.Logger
}

// NewRouter creates and configures the main Chi router for the application.
func NewRouter(deps RouterDependencies) *chi.Mux {
	cfg := deps.Config
	logger := deps.Logger
	r := chi.NewRouter()

	// --- Base Middleware Stack ---
	r.Use(middleware.RequestID) // Inject request ID into context
	if !cfg.AuthBypassLocalhost {
		// Forwarded headers would let remote callers pose as loopback.
		r.Use(middleware.RealIP)
	}
	r.Use(Logger(logger))
	r.Use(Metrics)
	r.Use(middleware.Recoverer) // Recover from panics, return 500

	// --- CORS Configuration ---
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	// --- Public Routes ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Blocking upstream calls are bounded by the upstream timeout; leave room
	// for the store writes that follow.
	requestTimeout := cfg.Upstream.Timeout + 30*time.Second

	r.Route("/v1", func(r chi.Router) {
		if deps.AuthHandler == nil {
			panic("AuthHandler dependency is nil in router setup")
		}
		r.Post("/auth/token", deps.AuthHandler.HandleToken)

		// --- Authenticated Routes ---
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(AuthOptions{Enabled: cfg.AuthEnabled, BypassLocalhost: cfg.AuthBypassLocalhost}, deps.Authenticator, logger))

			// Event streams end on completion or disconnect, never on a timer.
			r.Group(func(r chi.Router) {
				if deps.ChatHandler != nil {
					r.Post("/chat/stream", deps.ChatHandler.HandleChatStream)
				}
				if deps.MessageHandler != nil {
					r.Post("/messages/{id}/variants/regenerate/stream", deps.MessageHandler.HandleRegenerateStream)
					r.Post("/messages/{id}/variants/continue/stream", deps.MessageHandler.HandleContinueStream)
				}
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))

				// --- Mount Conversation Routes ---
				if deps.ConversationHandler != nil {
					r.Route("/conversations", func(r chi.Router) {
						r.Post("/", deps.ConversationHandler.HandleCreate)
						r.Get("/", deps.ConversationHandler.HandleList)
						r.Patch("/{id}", deps.ConversationHandler.HandleRename)
						r.Delete("/{id}", deps.ConversationHandler.HandleDelete)
						r.Get("/{id}/messages", deps.ConversationHandler.HandleListMessages)
					})
				} else {
					logger.Warn().Msg("ConversationHandler dependency is nil, skipping /v1/conversations routes.")
				}

				// --- Mount Message & Variant Routes ---
				if deps.MessageHandler != nil {
					r.Get("/messages/{id}", deps.MessageHandler.HandleGet)
					r.Delete("/messages/{id}", deps.MessageHandler.HandleDelete)
					r.Get("/messages/{id}/variants", deps.MessageHandler.HandleListVariants)
					r.Patch("/messages/{id}/active-variant", deps.MessageHandler.HandleSetActive)
					r.Post("/messages/{id}/variants/regenerate", deps.MessageHandler.HandleRegenerate)
					r.Post("/messages/{id}/variants/continue", deps.MessageHandler.HandleContinue)
				} else {
					logger.Warn().Msg("MessageHandler dependency is nil, skipping /v1/messages routes.")
				}

				if deps.ChatHandler != nil {
					r.Post("/chat", deps.ChatHandler.HandleChat)
				} else {
					logger.Warn().Msg("ChatHandler dependency is nil, skipping /v1/chat routes.")
				}

				// --- Mount Upstream Passthrough Routes ---
				if deps.UpstreamHandler != nil {
					r.Get("/models", deps.UpstreamHandler.HandleModels)
					r.Get("/upstream/health", deps.UpstreamHandler.HandleHealth)
				} else {
					logger.Warn().Msg("UpstreamHandler dependency is nil, skipping upstream routes.")
				}

				// --- Mount Stream Control Routes ---
				if deps.StreamHandler != nil {
					r.Post("/streams/{streamId}/abort", deps.StreamHandler.HandleAbort)
				} else {
					logger.Warn().Msg("StreamHandler dependency is nil, skipping /v1/streams routes.")
				}
			})
		})
	})

	return r
}
