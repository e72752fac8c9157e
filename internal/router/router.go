package router

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cafe-pos/terminal/internal/config"
	"github.com/cafe-pos/terminal/internal/handler"
	mw "github.com/cafe-pos/terminal/internal/middleware"
	"github.com/cafe-pos/terminal/internal/prefs"
	"github.com/cafe-pos/terminal/internal/receipt"
	"github.com/cafe-pos/terminal/internal/session"
	"github.com/cafe-pos/terminal/internal/ws"
)

// Deps are the long-lived services the routes are built on.
type Deps struct {
	Session     *session.Session
	Auth        handler.AuthService
	OnLogin     func()
	Pending     handler.PendingStore
	Customers   handler.CustomerDirectory
	Settlements handler.SettlementService
	Journal     handler.ReceiptJournal
	Printer     receipt.Printer
	Prefs       prefs.Store
	Hub         *ws.Hub
}

// New creates a Chi router with all terminal routes wired up.
func New(cfg *config.Config, deps Deps) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(mw.Metrics)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	authHandler := handler.NewAuthHandler(deps.Auth, deps.Session, deps.OnLogin)
	authHandler.RegisterPublicRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/{topic}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(deps.Hub, deps.Session, w, r)
	})

	// Protected routes (require the terminal session token)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(deps.Session))

		authHandler.RegisterRoutes(r)
		handler.NewPendingHandler(deps.Pending).RegisterRoutes(r)
		handler.NewPreferenceHandler(deps.Prefs).RegisterRoutes(r)

		r.Route("/customers", handler.NewCustomerHandler(deps.Customers).RegisterRoutes)
		r.Route("/settlements", handler.NewSettlementHandler(deps.Settlements).RegisterRoutes)
		r.Route("/receipts", handler.NewReceiptHandler(deps.Journal, deps.Printer).RegisterRoutes)
	})

	log.Println("Router initialized with all handlers")
	return r
}
