package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-admin/internal/audit"
	"github.com/wolfman30/clinic-admin/internal/auth"
	"github.com/wolfman30/clinic-admin/internal/chat"
	"github.com/wolfman30/clinic-admin/internal/consultation"
	"github.com/wolfman30/clinic-admin/internal/doctor"
	"github.com/wolfman30/clinic-admin/internal/hospital"
	httpmiddleware "github.com/wolfman30/clinic-admin/internal/http/middleware"
	"github.com/wolfman30/clinic-admin/internal/http/respond"
	"github.com/wolfman30/clinic-admin/internal/observability/metrics"
	"github.com/wolfman30/clinic-admin/internal/reservation"
	"github.com/wolfman30/clinic-admin/internal/treatment"
	"github.com/wolfman30/clinic-admin/internal/wizard"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes
// unmounted.
type Config struct {
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler

	Auth         *auth.Handler
	Hospital     *hospital.Handler
	Doctor       *doctor.Handler
	Treatment    *treatment.Handler
	Consultation *consultation.Handler
	Reservation  *reservation.Handler
	Chat         *chat.Handler
	Wizard       *wizard.Handler
	Audit        *audit.Handler

	AdminJWTSecret     string
	AdminSessionCookie string
	CORSAllowedOrigins []string

	// PublicLimiter throttles anonymous writes (login, consultations,
	// reservations, chat channels). Nil disables throttling.
	PublicLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	r.Use(httpmiddleware.Metrics(cfg.Metrics))

	throttle := func(next http.Handler) http.Handler { return next }
	if cfg.PublicLimiter != nil {
		throttle = httpmiddleware.RateLimit(cfg.PublicLimiter)
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Treatment != nil {
			public.Get("/treatments", cfg.Treatment.Catalog)
		}
		if cfg.Hospital != nil {
			public.Get("/facilities", cfg.Hospital.Facilities)
		}
		if cfg.Auth != nil {
			public.With(throttle).Post("/auth/login", cfg.Auth.Login)
			public.Post("/auth/logout", cfg.Auth.Logout)
		}
		if cfg.Chat != nil {
			public.Post("/webhooks/sendbird", cfg.Chat.Webhook)
		}

		public.Route("/hospitals/{hospitalID}", func(h chi.Router) {
			h.Use(requireHospitalParam)
			if cfg.Hospital != nil {
				h.Get("/", cfg.Hospital.PublicListing)
			}
			h.Group(func(w chi.Router) {
				w.Use(throttle)
				if cfg.Consultation != nil {
					w.Post("/consultations", cfg.Consultation.Submit)
				}
				if cfg.Reservation != nil {
					w.Post("/reservations", cfg.Reservation.Create)
				}
				if cfg.Chat != nil {
					w.Post("/chat/channels", cfg.Chat.OpenChannel)
				}
			})
		})
	})

	// Admin routes, scoped to the hospital in the session token
	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httpmiddleware.AdminSession(cfg.AdminJWTSecret, cfg.AdminSessionCookie))
		if cfg.Auth != nil {
			admin.Get("/me", cfg.Auth.Me)
		}
		if cfg.Audit != nil {
			admin.Get("/audit", cfg.Audit.List)
		}
		if cfg.Hospital != nil {
			admin.Mount("/hospital", cfg.Hospital.Routes())
		}
		if cfg.Doctor != nil {
			admin.Mount("/doctors", cfg.Doctor.Routes())
		}
		if cfg.Treatment != nil {
			admin.Mount("/treatments", cfg.Treatment.Routes())
		}
		if cfg.Consultation != nil {
			admin.Mount("/consultations", cfg.Consultation.Routes())
		}
		if cfg.Reservation != nil {
			admin.Mount("/reservations", cfg.Reservation.Routes())
		}
		if cfg.Chat != nil {
			admin.Mount("/chat", cfg.Chat.Routes())
		}
		if cfg.Wizard != nil {
			admin.Mount("/wizard", cfg.Wizard.Routes())
		}
	})

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
