// Package api serves the voting steps over HTTP. Pages are form posts
// answered with JSON; the voter's identity is a signed session cookie and
// the in-progress ballot is the encrypted_selections cookie.
package api

import (
	"net/http"
	"time"

	"ballotbox/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 64 * 1024

// Options configures the HTTP layer.
type Options struct {
	// SessionKey signs the session cookie.
	SessionKey      []byte
	SessionLifetime time.Duration
	SecureCookies   bool
	// AllowOrigin gets CORS headers when CrossOrigin is set.
	AllowOrigin string
	CrossOrigin bool
}

type Server struct {
	svc    *service.VotingService
	opts   Options
	log    *logrus.Entry
	router chi.Router
}

func NewServer(svc *service.VotingService, opts Options, log *logrus.Entry) *Server {
	if opts.SessionLifetime <= 0 {
		opts.SessionLifetime = 30 * time.Minute
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{svc: svc, opts: opts, log: log}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(maxBody(maxBodyBytes))
	r.Use(s.requestLogger)
	if s.opts.CrossOrigin {
		r.Use(cors(s.opts.AllowOrigin))
	}
	r.Use(flash)
	r.Use(s.authenticate)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/checkin", http.StatusSeeOther)
	})
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/metrics", s.handleMetrics)

	r.Get("/checkin", s.handleCheckInPage)
	r.Post("/checkin", s.handleCheckIn)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/vote", s.handleVote)
		r.Post("/submit", s.handleSubmit)
		r.Get("/cast", s.handleCast)
		r.Post("/cast", s.handleCast)
		r.Get("/spoil", s.handleSpoil)
		r.Post("/spoil", s.handleSpoil)
	})
	return r
}
