// Package fakeapi is an in-memory LeadService used for local demos and tests.
//
// It implements the same HTTP contract as the real service: form login
// issuing HS256 JWTs, area scans over deterministic seeded leads, paid
// enrichment, scan history, SMS campaigns and manual messages. Campaign
// sends and automatic replies are applied lazily when state is read, so
// behaviour is deterministic for a given clock.
package fakeapi

import (
	"crypto/rand"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/leadctl/internal/leadapi"
)

// Options configures a Server. The zero value is usable.
type Options struct {
	// Secret signs access tokens. A random key is generated when empty.
	Secret []byte
	// TokenTTL is the access token lifetime. Default 30 minutes.
	TokenTTL time.Duration
	// LeadsPerArea is how many leads a scan of one city yields. Default 15.
	LeadsPerArea int
	// SendDelay is how long a started campaign stays in processing.
	SendDelay time.Duration
	// AutoReply makes some leads answer outbound messages after ReplyDelay.
	AutoReply  bool
	ReplyDelay time.Duration
	// EnrichReturnsLeads makes /search/enrich answer with the enriched
	// leads instead of a {status, saved_count} acknowledgement.
	EnrichReturnsLeads bool
	// Users are created at startup, keyed by email, with the given password.
	Users map[string]string
	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

type user struct {
	leadapi.User
	password string
}

type rosterItem struct {
	leadID string
	status string
}

type campaignState struct {
	leadapi.Campaign
	userID   int
	template string
	roster   []rosterItem
	messages map[string][]leadapi.Message
}

type pendingReply struct {
	campaignID int
	leadID     string
	due        time.Time
}

type historyRecord struct {
	leadapi.HistoryEntry
	leadIDs []string
}

// Server holds all sandbox state behind a single mutex.
type Server struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	users     map[string]*user
	leads     map[string]*leadapi.Lead
	areas     map[string][]string
	history   []*historyRecord
	campaigns map[int]*campaignState
	replies   []pendingReply
	nextUser  int
	nextHist  int
	nextCamp  int
	nextMsg   int
}

// New creates a Server.
func New(opts Options) *Server {
	if len(opts.Secret) == 0 {
		opts.Secret = make([]byte, 32)
		rand.Read(opts.Secret)
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 30 * time.Minute
	}
	if opts.LeadsPerArea <= 0 {
		opts.LeadsPerArea = 15
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		opts:      opts,
		logger:    slog.Default(),
		users:     make(map[string]*user),
		leads:     make(map[string]*leadapi.Lead),
		areas:     make(map[string][]string),
		campaigns: make(map[int]*campaignState),
	}
	for email, password := range opts.Users {
		s.addUser(email, password, "")
	}
	return s
}

// Handler returns the HTTP API rooted at /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.bearerAuth)

			r.Get("/auth/me", s.handleMe)

			r.Post("/search/scan", s.handleScan)
			r.Post("/search/enrich", s.handleEnrich)

			r.Get("/history/", s.handleHistory)
			r.Get("/history/{id}", s.handleHistoryLeads)

			r.Get("/campaigns/", s.handleListCampaigns)
			r.Post("/campaigns/start", s.handleStartCampaign)
			r.Get("/campaigns/{id}/inbox", s.handleInbox)
			r.Put("/campaigns/{id}/archive", s.handleToggleArchive)
			r.Delete("/campaigns/{id}", s.handleDeleteCampaign)

			r.Post("/messages/send", s.handleSendMessage)
		})
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("sandbox request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", r.Header.Get("X-Request-ID"),
			"elapsed", time.Since(start),
		)
	})
}

// addUser must be called with mu held or before the server is shared.
func (s *Server) addUser(email, password, fullName string) *user {
	s.nextUser++
	u := &user{
		User:     leadapi.User{ID: s.nextUser, Email: email, FullName: fullName},
		password: password,
	}
	s.users[email] = u
	return u
}
