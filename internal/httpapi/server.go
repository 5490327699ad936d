// Package httpapi serves guild status over HTTP and, with a bearer token
// configured, a small control surface.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tunez/guildradio/internal/autofill"
	"github.com/tunez/guildradio/internal/guild"
	"github.com/tunez/guildradio/internal/playback"
	"github.com/tunez/guildradio/internal/provider"
)

var errNoSession = errors.New("httpapi: no session for guild")

// Session is the part of a guild the API reads and drives.
type Session interface {
	View() guild.View
	Phase() playback.Phase
	AutofillState() autofill.State
	Enqueue(ctx context.Context, req playback.Request) (playback.Result, error)
	Skip(ctx context.Context) (provider.Track, error)
	Stop(ctx context.Context) int
}

// Sessions finds guild sessions; create starts one when missing.
type Sessions interface {
	Session(ctx context.Context, guildID string, create bool) (Session, error)
	GuildIDs() []string
}

// ManagerSessions adapts a playback.Manager.
type ManagerSessions struct {
	Manager *playback.Manager
}

func (m ManagerSessions) Session(ctx context.Context, guildID string, create bool) (Session, error) {
	if !create {
		g, ok := m.Manager.Lookup(guildID)
		if !ok {
			return nil, errNoSession
		}
		return g, nil
	}
	g, err := m.Manager.Guild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (m ManagerSessions) GuildIDs() []string { return m.Manager.GuildIDs() }

type Options struct {
	Addr string
	// Token enables the POST routes; callers must send "Authorization: Bearer <token>".
	Token          string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type Server struct {
	opts     Options
	sessions Sessions
	log      *slog.Logger
	router   *mux.Router
}

func New(opts Options, sessions Sessions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}
	s := &Server{
		opts:     opts,
		sessions: sessions,
		log:      opts.Logger.With(slog.String("component", "httpapi")),
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/guilds/{id}/queue", s.handleQueue).Methods(http.MethodGet)
	if s.opts.Token == "" {
		return
	}
	s.router.HandleFunc("/guilds/{id}/queue", s.requireToken(s.handleEnqueue)).Methods(http.MethodPost)
	s.router.HandleFunc("/guilds/{id}/skip", s.requireToken(s.handleSkip)).Methods(http.MethodPost)
	s.router.HandleFunc("/guilds/{id}/stop", s.requireToken(s.handleStop)).Methods(http.MethodPost)
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.opts.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", slog.String("addr", s.opts.Addr), slog.Bool("control", s.opts.Token != ""))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Duration("took", time.Since(start)))
	})
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.opts.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ids := s.sessions.GuildIDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, Health{Status: "ok", Guilds: ids})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.sessions.Session(r.Context(), id, false)
	if err != nil {
		writeError(w, http.StatusNotFound, "no active session for guild "+id)
		return
	}
	writeJSON(w, http.StatusOK, queueStatus(sess.View(), sess.Phase().String(), sess.AutofillState().String(), time.Now()))
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req EnqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var locators []string
	for _, l := range req.Locators {
		if provider.ValidLocator(l) {
			locators = append(locators, strings.TrimSpace(l))
		}
	}
	if len(locators) == 0 {
		writeError(w, http.StatusBadRequest, "no valid locators")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()
	sess, err := s.sessions.Session(ctx, id, true)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if req.RequesterName == "" {
		req.RequesterName = "api"
	}
	// Holders of the API token act as admins.
	res, err := sess.Enqueue(ctx, playback.Request{
		RequesterID:   req.RequesterID,
		RequesterName: req.RequesterName,
		Locators:      locators,
		Privileged:    true,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	out := EnqueueResponse{
		Added:         make([]TrackStatus, 0, len(res.Added)),
		FirstPosition: res.FirstPosition,
		Notice:        res.Notice,
		Denied:        res.Denied,
		PurgedFiller:  res.PurgedFiller,
	}
	for _, t := range res.Added {
		out.Added = append(out.Added, trackStatus(t))
	}
	code := http.StatusAccepted
	if len(res.Added) == 0 {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, out)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Session(r.Context(), mux.Vars(r)["id"], false)
	if err != nil {
		writeError(w, http.StatusNotFound, "nothing is playing")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()
	t, err := sess.Skip(ctx)
	if errors.Is(err, playback.ErrNothingPlays) {
		writeError(w, http.StatusConflict, "nothing is playing")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skipped": trackStatus(t)})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Session(r.Context(), mux.Vars(r)["id"], false)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]int{"cleared": 0})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": sess.Stop(ctx)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}
