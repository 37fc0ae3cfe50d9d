package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jub0bs/fcors"

	"gametonite/internal/calsync"
	"gametonite/internal/config"
	"gametonite/internal/gateway"
	"gametonite/internal/ics"
	appLog "gametonite/internal/log"
	"gametonite/internal/model"
	"gametonite/internal/timewindow"
)

const maxBodySize = 1 << 16

// Server exposes the session store over HTTP.
type Server struct {
	cfg   *config.Config
	gw    gateway.Gateway
	clock timewindow.Clock

	// Range listings keyed by group and range. Any mutation drops the whole
	// cache since the affected group is not known from a session id alone.
	listCache *ttlcache.Cache[string, listEntry]
	// cacheGen counts invalidations. A listing read before an invalidation
	// must not be stored after it.
	cacheMu  sync.Mutex
	cacheGen uint64

	handler http.Handler
}

// listEntry is a cached, already-encoded listing.
type listEntry struct {
	body []byte
	etag string
}

// NewServer constructs a Server backed by gw. clock drives the layout and
// calendar endpoints when the request does not pin a zone; nil means
// cfg.Clock().
func NewServer(cfg *config.Config, gw gateway.Gateway, clock timewindow.Clock) (*Server, error) {
	if clock == nil {
		clock = cfg.Clock()
	}
	s := &Server{
		cfg:   cfg,
		gw:    gw,
		clock: clock,
		listCache: ttlcache.New(
			ttlcache.WithTTL[string, listEntry](cfg.CacheTTL()),
			ttlcache.WithDisableTouchOnHit[string, listEntry](),
		),
	}
	go s.listCache.Start()

	cors, err := fcors.AllowAccess(
		fcors.FromAnyOrigin(),
		fcors.WithMethods(
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		),
		fcors.WithRequestHeaders("Authorization"),
	)
	if err != nil {
		s.listCache.Stop()
		return nil, err
	}

	var h http.Handler = s.routes()
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	s.handler = cors(h)
	return s, nil
}

// Handler returns the root http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close stops background cache eviction.
func (s *Server) Close() {
	s.listCache.Stop()
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(accessLog)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/groups/{group}", func(r chi.Router) {
			r.Get("/sessions", s.handleListSessions)
			r.Post("/sessions", s.handleCreateSession)
			r.Get("/layout", s.handleLayout)
			r.Get("/calendar.ics", s.handleCalendar)
		})
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteSession)
			r.Post("/participants", s.handleJoin)
			r.Delete("/participants/{user}", s.handleLeave)
		})
	})
	return r
}

// accessLog writes one line per request with the chi request id.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials leave it disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="gametonite", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleListSessions serves GET /api/groups/{group}/sessions?start=&end=
// with RFC3339 bounds. Responses carry an ETag and honor If-None-Match.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	group := pathParam(r, "group")
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be RFC3339")
		return
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "end must be after start")
		return
	}

	key := group + "|" + start.UTC().Format(time.RFC3339) + "|" + end.UTC().Format(time.RFC3339)
	entry, cached := s.cachedList(key)
	if !cached {
		gen := s.generation()
		sessions, err := s.gw.ListSessionsInRange(r.Context(), group, start, end)
		if err != nil {
			appLog.Error("list sessions failed", err, "group_id", group)
			writeError(w, http.StatusInternalServerError, "failed to list sessions")
			return
		}
		body, err := json.Marshal(sessions)
		if err != nil {
			appLog.Error("encode sessions failed", err, "group_id", group)
			writeError(w, http.StatusInternalServerError, "failed to encode sessions")
			return
		}
		entry = listEntry{body: body, etag: etagFor(body)}
		s.storeList(key, gen, entry)
	}

	w.Header().Set("ETag", entry.etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == entry.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.body)
}

func (s *Server) cachedList(key string) (listEntry, bool) {
	item := s.listCache.Get(key)
	if item == nil {
		return listEntry{}, false
	}
	return item.Value(), true
}

// etagFor derives a strong validator from the encoded body.
func etagFor(body []byte) string {
	return `"` + uuid.NewSHA1(uuid.NameSpaceOID, body).String() + `"`
}

func (s *Server) generation() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cacheGen
}

// storeList caches entry unless the cache was invalidated after gen was read.
func (s *Server) storeList(key string, gen uint64, entry listEntry) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if gen != s.cacheGen {
		return
	}
	s.listCache.Set(key, entry, ttlcache.DefaultTTL)
}

func (s *Server) invalidate() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cacheGen++
	s.listCache.DeleteAll()
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	group := pathParam(r, "group")

	var req model.CreateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ServerID != "" && req.ServerID != group {
		writeError(w, http.StatusBadRequest, "server_id does not match group")
		return
	}
	req.ServerID = group
	req.Title = strings.TrimSpace(req.Title)
	switch {
	case req.Title == "":
		writeError(w, http.StatusBadRequest, "title is required")
		return
	case len([]rune(req.Title)) > model.MaxTitleLen:
		writeError(w, http.StatusBadRequest, "title too long")
		return
	case req.Game != nil && len([]rune(*req.Game)) > model.MaxGameLen:
		writeError(w, http.StatusBadRequest, "game too long")
		return
	case req.OwnerID == "":
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	case !req.End.After(req.Start):
		writeError(w, http.StatusBadRequest, "end_time must be after start_time")
		return
	}

	created, err := s.gw.CreateSession(r.Context(), req)
	if err != nil {
		appLog.Error("create session failed", err, "group_id", group, "owner", req.OwnerID)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	s.invalidate()
	appLog.Info("session created", "session_id", created.SessionID, "group_id", group, "owner", req.OwnerID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := s.gw.DeleteSession(r.Context(), id); err != nil {
		s.writeGatewayError(w, err, "delete session", id)
		return
	}
	s.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req model.ParticipantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := s.gw.AddParticipant(r.Context(), id, req.UserID, req.Picture); err != nil {
		s.writeGatewayError(w, err, "add participant", id)
		return
	}
	s.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	user := pathParam(r, "user")
	if err := s.gw.RemoveParticipant(r.Context(), id, user); err != nil {
		s.writeGatewayError(w, err, "remove participant", id)
		return
	}
	s.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// layoutResponse is the JSON shape for /layout.
type layoutResponse struct {
	Baseline    time.Time    `json:"baseline"`
	WindowStart time.Time    `json:"window_start"`
	WindowEnd   time.Time    `json:"window_end"`
	OffsetHours int          `json:"offset_hours"`
	Now         time.Time    `json:"now"`
	Timebar     float64      `json:"timebar"`
	Columns     int          `json:"columns"`
	HourLabels  []string     `json:"hour_labels"`
	Items       []layoutItem `json:"items"`
}

type layoutItem struct {
	Session model.Session `json:"session"`
	Column  int           `json:"column"`
	Top     float64       `json:"top"`
	Bottom  float64       `json:"bottom"`
}

// handleLayout serves the stacked calendar for the window containing now.
//
// GET /api/groups/{group}/layout?offset=6&utc_offset=120
//   - offset:     window start hour (default config offset_hours)
//   - utc_offset: display zone in minutes east of UTC (default server clock)
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	group := pathParam(r, "group")
	win, now, ok := s.requestWindow(w, r)
	if !ok {
		return
	}

	sessions, err := s.gw.ListSessionsInRange(r.Context(), group, win.Start, win.End)
	if err != nil {
		appLog.Error("layout fetch failed", err, "group_id", group)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	l := calsync.Project(win, now, sessions, nil)
	resp := layoutResponse{
		Baseline:    l.Window.Baseline,
		WindowStart: l.Window.Start,
		WindowEnd:   l.Window.End,
		OffsetHours: l.Window.OffsetHours,
		Now:         l.Now,
		Timebar:     l.Timebar,
		Columns:     l.Columns,
		HourLabels:  timewindow.HourLabels(l.Window.OffsetHours),
		Items:       make([]layoutItem, 0, len(l.Items)),
	}
	for _, it := range l.Items {
		resp.Items = append(resp.Items, layoutItem{Session: it.Session, Column: it.Column, Top: it.Top, Bottom: it.Bottom})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCalendar exports the current window as text/calendar.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	group := pathParam(r, "group")
	win, now, ok := s.requestWindow(w, r)
	if !ok {
		return
	}

	sessions, err := s.gw.ListSessionsInRange(r.Context(), group, win.Start, win.End)
	if err != nil {
		appLog.Error("calendar fetch failed", err, "group_id", group)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="`+group+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics.Export(group, sessions, now)))
}

func (s *Server) requestWindow(w http.ResponseWriter, r *http.Request) (timewindow.Window, time.Time, bool) {
	q := r.URL.Query()
	offset := parseIntDefault(q.Get("offset"), s.cfg.OffsetHours)

	now := s.clock()
	if v := q.Get("utc_offset"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "utc_offset must be minutes east of UTC")
			return timewindow.Window{}, time.Time{}, false
		}
		now = now.In(timewindow.ZoneFromOffsetMinutes(minutes))
	}

	win, err := timewindow.NewWindow(now, offset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return timewindow.Window{}, time.Time{}, false
	}
	return win, now, true
}

func (s *Server) writeGatewayError(w http.ResponseWriter, err error, op string, id int64) {
	if errors.Is(err, gateway.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	appLog.Error(op+" failed", err, "session_id", id)
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

// pathParam returns an unescaped route parameter. chi matches on the raw
// path when one is present, so escaped names arrive still encoded.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func sessionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}
