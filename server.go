package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const maxPollWait = 30 * time.Second

// IconDownloader fetches icon files that need the catalog credentials.
type IconDownloader interface {
	Download(ctx context.Context, rawUrl string) ([]byte, error)
}

type Authenticator interface {
	TestUser(user string, pass string) bool
}

type Server struct {
	cfg       *Config
	catalog   IconSearcher
	favorites *Favorites
	auth      Authenticator
	loop      *MainLoop
	log       *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*sessionEntry

	unsubscribe func()
	stop        chan struct{}
	once        sync.Once
}

type sessionEntry struct {
	session *SearchSession

	mu       sync.Mutex
	version  uint64
	changed  chan struct{}
	lastUsed time.Time
}

func (e *sessionEntry) bump() {
	e.mu.Lock()
	e.version++
	close(e.changed)
	e.changed = make(chan struct{})
	e.mu.Unlock()
}

func (e *sessionEntry) state() (uint64, chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version, e.changed
}

func (e *sessionEntry) touch(now time.Time) {
	e.mu.Lock()
	e.lastUsed = now
	e.mu.Unlock()
}

func NewServer(cfg *Config, catalog IconSearcher, favorites *Favorites, auth Authenticator, loop *MainLoop) *Server {
	srv := &Server{
		cfg:       cfg,
		catalog:   catalog,
		favorites: favorites,
		auth:      auth,
		loop:      loop,
		log:       newLogger("server"),
		sessions:  map[string]*sessionEntry{},
		stop:      make(chan struct{}),
	}
	// favorite flags are part of every session view
	srv.unsubscribe = favorites.Subscribe(func(FavoriteChange) {
		srv.loop.Post(srv.bumpSessions)
	})
	if idle := cfg.SessionIdle(); idle > 0 {
		go srv.reapSessions(idle)
	}
	return srv
}

func (srv *Server) Close() {
	srv.once.Do(func() {
		close(srv.stop)
		srv.unsubscribe()
		srv.mu.Lock()
		for id, entry := range srv.sessions {
			entry.session.Cancel()
			delete(srv.sessions, id)
		}
		sessionsGauge.Set(0)
		srv.mu.Unlock()
	})
}

func (srv *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestId, srv.requestLogger, instrument)

	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		if srv.cfg.Auth.Enabled && srv.auth != nil {
			r.Use(srv.basicAuth)
		}
		r.Get("/search", srv.handleSearch)
		r.Get("/download", srv.handleDownload)

		r.Post("/sessions", srv.handleNewSession)
		r.Get("/sessions/{id}", srv.handleSessionView)
		r.Post("/sessions/{id}/search", srv.handleSessionSearch)
		r.Post("/sessions/{id}/more", srv.handleSessionMore)
		r.Delete("/sessions/{id}", srv.handleCloseSession)

		r.Get("/favorites", srv.handleListFavorites)
		r.Put("/favorites/{id}", srv.handleMarkFavorite)
		r.Delete("/favorites/{id}", srv.handleUnmarkFavorite)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		srv.writeError(w, r, http.StatusNotFound, "Not Found")
	})
	return r
}

type searchResponse struct {
	Query string     `json:"query"`
	Page  int        `json:"page"`
	Icons []IconView `json:"icons"`
}

type pageResult struct {
	idx     int
	records []IconRecord
	err     error
}

func (srv *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q, hasQ := r.URL.Query()["q"]
	if !hasQ {
		srv.writeError(w, r, http.StatusBadRequest, "Query Search Parameter ?q= missing")
		return
	}
	search := strings.Join(q, " ")
	page := 1
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && n > 0 {
		page = n
	}
	pageSize := srv.cfg.Search.PageSize
	if pageSize <= 0 {
		pageSize = PageSize
	}

	slices := SlicePages(page, pageSize, srv.catalog.PageSize())
	chRes := make(chan pageResult, len(slices))
	for idx, src := range slices {
		idx, src := idx, src
		go func() {
			records, err := srv.catalog.Fetch(r.Context(), search, src.Page)
			chRes <- pageResult{idx: idx, records: records, err: err}
		}()
	}

	parts := make([][]IconRecord, len(slices))
	ok := 0
	var firstErr error
	for range slices {
		res := <-chRes
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		ok++
		src := slices[res.idx]
		first := min(len(res.records), src.First)
		last := min(len(res.records), src.Last)
		parts[res.idx] = res.records[first:last]
	}
	if ok == 0 {
		logFor(r.Context(), srv.log).WithError(firstErr).Warn("Error connecting to catalog")
		srv.writeError(w, r, httpStatusFor(firstErr), userMessage(firstErr))
		return
	}

	icons := make([]IconRecord, 0, pageSize)
	for _, part := range parts {
		icons = append(icons, part...)
	}
	srv.writeJSON(w, r, http.StatusOK, searchResponse{
		Query: search,
		Page:  page,
		Icons: srv.favorites.Annotate(icons),
	})
}

func (srv *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	downloader, ok := srv.catalog.(IconDownloader)
	if !ok {
		srv.writeError(w, r, http.StatusNotFound, "downloads are not supported by this catalog")
		return
	}
	target := r.URL.Query().Get("url")
	if target == "" {
		srv.writeError(w, r, http.StatusBadRequest, "Query Parameter ?url= missing")
		return
	}
	body, err := downloader.Download(r.Context(), target)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			srv.writeError(w, r, http.StatusBadRequest, "url is not a catalog download")
			return
		}
		srv.writeError(w, r, httpStatusFor(err), userMessage(err))
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(body))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(int(srv.cfg.CacheTTL().Seconds())))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

type sessionView struct {
	Id      string     `json:"id"`
	Version uint64     `json:"version"`
	Query   string     `json:"query"`
	Active  bool       `json:"active"`
	Page    int        `json:"page"`
	Icons   []IconView `json:"icons"`
	Error   string     `json:"error,omitempty"`
	Loading bool       `json:"loading"`
}

func (srv *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	entry := &sessionEntry{
		changed:  make(chan struct{}),
		lastUsed: time.Now(),
	}
	entry.session = NewSearchSession(srv.catalog, srv.loop, func(SessionUpdate) {
		entry.bump()
	}, SessionOptions{Debounce: srv.cfg.Debounce()})

	srv.mu.Lock()
	srv.sessions[id] = entry
	sessionsGauge.Set(float64(len(srv.sessions)))
	srv.mu.Unlock()

	srv.writeJSON(w, r, http.StatusCreated, map[string]string{"id": id})
}

func (srv *Server) lookupSession(w http.ResponseWriter, r *http.Request) (string, *sessionEntry, bool) {
	id := chi.URLParam(r, "id")
	srv.mu.Lock()
	entry, ok := srv.sessions[id]
	srv.mu.Unlock()
	if !ok {
		srv.writeError(w, r, http.StatusNotFound, "unknown session")
		return id, nil, false
	}
	entry.touch(time.Now())
	return id, entry, true
}

func (srv *Server) handleSessionSearch(w http.ResponseWriter, r *http.Request) {
	_, entry, ok := srv.lookupSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Query *string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == nil {
		srv.writeError(w, r, http.StatusBadRequest, "body must be {\"query\": \"...\"}")
		return
	}
	// clients poll with after=version, so read it before the fetch can land
	version, _ := entry.state()
	entry.session.Search(*body.Query)
	srv.writeJSON(w, r, http.StatusAccepted, map[string]uint64{"version": version})
}

func (srv *Server) handleSessionMore(w http.ResponseWriter, r *http.Request) {
	_, entry, ok := srv.lookupSession(w, r)
	if !ok {
		return
	}
	version, _ := entry.state()
	started := entry.session.LoadMore()
	srv.writeJSON(w, r, http.StatusAccepted, map[string]any{"started": started, "version": version})
}

// handleSessionView long-polls: with ?after=N it waits up to ?wait seconds
// for the session to move past version N.
func (srv *Server) handleSessionView(w http.ResponseWriter, r *http.Request) {
	id, entry, ok := srv.lookupSession(w, r)
	if !ok {
		return
	}
	after, hasAfter := parseUint(r.URL.Query().Get("after"))
	wait := maxPollWait
	if n, err := strconv.Atoi(r.URL.Query().Get("wait")); err == nil && n >= 0 {
		wait = min(time.Duration(n)*time.Second, maxPollWait)
	}

	version, changed := entry.state()
	if hasAfter && version <= after && wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
	poll:
		for version <= after {
			select {
			case <-changed:
				version, changed = entry.state()
			case <-timer.C:
				break poll
			case <-r.Context().Done():
				return
			}
		}
	}

	snap := entry.session.Snapshot()
	srv.writeJSON(w, r, http.StatusOK, sessionView{
		Id:      id,
		Version: version,
		Query:   snap.Query,
		Active:  snap.Active,
		Page:    snap.Page,
		Icons:   srv.favorites.Annotate(snap.Icons),
		Error:   snap.Error,
		Loading: snap.Loading,
	})
}

func (srv *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id, entry, ok := srv.lookupSession(w, r)
	if !ok {
		return
	}
	entry.session.Cancel()
	srv.mu.Lock()
	delete(srv.sessions, id)
	sessionsGauge.Set(float64(len(srv.sessions)))
	srv.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// bumpSessions runs on the main loop.
func (srv *Server) bumpSessions() {
	srv.mu.Lock()
	entries := make([]*sessionEntry, 0, len(srv.sessions))
	for _, entry := range srv.sessions {
		entries = append(entries, entry)
	}
	srv.mu.Unlock()
	for _, entry := range entries {
		entry.bump()
	}
}

func (srv *Server) reapSessions(idle time.Duration) {
	ticker := time.NewTicker(min(idle, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-srv.stop:
			return
		case now := <-ticker.C:
			srv.expireSessions(now, idle)
		}
	}
}

func (srv *Server) expireSessions(now time.Time, idle time.Duration) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for id, entry := range srv.sessions {
		entry.mu.Lock()
		expired := now.Sub(entry.lastUsed) > idle
		entry.mu.Unlock()
		if expired {
			entry.session.Cancel()
			delete(srv.sessions, id)
			srv.log.WithField("session", id).Debug("Expired idle session")
		}
	}
	sessionsGauge.Set(float64(len(srv.sessions)))
}

func (srv *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	favs, err := srv.favorites.List()
	if err != nil {
		logFor(r.Context(), srv.log).WithError(err).Error("Failed to list favorites")
		srv.writeError(w, r, http.StatusInternalServerError, "failed to list favorites")
		return
	}
	if favs == nil {
		favs = []FavoriteIcon{}
	}
	srv.writeJSON(w, r, http.StatusOK, favs)
}

func (srv *Server) handleMarkFavorite(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		srv.writeError(w, r, http.StatusBadRequest, "icon id must be an integer")
		return
	}
	var rec IconRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		srv.writeError(w, r, http.StatusBadRequest, "body must be an icon record")
		return
	}
	rec.Id = id
	if err := srv.favorites.Mark(rec); err != nil {
		logFor(r.Context(), srv.log).WithError(err).Error("Failed to save favorite")
		srv.writeError(w, r, http.StatusInternalServerError, "failed to save favorite")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) handleUnmarkFavorite(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		srv.writeError(w, r, http.StatusBadRequest, "icon id must be an integer")
		return
	}
	if err := srv.favorites.Unmark(id); err != nil {
		logFor(r.Context(), srv.log).WithError(err).Error("Failed to delete favorite")
		srv.writeError(w, r, http.StatusInternalServerError, "failed to delete favorite")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	body := brotli.HTTPCompressor(w, r)
	defer body.Close()
	w.WriteHeader(status)
	enc := json.NewEncoder(body)
	indent := ""
	if srv.cfg.Debug.PrettyJson {
		indent = "  "
	}
	enc.SetIndent("", indent)
	if err := enc.Encode(v); err != nil && !errors.Is(err, context.Canceled) {
		logFor(r.Context(), srv.log).WithError(err).Warn("Failed to write response")
	}
}

func (srv *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	srv.writeJSON(w, r, status, map[string]string{"error": msg})
}

func parseUint(s string) (uint64, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	return n, err == nil
}
