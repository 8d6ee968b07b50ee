// Package devserver serves a compiled document to live viewers.
//
// Each WebSocket connection is a session with its own incr.Server. The
// session first receives a hello text frame carrying its id, then one binary
// module stream per published document holding only what it has not seen.
// A viewer that lost track sends the text message "resync"; the server
// answers with a reset text frame followed by a full stream.
//
// A disconnected session is parked for the configured resume window. A viewer
// reconnecting with /ws?resume={id}&seen={n}, where n counts the streams it
// merged, continues from its horizon and only receives what it missed. A
// count that disagrees with what was written turns the first push into a
// reset.
//
// The server keeps an incr.Client per session fed with the same streams, so
// /sessions/{id}/render shows exactly what the viewer holds.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/vecsync"
	"github.com/gogpu/vecsync/incr"
	"github.com/gogpu/vecsync/internal/plaintext"
	"github.com/gogpu/vecsync/ir"
	"github.com/gogpu/vecsync/stream"
	"github.com/gogpu/vecsync/svg"
)

const (
	writeWait       = 10 * time.Second
	sendQueue       = 8
	shutdownTimeout = 5 * time.Second
)

// Server is the dev server.
type Server struct {
	cfg      *Config
	encoded  *incr.EncodedCache
	render   *svg.Cache
	upgrader websocket.Upgrader
	compile  func(path string) (ir.Document, error)
	router   chi.Router

	// publishMu orders document updates and initial pushes, so every
	// session sees documents in publication order.
	publishMu sync.Mutex

	mu       sync.RWMutex
	doc      ir.Document
	sessions map[string]*session

	// parked holds disconnected sessions until the resume window expires.
	// Nil when resumption is disabled.
	parked *ttlcache.Cache[string, *syncState]
}

// New creates a server. The configuration is validated.
func New(cfg *Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		encoded:  incr.NewEncodedCache(cfg.EncodedCacheMB),
		render:   svg.NewCache(cfg.RenderCacheMB),
		sessions: make(map[string]*session),
		compile: func(path string) (ir.Document, error) {
			return plaintext.CompileFile(path, cfg.CompileOptions()...)
		},
	}
	if cfg.ResumeWindow > 0 {
		s.parked = ttlcache.New[string, *syncState](
			ttlcache.WithTTL[string, *syncState](cfg.ResumeWindow),
			ttlcache.WithCapacity[string, *syncState](uint64(cfg.MaxSessions)),
			ttlcache.WithDisableTouchOnHit[string, *syncState](),
		)
		s.parked.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, it *ttlcache.Item[string, *syncState]) {
			if reason != ttlcache.EvictionReasonDeleted {
				vecsync.Component("devserver").Debug("parked session evicted", "session", it.Key(), "reason", reason)
			}
		})
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWS)
	r.Get("/document.svg", s.handleDocument)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleSessions)
		r.Get("/{id}/render", s.handleRender)
		r.Post("/{id}/resync", s.handleResync)
	})
	return r
}

// Document returns the last published document, or nil.
func (s *Server) Document() ir.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Publish makes doc the current document and pushes a delta to every
// session. An invalid document is rejected before any session sees it.
func (s *Server) Publish(doc ir.Document) error {
	if err := incr.NewServer().SetDocument(doc); err != nil {
		return fmt.Errorf("devserver: publish: %w", err)
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	s.doc = doc
	sessions := make([]*session, 0, len(s.sessions))
	for _, ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.mu.Unlock()

	for _, ss := range sessions {
		ss.push(doc)
	}
	vecsync.Component("devserver").Info("published",
		"title", doc.Meta().Title, "pages", doc.PageCount(), "sessions", len(sessions))
	return nil
}

// Reload compiles the configured source file and publishes it.
func (s *Server) Reload() error {
	doc, err := s.compile(s.cfg.Source)
	if err != nil {
		return err
	}
	return s.Publish(doc)
}

// Run loads the source, watches it for changes and serves HTTP until ctx
// is canceled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Source != "" {
		if err := s.Reload(); err != nil {
			return err
		}
	}
	if s.parked != nil {
		go s.parked.Start()
		defer s.parked.Stop()
	}

	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: writeWait,
	}
	g, ctx := errgroup.WithContext(ctx)
	if s.cfg.Source != "" {
		g.Go(func() error {
			s.watch(ctx)
			return nil
		})
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("devserver: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.closeSessions()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("devserver: shutdown: %w", err)
		}
		return nil
	})
	vecsync.Component("devserver").Info("listening", "addr", s.cfg.Listen, "source", s.cfg.Source)
	return g.Wait()
}

// watch polls the source file's modification time and reloads on change.
func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	last, _ := modTime(s.cfg.Source)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		mt, err := modTime(s.cfg.Source)
		if err != nil {
			vecsync.Component("devserver").Warn("stat source", "path", s.cfg.Source, "err", err)
			continue
		}
		if mt.Equal(last) {
			continue
		}
		last = mt
		if err := s.Reload(); err != nil {
			vecsync.Component("devserver").Error("reload", "path", s.cfg.Source, "err", err)
		}
	}
}

func modTime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (s *Server) session(id string) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// unregister closes a session whose connection ended and parks its state
// for resumption.
func (s *Server) unregister(ss *session) {
	s.mu.Lock()
	_, live := s.sessions[ss.id]
	delete(s.sessions, ss.id)
	s.mu.Unlock()
	ss.close()
	if live && s.parked != nil {
		s.parked.Set(ss.id, ss.park(), ttlcache.DefaultTTL)
	}
	vecsync.Component("devserver").Info("session closed", "session", ss.id, "parked", live && s.parked != nil)
}

// reject closes an upgraded connection that lost the race for the last
// session slot. A resumed state goes back to the parked cache.
func (s *Server) reject(conn *websocket.Conn, resumed *syncState) {
	if resumed != nil {
		s.parked.Set(resumed.id, resumed, ttlcache.DefaultTTL)
	}
	msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many sessions")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		vecsync.Component("devserver").Debug("reject", "err", err)
	}
	conn.Close()
	vecsync.Component("devserver").Warn("session rejected", "remote", conn.RemoteAddr(), "reason", "too many sessions")
}

// resume takes a parked session's state. seen is the number of streams the
// viewer says it merged; on disagreement the state is marked stale.
func (s *Server) resume(id, seen string) *syncState {
	if s.parked == nil || id == "" {
		return nil
	}
	it, ok := s.parked.GetAndDelete(id)
	if !ok || it.IsExpired() {
		return nil
	}
	st := it.Value()
	if n, err := strconv.Atoi(seen); err != nil || n != st.delivered {
		st.stale = true
	}
	return st
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()
	for _, ss := range sessions {
		ss.close()
	}
}

// resync makes the next push a full stream and pushes the current document.
func (s *Server) resync(ss *session) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	ss.mu.Lock()
	ss.stale = true
	ss.mu.Unlock()
	if doc := s.Document(); doc != nil {
		ss.push(doc)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	full := len(s.sessions) >= s.cfg.MaxSessions
	s.mu.RUnlock()
	if full {
		http.Error(w, "too many sessions", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		vecsync.Component("devserver").Warn("upgrade", "err", err)
		return
	}
	q := r.URL.Query()
	resumed := s.resume(q.Get("resume"), q.Get("seen"))
	ss := newSession(conn, s.encoded, resumed)

	s.publishMu.Lock()
	s.mu.Lock()
	// Upgrades race past the check above; the limit holds at registration.
	if len(s.sessions) >= s.cfg.MaxSessions {
		s.mu.Unlock()
		s.publishMu.Unlock()
		s.reject(conn, resumed)
		return
	}
	s.sessions[ss.id] = ss
	doc := s.doc
	s.mu.Unlock()
	go ss.writeLoop()
	ss.send(frame{msg: &message{Type: "hello", Session: ss.id, Resumed: resumed != nil}})
	if doc != nil {
		ss.push(doc)
	}
	s.publishMu.Unlock()
	vecsync.Component("devserver").Info("session opened",
		"session", ss.id, "remote", r.RemoteAddr, "resumed", resumed != nil)

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if typ == websocket.TextMessage && strings.TrimSpace(string(data)) == "resync" {
			s.resync(ss)
		}
	}
	s.unregister(ss)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	n := len(s.sessions)
	pages := 0
	if s.doc != nil {
		pages = s.doc.PageCount()
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": n, "pages": pages})
}

// SessionInfo describes a session in /sessions.
type SessionInfo struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Horizon int       `json:"horizon"`
	Deltas  int       `json:"deltas"`
	Modules int       `json:"modules"`
	Bytes   int       `json:"bytes"`
	Dropped int       `json:"dropped"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, ss := range sessions {
		infos = append(infos, ss.info())
	}
	// ULIDs sort by creation time.
	slices.SortFunc(infos, func(a, b SessionInfo) int { return strings.Compare(a.ID, b.ID) })
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	ss := s.session(chi.URLParam(r, "id"))
	if ss == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	window, err := windowFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	renderer := s.renderer(r)

	ss.mu.Lock()
	out := renderer.RenderInWindow(ss.mirror, window)
	ss.mu.Unlock()
	s.writeSVG(w, out, renderer.LastStats())
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	doc := s.Document()
	if doc == nil {
		http.Error(w, "no document", http.StatusNotFound)
		return
	}
	window, err := windowFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	renderer := s.renderer(r)
	out := renderer.RenderInWindow(doc, window)
	s.writeSVG(w, out, renderer.LastStats())
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	ss := s.session(chi.URLParam(r, "id"))
	if ss == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	s.resync(ss)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) renderer(r *http.Request) *svg.Renderer {
	return svg.NewRenderer(
		svg.WithCache(s.render),
		svg.WithPageGap(s.cfg.PageGap),
		svg.WithTextLayer(r.URL.Query().Get("text") == "1"),
	)
}

func (s *Server) writeSVG(w http.ResponseWriter, markup string, st svg.Stats) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("X-Vecsync-Unresolved", strconv.Itoa(len(st.Unresolved)))
	w.Header().Set("X-Vecsync-Cache-Hits", strconv.Itoa(st.CacheHits))
	if _, err := io.WriteString(w, markup); err != nil {
		vecsync.Component("devserver").Debug("write svg", "err", err)
	}
}

// windowFromQuery reads x0, y0, x1, y1. Missing values leave the window
// unbounded towards positive infinity from the origin.
func windowFromQuery(q url.Values) (ir.Rect, error) {
	inf := float32(math.Inf(1))
	vals := [4]float32{0, 0, inf, inf}
	for i, key := range [4]string{"x0", "y0", "x1", "y1"} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return ir.Rect{}, fmt.Errorf("bad %s: %w", key, err)
		}
		if math.IsNaN(f) {
			return ir.Rect{}, fmt.Errorf("bad %s: NaN", key)
		}
		vals[i] = float32(f)
	}
	r := ir.Rect{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}
	if r.IsEmpty() {
		return r, errors.New("window is inverted")
	}
	return r, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		vecsync.Component("devserver").Debug("write json", "err", err)
	}
}

// frame is one outgoing WebSocket write: an optional JSON text frame
// followed by an optional binary module stream.
type frame struct {
	msg  *message
	data []byte
}

type message struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Resumed bool   `json:"resumed,omitempty"`
}

// syncState is what a session knows about its viewer. It outlives the
// connection while the session is parked.
type syncState struct {
	id        string
	created   time.Time
	srv       *incr.Server
	mirror    *incr.Client
	stale     bool // the viewer missed a stream and needs a reset
	dropped   int
	queued    int // streams accepted by the send queue
	delivered int // streams handed to the connection
}

type session struct {
	conn *websocket.Conn
	out  chan frame
	done chan struct{}
	once sync.Once

	mu sync.Mutex
	syncState
}

func newSession(conn *websocket.Conn, cache *incr.EncodedCache, resumed *syncState) *session {
	ss := &session{
		conn: conn,
		out:  make(chan frame, sendQueue),
		done: make(chan struct{}),
	}
	if resumed != nil {
		ss.syncState = *resumed
		return ss
	}
	ss.syncState = syncState{
		id:      ulid.Make().String(),
		created: time.Now(),
		srv:     incr.NewServer(incr.WithEncodedCache(cache)),
		mirror:  incr.NewClient(),
	}
	return ss
}

// park snapshots the sync state of a closed session. Streams still queued
// never reached the viewer, so the state is stale.
func (ss *session) park() *syncState {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	st := ss.syncState
	if st.queued != st.delivered {
		st.stale = true
	}
	return &st
}

// push sends doc as a delta, or as a full stream after a reset. A stream
// that does not fit the send queue is dropped and the session marked
// stale, so the next push resets the viewer.
func (ss *session) push(doc ir.Document) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	reset := ss.stale
	var (
		buf []byte
		err error
	)
	if reset {
		err = ss.srv.SetDocument(doc)
		if err == nil {
			buf, err = ss.srv.PackCurrent()
		}
	} else {
		buf, err = ss.srv.PackDelta(doc)
	}
	if err != nil {
		vecsync.Component("devserver").Error("pack", "session", ss.id, "err", err)
		return
	}
	if !reset && len(buf) == stream.HeaderSize {
		// No visual change.
		return
	}

	if reset {
		ss.mirror.Reset()
	}
	if err := ss.mirror.MergeDelta(buf); err != nil {
		vecsync.Component("devserver").Error("mirror merge", "session", ss.id, "err", err)
		ss.stale = true
		return
	}

	f := frame{data: buf}
	if reset {
		f.msg = &message{Type: "reset"}
	}
	if !ss.send(f) {
		ss.dropped++
		ss.stale = true
		vecsync.Component("devserver").Warn("viewer too slow, stream dropped", "session", ss.id)
		return
	}
	ss.queued++
	ss.stale = false
}

func (ss *session) send(f frame) bool {
	select {
	case ss.out <- f:
		return true
	case <-ss.done:
		return false
	default:
		return false
	}
}

func (ss *session) writeLoop() {
	for {
		select {
		case <-ss.done:
			return
		case f := <-ss.out:
			if f.data != nil {
				ss.mu.Lock()
				ss.delivered++
				ss.mu.Unlock()
			}
			if err := ss.write(f); err != nil {
				vecsync.Component("devserver").Debug("write", "session", ss.id, "err", err)
				ss.close()
				return
			}
		}
	}
}

func (ss *session) write(f frame) error {
	if err := ss.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if f.msg != nil {
		if err := ss.conn.WriteJSON(f.msg); err != nil {
			return err
		}
	}
	if f.data != nil {
		return ss.conn.WriteMessage(websocket.BinaryMessage, f.data)
	}
	return nil
}

func (ss *session) close() {
	ss.once.Do(func() {
		close(ss.done)
		_ = ss.conn.Close()
	})
}

func (ss *session) info() SessionInfo {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	st := ss.srv.Stats()
	return SessionInfo{
		ID:      ss.id,
		Created: ss.created,
		Horizon: st.Horizon,
		Deltas:  st.Deltas,
		Modules: st.Modules,
		Bytes:   st.Bytes,
		Dropped: ss.dropped,
	}
}
