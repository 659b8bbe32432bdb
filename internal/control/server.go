package control

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/outline-cli-ws/gatewayd/internal/config"
	"github.com/outline-cli-ws/gatewayd/internal/supervisor"
)

// Server exposes the supervisor over HTTP on the daemon's local loopback
// control address: POST /v1/start, POST /v1/stop, GET /v1/status, and a
// GET /v1/events websocket stream, for `gwctl status --watch`, that polls
// once a second and pushes a Status frame on the first tick and on every
// tick where the status differs from the last frame sent.
type Server struct {
	log   *zap.Logger
	store *config.Store
	sv    *supervisor.Supervisor
}

// NewServer wires a control Server around an already-constructed
// Supervisor and profile Store.
func NewServer(log *zap.Logger, store *config.Store, sv *supervisor.Supervisor) *Server {
	return &Server{log: log, store: store, sv: sv}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/start", s.handleStart)
	mux.HandleFunc("/v1/stop", s.handleStop)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/events", s.handleEvents)
	return mux
}

// Serve runs the control HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	err := srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, Response{Error: err.Error()})
		return
	}
	profile := s.store.ByID(req.ProfileID)
	if profile == nil {
		profile = s.store.ByNameOrIndex(req.ProfileID)
	}
	if profile == nil {
		writeJSON(w, Response{Error: "profile not found"})
		return
	}
	// The session must outlive this request, so it is rooted on a fresh
	// context rather than r.Context() — the latter is cancelled the moment
	// this handler returns, which would tear the tunnel down right after
	// standing it up.
	if err := s.sv.Start(context.Background(), profile); err != nil {
		writeJSON(w, Response{Error: err.Error()})
		return
	}
	writeJSON(w, Response{OK: true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.sv.Stop(req.Force); err != nil {
		writeJSON(w, Response{Error: err.Error()})
		return
	}
	writeJSON(w, Response{OK: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.sv.Status()
	writeJSON(w, Response{OK: true, Status: &st})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last supervisor.Status
	var first sync.Once
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			st := s.sv.Status()
			changed := false
			first.Do(func() { changed = true })
			if st != last {
				changed = true
			}
			if !changed {
				continue
			}
			last = st
			if err := wsjson.Write(ctx, conn, st); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
