// FILE: internal/adminapi/adminapi.go
// Package adminapi – read-only HTTP+WebSocket dashboard surface.
//
// Consumer-only: it never mutates store/orchestrator state, only polls
// store.Store.AccountSnapshot, orchestrator.Orchestrator.Status, and
// session.NextSession and serves them as JSON, plus a gorilla/websocket
// broadcast of the same payload on a timer. /metrics and /healthz follow
// the teacher's main.go http.ServeMux + promhttp.Handler idiom.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forexsim/session-engine/internal/logging"
	"github.com/forexsim/session-engine/internal/orchestrator"
	"github.com/forexsim/session-engine/internal/session"
	"github.com/forexsim/session-engine/internal/store"
)

// Status is the JSON payload served at /api/status and broadcast over /ws.
type Status struct {
	Account      store.Snapshot      `json:"account"`
	Orchestrator orchestrator.Status `json:"orchestrator"`
	NextSession  NextSession         `json:"next_session"`
}

// NextSession reports the upcoming session's identity and timing for the
// dashboard's countdown.
type NextSession struct {
	ID      string    `json:"id"`
	Instant time.Time `json:"instant"`
	Status  string    `json:"status"`
}

// Server serves the read-only dashboard surface. It never accepts any
// request that would mutate positions, account state, or the scheduler.
type Server struct {
	positions *store.Store
	orch      *orchestrator.Orchestrator

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New wires a Server against the store and orchestrator it polls.
func New(positions *store.Store, orch *orchestrator.Orchestrator) *Server {
	return &Server{
		positions: positions,
		orch:      orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Routes mounts every endpoint this package serves: /healthz, /metrics,
// /api/status, and /ws. The caller plugs this into its own http.Server,
// matching the teacher's main.go ServeMux wiring.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) status(ctx context.Context) (Status, error) {
	snap, err := s.positions.AccountSnapshot(ctx)
	if err != nil {
		return Status{}, err
	}
	next := session.NextSession(time.Now().UTC())
	return Status{
		Account:      snap,
		Orchestrator: s.orch.Status(),
		NextSession: NextSession{
			ID:      string(next.ID),
			Instant: next.Instant,
			Status:  string(session.ClassifyStatus(time.Now().UTC())),
		},
	}, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	log := logging.For("adminapi")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Clients never send anything we act on; this read loop only detects
	// disconnects (gorilla requires draining reads to notice a close frame).
	go func() {
		defer s.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// Broadcast polls status on interval and pushes it to every connected
// websocket client until ctx is cancelled. Callers run this in its own
// goroutine alongside the HTTP server.
func (s *Server) Broadcast(ctx context.Context, interval time.Duration) {
	log := logging.For("adminapi")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := s.status(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("broadcast: status snapshot failed")
				continue
			}
			payload, err := json.Marshal(st)
			if err != nil {
				log.Warn().Err(err).Msg("broadcast: marshal failed")
				continue
			}
			s.broadcastRaw(payload)
		}
	}
}

func (s *Server) broadcastRaw(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(s.clients, conn)
			_ = conn.Close()
		}
	}
}
