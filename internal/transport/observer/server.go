// Package observer exposes read-only guild and territory queries over HTTP
// and a websocket feed of committed guild events. Observer access is
// loopback-only; the feed is for local tooling, not players.
package observer

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"guildhall.gg/internal/guild"
	"guildhall.gg/internal/persistence/storage"
)

const Version = "1.0"

// Directory answers point queries against live guild state. Implementations
// dispatch onto the game-logic thread, so handlers never touch manager
// state directly.
type Directory interface {
	GuildSnapshot(name string) (storage.RecordV1, bool)
	PlayerGuild(player string) (storage.RecordV1, bool)
	CellOwner(key guild.ChunkKey) (string, bool)
}

type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Guild           string `json:"guild,omitempty"`
}

type Server struct {
	dir Directory
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[uint64]*subscriber
}

type subscriber struct {
	out    chan []byte
	filter string
}

func NewServer(dir Directory, logger *log.Logger) *Server {
	return &Server{
		dir: dir,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[uint64]*subscriber{},
	}
}

// Publish fans a committed event out to every subscriber. Slow subscribers
// drop events rather than stall the caller.
func (s *Server) Publish(ev guild.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.filter != "" && !strings.EqualFold(sub.filter, ev.Guild) {
			continue
		}
		select {
		case sub.out <- b:
		default:
		}
	}
}

// GuildHandler serves GET /v1/guilds/<name> and GET /v1/guilds?player=<uuid>.
func (s *Server) GuildHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		var rec storage.RecordV1
		var ok bool
		if player := r.URL.Query().Get("player"); player != "" {
			rec, ok = s.dir.PlayerGuild(player)
		} else {
			name := strings.TrimPrefix(r.URL.Path, "/v1/guilds/")
			if name == "" || strings.Contains(name, "/") {
				http.Error(rw, "missing guild name", http.StatusBadRequest)
				return
			}
			rec, ok = s.dir.GuildSnapshot(name)
		}
		if !ok {
			http.Error(rw, "not found", http.StatusNotFound)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(rec)
	}
}

// TerritoryHandler serves GET /v1/territory?world=<w>&x=<x>&z=<z>, answering
// which guild owns a cell.
func (s *Server) TerritoryHandler() http.HandlerFunc {
	type resp struct {
		World string `json:"world"`
		X     int32  `json:"x"`
		Z     int32  `json:"z"`
		Guild string `json:"guild,omitempty"`
		Owned bool   `json:"owned"`
	}
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		q := r.URL.Query()
		world := q.Get("world")
		if world == "" {
			http.Error(rw, "missing world", http.StatusBadRequest)
			return
		}
		x, errX := strconv.ParseInt(q.Get("x"), 10, 32)
		z, errZ := strconv.ParseInt(q.Get("z"), 10, 32)
		if errX != nil || errZ != nil {
			http.Error(rw, "bad coordinates", http.StatusBadRequest)
			return
		}
		key := guild.ChunkKey{World: world, X: int32(x), Z: int32(z)}
		owner, owned := s.dir.CellOwner(key)

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp{
			World: world, X: int32(x), Z: int32(z),
			Guild: owner, Owned: owned,
		})
	}
}

// WSHandler upgrades to a websocket event feed. Clients must send SUBSCRIBE
// within 5 seconds; the optional guild field filters the feed to one guild.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := s.nextID.Add(1)
		out := make(chan []byte, 256)
		s.mu.Lock()
		s.subs[sid] = &subscriber{out: out, filter: sub.Guild}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()
		s.log.Printf("observer: session O%d subscribed (filter=%q)", sid, sub.Guild)

		// Writer goroutine.
		done := make(chan struct{})
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-done:
					writeErr <- nil
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates (filter changes).
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var upd SubscribeMsg
			if err := json.Unmarshal(msg, &upd); err != nil {
				continue
			}
			if upd.Type != "SUBSCRIBE" || upd.ProtocolVersion != Version {
				continue
			}
			s.mu.Lock()
			if cur, ok := s.subs[sid]; ok {
				cur.filter = upd.Guild
			}
			s.mu.Unlock()
		}

		close(done)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Routes registers all observer endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/guilds", s.GuildHandler())
	mux.HandleFunc("/v1/guilds/", s.GuildHandler())
	mux.HandleFunc("/v1/territory", s.TerritoryHandler())
	mux.HandleFunc("/v1/watch", s.WSHandler())
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
