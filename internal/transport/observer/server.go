package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/algernon-A/TransferController-sub001/internal/observerproto"
	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"
)

// Server streams match outcomes to observer clients. The controller feeds it
// through WriteOutcome and EndTick on its own goroutine; HTTP handlers add and
// remove subscribers concurrently.
type Server struct {
	bootstrap func() observerproto.BootstrapResponse
	log       *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	subs    map[string]*subscriber
	pending []matchlog.Entry
}

type subscriber struct {
	out     chan []byte
	filter  filter
	dropped uint64
}

type filter struct {
	buildings  map[host.BuildingID]struct{}
	statuses   map[matchlog.Status]struct{}
	emptyTicks bool
}

func (f filter) match(e matchlog.Entry) bool {
	if len(f.buildings) > 0 {
		_, in := f.buildings[e.InBuilding]
		_, out := f.buildings[e.OutBuilding]
		if !in && !out {
			return false
		}
	}
	if len(f.statuses) > 0 {
		if _, ok := f.statuses[e.Status]; !ok {
			return false
		}
	}
	return true
}

func NewServer(bootstrap func() observerproto.BootstrapResponse, logger *log.Logger) *Server {
	return &Server{
		bootstrap: bootstrap,
		log:       logger,
		subs:      map[string]*subscriber{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// WriteOutcome buffers e for the next EndTick.
func (s *Server) WriteOutcome(e matchlog.Entry) error {
	s.mu.Lock()
	if len(s.subs) > 0 {
		s.pending = append(s.pending, e)
	}
	s.mu.Unlock()
	return nil
}

// EndTick sends one TICK message per subscriber with the outcomes that pass
// its filter. A subscriber whose queue is full misses the message.
func (s *Server) EndTick(tick uint64, matches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pending
	s.pending = nil

	for _, sub := range s.subs {
		msg := observerproto.TickMsg{
			Type:            "TICK",
			ProtocolVersion: observerproto.Version,
			Tick:            tick,
			Matches:         matches,
			Outcomes:        []matchlog.Entry{},
			Dropped:         sub.dropped,
		}
		for _, e := range pending {
			if sub.filter.match(e) {
				msg.Outcomes = append(msg.Outcomes, e)
			}
		}
		if len(msg.Outcomes) == 0 && !sub.filter.emptyTicks {
			continue
		}
		b, err := json.Marshal(msg)
		if err != nil {
			s.printf("observer marshal tick=%d err=%v", tick, err)
			continue
		}
		select {
		case sub.out <- b:
			sub.dropped = 0
		default:
			sub.dropped++
		}
	}
}

func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := s.bootstrap()
		resp.ProtocolVersion = observerproto.Version
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

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
		f, err := parseSubscribe(msg)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 64)
		s.mu.Lock()
		s.subs[sid] = &subscriber{out: out, filter: f}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
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

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			f, err := parseSubscribe(msg)
			if err != nil {
				continue
			}
			s.mu.Lock()
			if sub := s.subs[sid]; sub != nil {
				sub.filter = f
			}
			s.mu.Unlock()
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(msg []byte) (filter, error) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return filter{}, fmt.Errorf("bad subscribe")
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return filter{}, fmt.Errorf("expected SUBSCRIBE")
	}
	f := filter{emptyTicks: sub.EmptyTicks}
	if len(sub.Buildings) > 0 {
		f.buildings = make(map[host.BuildingID]struct{}, len(sub.Buildings))
		for _, b := range sub.Buildings {
			f.buildings[host.BuildingID(b)] = struct{}{}
		}
	}
	if len(sub.Statuses) > 0 {
		f.statuses = make(map[matchlog.Status]struct{}, len(sub.Statuses))
		for _, name := range sub.Statuses {
			st, err := matchlog.ParseStatus(name)
			if err != nil {
				return filter{}, err
			}
			f.statuses[st] = struct{}{}
		}
	}
	return f, nil
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	addr := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		addr = h
	}
	addr = strings.TrimPrefix(addr, "[")
	addr = strings.TrimSuffix(addr, "]")
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}
