package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/algernon-A/TransferController-sub001/internal/observerproto"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(func() observerproto.BootstrapResponse {
		return observerproto.BootstrapResponse{SessionID: "s1", Tick: 9, Enabled: true}
	}, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observe/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/observe/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server, sub observerproto.SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observe/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	return conn
}

func waitSubscribers(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Subscribers() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscribers=%d want %d", s.Subscribers(), n)
}

func TestBootstrap(t *testing.T) {
	_, srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/observe/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var got observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ProtocolVersion != observerproto.Version || got.SessionID != "s1" || got.Tick != 9 {
		t.Fatalf("bootstrap=%+v", got)
	}
}

func TestWS_FiltersOutcomesBySubscription(t *testing.T) {
	s, srv := newTestServer(t)
	conn := dial(t, srv, observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		Buildings:       []uint32{7},
		Statuses:        []string{"Selected", "PathFailure"},
	})
	waitSubscribers(t, s, 1)

	_ = s.WriteOutcome(matchlog.Entry{Tick: 1, Status: matchlog.Selected, InBuilding: 7, OutBuilding: 8})
	_ = s.WriteOutcome(matchlog.Entry{Tick: 1, Status: matchlog.Eligible, InBuilding: 7, OutBuilding: 8})
	_ = s.WriteOutcome(matchlog.Entry{Tick: 1, Status: matchlog.Selected, InBuilding: 1, OutBuilding: 2})
	s.EndTick(1, 1)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg observerproto.TickMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "TICK" || msg.Tick != 1 || msg.Matches != 1 {
		t.Fatalf("msg=%+v", msg)
	}
	if len(msg.Outcomes) != 1 || msg.Outcomes[0].Status != matchlog.Selected || msg.Outcomes[0].InBuilding != 7 {
		t.Fatalf("outcomes=%+v", msg.Outcomes)
	}
}

func TestWS_RejectsBadHandshake(t *testing.T) {
	s, srv := newTestServer(t)
	conn := dial(t, srv, observerproto.SubscribeMsg{Type: "HELLO", ProtocolVersion: observerproto.Version})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v", err)
	}
	if s.Subscribers() != 0 {
		t.Fatalf("subscriber registered after bad handshake")
	}
}

func TestEndTick_SkipsEmptyUnlessRequested(t *testing.T) {
	s := NewServer(func() observerproto.BootstrapResponse { return observerproto.BootstrapResponse{} }, nil)
	quiet := &subscriber{out: make(chan []byte, 1)}
	chatty := &subscriber{out: make(chan []byte, 1), filter: filter{emptyTicks: true}}
	s.subs["a"] = quiet
	s.subs["b"] = chatty

	s.EndTick(1, 0)
	if len(quiet.out) != 0 || len(chatty.out) != 1 {
		t.Fatalf("quiet=%d chatty=%d", len(quiet.out), len(chatty.out))
	}
	s.EndTick(2, 0)
	if chatty.dropped != 1 {
		t.Fatalf("dropped=%d", chatty.dropped)
	}
	<-chatty.out
	s.EndTick(3, 0)
	var msg observerproto.TickMsg
	if err := json.Unmarshal(<-chatty.out, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Tick != 3 || msg.Dropped != 1 || chatty.dropped != 0 {
		t.Fatalf("msg=%+v dropped=%d", msg, chatty.dropped)
	}
}
