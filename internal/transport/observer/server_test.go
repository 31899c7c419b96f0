package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fetchbot.ai/internal/protocol"
)

type fakeLoop struct {
	mu       sync.Mutex
	commands []protocol.CommandMsg
}

func (f *fakeLoop) State() protocol.StateMsg {
	return protocol.StateMsg{Type: protocol.TypeState, ProtocolVersion: protocol.Version, Tick: 7, Phase: "IDLE", Remaining: 2}
}

func (f *fakeLoop) Subscribe(ctx context.Context, buffer int) (<-chan protocol.StateMsg, func(), error) {
	ch := make(chan protocol.StateMsg, buffer)
	ch <- f.State()
	return ch, func() {}, nil
}

func (f *fakeLoop) Command(ctx context.Context, msg protocol.CommandMsg) (protocol.CommandResultMsg, error) {
	f.mu.Lock()
	f.commands = append(f.commands, msg)
	f.mu.Unlock()
	return protocol.CommandResultMsg{Type: protocol.TypeCommandResult, ProtocolVersion: protocol.Version, ID: msg.ID, OK: true, Remaining: 2}, nil
}

func TestStateHandler(t *testing.T) {
	s := NewServer(&fakeLoop{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	s.StateHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var st protocol.StateMsg
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Tick != 7 || st.Remaining != 2 {
		t.Fatalf("state=%+v", st)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec = httptest.NewRecorder()
	s.StateHandler()(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status=%d", rec.Code)
	}
}

func TestRemoteClientsForbidden(t *testing.T) {
	s := NewServer(&fakeLoop{}, nil)
	for _, h := range []http.HandlerFunc{s.StateHandler(), s.WSHandler()} {
		req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
		req.RemoteAddr = "192.0.2.10:4000"
		rec := httptest.NewRecorder()
		h(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status=%d want 403", rec.Code)
		}
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"10.0.0.2:80":  false,
		"garbage":      false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}

func TestWebsocketStreamsStateAndAnswersCommands(t *testing.T) {
	loop := &fakeLoop{}
	mux := http.NewServeMux()
	NewServer(loop, nil).Routes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func(wantType string) map[string]any {
		t.Helper()
		for i := 0; i < 10; i++ {
			_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			_, b, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if m["type"] == wantType {
				return m
			}
		}
		t.Fatalf("no %s message", wantType)
		return nil
	}

	if st := read(protocol.TypeState); st["phase"] != "IDLE" {
		t.Fatalf("state=%v", st)
	}

	send := func(s string) {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(`{"type":"COMMAND","protocol_version":"1.0","id":"c1","delay_sec":0.25}`)
	res := read(protocol.TypeCommandResult)
	if res["ok"] != true || res["id"] != "c1" {
		t.Fatalf("result=%v", res)
	}

	send(`{"type":"COMMAND","protocol_version":"1.0","id":"c2","delay_sec":-1}`)
	res = read(protocol.TypeCommandResult)
	if res["ok"] != false || res["code"] != protocol.ErrBadRequest {
		t.Fatalf("result=%v", res)
	}

	send(`not json`)
	res = read(protocol.TypeCommandResult)
	if res["code"] != protocol.ErrProtoBadRequest {
		t.Fatalf("result=%v", res)
	}

	loop.mu.Lock()
	defer loop.mu.Unlock()
	if len(loop.commands) != 1 || loop.commands[0].DelaySec == nil || *loop.commands[0].DelaySec != 0.25 {
		t.Fatalf("commands=%+v", loop.commands)
	}
}
