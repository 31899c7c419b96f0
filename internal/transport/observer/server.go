// Package observer serves the running simulation to local tools: a JSON
// state snapshot and a websocket that streams STATE and accepts COMMAND.
package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"fetchbot.ai/internal/protocol"
	"fetchbot.ai/internal/schemas"
)

// Loop is the part of the runner the observer talks to.
type Loop interface {
	State() protocol.StateMsg
	Subscribe(ctx context.Context, buffer int) (<-chan protocol.StateMsg, func(), error)
	Command(ctx context.Context, msg protocol.CommandMsg) (protocol.CommandResultMsg, error)
}

type Server struct {
	loop Loop
	log  *log.Logger

	// AllowRemote disables the loopback check. Tests only.
	AllowRemote bool

	upgrader websocket.Upgrader
	conns    atomic.Int64
}

func NewServer(l Loop, logger *log.Logger) *Server {
	return &Server{
		loop: l,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
	}
}

// Routes registers /v1/state and /v1/ws on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/state", s.StateHandler())
	mux.HandleFunc("/v1/ws", s.WSHandler())
}

// Conns counts open websocket connections.
func (s *Server) Conns() int64 { return s.conns.Load() }

func (s *Server) StateHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.loop.State())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.conns.Add(1)
		defer s.conns.Add(-1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		states, unsubscribe, err := s.loop.Subscribe(ctx, 8)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "simulation stopped"), time.Now().Add(time.Second))
			return
		}
		defer unsubscribe()

		results := make(chan protocol.CommandResultMsg, 8)

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				var v any
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case st, ok := <-states:
					if !ok {
						writeErr <- nil
						cancel()
						return
					}
					v = st
				case res := <-results:
					v = res
				}
				if err := writeJSON(conn, v); err != nil {
					writeErr <- err
					cancel()
					return
				}
			}
		}()

		// Reader loop: COMMAND messages.
		for ctx.Err() == nil {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			res, ok := s.handleMessage(ctx, msg)
			if !ok {
				continue
			}
			select {
			case results <- res:
			case <-ctx.Done():
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// handleMessage answers a client message. Messages that are not commands
// are ignored.
func (s *Server) handleMessage(ctx context.Context, msg []byte) (protocol.CommandResultMsg, bool) {
	bad := func(code, why string) (protocol.CommandResultMsg, bool) {
		return protocol.CommandResultMsg{
			Type:            protocol.TypeCommandResult,
			ProtocolVersion: protocol.Version,
			Code:            code,
			Message:         why,
			Remaining:       s.loop.State().Remaining,
		}, true
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return bad(protocol.ErrProtoBadRequest, "invalid json")
	}
	if base.Type != protocol.TypeCommand {
		return protocol.CommandResultMsg{}, false
	}
	if err := schemas.ValidateJSON(schemas.Command, msg); err != nil {
		return bad(protocol.ErrBadRequest, err.Error())
	}
	var cmd protocol.CommandMsg
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return bad(protocol.ErrBadRequest, err.Error())
	}

	res, err := s.loop.Command(ctx, cmd)
	if err != nil {
		if s.log != nil {
			s.log.Printf("command %q: %v", cmd.ID, err)
		}
		res, _ = bad(protocol.ErrInternal, err.Error())
		res.ID = cmd.ID
	}
	return res, true
}

func (s *Server) allowed(r *http.Request) bool {
	return s.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
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
