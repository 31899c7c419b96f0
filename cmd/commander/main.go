package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"fetchbot.ai/internal/protocol"
)

func main() {
	var (
		url     = flag.String("url", "ws://127.0.0.1:8080/v1/ws", "observer ws url")
		delay   = flag.Float64("delay", -1, "command delay in seconds (negative: server default)")
		maxCmds = flag.Int("max", 0, "stop after this many accepted commands (0: until all delivered)")
		say     = flag.Bool("say", false, "speak each command; -delay is then the pause after the voice")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[commander] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	c := &commander{conn: conn, log: logger, say: *say}
	if *delay >= 0 {
		c.delay = delay
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if done := c.handle(msg); done || (*maxCmds > 0 && c.accepted >= *maxCmds) {
			logger.Printf("done accepted=%d", c.accepted)
			return
		}
	}
}

type commander struct {
	conn  *websocket.Conn
	log   *log.Logger
	delay *float64
	say   bool

	inFlight bool
	// spokenAt is the tick a spoken command was accepted; the agent stays
	// idle until the voice is over.
	spokenAt uint64
	spoken   bool
	seq      int
	accepted int
	lastTick uint64
}

// spokenWaitTicks bounds how long a spoken command may keep the agent idle
// before the commander tries again.
const spokenWaitTicks = 500

// handle reacts to one server message and reports whether the run is over.
func (c *commander) handle(msg []byte) bool {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return false
	}
	switch base.Type {
	case protocol.TypeState:
		var st protocol.StateMsg
		if err := json.Unmarshal(msg, &st); err != nil {
			return false
		}
		if st.Delivered && st.Remaining == 0 {
			return true
		}
		if c.spoken && (!st.Idle() || st.Tick > c.spokenAt+spokenWaitTicks) {
			c.spoken = false
		}
		if st.Idle() && !c.inFlight && !c.spoken {
			c.send(st.Tick)
		}

	case protocol.TypeCommandResult:
		var res protocol.CommandResultMsg
		if err := json.Unmarshal(msg, &res); err != nil {
			return false
		}
		c.inFlight = false
		if res.OK {
			if c.say {
				c.spoken, c.spokenAt = true, c.lastTick
			}
			c.accepted++
			c.log.Printf("COMMAND %s accepted remaining=%d", res.ID, res.Remaining)
		} else {
			c.log.Printf("COMMAND %s rejected code=%s msg=%s", res.ID, res.Code, res.Message)
		}
	}
	return false
}

func (c *commander) send(tick uint64) {
	c.seq++
	cmd := protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: protocol.Version,
		ID:              fmt.Sprintf("C_%d_%d", tick, c.seq),
		DelaySec:        c.delay,
		Say:             c.say,
	}
	if err := c.conn.WriteJSON(cmd); err != nil {
		c.log.Printf("send COMMAND: %v", err)
		return
	}
	c.inFlight = true
	c.lastTick = tick
}
