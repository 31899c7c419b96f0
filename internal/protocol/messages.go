package protocol

// STATE (server -> observer)
type StateMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Session         string     `json:"session,omitempty"`
	Tick            uint64     `json:"tick"`
	Phase           string     `json:"phase"`
	AgentPos        [3]float64 `json:"agent_pos"`
	Carrying        string     `json:"carrying,omitempty"`
	CommandPending  bool       `json:"command_pending,omitempty"`
	SettlePhase     string     `json:"settle_phase,omitempty"`
	Remaining       int        `json:"remaining"`
	Delivered       bool       `json:"delivered,omitempty"`
}

// Idle reports whether the agent is waiting for a command it could accept.
func (s StateMsg) Idle() bool {
	return s.Phase == "IDLE" && !s.CommandPending && s.Carrying == "" && s.Remaining > 0
}

// COMMAND (observer -> server). DelaySec nil means the default delay.
type CommandMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ID              string   `json:"id,omitempty"`
	DelaySec        *float64 `json:"delay_sec,omitempty"`
	// Say speaks the command first; DelaySec is then the pause after the
	// clip.
	Say bool `json:"say,omitempty"`
}

// COMMAND_RESULT (server -> observer)
type CommandResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Remaining       int    `json:"remaining"`
}
