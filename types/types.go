package types

// ---- Service state (retained) ----

type ServiceState struct {
	Level  string `json:"level"`  // e.g. "idle", "ready", "stopped"
	Status string `json:"status"` // freeform short code
	Error  string `json:"error,omitempty"`
	TS     int64  `json:"ts_ms"`

	// Link counters, for services that forward traffic.
	Sent    uint64 `json:"sent,omitempty"`
	Dropped uint64 `json:"dropped,omitempty"`
}

// Link is the link/state reported for a capability.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

// ---- Capability kinds & info ----

type Kind string

const (
	KindSerial Kind = "serial"
)

// Info envelope each capability exposes (retained)
type Info struct {
	SchemaVersion int         `json:"schema_version"`
	Driver        string      `json:"driver"`
	Kind          Kind        `json:"kind"`
	Detail        interface{} `json:"detail,omitempty"`
}

// ---- Transmitter ----

// TxState is the retained engine state.
type TxState struct {
	State   string `json:"state"` // "idle" | "armed" | "transmitting"
	Pending int    `json:"pending"`
	Frames  uint64 `json:"frames"`
	Link    Link   `json:"link"`
	TS      int64  `json:"ts_ms"`
}

// TxEvent carries bytes that finished going out on the line.
type TxEvent struct {
	Data []byte `json:"data"`
	TS   int64  `json:"ts_ms"`
}

// ---- Generic replies ----

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
