package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypePublish = "PUBLISH"
	TypeMsg     = "MSG"
	TypeTick    = "TICK"
	TypeError   = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// HELLO (replica -> reflector)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name,omitempty"`
	CatalogsDigest  string `json:"catalogs_digest"`
}

// WELCOME (reflector -> replica). Snapshot is a zstd-compressed JSON snapshot
// taken at Seq; the replica applies MSG/TICK with seq > Seq afterwards.
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	ReplicaID       string `json:"replica_id"`
	Seq             uint64 `json:"seq"`
	Time            int64  `json:"time"`
	Snapshot        []byte `json:"snapshot"`
}

// PUBLISH (replica -> reflector): an intent awaiting a place in the order.
type PublishMsg struct {
	Type    string          `json:"type"`
	Scope   string          `json:"scope"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// Ordered (reflector -> replica) is one entry of the total order. TICK
// entries carry no scope/name and only advance virtual time.
type Ordered struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq"`
	Time    int64           `json:"time"`
	Scope   string          `json:"scope,omitempty"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ERROR (reflector -> replica) reports a boundary rejection of a PUBLISH.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Scope   string `json:"scope,omitempty"`
	Name    string `json:"name,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Code: code, Message: msg}
}
