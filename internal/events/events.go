package events

import (
	"bytes"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/seventv/relay/data/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Type identifies a stream event frame. The set is closed; dispatch over
// it should be exhaustive rather than string-keyed.
type Type string

const (
	TypeConnected     Type = "connected"
	TypeHeartbeat     Type = "heartbeat"
	TypeMessage       Type = "message"
	TypeClientsUpdate Type = "clients_update"
	TypeClose         Type = "close"
)

// All lists every frame type a stream may carry.
func All() []Type {
	return []Type{TypeConnected, TypeHeartbeat, TypeMessage, TypeClientsUpdate, TypeClose}
}

// ParseType maps a wire string to a Type. Unknown kinds return false and
// must be ignored by receivers, not treated as fatal.
func ParseType(s string) (Type, bool) {
	switch t := Type(s); t {
	case TypeConnected, TypeHeartbeat, TypeMessage, TypeClientsUpdate, TypeClose:
		return t, true
	}

	return "", false
}

type ConnectedPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

type HeartbeatPayload struct {
	Timestamp string `json:"timestamp"`
}

type ClientsUpdatePayload struct {
	Clients []model.ActiveClientModel `json:"clients"`
}

type ClosePayload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Timestamp renders the wire form of an event time.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// EncodeFrame renders one SSE frame: "event: <type>\ndata: <json>\n\n".
func EncodeFrame(t Type, data interface{}) ([]byte, error) {
	j, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return EncodeRawFrame(t, j), nil
}

// EncodeRawFrame renders a frame around an already-encoded payload.
func EncodeRawFrame(t Type, data []byte) []byte {
	buf := bytes.Buffer{}
	buf.Grow(len(data) + len(t) + 16)

	buf.WriteString("event: ")
	buf.WriteString(string(t))
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")

	return buf.Bytes()
}
