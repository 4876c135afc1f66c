package protocol

import "encoding/json"

// Peer-originated message types. A message without a Type is a reply to
// a previously forwarded request, matched by correlation id.
const (
	PeerStreamEvent = "stream_event"
	PeerStreamError = "stream_error"
)

// PeerRequest is a broker-to-peer instruction. ID is the correlation id
// the peer must echo on its reply or on every event of a stream.
type PeerRequest struct {
	ID       uint64         `json:"id"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
	WindowID int            `json:"windowId,omitempty"`
}

// PeerMessage is any frame read from the peer channel.
type PeerMessage struct {
	ID       uint64          `json:"id,omitempty"`
	StreamID uint64          `json:"streamId,omitempty"`
	Type     string          `json:"type,omitempty"`
	Success  *bool           `json:"success,omitempty"`
	Error    string          `json:"error,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Reply is a decoded peer reply handed to whoever owns the correlation
// id: either written back to a client or consumed by a continuation.
type Reply struct {
	ID      uint64
	Success bool
	Error   string
	Data    map[string]any
}

// ToReply converts a peer message into a Reply. A missing success field
// counts as success so informational replies do not read as failures.
func (m PeerMessage) ToReply() Reply {
	r := Reply{ID: m.ID, Success: true, Error: m.Error}
	if m.Success != nil {
		r.Success = *m.Success
	}
	if m.Error != "" {
		r.Success = false
	}
	if len(m.Data) > 0 {
		// Best effort: non-object data is preserved under a single key.
		if err := json.Unmarshal(m.Data, &r.Data); err != nil {
			r.Data = map[string]any{"value": string(m.Data)}
		}
	}
	return r
}
