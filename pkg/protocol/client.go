// Package protocol defines the wire shapes spoken on both of the
// broker's boundaries: newline-delimited JSON messages to and from CLI
// clients, and framed JSON messages to and from the browser extension
// peer.
package protocol

import "encoding/json"

// Client message types recognized at the socket boundary. Any other
// type is forwarded to the peer as a passthrough message.
const (
	TypeAuth        = "auth"
	TypeTool        = "tool"
	TypeStreamStart = "stream_start"
	TypeStreamStop  = "stream_stop"
	TypePing        = "ping"
)

// ClientMessage is a request read from a CLI client connection.
type ClientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// Tool execution requests.
	Tool string          `json:"tool,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`

	// Stream start requests.
	StreamKind string `json:"streamKind,omitempty"`

	// Raw holds the original message bytes so passthrough requests can
	// be forwarded verbatim. Never serialized.
	Raw json.RawMessage `json:"-"`
}

// ClientReply is a response written to a CLI client connection.
type ClientReply struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type,omitempty"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// OK builds a successful reply for the given client-facing id.
func OK(id string, data map[string]any) ClientReply {
	return ClientReply{ID: id, Success: true, Data: data}
}

// Fail builds an error reply for the given client-facing id.
func Fail(id, msg string) ClientReply {
	return ClientReply{ID: id, Success: false, Error: msg}
}

// AuthReply answers a local auth lookup. Credentials is null when the
// credential file is absent or unreadable; Hint then tells the user how
// to fix that.
type AuthReply struct {
	ID          string   `json:"id,omitempty"`
	Credentials any      `json:"credentials"`
	Backends    []string `json:"backends,omitempty"`
	Hint        string   `json:"hint,omitempty"`
}

// PeerLostNotice is broadcast to every connected client when the peer
// channel reaches end of input.
type PeerLostNotice struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewPeerLostNotice returns the notice written before the broker exits.
func NewPeerLostNotice() PeerLostNotice {
	return PeerLostNotice{
		Type:  "peer_disconnected",
		Error: "browser extension disconnected",
	}
}
