// Package broker implements the core of the surf broker: correlation
// of peer requests and replies, tool dispatch, batch execution, stream
// multiplexing, and peer lifecycle handling.
package broker

import (
	"sync"
	"sync/atomic"

	"github.com/nicobailon/surf-cli/pkg/protocol"
)

// Client is the surface the broker needs from a connected CLI client.
// *server.Conn implements it; tests supply in-memory fakes.
type Client interface {
	Send(v any) error
}

// simpleEntry tracks a generic passthrough request.
type simpleEntry struct {
	client Client
}

// toolEntry tracks a forwarded tool request. A nil client marks a
// continuation-only entry: the reply drives an internal workflow via
// done instead of being written back to a client.
type toolEntry struct {
	client    Client
	requestID string
	tool      string
	done      func(protocol.Reply)
	hints     protocol.ArtifactHints
}

func (e toolEntry) terminal() bool { return e.client != nil }

// needsPostProcessing reports whether the reply involves artifact disk
// work or an extra peer round-trip before it can be written back.
func (e toolEntry) needsPostProcessing() bool {
	return e.hints.SavePath != "" || (e.hints.AutoScreenshot && e.tool != "screenshot")
}

// streamEntry tracks a live peer-originated event stream.
type streamEntry struct {
	client    Client
	requestID string
	kind      string
}

// Registry owns the correlation id counter and the three pending
// tables. Ids are strictly increasing for the process lifetime and a
// given id lives in at most one table.
//
// Entries have no expiry: if the peer never answers an id, the entry
// persists until the owning connection closes (terminal entries) or
// the peer disconnects entirely. The peer is a single trusted process,
// so a timeout would only add a way to abandon long-running
// continuations mid-flight.
type Registry struct {
	nextID atomic.Uint64

	mu      sync.Mutex
	simple  map[uint64]simpleEntry
	tools   map[uint64]toolEntry
	streams map[uint64]streamEntry
}

// NewRegistry returns an empty registry. The first id issued is 1.
func NewRegistry() *Registry {
	return &Registry{
		simple:  make(map[uint64]simpleEntry),
		tools:   make(map[uint64]toolEntry),
		streams: make(map[uint64]streamEntry),
	}
}

// NextID returns a fresh correlation id.
func (r *Registry) NextID() uint64 {
	return r.nextID.Add(1)
}

// AddSimple records a passthrough request and returns its id.
func (r *Registry) AddSimple(c Client) uint64 {
	id := r.NextID()
	r.mu.Lock()
	r.simple[id] = simpleEntry{client: c}
	r.mu.Unlock()
	return id
}

// TakeSimple removes and returns the owner of a passthrough id.
func (r *Registry) TakeSimple(id uint64) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.simple[id]
	if ok {
		delete(r.simple, id)
	}
	return e.client, ok
}

// AddTool records a tool request (terminal or continuation) and
// returns its id.
func (r *Registry) AddTool(e toolEntry) uint64 {
	id := r.NextID()
	r.mu.Lock()
	r.tools[id] = e
	r.mu.Unlock()
	return id
}

// TakeTool removes and returns the tool entry for id.
func (r *Registry) TakeTool(id uint64) (toolEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tools[id]
	if ok {
		delete(r.tools, id)
	}
	return e, ok
}

// AddStream records an active stream and returns its id.
func (r *Registry) AddStream(c Client, requestID, kind string) uint64 {
	id := r.NextID()
	r.mu.Lock()
	r.streams[id] = streamEntry{client: c, requestID: requestID, kind: kind}
	r.mu.Unlock()
	return id
}

// Stream returns the stream entry for id without removing it.
func (r *Registry) Stream(id uint64) (streamEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.streams[id]
	return e, ok
}

// RemoveStream deletes a stream entry.
func (r *Registry) RemoveStream(id uint64) {
	r.mu.Lock()
	delete(r.streams, id)
	r.mu.Unlock()
}

// StreamsOwnedBy removes and returns the ids of every stream owned by
// c, so the caller can tell the peer to stop each one.
func (r *Registry) StreamsOwnedBy(c Client) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint64
	for id, e := range r.streams {
		if e.client == c {
			ids = append(ids, id)
			delete(r.streams, id)
		}
	}
	return ids
}

// PurgeClient removes every entry owned by c: passthroughs, terminal
// tool entries, and streams (whose ids are returned for peer
// notification). Continuation-only tool entries have no owner and
// survive until answered.
func (r *Registry) PurgeClient(c Client) (streamIDs []uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.simple {
		if e.client == c {
			delete(r.simple, id)
		}
	}
	for id, e := range r.tools {
		if e.client == c {
			delete(r.tools, id)
		}
	}
	for id, e := range r.streams {
		if e.client == c {
			streamIDs = append(streamIDs, id)
			delete(r.streams, id)
		}
	}
	return streamIDs
}

// Counts reports table sizes, for tests and debug logging.
func (r *Registry) Counts() (simple, tools, streams int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.simple), len(r.tools), len(r.streams)
}
