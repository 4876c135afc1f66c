package broker

import (
	"encoding/json"

	"github.com/nicobailon/surf-cli/pkg/protocol"
)

// startStream registers an active stream, instructs the peer to begin
// emitting, and immediately acknowledges the client with the stream id
// so it can request a stop later.
func (b *Broker) startStream(c Client, msg protocol.ClientMessage) {
	if msg.StreamKind == "" {
		b.sendTo(c, protocol.Fail(msg.ID, "streamKind is required"))
		return
	}

	id := b.reg.AddStream(c, msg.ID, msg.StreamKind)
	err := b.peer.Send(protocol.PeerRequest{
		ID:     id,
		Action: "stream_start",
		Params: map[string]any{"kind": msg.StreamKind},
	})
	if err != nil {
		b.reg.RemoveStream(id)
		b.sendTo(c, protocol.Fail(msg.ID, "peer unavailable"))
		return
	}

	b.sendTo(c, protocol.OK(msg.ID, map[string]any{
		"streamId": id,
		"kind":     msg.StreamKind,
	}))
}

// stopClientStreams tears down every stream the connection owns and
// notifies the peer per stream.
func (b *Broker) stopClientStreams(c Client) {
	for _, id := range b.reg.StreamsOwnedBy(c) {
		b.stopPeerStream(id)
	}
}

// stopPeerStream tells the peer to stop emitting for streamID. The
// instruction gets its own correlation id; the eventual ack lands as
// an unknown-id reply and is ignored, which is fine.
func (b *Broker) stopPeerStream(streamID uint64) {
	err := b.peer.Send(protocol.PeerRequest{
		ID:     b.reg.NextID(),
		Action: "stream_stop",
		Params: map[string]any{"streamId": streamID},
	})
	if err != nil {
		b.log.Debugf("stopping stream %d: %v", streamID, err)
	}
}

// routeStreamMessage delivers a peer stream event or error to the
// owning client. A dead client tears the stream down and stops the
// peer side.
func (b *Broker) routeStreamMessage(msg protocol.PeerMessage, raw json.RawMessage) {
	e, ok := b.reg.Stream(msg.StreamID)
	if !ok {
		b.log.Debugf("event for unknown stream %d", msg.StreamID)
		return
	}

	event := map[string]any{
		"type":     msg.Type,
		"id":       e.requestID,
		"streamId": msg.StreamID,
		"kind":     e.kind,
	}
	if msg.Error != "" {
		event["error"] = msg.Error
	}
	if len(msg.Data) > 0 {
		var data any
		if err := json.Unmarshal(msg.Data, &data); err == nil {
			event["data"] = data
		}
	}

	if err := e.client.Send(event); err != nil {
		b.log.Debugf("stream %d client gone, tearing down: %v", msg.StreamID, err)
		b.reg.RemoveStream(msg.StreamID)
		b.stopPeerStream(msg.StreamID)
	}
}
