package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nicobailon/surf-cli/pkg/ai"
	"github.com/nicobailon/surf-cli/pkg/artifact"
	"github.com/nicobailon/surf-cli/pkg/config"
	"github.com/nicobailon/surf-cli/pkg/framing"
	"github.com/nicobailon/surf-cli/pkg/logging"
	"github.com/nicobailon/surf-cli/pkg/protocol"
	"github.com/nicobailon/surf-cli/pkg/toolmap"
)

// PeerSender writes instructions to the browser extension peer.
type PeerSender interface {
	Send(req protocol.PeerRequest) error
}

// framedPeer sends peer requests over the stdio framing encoder.
type framedPeer struct {
	enc *framing.Encoder
}

func (p framedPeer) Send(req protocol.PeerRequest) error {
	return p.enc.Encode(req)
}

// NewFramedPeer wraps w (normally the process's stdout) as a PeerSender.
func NewFramedPeer(w io.Writer) PeerSender {
	return framedPeer{enc: framing.NewEncoder(w)}
}

// AIService is the slice of pkg/ai the broker depends on.
type AIService interface {
	Validate(backend, query string) error
	Query(ctx context.Context, backend, query string, page *ai.PageContext) (string, error)
	Credentials() (*ai.Credentials, string)
}

// Broker correlates client requests with peer replies and owns every
// multi-hop workflow in between.
type Broker struct {
	cfg       config.Config
	log       *logging.Logger
	reg       *Registry
	peer      PeerSender
	mapper    toolmap.Mapper
	ai        AIService
	artifacts *artifact.Pipeline
}

// New assembles a broker. mapper may be nil to use the default tool
// mapper.
func New(cfg config.Config, peer PeerSender, aiSvc AIService, mapper toolmap.Mapper) *Broker {
	if mapper == nil {
		mapper = toolmap.Map
	}
	return &Broker{
		cfg:       cfg,
		log:       logging.New("broker"),
		reg:       NewRegistry(),
		peer:      peer,
		mapper:    mapper,
		ai:        aiSvc,
		artifacts: artifact.New(cfg.ScreenshotDir, cfg.MaxDimension, cfg.AutoScreenshotKeep),
	}
}

// Registry exposes the correlation registry, mainly for tests.
func (b *Broker) Registry() *Registry { return b.reg }

// RunPeer consumes the peer channel until end of input. A nil return
// means the peer closed its side; the caller is responsible for
// notifying clients and exiting.
func (b *Broker) RunPeer(r io.Reader) error {
	return framing.ReadLoop(r, b.HandlePeerFrame, func(err error) {
		b.log.Warnf("peer channel: %v", err)
	})
}

// HandlePeerFrame processes one decoded frame from the peer.
func (b *Broker) HandlePeerFrame(raw json.RawMessage) {
	var msg protocol.PeerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.log.Warnf("undecodable peer message: %v", err)
		return
	}

	switch msg.Type {
	case protocol.PeerStreamEvent, protocol.PeerStreamError:
		b.routeStreamMessage(msg, raw)
		return
	}

	// Passthrough replies go back verbatim: the client speaks the
	// peer's vocabulary for these, the broker only adds correlation.
	if c, ok := b.reg.TakeSimple(msg.ID); ok {
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err == nil {
			if err := c.Send(payload); err != nil {
				b.log.Debugf("dropping passthrough reply %d: %v", msg.ID, err)
			}
		}
		return
	}

	if e, ok := b.reg.TakeTool(msg.ID); ok {
		reply := msg.ToReply()
		if !e.terminal() {
			e.done(reply)
			return
		}
		// Plain replies go out on the reader goroutine so clients see
		// them in peer-arrival order. Only replies needing disk or
		// extra peer round-trips leave the loop.
		if e.needsPostProcessing() && reply.Success {
			go b.finishTerminal(e, reply)
			return
		}
		b.finishTerminal(e, reply)
		return
	}

	b.log.Debugf("ignoring reply for unknown correlation id %d", msg.ID)
}

// finishTerminal post-processes a terminal tool reply and writes it to
// the owning client.
func (b *Broker) finishTerminal(e toolEntry, reply protocol.Reply) {
	if !reply.Success {
		b.sendTo(e.client, protocol.Fail(e.requestID, reply.Error))
		return
	}

	data := reply.Data
	if data == nil {
		data = map[string]any{}
	}

	if e.hints.SavePath != "" {
		b.saveArtifact(e, data)
	}
	if e.hints.AutoScreenshot && e.tool != "screenshot" {
		b.autoScreenshot(e, data)
	}

	b.sendTo(e.client, protocol.OK(e.requestID, data))
}

// saveArtifact writes an inline binary payload to the hinted path and
// swaps the raw bytes for artifact metadata in the reply.
func (b *Broker) saveArtifact(e toolEntry, data map[string]any) {
	payload, ok := data["data"].(string)
	if !ok || payload == "" {
		return
	}
	raw, err := artifact.DecodePayload(payload)
	if err != nil {
		data["artifactError"] = err.Error()
		return
	}

	result, err := b.artifacts.Save(context.Background(), raw, e.hints.SavePath,
		e.hints.FullResolution, e.hints.MaxDimension)
	if err != nil {
		data["artifactError"] = err.Error()
		return
	}
	delete(data, "data")
	data["artifact"] = result
}

// autoScreenshot captures the page state shortly after a successful
// action and attaches the artifact to the same reply.
func (b *Broker) autoScreenshot(e toolEntry, data map[string]any) {
	time.Sleep(b.cfg.AutoScreenshotDelay)

	params := map[string]any{}
	if e.hints.TabID != 0 {
		params["tabId"] = e.hints.TabID
	}
	rep, err := b.callPeer(context.Background(), "screenshot", params, 0)
	if err != nil || !rep.Success {
		b.log.Debugf("auto-screenshot after %s failed: %v %s", e.tool, err, rep.Error)
		return
	}
	payload, ok := rep.Data["data"].(string)
	if !ok {
		return
	}
	raw, err := artifact.DecodePayload(payload)
	if err != nil {
		return
	}
	result, err := b.artifacts.SaveAuto(context.Background(), raw)
	if err != nil {
		b.log.Warnf("saving auto-screenshot: %v", err)
		return
	}
	data["autoScreenshot"] = result
}

// callPeer forwards one instruction as a continuation-only entry and
// waits for its reply. Abandoning the wait (ctx done) leaves the entry
// in the table; the reply, if it ever arrives, lands in the buffered
// channel and is discarded.
func (b *Broker) callPeer(ctx context.Context, action string, params map[string]any, windowID int) (protocol.Reply, error) {
	ch := make(chan protocol.Reply, 1)
	id := b.reg.AddTool(toolEntry{
		tool: action,
		done: func(r protocol.Reply) { ch <- r },
	})

	if err := b.peer.Send(protocol.PeerRequest{ID: id, Action: action, Params: params, WindowID: windowID}); err != nil {
		b.reg.TakeTool(id)
		return protocol.Reply{}, fmt.Errorf("send %s to peer: %w", action, err)
	}

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return protocol.Reply{}, ctx.Err()
	}
}

// sendTo writes v to c, logging rather than propagating failures: a
// client that vanished mid-request is routine, not an error.
func (b *Broker) sendTo(c Client, v any) {
	if err := c.Send(v); err != nil {
		b.log.Debugf("client write failed: %v", err)
	}
}
