package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nicobailon/surf-cli/pkg/ai"
	"github.com/nicobailon/surf-cli/pkg/protocol"
)

// HandleMessage dispatches one parsed client message. Auth and ping are
// answered locally; everything else flows toward the peer.
func (b *Broker) HandleMessage(c Client, msg protocol.ClientMessage) {
	switch msg.Type {
	case protocol.TypeAuth:
		b.handleAuth(c, msg)
	case protocol.TypePing:
		b.sendTo(c, map[string]any{"type": "pong", "id": msg.ID})
	case protocol.TypeTool:
		b.handleTool(c, msg)
	case protocol.TypeStreamStart:
		b.startStream(c, msg)
	case protocol.TypeStreamStop:
		b.stopClientStreams(c)
		b.sendTo(c, protocol.OK(msg.ID, nil))
	default:
		b.handlePassthrough(c, msg)
	}
}

// ClientClosed purges everything the connection owned and tells the
// peer to stop its streams.
func (b *Broker) ClientClosed(c Client) {
	for _, streamID := range b.reg.PurgeClient(c) {
		b.stopPeerStream(streamID)
	}
}

// handleAuth answers a credential lookup without any peer round-trip.
func (b *Broker) handleAuth(c Client, msg protocol.ClientMessage) {
	creds, hint := b.ai.Credentials()
	reply := protocol.AuthReply{ID: msg.ID, Hint: hint}
	if creds != nil {
		reply.Credentials = creds
		reply.Backends = creds.Configured()
	}
	b.sendTo(c, reply)
}

// handlePassthrough records a simple pending entry and forwards the
// client's message verbatim, with the correlation id attached.
func (b *Broker) handlePassthrough(c Client, msg protocol.ClientMessage) {
	var payload map[string]any
	if err := json.Unmarshal(msg.Raw, &payload); err != nil {
		b.sendTo(c, protocol.Fail(msg.ID, "invalid message"))
		return
	}

	id := b.reg.AddSimple(c)
	payload["id"] = id

	if err := b.peer.Send(protocol.PeerRequest{ID: id, Action: msg.Type, Params: payload}); err != nil {
		b.reg.TakeSimple(id)
		b.sendTo(c, protocol.Fail(msg.ID, "peer unavailable"))
	}
}

// handleTool maps the request and dispatches on the instruction shape.
func (b *Broker) handleTool(c Client, msg protocol.ClientMessage) {
	if msg.Tool == "" {
		b.sendTo(c, protocol.Fail(msg.ID, "tool name is required"))
		return
	}

	var args map[string]any
	if len(msg.Args) > 0 {
		if err := json.Unmarshal(msg.Args, &args); err != nil {
			b.sendTo(c, protocol.Fail(msg.ID, fmt.Sprintf("invalid tool args: %v", err)))
			return
		}
	}

	inst := b.mapper(msg.Tool, args)
	switch inst.Kind {
	case protocol.KindUnsupported:
		b.sendTo(c, protocol.Fail(msg.ID, inst.Reason))

	case protocol.KindLocalWait:
		go func() {
			time.Sleep(inst.Wait)
			b.sendTo(c, protocol.OK(msg.ID, map[string]any{"waited": inst.Wait.Milliseconds()}))
		}()

	case protocol.KindBatch:
		go b.runBatch(c, msg.ID, inst.Steps)

	case protocol.KindAIRequest:
		go b.runAI(c, msg.ID, inst.AI)

	case protocol.KindKeyRepeat:
		go b.runKeyRepeat(c, msg.ID, inst)

	case protocol.KindResolveTarget:
		go b.runResolveTarget(c, msg.ID, inst)

	default:
		b.forwardTool(c, msg.ID, msg.Tool, inst)
	}
}

// forwardTool records a terminal pending entry and sends the
// instruction to the peer.
func (b *Broker) forwardTool(c Client, requestID, tool string, inst protocol.Instruction) {
	id := b.reg.AddTool(toolEntry{
		client:    c,
		requestID: requestID,
		tool:      tool,
		hints:     inst.Hints,
	})

	err := b.peer.Send(protocol.PeerRequest{
		ID:       id,
		Action:   inst.Action,
		Params:   inst.Params,
		WindowID: inst.WindowID,
	})
	if err != nil {
		b.reg.TakeTool(id)
		b.sendTo(c, protocol.Fail(requestID, "peer unavailable"))
	}
}

// runAI drives the analyze/query workflow: fail fast, optionally fetch
// page context, then run the backend through the serialized queue.
func (b *Broker) runAI(c Client, requestID string, req *protocol.AIRequest) {
	ctx := context.Background()

	if err := b.ai.Validate(req.Backend, req.Query); err != nil {
		b.sendTo(c, protocol.Fail(requestID, err.Error()))
		return
	}

	var page *ai.PageContext
	if req.IncludeContext {
		params := map[string]any{}
		if req.TabID != 0 {
			params["tabId"] = req.TabID
		}
		rep, err := b.callPeer(ctx, "get_page_content", params, 0)
		if err != nil {
			b.sendTo(c, protocol.Fail(requestID, fmt.Sprintf("fetch page context: %v", err)))
			return
		}
		if !rep.Success {
			b.sendTo(c, protocol.Fail(requestID, fmt.Sprintf("fetch page context: %s", rep.Error)))
			return
		}
		page = pageContextFrom(rep.Data)
	}

	answer, err := b.ai.Query(ctx, req.Backend, req.Query, page)
	if err != nil {
		b.sendTo(c, protocol.Fail(requestID, err.Error()))
		return
	}
	b.sendTo(c, protocol.OK(requestID, map[string]any{
		"backend":  req.Backend,
		"response": answer,
	}))
}

func pageContextFrom(data map[string]any) *ai.PageContext {
	html, _ := data["html"].(string)
	title, text := ai.CleanHTML(html)
	if t, _ := data["title"].(string); t != "" {
		title = t
	}
	url, _ := data["url"].(string)
	return &ai.PageContext{URL: url, Title: title, Text: text}
}

// runKeyRepeat issues every press regardless of failures and reports
// only the last error seen.
func (b *Broker) runKeyRepeat(c Client, requestID string, inst protocol.Instruction) {
	if inst.Key == "" {
		b.sendTo(c, protocol.Fail(requestID, "key is required"))
		return
	}
	count := inst.Count
	if count < 1 {
		count = 1
	}

	params := map[string]any{"key": inst.Key}
	if inst.Hints.TabID != 0 {
		params["tabId"] = inst.Hints.TabID
	}

	var lastErr string
	for i := 0; i < count; i++ {
		rep, err := b.callPeer(context.Background(), "press_key", params, 0)
		switch {
		case err != nil:
			lastErr = err.Error()
		case !rep.Success:
			lastErr = rep.Error
		}
		if i < count-1 {
			time.Sleep(b.cfg.KeyRepeatPacing)
		}
	}

	if lastErr != "" {
		b.sendTo(c, protocol.Fail(requestID, lastErr))
		return
	}
	b.sendTo(c, protocol.OK(requestID, map[string]any{"presses": count}))
}

// runResolveTarget resolves a tab name to an id, then issues the real
// action addressed to that id as a terminal request.
func (b *Broker) runResolveTarget(c Client, requestID string, inst protocol.Instruction) {
	rep, err := b.callPeer(context.Background(), "resolve_tab",
		map[string]any{"name": inst.TargetName}, 0)
	if err != nil {
		b.sendTo(c, protocol.Fail(requestID, err.Error()))
		return
	}
	if !rep.Success {
		// The peer's resolution failure text, when present, passes
		// through untouched.
		msg := rep.Error
		if msg == "" {
			msg = fmt.Sprintf("no tab found matching %q", inst.TargetName)
		}
		b.sendTo(c, protocol.Fail(requestID, msg))
		return
	}

	tabID, ok := numericID(rep.Data["tabId"])
	if !ok {
		b.sendTo(c, protocol.Fail(requestID, fmt.Sprintf("no tab found matching %q", inst.TargetName)))
		return
	}

	id := b.reg.AddTool(toolEntry{client: c, requestID: requestID, tool: inst.Action})
	sendErr := b.peer.Send(protocol.PeerRequest{
		ID:     id,
		Action: inst.Action,
		Params: map[string]any{"tabId": tabID},
	})
	if sendErr != nil {
		b.reg.TakeTool(id)
		b.sendTo(c, protocol.Fail(requestID, "peer unavailable"))
	}
}

func numericID(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
