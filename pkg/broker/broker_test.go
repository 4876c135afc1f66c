package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicobailon/surf-cli/pkg/ai"
	"github.com/nicobailon/surf-cli/pkg/config"
	"github.com/nicobailon/surf-cli/pkg/protocol"
)

// fakePeer records outgoing requests and can synthesize replies by
// feeding frames straight back into the broker.
type fakePeer struct {
	mu       sync.Mutex
	requests []protocol.PeerRequest
	respond  func(req protocol.PeerRequest) *protocol.PeerMessage
	broker   *Broker
	sendErr  error
}

func (p *fakePeer) Send(req protocol.PeerRequest) error {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	respond := p.respond
	p.mu.Unlock()

	if p.sendErr != nil {
		return p.sendErr
	}
	if respond != nil {
		if msg := respond(req); msg != nil {
			raw, _ := json.Marshal(msg)
			p.broker.HandlePeerFrame(raw)
		}
	}
	return nil
}

func (p *fakePeer) sent() []protocol.PeerRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.PeerRequest(nil), p.requests...)
}

func (p *fakePeer) actions() []string {
	var out []string
	for _, r := range p.sent() {
		out = append(out, r.Action)
	}
	return out
}

// fakeClient collects messages written to a client connection.
type fakeClient struct {
	mu      sync.Mutex
	msgs    []any
	ch      chan any
	writeOK bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{ch: make(chan any, 64), writeOK: true}
}

func (c *fakeClient) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.writeOK {
		return errClientGone
	}
	c.msgs = append(c.msgs, v)
	c.ch <- v
	return nil
}

var errClientGone = errors.New("client gone")

// await returns the next message written to the client.
func (c *fakeClient) await(t *testing.T) any {
	t.Helper()
	select {
	case v := <-c.ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client message")
		return nil
	}
}

// awaitReply waits for a protocol.ClientReply specifically.
func (c *fakeClient) awaitReply(t *testing.T) protocol.ClientReply {
	t.Helper()
	v := c.await(t)
	reply, ok := v.(protocol.ClientReply)
	require.True(t, ok, "expected ClientReply, got %T: %v", v, v)
	return reply
}

// fakeAI satisfies AIService without network or queue machinery.
type fakeAI struct {
	mu          sync.Mutex
	validateErr error
	answer      string
	queryErr    error
	queries     []string
	pages       []*ai.PageContext
	creds       *ai.Credentials
	hint        string
}

func (f *fakeAI) Validate(backend, query string) error { return f.validateErr }

func (f *fakeAI) Query(_ context.Context, _, query string, page *ai.PageContext) (string, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.pages = append(f.pages, page)
	f.mu.Unlock()
	return f.answer, f.queryErr
}

func (f *fakeAI) Credentials() (*ai.Credentials, string) { return f.creds, f.hint }

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.BatchPacing = time.Millisecond
	cfg.KeyRepeatPacing = time.Millisecond
	cfg.AutoScreenshotDelay = time.Millisecond
	cfg.ScreenshotDir = t.TempDir()
	return cfg
}

// newTestBroker wires a broker to a fakePeer and fakeAI.
func newTestBroker(t *testing.T) (*Broker, *fakePeer, *fakeAI) {
	t.Helper()
	peer := &fakePeer{}
	aiSvc := &fakeAI{answer: "analysis complete"}
	b := New(testConfig(t), peer, aiSvc, nil)
	peer.broker = b
	return b, peer, aiSvc
}

// toolMsg builds a client tool request.
func toolMsg(id, tool string, args map[string]any) protocol.ClientMessage {
	msg := protocol.ClientMessage{Type: protocol.TypeTool, ID: id, Tool: tool}
	if args != nil {
		raw, _ := json.Marshal(args)
		msg.Args = raw
	}
	return msg
}

// okReply responds success with optional data.
func okReply(id uint64, data map[string]any) *protocol.PeerMessage {
	yes := true
	msg := &protocol.PeerMessage{ID: id, Success: &yes}
	if data != nil {
		raw, _ := json.Marshal(data)
		msg.Data = raw
	}
	return msg
}

// failReply responds failure with the given error text.
func failReply(id uint64, errText string) *protocol.PeerMessage {
	no := false
	return &protocol.PeerMessage{ID: id, Success: &no, Error: errText}
}
