// Package server accepts CLI client connections on the broker's unix
// socket and speaks the newline-delimited JSON protocol with them.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/nicobailon/surf-cli/pkg/logging"
	"github.com/nicobailon/surf-cli/pkg/protocol"
)

// Lines are JSON messages; screenshots and page dumps ride inside them,
// so the limit is generous.
const maxLineBytes = 16 << 20

// Conn is one connected CLI client. Writes are serialized so concurrent
// replies and stream events cannot interleave on the wire.
type Conn struct {
	id   uint64
	conn net.Conn

	mu     sync.Mutex
	closed bool
}

// Send writes v as one newline-terminated JSON message.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal client message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to client %d: %w", c.id, err)
	}
	return nil
}

// Close shuts the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		_ = c.conn.Close()
	}
}

// ID returns the connection's server-local identifier, used in logs.
func (c *Conn) ID() uint64 { return c.id }

// Handler receives parsed client messages and connection lifecycle
// events. Both callbacks run on the connection's reader goroutine.
type Handler interface {
	HandleMessage(c *Conn, msg protocol.ClientMessage)
	HandleDisconnect(c *Conn)
}

// Server owns the unix socket listener and the set of live connections.
type Server struct {
	path    string
	handler Handler
	log     *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[uint64]*Conn
	nextID   atomic.Uint64
	wg       sync.WaitGroup
}

// New returns a server that will listen on socketPath.
func New(socketPath string, handler Handler) *Server {
	return &Server{
		path:    socketPath,
		handler: handler,
		log:     logging.New("server"),
		conns:   make(map[uint64]*Conn),
	}
}

// Serve listens and accepts until ctx is done or the listener is
// closed. The socket file is owner-only and any stale file from a
// previous run is removed first.
func (s *Server) Serve(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create socket directory: %w", err)
		}
	}
	_ = os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("restrict socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Infof("listening on %s", s.path)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				break
			}
			s.log.Warnf("accept: %v", err)
			continue
		}

		c := &Conn{id: s.nextID.Add(1), conn: conn}
		s.mu.Lock()
		s.conns[c.id] = c
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(c)
	}

	s.wg.Wait()
	return nil
}

func (s *Server) serveConn(c *Conn) {
	defer s.wg.Done()
	defer func() {
		c.Close()
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		s.handler.HandleDisconnect(c)
		s.log.Debugf("client %d disconnected", c.id)
	}()

	s.log.Debugf("client %d connected", c.id)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg protocol.ClientMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			s.log.Warnf("client %d sent malformed message: %v", c.id, err)
			_ = c.Send(protocol.Fail("", "invalid message"))
			continue
		}
		msg.Raw = append(json.RawMessage(nil), line...)

		s.handler.HandleMessage(c, msg)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Warnf("client %d read error: %v", c.id, err)
	}
}

// Broadcast sends v to every live connection, ignoring write failures.
func (s *Server) Broadcast(v any) {
	for _, c := range s.snapshot() {
		_ = c.Send(v)
	}
}

// CloseAll closes every live connection.
func (s *Server) CloseAll() {
	for _, c := range s.snapshot() {
		c.Close()
	}
}

// Shutdown stops accepting, removes the socket file, and closes every
// connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.CloseAll()
	_ = os.Remove(s.path)
}

func (s *Server) snapshot() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}
