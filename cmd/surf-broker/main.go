// Package main runs the surf broker: the long-lived process between
// short-lived CLI clients on a unix socket and the browser extension
// peer on stdin/stdout. Stdout belongs to the peer channel, so all
// diagnostics go to the session log file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nicobailon/surf-cli/pkg/ai"
	"github.com/nicobailon/surf-cli/pkg/broker"
	"github.com/nicobailon/surf-cli/pkg/config"
	"github.com/nicobailon/surf-cli/pkg/logging"
	"github.com/nicobailon/surf-cli/pkg/protocol"
	"github.com/nicobailon/surf-cli/pkg/retry"
	"github.com/nicobailon/surf-cli/pkg/server"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ~/.surf/config.yaml)")
	socketPath := flag.String("socket", "", "unix socket path override")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Fprintf(os.Stderr, "surf-broker v%s\n", version)
		return
	}

	if err := run(*configPath, *socketPath); err != nil {
		fmt.Fprintf(os.Stderr, "surf-broker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, socketOverride string) error {
	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if socketOverride != "" {
		cfg.SocketPath = socketOverride
	}

	log := logging.New("main")
	defer log.Close()
	log.Infof("surf-broker v%s starting, session %s", version, logging.SessionID())

	aiSvc := ai.NewService(ai.Options{
		OpenAIModel: cfg.OpenAIModel,
		Cooldown:    cfg.AICooldown,
		TokenBudget: cfg.PromptTokenBudget,
		Retry: retry.Policy{
			MaxRetries:        cfg.MaxRetries,
			InitialDelay:      cfg.RetryInitialDelay,
			MaxDelay:          cfg.RetryMaxDelay,
			Factor:            2,
			RetryableStatuses: retry.DefaultPolicy().RetryableStatuses,
		},
	})
	defer aiSvc.Close()

	b := broker.New(cfg, broker.NewFramedPeer(os.Stdout), aiSvc, nil)
	srv := server.New(cfg.SocketPath, brokerHandler{b})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received %s, shutting down", sig)
		srv.Shutdown()
		cancel()
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx)
	}()

	// The peer channel is the broker's lifeline: when stdin reaches end
	// of input the extension is gone and there is nothing left to broker.
	peerDone := make(chan error, 1)
	go func() {
		peerDone <- b.RunPeer(os.Stdin)
	}()

	var peerErr error
	select {
	case <-ctx.Done():
		// Signal-driven shutdown already ran; do not wait on stdin.
	case peerErr = <-peerDone:
		log.Infof("peer disconnected, notifying clients and exiting")
		srv.Broadcast(protocol.NewPeerLostNotice())
		srv.Shutdown()
		cancel()
	}

	if err := <-serveErr; err != nil {
		return err
	}
	return peerErr
}

// brokerHandler adapts the broker to the socket server's callbacks.
type brokerHandler struct {
	b *broker.Broker
}

func (h brokerHandler) HandleMessage(c *server.Conn, msg protocol.ClientMessage) {
	h.b.HandleMessage(c, msg)
}

func (h brokerHandler) HandleDisconnect(c *server.Conn) {
	h.b.ClientClosed(c)
}
