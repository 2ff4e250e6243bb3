package pubsub

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

const embeddedReadyTimeout = 5 * time.Second

// EmbeddedNATSOptions configures an in-process JetStream server.
type EmbeddedNATSOptions struct {
	ServerName    string
	StoreDir      string
	EnableLogging bool
}

// EmbeddedNATS runs nats-server in process for standalone deployments and tests.
type EmbeddedNATS struct {
	Server *server.Server
	Conn   *nats.Conn
}

func NewEmbeddedNATS(opts EmbeddedNATSOptions) (*EmbeddedNATS, error) {
	if opts.ServerName == "" {
		opts.ServerName = "idc_embedded_server"
	}
	ns, err := server.NewServer(&server.Options{
		ServerName: opts.ServerName,
		Host:       "127.0.0.1",
		Port:       -1,
		JetStream:  true,
		StoreDir:   opts.StoreDir,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating NATS server: %w", err)
	}
	if opts.EnableLogging {
		ns.ConfigureLogger()
	}
	go ns.Start()
	if !ns.ReadyForConnections(embeddedReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("server failed to start in time")
	}
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("error connecting to NATS server: %w", err)
	}
	return &EmbeddedNATS{Server: ns, Conn: nc}, nil
}

func (e *EmbeddedNATS) Shutdown() {
	if e.Conn != nil {
		e.Conn.Close()
	}
	if e.Server != nil {
		e.Server.Shutdown()
		e.Server.WaitForShutdown()
	}
}
