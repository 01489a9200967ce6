package tcp

import (
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/kStorage/rpc/common"
	"github.com/ValentinKolb/kStorage/rpc/transport"
	"github.com/ValentinKolb/kStorage/rpc/transport/base"
)

const dialTimeout = 5 * time.Second

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// NewTCPServerTransport creates a server transport listening on a tcp address
func NewTCPServerTransport() transport.IRPCServerTransport {
	return base.NewBaseServerTransport(serverConnector{})
}

type serverConnector struct{}

func (serverConnector) GetName() string { return "tcp" }

func (serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	listener, err := net.Listen("tcp", config.Transport.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %v", config.Transport.Endpoint, err)
	}
	return listener, nil
}

func (serverConnector) UpgradeConnection(conn net.Conn, config common.ServerConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	opts := config.Transport

	if err := tuneConn(tcpConn, opts.TCPNoDelay, opts.TCPKeepAliveSec); err != nil {
		return err
	}
	if opts.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(opts.WriteBufferSize); err != nil {
			return err
		}
	}
	if opts.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(opts.ReadBufferSize); err != nil {
			return err
		}
	}
	if opts.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(opts.TCPLingerSec); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// NewTCPClientTransport creates a client transport dialing tcp endpoints (host:port)
func NewTCPClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(clientConnector{})
}

type clientConnector struct{}

func (clientConnector) GetName() string { return "tcp" }

func (clientConnector) Connect(endpoint string) (net.Conn, error) {
	return net.DialTimeout("tcp", endpoint, dialTimeout)
}

func (clientConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	return tuneConn(tcpConn, config.Transport.TCPNoDelay, config.Transport.TCPKeepAliveSec)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// tuneConn applies the socket options shared by client and server
func tuneConn(conn *net.TCPConn, noDelay bool, keepAliveSec int) error {
	if err := conn.SetNoDelay(noDelay); err != nil {
		return err
	}
	if keepAliveSec > 0 {
		return conn.SetKeepAliveConfig(net.KeepAliveConfig{
			Enable: true,
			Idle:   time.Duration(keepAliveSec) * time.Second,
		})
	}
	return nil
}
