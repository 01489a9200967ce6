package unix

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"

	"github.com/ValentinKolb/kStorage/rpc/common"
	"github.com/ValentinKolb/kStorage/rpc/transport"
	"github.com/ValentinKolb/kStorage/rpc/transport/base"
)

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// NewUnixServerTransport creates a server transport listening on a unix socket path
func NewUnixServerTransport() transport.IRPCServerTransport {
	return base.NewBaseServerTransport(serverConnector{})
}

type serverConnector struct{}

func (serverConnector) GetName() string { return "unix" }

// Listen replaces a stale socket file at the endpoint. The listener removes
// the file again when it is closed.
func (serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	path := config.Transport.Endpoint

	if info, err := os.Lstat(path); err == nil {
		if info.Mode().Type() != fs.ModeSocket {
			return nil, fmt.Errorf("%s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket: %v", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %v", path, err)
	}
	return listener, nil
}

func (serverConnector) UpgradeConnection(net.Conn, common.ServerConfig) error { return nil }

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// NewUnixClientTransport creates a client transport dialing unix socket paths
func NewUnixClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(clientConnector{})
}

type clientConnector struct{}

func (clientConnector) GetName() string { return "unix" }

func (clientConnector) Connect(endpoint string) (net.Conn, error) {
	return net.Dial("unix", endpoint)
}

func (clientConnector) UpgradeConnection(net.Conn, common.ClientConfig) error { return nil }
