package base

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kStorage/rpc/common"
	"github.com/ValentinKolb/kStorage/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// errConnLost is delivered to every request pending on a connection that failed
var errConnLost = errors.New("connection lost")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// response is what the reader goroutine hands to a waiting Send
type response struct {
	data []byte
	err  error
}

// clientConnection is one multiplexed connection. Requests are matched to
// responses by request id, so any number of Sends may wait on it at once.
type clientConnection struct {
	endpoint string
	parent   *clientTransport
	pending  *xsync.MapOf[uint64, chan response]

	mu   sync.Mutex // guards conn and serializes frame writes
	conn net.Conn
	down atomic.Bool
}

// clientTransport spreads requests round robin over all connections of all endpoints
type clientTransport struct {
	connector   IClientConnector
	config      common.ClientConfig
	connections []*clientConnection
	next        atomic.Uint64
	requestID   atomic.Uint64
	stopping    atomic.Bool
	stopCh      chan struct{}
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{connector: connector}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	if t.connections != nil {
		return fmt.Errorf("%s transport already connected", t.connector.GetName())
	}

	t.config = config
	t.stopCh = make(chan struct{})
	perEndpoint := max(config.Transport.ConnectionsPerEndpoint, 1)

	for _, endpoint := range config.Transport.Endpoints {
		for i := 0; i < perEndpoint; i++ {
			c := &clientConnection{
				endpoint: endpoint,
				parent:   t,
				pending:  xsync.NewMapOf[uint64, chan response](),
			}
			conn, err := c.dial()
			if err != nil {
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, perEndpoint, err)
				continue
			}
			c.conn = conn
			t.connections = append(t.connections, c)
			go c.readLoop(conn)
		}
	}

	if len(t.connections) == 0 {
		t.connections = nil
		return fmt.Errorf("failed to connect to any endpoint")
	}

	Logger.Infof("Connected %d of %d %s connections to %d endpoints",
		len(t.connections), len(config.Transport.Endpoints)*perEndpoint, t.connector.GetName(), len(config.Transport.Endpoints))
	return nil
}

func (t *clientTransport) Send(shardId uint64, req []byte) ([]byte, error) {
	if t.connections == nil || t.stopping.Load() {
		return nil, fmt.Errorf("%s transport not connected", t.connector.GetName())
	}

	attempts := max(t.config.Transport.RetryCount, 1)
	backoff := 50 * time.Millisecond

	var lastErr error
	for i := 0; i < attempts; i++ {
		c := t.pick()
		data, err := c.send(shardId, t.requestID.Add(1), req)
		if err == nil {
			return data, nil
		}
		lastErr = err
		Logger.Debugf("Request attempt %d/%d to %s failed: %v", i+1, attempts, c.endpoint, err)

		if i < attempts-1 {
			// exponential backoff with +-10% jitter
			jitter := 0.9 + 0.2*rand.Float64()
			select {
			case <-time.After(time.Duration(float64(backoff) * jitter)):
			case <-t.stopCh:
				return nil, fmt.Errorf("transport closed")
			}
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("failed to send request after %d attempts: %v", attempts, lastErr)
}

func (t *clientTransport) Close() error {
	if t.connections == nil || t.stopping.Swap(true) {
		return nil
	}
	close(t.stopCh)
	for _, c := range t.connections {
		c.fail(nil)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *clientTransport) timeout() time.Duration {
	return time.Duration(t.config.TimeoutSecond) * time.Second
}

// pick selects the next connection round robin, preferring connections that are up
func (t *clientTransport) pick() *clientConnection {
	n := uint64(len(t.connections))
	start := t.next.Add(1)
	for i := uint64(0); i < n; i++ {
		if c := t.connections[(start+i)%n]; !c.down.Load() {
			return c
		}
	}
	return t.connections[start%n]
}

// dial opens and upgrades a new net connection to the endpoint
func (c *clientConnection) dial() (net.Conn, error) {
	conn, err := c.parent.connector.Connect(c.endpoint)
	if err != nil {
		return nil, err
	}
	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection: %v", err)
	}
	return conn, nil
}

// send writes one request and waits for its response
func (c *clientConnection) send(shardID, requestID uint64, req []byte) ([]byte, error) {
	ch := make(chan response, 1)
	c.pending.Store(requestID, ch)
	defer c.pending.Delete(requestID)

	if err := c.write(shardID, requestID, req); err != nil {
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if d := c.parent.timeout(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-timeoutCh:
		return nil, fmt.Errorf("request %d timed out", requestID)
	}
}

// write sends a frame, reconnecting first if the connection is down
func (c *clientConnection) write(shardID, requestID uint64, req []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.parent.stopping.Load() {
		return fmt.Errorf("transport closed")
	}
	if c.conn == nil {
		conn, err := c.dial()
		if err != nil {
			return fmt.Errorf("failed to reconnect to %s: %v", c.endpoint, err)
		}
		Logger.Infof("Reconnected to %s", c.endpoint)
		c.conn = conn
		c.down.Store(false)
		go c.readLoop(conn)
	}

	if d := c.parent.timeout(); d > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
			return err
		}
	}
	return writeFrame(c.conn, shardID, requestID, req)
}

// readLoop delivers responses read from conn until it fails
func (c *clientConnection) readLoop(conn net.Conn) {
	for {
		hdr, data, err := readFrame(conn, nil, 0)
		if err != nil {
			if !c.parent.stopping.Load() {
				Logger.Warningf("Connection to %s failed: %v", c.endpoint, err)
			}
			c.fail(conn)
			return
		}

		if ch, ok := c.pending.Load(hdr.requestID); ok {
			select {
			case ch <- response{data: data}:
			default: // already failed by a lost connection
			}
		} else {
			Logger.Warningf("Received response for unknown request %d (shard %d)", hdr.requestID, hdr.shardID)
		}
	}
}

// fail closes the connection and fails all requests waiting on it. A nil conn
// closes whatever connection is current. The next write dials again.
func (c *clientConnection) fail(conn net.Conn) {
	c.mu.Lock()
	if conn == nil {
		conn = c.conn
	}
	if conn != nil && c.conn == conn {
		c.conn = nil
		c.down.Store(true)
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.pending.Range(func(id uint64, ch chan response) bool {
		select {
		case ch <- response{err: errConnLost}:
		default:
		}
		return true
	})
}
