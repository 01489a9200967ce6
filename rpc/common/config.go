package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/kStorage/lib/kstorage"
	"github.com/ValentinKolb/kStorage/lib/reclaim"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerShard describes one store served by the rpc server
type ServerShard struct {
	// ShardID is the ID of the shard, clients address the store with it
	ShardID uint64 `json:"id"`
}

// StoreConfig holds the options every served store is created with
type StoreConfig struct {
	ReclaimMode      string `json:"reclaimMode"`      // "async" or "sync"
	ReclaimInterval  int64  `json:"reclaimIntervalMs"` // 0 = default
	ReclaimBatchSize int    `json:"reclaimBatchSize"`  // 0 = default
	MemoryLimit      int64  `json:"memoryLimit"`       // bytes, 0 = unlimited
}

// ToStoreOptions converts the config into store options for the given shard
func (c StoreConfig) ToStoreOptions(shardID uint64) (*kstorage.Options, error) {
	mode, err := reclaim.ParseMode(c.ReclaimMode)
	if err != nil {
		return nil, err
	}
	opts := kstorage.DefaultOptions()
	opts.ReclaimMode = mode
	opts.ReclaimInterval = time.Duration(c.ReclaimInterval) * time.Millisecond
	opts.ReclaimBatchSize = c.ReclaimBatchSize
	opts.MemoryLimit = c.MemoryLimit
	opts.MetricsLabels = fmt.Sprintf("shard=\"%d\"", shardID)
	return opts, nil
}

// ServerTransportConfig holds the settings of the server transport layer
type ServerTransportConfig struct {
	Endpoint          string `json:"endpoint"`          // address or socket path
	WorkersPerConn    int    `json:"workersPerConn"`    // concurrent requests per connection (tcp, unix)
	BufferSize        int    `json:"bufferSize"`        // pooled read buffer size (tcp, unix)
	TCPNoDelay        bool   `json:"tcpNoDelay"`        // disable Nagle's algorithm
	TCPKeepAliveSec   int    `json:"tcpKeepAliveSec"`   // 0 = disabled
	TCPLingerSec      int    `json:"tcpLingerSec"`      // < 0 = os default
	WriteBufferSize   int    `json:"writeBufferSize"`   // socket buffer, 0 = os default
	ReadBufferSize    int    `json:"readBufferSize"`    // socket buffer, 0 = os default
	MetricsEndpoint   string `json:"metricsEndpoint"`   // address of the /metrics http listener, empty = disabled
	MaxRequestSizeMiB int    `json:"maxRequestSizeMiB"` // upper bound of a single frame, 0 = default
}

// ServerConfig holds all configuration parameters for the RPC server.
type ServerConfig struct {
	// Shards served by this server, every shard is an independent store
	Shards []ServerShard `json:"shards"`

	// Options of every store
	Store StoreConfig `json:"store"`

	// Transport settings
	Transport ServerTransportConfig `json:"transport"`

	// Timeout for a single read or write on a connection
	TimeoutSecond int64 `json:"timeoutSecond"`

	// Logging configuration
	LogLevel string `json:"logLevel"`
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers per Conn", strconv.Itoa(c.Transport.WorkersPerConn))
	if c.Transport.MetricsEndpoint != "" {
		addField("Metrics", c.Transport.MetricsEndpoint+"/metrics")
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Store settings
	addSection("Store")
	addField("Groups per Shard", strconv.Itoa(kstorage.MaxGroups))
	addField("Reclaim Mode", c.Store.ReclaimMode)
	if c.Store.MemoryLimit > 0 {
		addField("Memory Limit", fmt.Sprintf("%d bytes", c.Store.MemoryLimit))
	} else {
		addField("Memory Limit", "unlimited")
	}

	// Shards
	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), "store")
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the settings of the client transport layer
type ClientTransportConfig struct {
	Endpoints              []string `json:"endpoints"`
	RetryCount             int      `json:"retryCount"`
	ConnectionsPerEndpoint int      `json:"connectionsPerEndpoint"`
	TCPNoDelay             bool     `json:"tcpNoDelay"`
	TCPKeepAliveSec        int      `json:"tcpKeepAliveSec"`
}

// ClientConfig holds all configuration parameters for rpc clients
type ClientConfig struct {
	TimeoutSecond int                   `json:"timeoutSecond"`
	Transport     ClientTransportConfig `json:"transport"`
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
