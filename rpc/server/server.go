package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/ValentinKolb/kStorage/lib/kstorage"
	"github.com/ValentinKolb/kStorage/rpc/common"
	"github.com/ValentinKolb/kStorage/rpc/serializer"
	"github.com/ValentinKolb/kStorage/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is one store served under a shard id together with its adapter
type serverShard struct {
	Store   *kstorage.Store
	Adapter IRPCServerAdapter
}

// RPCServer hosts one kstorage.Store per configured shard and serves them
// over a transport.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]

	mu      sync.Mutex
	metrics *http.Server
}

// NewRPCServer creates a new RPC server. Stores are created by Serve.
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// Serve creates the stores, starts the metrics listener if configured and
// serves requests until Close is called.
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	if s.config.Transport.MetricsEndpoint != "" {
		if err := s.serveMetrics(s.config.Transport.MetricsEndpoint); err != nil {
			return err
		}
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport and the metrics listener, then closes all stores
func (s *RPCServer) Close() error {
	err := s.transport.Close()

	s.mu.Lock()
	if s.metrics != nil {
		err = errors.Join(err, s.metrics.Close())
		s.metrics = nil
	}
	s.mu.Unlock()

	s.shards.Range(func(id uint64, shard serverShard) bool {
		shard.Store.Close()
		return true
	})
	return err
}

// Store returns the store of a shard
func (s *RPCServer) Store(shardID uint64) (*kstorage.Store, bool) {
	shard, ok := s.shards.Load(shardID)
	return shard.Store, ok
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *RPCServer) init() error {
	if len(s.config.Shards) == 0 {
		return fmt.Errorf("no shards configured")
	}

	for _, shardConfig := range s.config.Shards {
		if _, exists := s.shards.Load(shardConfig.ShardID); exists {
			return fmt.Errorf("duplicate shard id %d", shardConfig.ShardID)
		}
		opts, err := s.config.Store.ToStoreOptions(shardConfig.ShardID)
		if err != nil {
			return fmt.Errorf("shard %d: %w", shardConfig.ShardID, err)
		}
		store := kstorage.NewStore(opts)
		s.shards.Store(shardConfig.ShardID, serverShard{
			Store:   store,
			Adapter: NewStoreServerAdapter(),
		})
		Logger.Infof("created store %s for shard %d", store.ID(), shardConfig.ShardID)
	}

	s.transport.RegisterHandler(s.handle)
	return nil
}

// handle decodes a request, runs it against the addressed shard and encodes the response
func (s *RPCServer) handle(shardId uint64, req []byte) []byte {
	var resp *common.Message

	var msg common.Message
	if shard, ok := s.shards.Load(shardId); !ok {
		resp = common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		resp = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %v", err))
	} else {
		resp = shard.Adapter.Handle(&msg, shard.Store)
	}

	data, err := s.serializer.Serialize(*resp)
	if err != nil {
		Logger.Errorf("failed to serialize %s response: %v", resp.MsgType, err)
		data, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %v", err)))
	}
	return data
}

// serveMetrics exposes the metrics of all stores and the process at /metrics
func (s *RPCServer) serveMetrics(endpoint string) error {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("failed to start metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		s.shards.Range(func(id uint64, shard serverShard) bool {
			shard.Store.WritePrometheus(w)
			return true
		})
		metrics.WriteProcessMetrics(w)
	})

	srv := &http.Server{Handler: mux}
	s.mu.Lock()
	s.metrics = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics listener stopped: %v", err)
		}
	}()
	Logger.Infof("serving metrics on http://%s/metrics", listener.Addr())
	return nil
}
