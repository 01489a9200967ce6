// Package server hosts kstorage stores behind an rpc transport.
//
// Every configured shard gets its own kstorage.Store, created with the shared
// StoreConfig. Requests are routed by shard id, decoded with the configured
// serializer and executed by an IRPCServerAdapter. Store errors travel back as
// error code and message in the response.
//
// If a metrics endpoint is configured, GET /metrics on it returns the metrics
// of all stores, labeled with their shard id, and of the process in Prometheus
// text format.
//
// Usage Example:
//
//	config := common.ServerConfig{
//		Shards:    []common.ServerShard{{ShardID: 1}, {ShardID: 2}},
//		Store:     common.StoreConfig{ReclaimMode: "async"},
//		Transport: common.ServerTransportConfig{Endpoint: ":8080", WorkersPerConn: 16},
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	go func() {
//		if err := s.Serve(); err != nil {
//			panic(err)
//		}
//	}()
//	defer s.Close()
package server
