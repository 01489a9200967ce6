// Package rpc makes kStorage stores reachable from other processes. The server
// hosts one store per shard id, clients get a kstorage.IStore that forwards every
// operation over the wire.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, configuration structures and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB).
//
//   - client: the RPC client implementing kstorage.IStore.
//
//   - server: the RPC server that owns the stores and dispatches requests to them.
package rpc
