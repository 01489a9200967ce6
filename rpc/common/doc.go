// Package common provides the data structures and utilities shared by the rpc
// client and server of kStorage.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. One struct is used
//     for requests and responses, the fields in use depend on the MessageType.
//     Failed store operations travel as Code (kstorage.ErrCode) plus Err, so the
//     client can rebuild a typed *kstorage.Error.
//
//   - MessageType: Enumeration of all supported operations (alloc, size, write,
//     read, remove, list, digest, info) plus the error message.
//
//   - ServerConfig / ClientConfig: Configuration of the server (shards, store
//     options, transport) and of clients (endpoints, timeouts, retries).
//
//   - Logger: Custom formatter for dragonboat's logger registry, shared by all
//     named loggers of the module.
package common
