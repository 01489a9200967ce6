// Package serializer turns rpc messages into bytes and back.
//
// Three formats implement IRPCSerializer:
//
//   - binary: a type byte, a flag byte marking the fields that are set, then only
//     those fields. Smallest and fastest, the default of client and server.
//   - gob: Go's own encoding, every message is a self-contained stream.
//   - json: human readable, useful when debugging the http transport with curl.
//
// Client and server must use the same format. Only the binary format
// distinguishes an empty value from an absent one.
package serializer
