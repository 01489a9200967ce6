// Package transport defines how serialized rpc messages travel between a
// client and a kStorage server.
//
// Every request carries the id of the shard (store) it is addressed to. The
// server side hands each request to a ServerHandleFunc, the client side sends
// a request and waits for the matching response.
//
// Implementations:
//
//   - base: framing, worker pool and request correlation over any net.Conn
//   - tcp, unix: connectors for the base transport
//   - http: one POST per request, the shard id is the path
package transport
