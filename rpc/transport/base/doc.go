// Package base implements the framed rpc transport shared by the tcp and unix
// transports. Protocol specific parts (dialing, listening, socket options) are
// injected through IClientConnector and IServerConnector.
//
// Every frame is
//
//	[8 byte shard id][8 byte request id][4 byte payload length][payload]
//
// with big endian integers. The server answers with the shard and request id
// of the request, responses may arrive in any order.
//
// Server:
//
//   - one goroutine per connection reads frames
//   - up to WorkersPerConn requests of a connection are handled concurrently
//   - read buffers come from a sync.Pool of BufferSize byte slices
//   - Close stops the listener and all connections, Listen then returns nil
//
// Client:
//
//   - ConnectionsPerEndpoint connections per endpoint, used round robin
//   - pending requests are kept in an xsync.MapOf keyed by request id
//   - a failed connection fails its pending requests and is dialed again by
//     the next request that picks it
//   - failed requests are retried up to RetryCount times with exponential
//     backoff. A retried write may reach the store twice.
//
// Thread Safety:
//
//	Send may be called from any number of goroutines. Connect and Close must
//	not race with each other.
package base
