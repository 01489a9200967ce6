// Package tcp provides connectors that run the base transport over tcp.
//
// Endpoints are host:port pairs. The server applies TCPNoDelay, keep-alive,
// linger and socket buffer sizes from ServerTransportConfig to every accepted
// connection, clients apply TCPNoDelay and keep-alive from ClientTransportConfig.
package tcp
