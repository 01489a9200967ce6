// Package unix provides connectors that run the base transport over unix
// domain sockets, for clients on the same machine as the server.
//
// The endpoint is the socket path. A stale socket left behind by a crashed
// server is replaced, any other file at that path is an error.
package unix
