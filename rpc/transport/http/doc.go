// Package http runs rpc requests over plain http. Every request is a
// POST /{shardId} whose body is the serialized message, the response body is
// the serialized answer.
//
// The client spreads requests round robin over its endpoints and retries
// failed requests on the next endpoint. Endpoints without a scheme get http://.
//
// With log level debug the server logs every request.
package http
