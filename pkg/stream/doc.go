// Package stream fans the outbound event stream of each session out to its subscribers.
//
// A Hub owns one Sink per session id. The session actor publishes every transition
// into its Sink; transports (SSE, MCP, the chat REPL) subscribe to it. Each Sink
// remembers how many context messages it has already published, so each message is
// emitted exactly once, in list order, no matter how many transitions happen.
package stream
