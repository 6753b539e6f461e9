// Package client is a Go client for the chat relay.
//
// WSService keeps the WebSocket side channel connected and re-authenticated
// across drops. Chat sends prompts over HTTP and merges the two copies of
// the reply: while the side channel is healthy its envelopes drive the open
// message, and the HTTP body takes over from the first fragment the side
// channel missed. Either way every fragment is applied exactly once, in
// order.
package client
