/*
Package relay forwards one generation request to the inference backend and
fans the resulting fragments out to two channels at once: the HTTP response
of the caller, byte for byte, and every WebSocket connection of the same
user, as "stream" envelopes.

A request passes through, in order: validation, the blocked-keyword check,
the quota gate (charged exactly once, at acceptance) and then the upstream
call. Nothing is retried once the upstream has been reached.

WebSocket envelopes carry the request's correlation id so a client with
several requests in flight can tell their fragments apart:

	{"type":"stream","payload":{"model":"m","response":"Hel","done":false},"requestId":"…","index":0}
	{"type":"streamEnd","payload":{"completed":true},"requestId":"…"}
	{"type":"streamError","payload":{"error":"…"},"requestId":"…"}

A line the backend sends that is not valid JSON still reaches the HTTP
caller unchanged; only its WebSocket copy is dropped.
*/
package relay
