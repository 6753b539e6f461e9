/*
Package tls terminates HTTPS for the relay listener.

The relay normally sits behind a reverse proxy, but it can serve TLS
itself when server.tls is enabled:

	server:
	  tls:
	    enabled: true
	    cert_file: /etc/llamachat/tls/relay.crt
	    key_file: /etc/llamachat/tls/relay.key
	    min_version: "1.2"
	    reload_interval: 5m

NewServerConfig loads the key pair and returns a *tls.Config whose
GetCertificate is backed by a Reloader. Start the reloader with the
server context and renewed certificates (certbot, cert-manager) are
picked up without a restart. The WebSocket side channel rides the same
listener, so clients connect with wss://.

A pair that fails to load, is expired or is not yet valid is rejected.
On reload failure the previous certificate stays in use.
*/
package tls
