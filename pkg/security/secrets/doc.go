/*
Package secrets resolves ${secret:name} references in configuration values.

The session secret should not live in config.yaml. Write a reference
instead and keep the value in the environment or a mounted file:

	auth:
	  session_secret: ${secret:session-secret}
	secrets:
	  env_prefix: LLAMACHAT_SECRET_
	  dir: /run/secrets

The environment is tried first (LLAMACHAT_SECRET_SESSION_SECRET), then
the file /run/secrets/session-secret, which must be mode 0600 or 0400.
*/
package secrets
