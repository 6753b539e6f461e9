/*
Package security groups the relay's security packages.

  - auth: password hashing, signed session cookies and request guards.
  - secrets: ${secret:name} resolution from the environment or mounted files.
  - tls: HTTPS termination with certificate hot reload.
*/
package security
