/*
Package auth provides password hashing, cookie sessions and the HTTP
middleware that resolves the signed-in user.

Passwords are hashed with bcrypt. Hashes in the older "hex.salt" scrypt
format are still accepted by VerifyPassword so existing accounts keep
working.

Sessions are HS256 JWTs carried in an HttpOnly cookie:

	sessions, _ := auth.NewSessionManager(auth.SessionConfig{
		Secret:     cfg.Auth.SessionSecret,
		CookieName: cfg.Auth.CookieName,
		TTL:        cfg.Auth.SessionTTL,
	})
	authn := auth.NewAuthenticator(sessions, store)

	mux.Handle("/api/user", authn.RequireUser(userHandler))
	mux.Handle("/api/admin/users", authn.RequireAdmin(adminHandler))

Inside a wrapped handler the user is available from the request context:

	user, ok := auth.UserFromContext(r.Context())
*/
package auth
