// Package auth authenticates API callers with bearer tokens.
//
// # Overview
//
// Tokens have the form pd_<base64url(32 random bytes)>. Only the SHA256 hash
// is stored, together with a short display prefix, so a leaked database
// does not leak usable credentials. The plaintext is shown once when the
// token is created.
//
//	store := auth.NewTokenStore(db)
//	created, err := store.Create(ctx, user.ID, auth.CreateTokenRequest{
//		Name:      "clerk workstation",
//		ExpiresIn: 90 * 24 * time.Hour,
//	})
//	fmt.Println(created.Token) // pd_...
//
// # Middleware
//
// Authenticator turns the Authorization header into the *rbac.User every
// protected handler reads through rbac.UserFromContext:
//
//	authn := auth.NewAuthenticator(store, rbacStore, true)
//	router.Use(authn.Handler)
//
// Revoked or expired tokens and tokens of deactivated users are rejected
// with 401. In optional mode a request without the header continues
// anonymously and the authorization engine decides what it may reach, which
// is how the public permit lookup stays open.
//
// # Endpoints
//
//	GET    /auth/tokens        list the caller's tokens
//	POST   /auth/tokens        create a token
//	DELETE /auth/tokens/{id}   revoke a token
package auth
