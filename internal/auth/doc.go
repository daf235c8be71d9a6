// Package auth guards the HTTP API with HS256 JWT bearer tokens.
//
// Tokens are minted with the configured auth.jwt_secret (see "hago token")
// and carry the caller's name in the "sub" claim:
//
//	v := auth.NewJWTVerifier([]byte(secret))
//	token, err := v.Generate("alice", 24*time.Hour)
//
// HTTPAuthMiddleware verifies the Authorization header and stores the subject
// in the request context, where handlers read it with FromContext. When no
// secret is configured the server does not install the middleware at all.
package auth
