// Package auth validates identity tokens from the authentication provider.
//
// The provider signs HS256 JWTs whose subject is the user ID. Verifier
// checks signature, expiry and optionally the issuer; the API stores the
// resulting Identity in the request context. Leaving security.jwt.secret
// empty disables the check for local development.
package auth
