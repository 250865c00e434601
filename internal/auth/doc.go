// Package auth provides optional bearer-token authentication for the
// gateway: HS256 JWT verification or a constant-time static token check,
// applied uniformly to all routes when configured.
package auth
