// Package gateway owns the HTTP surface of hearth-gateway.
//
// One route, /mcp, carries every protocol session. The gateway reads the
// Mcp-Session-Id header to decide whether a request belongs to an existing
// session or opens a handshake on a fresh transport, and every request is
// admitted through the dual-tier rate limiter before the engine sees it.
// Rejections and gateway-detected failures are answered with JSON-RPC error
// envelopes so protocol clients can always parse the response.
//
// /health and / are read-only companion endpoints outside the admission
// path.
package gateway
