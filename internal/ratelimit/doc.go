// Package ratelimit provides dual-tier sliding-window admission control
// keyed by session id and source address, with a handshake burst allowance,
// a per-request cooldown, and a background reaper that bounds memory.
package ratelimit
