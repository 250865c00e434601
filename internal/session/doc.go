// Package session tracks active protocol sessions and their idle lifetime.
// Registration is two-phase: the engine's handshake callback supplies the
// authoritative id, and any activity slides the per-session idle deadline.
package session
