// Package engine implements the protocol engine behind the gateway.
//
// # Overview
//
// The gateway multiplexes HTTP transport; the engine owns the JSON-RPC 2.0
// tool-call semantics. The two meet at the Engine and Session interfaces:
// the gateway calls Connect to begin a handshake and hands each HTTP
// exchange to the resulting Session, and the engine reports lifecycle
// transitions (handshake completed, session closed) back through Hooks.
//
// # Default engine
//
// Server is the shipped implementation: initialize minting a session id,
// tools/list, tools/call, ping, and notification acceptance, with tools
// registered as plain Go handlers in a Registry. Deployments register their
// own tool sets; BuiltinTools provides the diagnostic baseline.
//
// # Protocol
//
// Messages follow JSON-RPC 2.0. Clients discover tools:
//
//	{"jsonrpc": "2.0", "method": "tools/list", "id": 1}
//
// and execute them:
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {"name": "echo", "arguments": {"message": "hi"}},
//	  "id": 2
//	}
package engine
