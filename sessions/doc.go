// Package sessions owns the live set of push-channel sessions.
//
// A Session pairs an opaque identifier with exactly one outbound Channel and a
// monotonic state (Open -> Closing -> Closed). The Registry is the only
// structure that maps identifiers to sessions; it is safe for concurrent use
// and is the sole mutator of that table.
//
// Lifecycle
//
//	Registry.Create   -> session is Open and visible to Lookup
//	Session.Close     -> Closing, channel closed, Closed, removed from Registry
//	peer disconnect   -> Channel fires OnPeerDisconnect, which calls Session.Close
//
// Closing is idempotent: the first caller performs the teardown and every
// later call returns nil. Sessions are purely in-memory; nothing survives a
// process restart.
package sessions
