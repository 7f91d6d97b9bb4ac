// Package session keeps one bearer session alive across concurrent requests.
//
// The Coordinator guarantees that at most one refresh is outstanding at any
// time. The first caller that observes an authentication failure against the
// current credentials becomes the leader of a refresh operation; callers that
// arrive while it runs follow it and receive the same Outcome. A caller whose
// failed credentials were already superseded gets the current credentials back
// without any refresh.
//
// The refresh itself runs detached from the leader's context. A leader whose
// request is cancelled stops waiting, but the operation still completes and
// releases its followers; a follower's cancellation never affects the refresh.
//
// When a refresh fails, Signal delivers an Expiry to subscribers exactly once
// for that operation, before any waiter is released.
package session
