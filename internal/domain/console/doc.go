// Package console is the façade tying the session registry, per-session
// device transports, and snapshot persistence into one explicitly
// lifetimed service.
//
// All session commands are serialized through the service, so registry
// invariants hold between commands and each applied command triggers its
// transport effects exactly once. Transport dialing and command
// submission block only the calling goroutine.
//
// The service re-publishes every transport event tagged with its session
// id via OnEvent; subscriptions survive session resets because the
// service, not the subscriber, holds the per-transport registrations.
package console
