// Package ws bridges session transport events to front-end websocket
// clients.
//
// Protocol (client to server):
//
//	{"type": "subscribe", "session_id": "sess_..."}  // omit id for all
//	{"type": "unsubscribe", "session_id": "sess_..."}
//	{"type": "ping"}
//
// Server frames are console.Event values plus "system", "subscribed",
// "pong", and "error" notices.
package ws
