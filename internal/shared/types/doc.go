// Package types defines shared data structures used across the backend.
//
// These types form the contract between the domain layer, the persistence
// layer, and the HTTP/WebSocket API:
//   - Session: serializable session descriptor (identity, geometry, flags)
//   - Position/Size: window geometry
//   - Stats: registry statistics for health/UI feedback
//   - Request types: API request bodies with binding validation
package types
