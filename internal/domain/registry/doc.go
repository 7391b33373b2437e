// Package registry provides the session registry: the single mutation point
// for console session lifecycle.
//
// The registry is a deterministic state machine over an ordered session
// collection. Invariants held after every operation:
//   - 0 <= open sessions <= MaxSessions
//   - at most one session is active, and it is never minimized
//   - no two open sessions share a name
//   - stack orders are unique and the active session holds the maximum
//   - closing the last session immediately synthesizes a fresh default one
//
// Soft failures (capacity, name collisions, unknown IDs) come back as
// sentinel errors and leave state untouched. The registry performs no I/O:
// transport creation and teardown are effects the console service executes
// based on the returned results.
//
// Example Usage:
//
//	reg := registry.New()
//	s, err := reg.Create("", nil)          // "Session 1", focused
//	dup, err := reg.Duplicate(s.ID)        // "Session 1 (Copy)", focused
//	res, err := reg.Close(s.ID)            // dup survives, takes focus
package registry
