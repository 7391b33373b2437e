// Package persistence provides durable session snapshots.
//
// The snapshot is the ordered list of durable session fields (id, name,
// geometry, minimized flag, creation time) stored under a single key in a
// BoltDB bucket. Focus, stack order, remote session identity and transport
// state are deliberately excluded: they are either meaningless across a
// restart or must be re-derived during restoration.
//
// Store does the raw reads/writes; Adapter adds the 500ms debounce so a
// burst of window drags becomes one write. Absent and malformed snapshots
// are both treated as "no snapshot" and never fail startup.
package persistence
