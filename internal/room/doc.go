// Package room implements the per-room actor, its broadcast fan-out and
// the registry that owns room lifecycles. All room state is confined to
// a single goroutine per room; callers interact through typed commands.
package room
