// Package domain holds the core types and contracts of the collaboration
// broker: rooms, presence, roles, join tickets, and the persistence
// interfaces the realtime layer consumes. It has no dependencies on
// transport or storage packages.
package domain
