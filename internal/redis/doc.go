// Package redis implements the room state checkpoint store on top of
// go-redis. State writes are best effort and breaker-protected: a slow
// or dead Redis must never stall a room actor.
package redis
