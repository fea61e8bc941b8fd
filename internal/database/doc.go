// Package database holds the PostgreSQL-backed persistence collaborator:
// project ownership and share rows consulted by the access guard at
// connect time.
package database
