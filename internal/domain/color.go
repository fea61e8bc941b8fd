package domain

import "fmt"

// ColorForUser derives a stable pastel color from a user id, so a user
// keeps the same color across rooms and reconnects.
func ColorForUser(userID int64) string {
	rng := uint32(userID) * 2654435761
	r := 140 + (rng & 0x3F)
	g := 120 + ((rng >> 6) & 0x3F)
	b := 120 + ((rng >> 12) & 0x3F)
	return fmt.Sprintf("rgb(%d,%d,%d)", r, g, b)
}
