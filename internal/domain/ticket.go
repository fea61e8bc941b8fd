package domain

// TicketVerifier validates a short-lived signed join ticket against the
// room the client is connecting to. It returns the user id encoded in
// the ticket, or ErrTicketInvalid / ErrTicketExpired /
// ErrTicketRoomMismatch. Verification has no side effects.
type TicketVerifier interface {
	Verify(raw string, roomID string) (int64, error)
}
