package domain

import "errors"

var (
	ErrTicketInvalid      = errors.New("ticket invalid")
	ErrTicketExpired      = errors.New("ticket expired")
	ErrTicketRoomMismatch = errors.New("ticket room mismatch")
	ErrRoomNotFound       = errors.New("room not found")
	ErrForbidden          = errors.New("access forbidden")
	ErrRoomFull           = errors.New("room full")
	ErrTooManyConnections = errors.New("too many connections")
	ErrRoomClosed         = errors.New("room closed")
)
