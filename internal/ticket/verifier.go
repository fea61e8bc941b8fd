// Package ticket validates the short-lived signed join tokens the
// external auth service issues for WebSocket connections.
package ticket

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/jerome244/code-graph-explorer/internal/domain"
)

// DefaultMaxAge is how long a ticket stays valid after being issued.
const DefaultMaxAge = 60 * time.Second

type claims struct {
	UserID int64  `json:"uid"`
	RoomID string `json:"rid"`
	jwt.RegisteredClaims
}

// Verifier checks ticket signature, age, and room binding. It is
// stateless; tickets carry everything needed for the decision.
type Verifier struct {
	secret []byte
	maxAge time.Duration
	clock  clockwork.Clock
}

func NewVerifier(secret string, maxAge time.Duration, clock clockwork.Clock) *Verifier {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Verifier{secret: []byte(secret), maxAge: maxAge, clock: clock}
}

// Verify returns the user id encoded in the ticket. The ticket must be
// signed with the shared secret, issued within maxAge, and bound to the
// room the client is connecting to.
func (v *Verifier) Verify(raw string, roomID string) (int64, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithIssuedAt(),
	)

	var c claims
	_, err := parser.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, domain.ErrTicketExpired
		}
		return 0, domain.ErrTicketInvalid
	}

	if c.IssuedAt == nil || c.UserID <= 0 {
		return 0, domain.ErrTicketInvalid
	}
	if v.clock.Now().Sub(c.IssuedAt.Time) > v.maxAge {
		return 0, domain.ErrTicketExpired
	}
	if c.RoomID != roomID {
		return 0, domain.ErrTicketRoomMismatch
	}
	return c.UserID, nil
}

// Sign mints a ticket. The broker only verifies tickets; this lives
// here so the issuer and tests share one token shape.
func Sign(secret string, userID int64, roomID string, issuedAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		RoomID: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	})
	return token.SignedString([]byte(secret))
}
