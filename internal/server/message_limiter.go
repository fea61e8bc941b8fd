package server

import "golang.org/x/time/rate"

// Position updates are high-frequency and cheap; everything else is
// held to a tighter sustained rate with a generous burst. Exceeded
// limits drop the message without feedback.
const (
	positionRate  = rate.Limit(30)
	positionBurst = 10
	generalRate   = rate.Limit(12)
	generalBurst  = 30
)

// messageLimiter holds the per-connection token buckets.
type messageLimiter struct {
	position *rate.Limiter
	general  *rate.Limiter
}

func newMessageLimiter() *messageLimiter {
	return &messageLimiter{
		position: rate.NewLimiter(positionRate, positionBurst),
		general:  rate.NewLimiter(generalRate, generalBurst),
	}
}

func (l *messageLimiter) allow(msgType string) bool {
	switch msgType {
	case "cursor", "move", "popup_resize":
		return l.position.Allow()
	default:
		return l.general.Allow()
	}
}
