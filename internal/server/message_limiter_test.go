package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageLimiter_PositionBurst(t *testing.T) {
	l := newMessageLimiter()

	granted := 0
	for i := 0; i < positionBurst*2; i++ {
		if l.allow("cursor") {
			granted++
		}
	}
	assert.Equal(t, positionBurst, granted)
}

func TestMessageLimiter_GeneralBurst(t *testing.T) {
	l := newMessageLimiter()

	granted := 0
	for i := 0; i < generalBurst*2; i++ {
		if l.allow("chat") {
			granted++
		}
	}
	assert.Equal(t, generalBurst, granted)
}

func TestMessageLimiter_ResizeSharesPositionBucket(t *testing.T) {
	l := newMessageLimiter()

	for i := 0; i < positionBurst; i++ {
		assert.True(t, l.allow("popup_resize"))
	}
	assert.False(t, l.allow("cursor"))
}

func TestMessageLimiter_BucketsIndependent(t *testing.T) {
	l := newMessageLimiter()

	for i := 0; i < positionBurst*2; i++ {
		l.allow("move")
	}
	// Exhausting the position bucket leaves the general bucket intact.
	assert.True(t, l.allow("chat"))
}
