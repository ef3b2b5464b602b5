package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/linechat/internal/cancel"
)

func TestCountMessageAndCheckSpam(t *testing.T) {
	u := newSession(nil, "alice", 20)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

	assert.False(t, u.countMessageAndCheckSpam(now, 2, 10*time.Second))
	assert.False(t, u.countMessageAndCheckSpam(now, 2, 10*time.Second))
	assert.True(t, u.countMessageAndCheckSpam(now, 2, 10*time.Second))

	// A rejected message still counted: the next attempt inside the window
	// is rejected too.
	assert.True(t, u.countMessageAndCheckSpam(now.Add(5*time.Second), 2, 10*time.Second))

	// Exactly at the window end is still inside; strictly after resets.
	assert.True(t, u.countMessageAndCheckSpam(u.spamWindowEnd, 2, 10*time.Second))
	assert.False(t, u.countMessageAndCheckSpam(u.spamWindowEnd.Add(time.Nanosecond), 2, 10*time.Second))
}

func TestIsBanned(t *testing.T) {
	u := newSession(nil, "alice", 20)
	now := time.Now()

	assert.False(t, u.isBanned(now))

	u.banUntil = now.Add(time.Minute)
	assert.True(t, u.isBanned(now))
	assert.False(t, u.isBanned(now.Add(2*time.Minute)))
}

func TestDelayTokenStack(t *testing.T) {
	u := newSession(nil, "alice", 20)
	first := cancel.New()
	second := cancel.New()

	u.pushDelayToken(first)
	u.pushDelayToken(second)

	assert.Same(t, second, u.popDelayToken())
	assert.Same(t, first, u.popDelayToken())
	assert.Nil(t, u.popDelayToken())
}

func TestRemoveDelayTokenAbsentIsNoOp(t *testing.T) {
	u := newSession(nil, "alice", 20)
	kept := cancel.New()
	u.pushDelayToken(kept)

	u.removeDelayToken(cancel.New())
	require.Len(t, u.delayTokens, 1)

	u.removeDelayToken(kept)
	assert.Empty(t, u.delayTokens)
}

func TestQueueLineDropsWhenFullOrClosed(t *testing.T) {
	u := newSession(nil, "alice", 20)

	for i := 0; i < sendQueueSize; i++ {
		require.True(t, u.queueLine("line"))
	}
	assert.False(t, u.queueLine("overflow"))

	drained := newSession(nil, "bob", 20)
	drained.closed = true
	assert.False(t, drained.queueLine("late"))
}
