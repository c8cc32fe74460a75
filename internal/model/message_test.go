package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageIDIsDeterministic(t *testing.T) {
	receivedAt := time.Date(2026, 8, 20, 10, 15, 0, 0, time.UTC)

	first := MessageID("447700900001", receivedAt, "Your code is 482910")
	second := MessageID("447700900001", receivedAt, "Your code is 482910")

	assert.Equal(t, first, second)
	assert.Len(t, first, 16)
}

func TestMessageIDVariesWithEachField(t *testing.T) {
	receivedAt := time.Date(2026, 8, 20, 10, 15, 0, 0, time.UTC)
	base := MessageID("sender", receivedAt, "body")

	assert.NotEqual(t, base, MessageID("other", receivedAt, "body"))
	assert.NotEqual(t, base, MessageID("sender", receivedAt.Add(time.Second), "body"))
	assert.NotEqual(t, base, MessageID("sender", receivedAt, "other body"))
}

func TestMessageIDIgnoresTimezoneRepresentation(t *testing.T) {
	utc := time.Date(2026, 8, 20, 10, 15, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("CEST", 2*60*60))

	assert.Equal(t, MessageID("sender", utc, "body"), MessageID("sender", local, "body"))
}

func TestMessageIDFieldBoundariesDoNotCollide(t *testing.T) {
	receivedAt := time.Date(2026, 8, 20, 10, 15, 0, 0, time.UTC)

	// Shifting text across the sender/body boundary must change the ID.
	assert.NotEqual(t,
		MessageID("ab", receivedAt, "cd"),
		MessageID("a", receivedAt, "bcd"))
}

func TestNewMessageFillsID(t *testing.T) {
	receivedAt := time.Date(2026, 8, 20, 10, 15, 0, 0, time.UTC)
	fetchedAt := receivedAt.Add(time.Minute)

	msg := NewMessage("sender", "body", receivedAt, fetchedAt)

	assert.Equal(t, MessageID("sender", receivedAt, "body"), msg.ID)
	assert.Equal(t, fetchedAt, msg.FetchedAt)
	assert.False(t, msg.Forwarded)
}
