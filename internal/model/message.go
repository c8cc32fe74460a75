package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Message is a single short text message observed on the source site.
type Message struct {
	// ID is a stable identifier derived from the message content.
	// Two polls that observe the same underlying record produce the
	// same ID, which is what deduplication keys on.
	ID string `json:"id" db:"id"`

	// Sender is the originating number or label as shown by the source.
	Sender string `json:"sender" db:"sender"`

	// Body is the raw message text. The forwarder treats it as opaque.
	Body string `json:"body" db:"body"`

	// ReceivedAt is the arrival time reported by the source,
	// not the time we happened to poll.
	ReceivedAt time.Time `json:"received_at" db:"received_at"`

	// FetchedAt is when this message was scraped from the source.
	FetchedAt time.Time `json:"fetched_at" db:"fetched_at"`

	// Forwarded indicates whether the message has been handed to the
	// delivery queue at least once.
	Forwarded bool `json:"forwarded" db:"forwarded"`
}

// MessageID computes the stable identifier for a message: the first
// 16 hex characters of SHA-256 over sender, received time, and body.
func MessageID(sender string, receivedAt time.Time, body string) string {
	h := sha256.New()
	h.Write([]byte(sender))
	h.Write([]byte{0})
	h.Write([]byte(receivedAt.UTC().Format(time.RFC3339)))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// NewMessage builds a Message with its ID filled in.
func NewMessage(sender, body string, receivedAt, fetchedAt time.Time) Message {
	return Message{
		ID:         MessageID(sender, receivedAt, body),
		Sender:     sender,
		Body:       body,
		ReceivedAt: receivedAt,
		FetchedAt:  fetchedAt,
	}
}
