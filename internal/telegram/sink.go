package telegram

import (
	"context"
	"fmt"

	"github.com/nhle/otp-forwarder/internal/model"
)

// Sink adapts the Bot API client to the delivery queue's sink contract.
type Sink struct {
	client *Client
}

// NewSink creates a delivery sink over the given client.
func NewSink(client *Client) *Sink {
	return &Sink{client: client}
}

// Send delivers a text payload to a chat.
func (s *Sink) Send(ctx context.Context, destination int64, text string) error {
	return s.client.SendMessage(ctx, destination, text)
}

// FormatMessage renders a forwarded passcode message for chat display.
func FormatMessage(m model.Message) string {
	return fmt.Sprintf("New SMS\nFrom: %s\nTime: %s\n\n%s",
		m.Sender, m.ReceivedAt.Format("2006-01-02 15:04:05"), m.Body)
}
