package ivasms

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/rs/zerolog/log"

	"github.com/nhle/otp-forwarder/internal/model"
	"github.com/nhle/otp-forwarder/internal/source"
)

// Selectors for the received-SMS table. The portal has shipped both a
// classic table layout and a card list, so each field tries the table
// cell class first and the card class second.
const (
	rowSelector    = "table tbody tr, .sms-item"
	senderSelector = ".sender, .phone"
	bodySelector   = ".body, .message"
	timeSelector   = ".time, .date"
)

// extractMessages pulls message rows out of a portal page. A page with
// no recognizable message container at all is reported as drift; rows
// that individually fail to parse are skipped with a warning, matching
// how the portal intermixes ad rows and separators with real messages.
func extractMessages(doc *goquery.Document, op string, fetchedAt time.Time) ([]model.Message, error) {
	rows := doc.Find(rowSelector)
	if rows.Length() == 0 {
		// An empty result set renders an empty tbody inside the same
		// container; a missing container means the markup changed.
		if doc.Find("table tbody, .sms-list").Length() == 0 {
			return nil, &source.DriftError{Op: op, Detail: "no message table or list found"}
		}
		return nil, nil
	}

	messages := make([]model.Message, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		msg, ok := parseRow(row, fetchedAt)
		if !ok {
			log.Warn().Str("op", op).Str("row", snippet(row)).Msg("Skipping unparseable message row")
			return
		}
		messages = append(messages, msg)
	})

	return messages, nil
}

// parseRow extracts one message from a table row or card.
func parseRow(row *goquery.Selection, fetchedAt time.Time) (model.Message, bool) {
	sender := strings.TrimSpace(row.Find(senderSelector).First().Text())
	body := strings.TrimSpace(row.Find(bodySelector).First().Text())
	rawTime := strings.TrimSpace(row.Find(timeSelector).First().Text())

	if sender == "" && body == "" {
		return model.Message{}, false
	}
	if sender == "" {
		sender = "Unknown"
	}

	receivedAt, err := dateparse.ParseAny(rawTime)
	if err != nil {
		return model.Message{}, false
	}

	return model.NewMessage(sender, body, receivedAt, fetchedAt), true
}

// snippet returns a short, single-line excerpt of a row for log output.
func snippet(row *goquery.Selection) string {
	text := strings.Join(strings.Fields(row.Text()), " ")
	if len(text) > 80 {
		text = text[:80]
	}
	return text
}
