package ivasms

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/otp-forwarder/internal/model"
	"github.com/nhle/otp-forwarder/internal/source"
)

func TestMain(m *testing.M) {
	// we do not need logging during the tests
	zerolog.SetGlobalLevel(zerolog.Disabled)

	os.Exit(m.Run())
}

func parseFixture(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

const tablePage = `<html><body>
<table>
  <tbody>
    <tr>
      <td class="sender">447700900001</td>
      <td class="body">Your verification code is 482910</td>
      <td class="time">2026-08-20 10:15:00</td>
    </tr>
    <tr>
      <td class="sender">WhatsApp</td>
      <td class="body">WhatsApp code 113-355</td>
      <td class="time">2026-08-20 10:12:30</td>
    </tr>
  </tbody>
</table>
</body></html>`

const cardPage = `<html><body>
<div class="sms-list">
  <div class="sms-item">
    <span class="phone">Telegram</span>
    <span class="message">Login code: 71042</span>
    <span class="date">20 Aug 2026 09:58</span>
  </div>
</div>
</body></html>`

func TestExtractMessagesFromTable(t *testing.T) {
	fetchedAt := time.Date(2026, 8, 20, 10, 16, 0, 0, time.UTC)
	doc := parseFixture(t, tablePage)

	msgs, err := extractMessages(doc, "list current", fetchedAt)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "447700900001", msgs[0].Sender)
	assert.Equal(t, "Your verification code is 482910", msgs[0].Body)
	assert.Equal(t, time.Date(2026, 8, 20, 10, 15, 0, 0, time.UTC), msgs[0].ReceivedAt)
	assert.Equal(t, fetchedAt, msgs[0].FetchedAt)

	assert.Equal(t, "WhatsApp", msgs[1].Sender)
}

func TestExtractMessagesFromCardList(t *testing.T) {
	doc := parseFixture(t, cardPage)

	msgs, err := extractMessages(doc, "list current", time.Now())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Telegram", msgs[0].Sender)
	assert.Equal(t, "Login code: 71042", msgs[0].Body)
}

func TestExtractMessagesIDsAreStable(t *testing.T) {
	first, err := extractMessages(parseFixture(t, tablePage), "list current", time.Now())
	require.NoError(t, err)
	second, err := extractMessages(parseFixture(t, tablePage), "list current", time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID, "the ID must not depend on fetch time")
	}
}

func TestExtractMessagesEmptyTableIsNotDrift(t *testing.T) {
	doc := parseFixture(t, `<html><body><table><tbody></tbody></table></body></html>`)

	msgs, err := extractMessages(doc, "list current", time.Now())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestExtractMessagesMissingContainerIsDrift(t *testing.T) {
	doc := parseFixture(t, `<html><body><h1>Welcome to the new portal</h1></body></html>`)

	_, err := extractMessages(doc, "list current", time.Now())
	require.Error(t, err)
	assert.True(t, source.IsDrift(err))
}

func TestExtractMessagesSkipsUnparseableRows(t *testing.T) {
	page := `<html><body><table><tbody>
<tr><td class="sender">good</td><td class="body">code 1</td><td class="time">2026-08-20 10:00:00</td></tr>
<tr><td colspan="3">-- sponsored --</td></tr>
<tr><td class="sender">bad-time</td><td class="body">code 2</td><td class="time">whenever</td></tr>
</tbody></table></body></html>`

	msgs, err := extractMessages(parseFixture(t, page), "list current", time.Now())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "good", msgs[0].Sender)
}

func TestParseRowDefaultsMissingSender(t *testing.T) {
	page := `<html><body><table><tbody>
<tr><td class="body">orphan code</td><td class="time">2026-08-20 10:00:00</td></tr>
</tbody></table></body></html>`

	msgs, err := extractMessages(parseFixture(t, page), "list current", time.Now())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Unknown", msgs[0].Sender)
}

func TestExtractedIDMatchesModel(t *testing.T) {
	msgs, err := extractMessages(parseFixture(t, tablePage), "list current", time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, msgs)

	want := model.MessageID(msgs[0].Sender, msgs[0].ReceivedAt, msgs[0].Body)
	assert.Equal(t, want, msgs[0].ID)
}
