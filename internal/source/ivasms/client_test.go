package ivasms

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/otp-forwarder/internal/source"
)

// fakePortal is a minimal stand-in for the ivasms.com portal: a CSRF
// form login and a received-SMS table behind it.
type fakePortal struct {
	mu             sync.Mutex
	email          string
	password       string
	sessionExpired bool
	receivedHTML   string
	omitToken      bool
}

func (p *fakePortal) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", p.loginForm)
	mux.HandleFunc("POST /login", p.loginSubmit)
	mux.HandleFunc("GET /portal", p.dashboard)
	mux.HandleFunc("GET /portal/sms/received", p.received)
	mux.HandleFunc("POST /portal/sms/received/getsms", p.received)
	return mux
}

func (p *fakePortal) loginForm(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	omit := p.omitToken
	p.mu.Unlock()

	token := `<input type="hidden" name="_token" value="tok-123">`
	if omit {
		token = ""
	}
	fmt.Fprintf(w, `<html><body><form method="post" action="/login">%s
<input type="email" name="email"><input type="password" name="password">
</form></body></html>`, token)
}

func (p *fakePortal) loginSubmit(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	email, password := p.email, p.password
	p.mu.Unlock()

	if r.FormValue("_token") != "tok-123" ||
		r.FormValue("email") != email ||
		r.FormValue("password") != password {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/portal", http.StatusFound)
}

func (p *fakePortal) dashboard(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, `<html><head><meta name="csrf-token" content="csrf-456"></head><body>Dashboard</body></html>`)
}

func (p *fakePortal) received(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	expired := p.sessionExpired
	html := p.receivedHTML
	p.mu.Unlock()

	if expired {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	fmt.Fprint(w, html)
}

func (p *fakePortal) expire() {
	p.mu.Lock()
	p.sessionExpired = true
	p.mu.Unlock()
}

const receivedPage = `<html><body><table><tbody>
<tr><td class="sender">447700900001</td><td class="body">Your code is 482910</td><td class="time">2026-08-20 10:15:00</td></tr>
</tbody></table></body></html>`

func newFakePortal(t *testing.T) (*fakePortal, *Client) {
	t.Helper()

	portal := &fakePortal{
		email:        "user@example.com",
		password:     "hunter2",
		receivedHTML: receivedPage,
	}
	srv := httptest.NewServer(portal.handler())
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "user@example.com", "hunter2", 5*time.Second)
	return portal, client
}

func TestLoginSucceeds(t *testing.T) {
	_, client := newFakePortal(t)

	h, err := client.Login(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.NotEmpty(t, h.ID())
	assert.WithinDuration(t, time.Now(), h.CreatedAt(), time.Minute)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	portal := &fakePortal{email: "user@example.com", password: "hunter2"}
	srv := httptest.NewServer(portal.handler())
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "user@example.com", "wrong", 5*time.Second)
	_, err := client.Login(context.Background())
	require.Error(t, err)

	var authErr *source.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, source.AuthReasonCredentials, authErr.Reason)
}

func TestLoginReportsMissingTokenAsDrift(t *testing.T) {
	portal, client := newFakePortal(t)
	portal.mu.Lock()
	portal.omitToken = true
	portal.mu.Unlock()

	_, err := client.Login(context.Background())
	require.Error(t, err)

	var authErr *source.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, source.AuthReasonDrift, authErr.Reason)
}

func TestListCurrentReturnsMessages(t *testing.T) {
	_, client := newFakePortal(t)

	h, err := client.Login(context.Background())
	require.NoError(t, err)

	msgs, err := client.ListCurrent(context.Background(), h)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "447700900001", msgs[0].Sender)
	assert.Equal(t, "Your code is 482910", msgs[0].Body)
}

func TestListCurrentDetectsExpiredSession(t *testing.T) {
	portal, client := newFakePortal(t)

	h, err := client.Login(context.Background())
	require.NoError(t, err)

	portal.expire()

	_, err = client.ListCurrent(context.Background(), h)
	require.Error(t, err)

	var authErr *source.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, source.AuthReasonExpired, authErr.Reason)
}

func TestListRangeSendsDateWindow(t *testing.T) {
	_, client := newFakePortal(t)

	h, err := client.Login(context.Background())
	require.NoError(t, err)

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 7, 23, 59, 59, 0, time.UTC)
	msgs, err := client.ListRange(context.Background(), h, start, end)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestListCurrentRejectsForeignHandle(t *testing.T) {
	_, client := newFakePortal(t)

	_, err := client.ListCurrent(context.Background(), &foreignHandle{})
	require.Error(t, err)
	assert.True(t, source.IsAuthError(err))
}

type foreignHandle struct{}

func (foreignHandle) ID() string           { return "foreign" }
func (foreignHandle) CreatedAt() time.Time { return time.Time{} }

func TestListCurrentReportsServerErrorsAsTransient(t *testing.T) {
	_, client := newFakePortal(t)

	h, err := client.Login(context.Background())
	require.NoError(t, err)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(broken.Close)

	brokenClient := NewClient(broken.URL, "user@example.com", "hunter2", 5*time.Second)
	_, err = brokenClient.ListCurrent(context.Background(), h)
	require.Error(t, err)
	assert.True(t, source.IsTransient(err))
}
