package ivasms

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/nhle/otp-forwarder/internal/model"
	"github.com/nhle/otp-forwarder/internal/source"
)

// Paths on the portal, relative to the configured base URL.
const (
	loginPath    = "/login"
	receivedPath = "/portal/sms/received"
	rangePath    = "/portal/sms/received/getsms"
)

// Client implements source.Adapter against the ivasms.com portal using
// plain HTTP with a per-login cookie jar. The portal is a server-rendered
// Laravel app: login is a CSRF-protected form POST, and the received-SMS
// page is an HTML table.
type Client struct {
	baseURL  string
	email    string
	password string
	timeout  time.Duration
}

// NewClient creates an ivasms portal client.
func NewClient(baseURL, email, password string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		email:    email,
		password: password,
		timeout:  timeout,
	}
}

// handle carries the cookie jar of one authenticated browser-equivalent
// session. It is opaque outside this package.
type handle struct {
	id        string
	http      *http.Client
	csrf      string
	createdAt time.Time
}

func (h *handle) ID() string           { return h.id }
func (h *handle) CreatedAt() time.Time { return h.createdAt }

// Login fetches the login form, extracts the CSRF token, submits the
// credentials, and verifies that the portal let us through. The
// returned handle owns the session cookies.
func (c *Client) Login(ctx context.Context) (source.Handle, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	hc := &http.Client{Jar: jar, Timeout: c.timeout}

	doc, _, err := c.getDocument(ctx, hc, c.baseURL+loginPath)
	if err != nil {
		return nil, &source.AuthError{
			Reason:  source.AuthReasonNetwork,
			Message: fmt.Sprintf("fetching login page: %v", err),
		}
	}

	token, ok := doc.Find(`input[name="_token"]`).Attr("value")
	if !ok || token == "" {
		return nil, &source.AuthError{
			Reason:  source.AuthReasonDrift,
			Message: "login page has no _token field",
		}
	}

	form := url.Values{
		"_token":   {token},
		"email":    {c.email},
		"password": {c.password},
	}
	doc, finalURL, err := c.postForm(ctx, hc, c.baseURL+loginPath, form)
	if err != nil {
		return nil, &source.AuthError{
			Reason:  source.AuthReasonNetwork,
			Message: fmt.Sprintf("submitting login form: %v", err),
		}
	}

	// A failed login lands back on the login form; a successful one
	// redirects into the portal (possibly via a first-login
	// announcement interstitial, which carries no form and needs no
	// acknowledgement over plain HTTP).
	if strings.Contains(finalURL, loginPath) || doc.Find(`input[name="password"]`).Length() > 0 {
		return nil, &source.AuthError{
			Reason:  source.AuthReasonCredentials,
			Message: fmt.Sprintf("portal rejected credentials for %s", c.email),
		}
	}

	// The portal pages embed a fresh CSRF token for in-portal POSTs.
	csrf, _ := doc.Find(`meta[name="csrf-token"]`).Attr("content")

	return &handle{
		id:        uuid.NewString(),
		http:      hc,
		csrf:      csrf,
		createdAt: time.Now(),
	}, nil
}

// ListCurrent fetches the received-SMS page and extracts the visible
// message rows, most recent first.
func (c *Client) ListCurrent(ctx context.Context, h source.Handle) ([]model.Message, error) {
	sess, err := c.session(h)
	if err != nil {
		return nil, err
	}

	doc, finalURL, err := c.getDocument(ctx, sess.http, c.baseURL+receivedPath)
	if err != nil {
		return nil, &source.TransientError{Op: "list current", Err: err}
	}
	if strings.Contains(finalURL, loginPath) {
		return nil, &source.AuthError{
			Reason:  source.AuthReasonExpired,
			Message: "received-SMS page redirected to login",
		}
	}

	return extractMessages(doc, "list current", time.Now())
}

// ListRange queries the portal for messages received between start and
// end inclusive. The portal exposes this as a form POST with from/to
// dates on the received-SMS page.
func (c *Client) ListRange(ctx context.Context, h source.Handle, start, end time.Time) ([]model.Message, error) {
	sess, err := c.session(h)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"from_date": {start.Format("2006-01-02")},
		"to_date":   {end.Format("2006-01-02")},
	}
	if sess.csrf != "" {
		form.Set("_token", sess.csrf)
	}

	doc, finalURL, err := c.postForm(ctx, sess.http, c.baseURL+rangePath, form)
	if err != nil {
		return nil, &source.TransientError{Op: "list range", Err: err}
	}
	if strings.Contains(finalURL, loginPath) {
		return nil, &source.AuthError{
			Reason:  source.AuthReasonExpired,
			Message: "range query redirected to login",
		}
	}

	return extractMessages(doc, "list range", time.Now())
}

// session unwraps a source.Handle back into this package's handle type.
func (c *Client) session(h source.Handle) (*handle, error) {
	sess, ok := h.(*handle)
	if !ok || sess.http == nil {
		return nil, &source.AuthError{
			Reason:  source.AuthReasonExpired,
			Message: "handle does not belong to this adapter",
		}
	}
	return sess, nil
}

// getDocument GETs a URL and parses the response body as HTML.
// It returns the parsed document and the final URL after redirects.
func (c *Client) getDocument(ctx context.Context, hc *http.Client, rawURL string) (*goquery.Document, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	return c.do(hc, req)
}

// postForm POSTs a URL-encoded form and parses the response body as HTML.
func (c *Client) postForm(ctx context.Context, hc *http.Client, rawURL string, form url.Values) (*goquery.Document, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(hc, req)
}

func (c *Client) do(hc *http.Client, req *http.Request) (*goquery.Document, string, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, "", fmt.Errorf("%s returned status %d", req.URL.Path, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("parsing %s response: %w", req.URL.Path, err)
	}

	return doc, resp.Request.URL.String(), nil
}
