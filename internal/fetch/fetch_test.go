package fetch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petasbytes/market-agent/internal/fetch"
	"github.com/petasbytes/market-agent/internal/safety"
)

const articlePage = `<!doctype html>
<html><head><title> CSE Daily Report </title><style>body{color:red}</style></head>
<body>
<nav>Home | Markets | About</nav>
<header>Colombo Stock Exchange</header>
<article>
  <h1>Market close</h1>
  <p>The ASPI gained 1.2% on strong banking sector demand.</p>
  <p>Turnover reached LKR 4.1 billion.</p>
  <script>trackVisitor()</script>
</article>
<aside>Related: tea auction prices</aside>
<footer>Copyright</footer>
</body></html>`

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_ExtractsArticleText(t *testing.T) {
	var gotUA string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articlePage))
	})

	f := fetch.New(fetch.Options{AllowPrivate: true})
	page, err := f.Fetch(context.Background(), srv.URL+"/report")
	require.NoError(t, err)

	assert.Equal(t, "CSE Daily Report", page.Title)
	assert.Equal(t, "Market close The ASPI gained 1.2% on strong banking sector demand. Turnover reached LKR 4.1 billion.", page.Text)
	assert.False(t, page.Truncated)
	assert.NotContains(t, page.Text, "trackVisitor")
	assert.NotContains(t, page.Text, "tea auction")
	assert.Equal(t, fetch.DefaultUserAgent, gotUA)
	assert.True(t, strings.HasPrefix(page.String(), "Title: CSE Daily Report\n\nContent:\nMarket close"))
}

func TestFetch_FallsBackToBody(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><div>Rubber</div><div>exports rose</div><footer>x</footer></body></html>`))
	})
	page, err := fetch.New(fetch.Options{AllowPrivate: true}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "No title", page.Title)
	assert.Equal(t, "Rubber exports rose", page.Text)
}

func TestFetch_PlainText(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("tea   prices\n\nfirm"))
	})
	page, err := fetch.New(fetch.Options{AllowPrivate: true}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "tea prices firm", page.Text)
}

func TestFetch_Truncates(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("a", 50)))
	})
	page, err := fetch.New(fetch.Options{AllowPrivate: true, MaxChars: 10}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, page.Truncated)
	assert.Equal(t, strings.Repeat("a", 10)+fetch.TruncationMarker, page.Text)
}

func TestFetch_NonTextRejected(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7"))
	})
	_, err := fetch.New(fetch.Options{AllowPrivate: true}).Fetch(context.Background(), srv.URL)
	var fe *fetch.FetchError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, fetch.ErrNotText)
	assert.Equal(t, http.StatusOK, fe.StatusCode)
}

func TestFetch_StatusError_NoRetry(t *testing.T) {
	calls := 0
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	_, err := fetch.New(fetch.Options{AllowPrivate: true}).Fetch(context.Background(), srv.URL)
	var fe *fetch.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
	assert.ErrorIs(t, err, fetch.ErrStatus)
	assert.Equal(t, 1, calls)
}

func TestFetch_Timeout(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	_, err := fetch.New(fetch.Options{AllowPrivate: true, Timeout: 50 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	var fe *fetch.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, fe.StatusCode)
}

func TestFetch_PolicyRejectsBeforeDialing(t *testing.T) {
	f := fetch.New(fetch.Options{})
	for _, raw := range []string{"ftp://example.com/x", "http://127.0.0.1:1/", "not a url"} {
		_, err := f.Fetch(context.Background(), raw)
		var te safety.ToolError
		require.True(t, errors.As(err, &te), "%s: %v", raw, err)
	}
}
