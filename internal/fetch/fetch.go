// Package fetch retrieves a web page and extracts its readable text.
//
// A fetch is a single GET with no retry. Only http(s) URLs pass the
// safety policy, only textual content types are accepted, and the extracted
// text is truncated to a bounded number of characters.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/petasbytes/market-agent/internal/safety"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultMaxChars  = 3000
	DefaultMaxBytes  = 2 << 20
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// TruncationMarker is appended when the extracted text was cut.
	TruncationMarker = "... [truncated]"

	maxRedirects = 5
)

var (
	ErrNotText = errors.New("content is not text")
	ErrStatus  = errors.New("unexpected http status")
)

// FetchError describes a failed fetch. StatusCode is zero when no response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Page is the readable content of a fetched document.
type Page struct {
	URL       string
	Title     string
	Text      string
	Truncated bool
}

// String renders the page the way it is handed to the model.
func (p Page) String() string {
	return fmt.Sprintf("Title: %s\n\nContent:\n%s", p.Title, p.Text)
}

// Options configures a Fetcher. Zero values select the defaults above.
type Options struct {
	Timeout   time.Duration
	MaxChars  int
	MaxBytes  int64
	UserAgent string

	// AllowPrivate permits loopback and private-network targets.
	AllowPrivate bool

	// HTTPClient overrides the client built from the options above.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Fetcher performs single-attempt page fetches.
type Fetcher struct {
	client *http.Client
	opts   Options
	log    *slog.Logger
}

// New returns a Fetcher with the given options.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = newClient(opts)
	}
	return &Fetcher{client: client, opts: opts, log: log}
}

func newClient(opts Options) *http.Client {
	dialer := &net.Dialer{Timeout: opts.Timeout}
	if !opts.AllowPrivate {
		dialer.Control = safety.DialControl
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			_, err := safety.ValidateURL(req.URL.String(), opts.AllowPrivate)
			return err
		},
	}
}

// Fetch downloads rawURL and extracts its title and main text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := safety.ValidateURL(rawURL, f.opts.AllowPrivate)
	if err != nil {
		return Page{}, &FetchError{URL: rawURL, Err: err}
	}
	target := u.String()

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Page{}, &FetchError{URL: target, Err: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.1")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, &FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Page{}, &FetchError{URL: target, StatusCode: resp.StatusCode, Err: ErrStatus}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes))
	if err != nil {
		return Page{}, &FetchError{URL: target, StatusCode: resp.StatusCode, Err: err}
	}

	kind, err := contentKind(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return Page{}, &FetchError{URL: target, StatusCode: resp.StatusCode, Err: err}
	}

	var page Page
	switch kind {
	case "html":
		page, err = extractHTML(body)
		if err != nil {
			return Page{}, &FetchError{URL: target, StatusCode: resp.StatusCode, Err: err}
		}
	default:
		page = Page{Title: "No title", Text: collapse(string(body))}
	}
	page.URL = target
	page.Text, page.Truncated = truncate(page.Text, f.opts.MaxChars)

	f.log.Debug("fetched page",
		"url", target,
		"status", resp.StatusCode,
		"bytes", len(body),
		"chars", utf8.RuneCountInString(page.Text),
		"truncated", page.Truncated,
		"duration", time.Since(start))
	return page, nil
}

// contentKind classifies the response as "html" or "text", sniffing when the
// server sent no Content-Type.
func contentKind(header string, body []byte) (string, error) {
	if header == "" {
		header = http.DetectContentType(body)
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return "", fmt.Errorf("%w: unparseable content type %q", ErrNotText, header)
	}
	switch mt {
	case "text/html", "application/xhtml+xml":
		return "html", nil
	case "text/plain":
		return "text", nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotText, mt)
}

func truncate(s string, maxChars int) (string, bool) {
	if utf8.RuneCountInString(s) <= maxChars {
		return s, false
	}
	r := []rune(s)
	return string(r[:maxChars]) + TruncationMarker, true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// noiseSelectors are removed before text extraction.
const noiseSelectors = "script, style, noscript, template, svg, nav, footer, aside, header, form, iframe"

func extractHTML(body []byte) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return Page{}, err
	}
	title := collapse(doc.Find("title").First().Text())
	if title == "" {
		title = "No title"
	}

	doc.Find(noiseSelectors).Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 || collapse(root.Text()) == "" {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 || collapse(root.Text()) == "" {
		root = doc.Find("body")
	}

	var b strings.Builder
	writeText(&b, root)
	return Page{Title: title, Text: collapse(b.String())}, nil
}

// writeText walks the selection so adjacent block elements do not run together.
func writeText(b *strings.Builder, sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
			return
		}
		block := blockTags[goquery.NodeName(c)]
		if block {
			b.WriteByte(' ')
		}
		writeText(b, c)
		if block {
			b.WriteByte(' ')
		}
	})
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "main": true, "table": true, "tr": true,
	"td": true, "th": true, "pre": true, "blockquote": true, "dt": true, "dd": true,
}
