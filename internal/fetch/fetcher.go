// Package fetch detects URLs in message text and retrieves readable
// content from them. Fetching is best-effort enrichment: every failure
// is reported as "no content", never as an error the caller must handle.
package fetch

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// maxContentLength bounds how much extracted text is handed to the model.
const maxContentLength = 4000

// truncationMarker is appended when extracted text is cut off.
const truncationMarker = "\n\n[Content truncated]"

// maxBodyBytes bounds how much of a response body is read at all.
const maxBodyBytes = 5 << 20 // 5MB

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>"')\]]+`)

// ExtractURLs finds all URLs in a text string, in order of appearance.
func ExtractURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// Fetcher retrieves a URL and reduces it to readable plain text.
type Fetcher struct {
	client *http.Client
	maxLen int
}

// New creates a Fetcher whose requests are bounded by timeout.
func New(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		maxLen: maxContentLength,
	}
}

// Fetch retrieves url and extracts readable text. The second return is
// false whenever no usable content was obtained, for any reason.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Warn("failed to build fetch request", "url", url, "error", err)
		return "", false
	}

	resp, err := f.client.Do(req)
	if err != nil {
		slog.Warn("failed to fetch URL", "url", url, "error", err)
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("URL returned non-success status", "url", url, "status", resp.StatusCode)
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("failed to read URL response", "url", url, "error", err)
		return "", false
	}

	var text string
	if mediaType(resp.Header.Get("Content-Type")) == "application/pdf" {
		text = extractPDFText(body)
	} else {
		text = extractReadableText(body)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return f.truncate(text), true
}

// truncate cuts text to maxLen characters on a rune boundary so
// multi-byte content is never split mid-character.
func (f *Fetcher) truncate(text string) string {
	if len(text) <= f.maxLen {
		return text
	}
	runes := []rune(text)
	if len(runes) <= f.maxLen {
		return text
	}
	return string(runes[:f.maxLen]) + truncationMarker
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return mt
}

// extractReadableText reduces an HTML document to plain text: the page
// title plus the main article content when one can be located, otherwise
// all visible body text.
func extractReadableText(html []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	body := articleText(doc)
	if body == "" {
		body = collapseWhitespace(doc.Find("body").Text())
	}

	if title != "" && body != "" {
		return title + "\n\n" + body
	}
	if title != "" {
		return title
	}
	return body
}

// articleText tries common main-content containers in priority order and
// returns the first that holds a substantive amount of text.
func articleText(doc *goquery.Document) string {
	for _, selector := range []string{"article", "main", "[role=main]", "#content", ".content"} {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		text := collapseWhitespace(sel.Text())
		if len(text) >= 80 {
			return text
		}
	}
	return ""
}

// collapseWhitespace normalizes extracted text: one line per text run,
// no runs of blank lines.
func collapseWhitespace(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

// extractPDFText pulls plain text out of a PDF body. Returns "" when the
// document cannot be parsed.
func extractPDFText(body []byte) string {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		slog.Warn("failed to parse PDF", "error", err)
		return ""
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		slog.Warn("failed to extract PDF text", "error", err)
		return ""
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, textReader); err != nil {
		return ""
	}
	return buf.String()
}
