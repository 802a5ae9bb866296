package webfetch

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/softonit/textract/ingest"
	"github.com/softonit/textract/ingest/sanitize"
	"github.com/softonit/textract/ingest/sniff"
)

// RenderDefaults are the process-wide rendering knobs; per-request
// options only toggle rendering and scrolling on or off.
type RenderDefaults struct {
	LoadTimeout time.Duration
	SettleDelay time.Duration
	ScrollDelay time.Duration
}

// Client turns one URL into a sequence of content units: the page's
// primary text first, then up to MaxImagesPerPage embedded images, each
// under the same SSRF and size guards as the top-level fetch.
type Client struct {
	fetcher   *Fetcher
	renderer  Renderer
	defaults  RenderDefaults
	converter *md.Converter
	logger    *slog.Logger
}

// NewClient creates a web ingestion client. renderer may be nil, which
// disables rendered fetches regardless of per-request options.
func NewClient(fetcher *Fetcher, renderer Renderer, defaults RenderDefaults, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &Client{
		fetcher:   fetcher,
		renderer:  renderer,
		defaults:  defaults,
		converter: converter,
		logger:    logger,
	}
}

// FetchUnits fetches rawURL (static or rendered) and emits content
// units in page-content-then-images order. Guard violations on any
// sub-resource abort the whole call; quality failures on individual
// images are logged and skipped.
func (c *Client) FetchUnits(ctx context.Context, rawURL string, opts ingest.FetchOptions,
	budget ingest.Budget, state *ingest.ExpansionState, used map[string]struct{},
	emit func(ingest.ContentUnit) error) error {

	pageHTML, finalURL, err := c.loadPage(ctx, rawURL, opts, budget)
	if err != nil {
		return err
	}

	base, err := url.Parse(finalURL)
	if err != nil {
		base, _ = url.Parse(rawURL)
	}

	text, err := c.primaryText(pageHTML, base)
	if err != nil {
		return ingest.Wrap(ingest.ReasonUpstreamFetchFailed, err, "page content could not be converted")
	}

	pageName := sanitize.Sanitize(pageSlug(base)+".md", used)
	used[pageName] = struct{}{}
	pageBytes := []byte(text)
	if err := state.AddExpanded(int64(len(pageBytes)), budget); err != nil {
		return err
	}
	state.UnitsProduced++
	if err := emit(ingest.ContentUnit{
		SanitizedPath: pageName,
		OriginalName:  rawURL,
		Bytes:         pageBytes,
		DeclaredType:  "text/html",
		SniffedType:   "text/markdown",
		SizeBytes:     int64(len(pageBytes)),
	}); err != nil {
		return err
	}

	return c.emitImages(ctx, pageHTML, base, opts, budget, state, used, emit)
}

// loadPage fetches the page statically or through the renderer.
func (c *Client) loadPage(ctx context.Context, rawURL string, opts ingest.FetchOptions,
	budget ingest.Budget) (string, string, error) {

	if !opts.Render || c.renderer == nil {
		result, err := c.fetcher.Fetch(ctx, rawURL, opts.UserAgent, budget.MaxInputBytes)
		if err != nil {
			return "", "", err
		}
		return string(result.Body), result.FinalURL, nil
	}

	// The browser dials on its own, outside our safe transport. The
	// renderer re-checks every request it issues; validating here keeps
	// the blocked-URL error ahead of the browser startup cost.
	if err := c.fetcher.blocklist.ValidateResolved(ctx, rawURL); err != nil {
		c.logger.Warn("render request rejected before browser launch",
			slog.String("url", rawURL),
			slog.String("reason", string(ingest.ReasonOf(err))))
		return "", "", err
	}

	rendered, err := c.renderer.Render(ctx, rawURL, RenderOptions{
		UserAgent:         opts.UserAgent,
		LoadTimeout:       c.defaults.LoadTimeout,
		SettleDelay:       c.defaults.SettleDelay,
		Scroll:            opts.Scroll,
		ScrollDelay:       c.defaults.ScrollDelay,
		MaxScrollAttempts: budget.MaxScrollAttempts,
	})
	if err != nil {
		return "", "", err
	}
	if int64(len(rendered)) > budget.MaxInputBytes {
		return "", "", ingest.Errorf(ingest.ReasonInputTooLarge,
			"rendered page exceeds the %d byte limit", budget.MaxInputBytes)
	}
	return rendered, rawURL, nil
}


// primaryText extracts the page's main content and converts it to
// markdown. When readability finds nothing, the raw page is converted
// instead so text-light pages still produce a unit.
func (c *Client) primaryText(pageHTML string, base *url.URL) (string, error) {
	content := pageHTML
	if article, err := readability.FromReader(strings.NewReader(pageHTML), base); err == nil && article.Content != "" {
		content = article.Content
	}

	markdown, err := c.converter.ConvertString(content)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(markdown), nil
}

// emitImages walks the page for img elements and emits up to
// MaxImagesPerPage of them in document order.
func (c *Client) emitImages(ctx context.Context, pageHTML string, base *url.URL,
	opts ingest.FetchOptions, budget ingest.Budget, state *ingest.ExpansionState,
	used map[string]struct{}, emit func(ingest.ContentUnit) error) error {

	srcs := imageSources(pageHTML)
	emitted := 0
	for _, src := range srcs {
		if emitted >= budget.MaxImagesPerPage {
			break
		}

		var (
			data []byte
			name string
		)
		switch {
		case strings.HasPrefix(src, "data:"):
			if !opts.InlineImages {
				continue
			}
			decoded, ok := decodeDataURI(src, budget.MaxInputBytes)
			if !ok {
				continue
			}
			data = decoded
			name = "inline_image"
		default:
			resolved := resolveRef(base, src)
			if resolved == "" {
				continue
			}
			result, err := c.fetcher.Fetch(ctx, resolved, opts.UserAgent, budget.MaxInputBytes)
			if err != nil {
				// Safety failures on sub-resources invalidate the whole
				// request; quality failures just lose one image.
				switch ingest.ReasonOf(err) {
				case ingest.ReasonSSRFBlocked, ingest.ReasonInputTooLarge, ingest.ReasonTimeout:
					return err
				}
				c.logger.Debug("embedded image skipped",
					slog.String("src", resolved),
					slog.String("error", err.Error()))
				continue
			}
			data = result.Body
			name = imageName(resolved)
		}

		sniffed := sniff.Detect(data)
		if sniff.FamilyOf(sniffed) != sniff.FamilyImage {
			continue
		}
		if err := state.AddExpanded(int64(len(data)), budget); err != nil {
			return err
		}

		safeName := sanitize.Sanitize(name, used)
		used[safeName] = struct{}{}
		state.UnitsProduced++
		emitted++
		if err := emit(ingest.ContentUnit{
			SanitizedPath: safeName,
			OriginalName:  name,
			Bytes:         data,
			DeclaredType:  sniff.DeclaredType(name),
			SniffedType:   sniffed,
			SizeBytes:     int64(len(data)),
		}); err != nil {
			return err
		}
	}
	return nil
}

// imageSources returns img src attributes in document order.
func imageSources(pageHTML string) []string {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil
	}

	var srcs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			for _, a := range n.Attr {
				if a.Key == "src" && a.Val != "" {
					srcs = append(srcs, a.Val)
					break
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return srcs
}

// decodeDataURI extracts the payload of a base64 data: URI, enforcing
// the size limit on the decoded bytes.
func decodeDataURI(uri string, maxBytes int64) ([]byte, bool) {
	comma := strings.Index(uri, ",")
	if comma < 0 || !strings.Contains(uri[:comma], "base64") {
		return nil, false
	}
	payload := uri[comma+1:]
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	return data, true
}

// resolveRef resolves an image reference against the page URL, keeping
// only http(s) results.
func resolveRef(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := parsed
	if base != nil {
		resolved = base.ResolveReference(parsed)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// imageName derives a readable name from an image URL.
func imageName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "image"
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	last := segments[len(segments)-1]
	if last == "" {
		return "image"
	}
	return last
}

// pageSlug builds a readable file stem from the page URL, the same way
// entity slugs are built from domains and paths.
func pageSlug(u *url.URL) string {
	if u == nil {
		return "page"
	}
	slug := strings.ReplaceAll(u.Hostname(), ".", "-")
	if p := strings.Trim(u.Path, "/"); p != "" {
		slug += "-" + strings.ReplaceAll(p, "/", "-")
	}
	slug = strings.ToLower(slug)
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '-'
	}, slug)
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "page"
	}
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-")
	}
	return slug
}
