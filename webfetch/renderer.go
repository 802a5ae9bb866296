package webfetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/softonit/textract/ingest"
)

// RenderOptions controls one headless render.
type RenderOptions struct {
	// UserAgent is sent by the browser.
	UserAgent string

	// LoadTimeout bounds navigation plus network settle.
	LoadTimeout time.Duration

	// SettleDelay is the fixed extra wait for late script execution
	// after the page reports ready.
	SettleDelay time.Duration

	// Scroll enables the bounded lazy-load scroll loop.
	Scroll bool

	// ScrollDelay is the wait between scroll iterations.
	ScrollDelay time.Duration

	// MaxScrollAttempts caps the scroll loop. The loop also stops early
	// once the page height stabilizes.
	MaxScrollAttempts int
}

// Renderer loads a page in a JavaScript-capable engine and returns the
// resulting HTML. Implementations own their browser processes and must
// release them when the context is canceled.
type Renderer interface {
	Render(ctx context.Context, url string, opts RenderOptions) (string, error)
}

// ChromeRenderer renders pages with a headless Chrome via chromedp. A
// fresh browser context is created per call so no cookies or storage
// leak between requests. Every request the browser issues — the page
// itself, sub-resources, redirects, script-initiated fetches — is
// intercepted and validated against the blocklist before it leaves.
type ChromeRenderer struct {
	blocklist *Blocklist
	logger    *slog.Logger
}

// NewChromeRenderer creates a Chrome-backed renderer that gates all
// browser traffic through the supplied blocklist.
func NewChromeRenderer(blocklist *Blocklist, logger *slog.Logger) *ChromeRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromeRenderer{blocklist: blocklist, logger: logger}
}

// Render navigates to url, waits for the document to become ready plus
// a settle delay, optionally runs the scroll loop, and returns the
// final serialized DOM. All browser resources are released before
// returning, including on timeout or cancellation.
func (r *ChromeRenderer) Render(ctx context.Context, url string, opts RenderOptions) (string, error) {
	if opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.LoadTimeout)
		defer cancel()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-extensions", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	r.interceptRequests(browserCtx)

	actions := []chromedp.Action{
		fetch.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if opts.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(opts.SettleDelay))
	}
	if opts.Scroll {
		actions = append(actions, r.scrollLoop(opts))
	}

	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(browserCtx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ingest.Errorf(ingest.ReasonTimeout, "page rendering exceeded the configured time limit")
		}
		return "", ingest.Wrap(ingest.ReasonUpstreamFetchFailed, err, "page rendering failed")
	}
	return html, nil
}

// interceptRequests pauses every request the browser wants to issue and
// resumes or fails it based on resourceAllowed. Checking here, rather
// than only on the top-level URL, closes the hole where a rendered page
// pulls blocked content in through an image, frame, redirect, or XHR.
func (r *ChromeRenderer) interceptRequests(browserCtx context.Context) {
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		// Resuming a paused request calls back into the browser, which
		// deadlocks inside the event handler; resolve on a goroutine.
		go func() {
			c := chromedp.FromContext(browserCtx)
			execCtx := cdp.WithExecutor(browserCtx, c.Target)
			if !r.resourceAllowed(browserCtx, paused.Request.URL) {
				_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonAccessDenied).Do(execCtx)
				return
			}
			_ = fetch.ContinueRequest(paused.RequestID).Do(execCtx)
		}()
	})
}

// resourceAllowed reports whether the browser may issue a request to
// rawURL. Any validation failure blocks, including resolution failures:
// a host we cannot vet gets no benefit of the doubt inside the browser.
func (r *ChromeRenderer) resourceAllowed(ctx context.Context, rawURL string) bool {
	if err := r.blocklist.ValidateResolved(ctx, rawURL); err != nil {
		r.logger.Warn("browser request blocked",
			slog.String("url", rawURL),
			slog.String("reason", string(ingest.ReasonOf(err))))
		return false
	}
	return true
}

// scrollLoop runs the lazy-load scroll loop inside the browser.
func (r *ChromeRenderer) scrollLoop(opts RenderOptions) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		attempts, err := runScrollLoop(ctx, scrollDriver{
			height: func(ctx context.Context) (int64, error) {
				var h int64
				err := chromedp.Evaluate(`document.body.scrollHeight`, &h).Do(ctx)
				return h, err
			},
			scroll: func(ctx context.Context) error {
				return chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil).Do(ctx)
			},
		}, opts.ScrollDelay, opts.MaxScrollAttempts)
		if err != nil {
			return err
		}
		if attempts == opts.MaxScrollAttempts {
			r.logger.Debug("scroll loop hit attempt cap", slog.Int("attempts", attempts))
		}
		return nil
	})
}

// scrollDriver abstracts the two browser operations the loop needs.
type scrollDriver struct {
	height func(ctx context.Context) (int64, error)
	scroll func(ctx context.Context) error
}

// runScrollLoop scrolls to the bottom until the page height stabilizes
// or the attempt cap is hit, whichever comes first. The cap is
// mandatory: endless-feed pages grow on every scroll and would
// otherwise never stabilize. It returns the number of scroll attempts
// performed.
func runScrollLoop(ctx context.Context, d scrollDriver, delay time.Duration, maxAttempts int) (int, error) {
	var lastHeight int64 = -1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		height, err := d.height(ctx)
		if err != nil {
			return attempt, err
		}
		if height == lastHeight {
			return attempt, nil
		}
		lastHeight = height

		if err := d.scroll(ctx); err != nil {
			return attempt, err
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return maxAttempts, nil
}
