package webfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/softonit/textract/ingest"
)

const maxRedirects = 5

// FetchTarget records one resolution decision for audit logging. It is
// created per fetch attempt and discarded after.
type FetchTarget struct {
	URL        string
	ResolvedIP net.IP
	IsAllowed  bool
}

// FetchResult is the outcome of one static fetch.
type FetchResult struct {
	Body        []byte
	ContentType string
	FinalURL    string
}

// Fetcher fetches remote content with SSRF, size, and timeout guards.
type Fetcher struct {
	client    *http.Client
	blocklist *Blocklist
	userAgent string
	logger    *slog.Logger
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// ConnectTimeout bounds DNS+connect, separate from the transfer.
	ConnectTimeout time.Duration

	// TransferTimeout bounds one whole request including body read.
	TransferTimeout time.Duration

	// UserAgent is the default User-Agent header.
	UserAgent string
}

// NewFetcher creates a fetcher whose transport re-validates every
// resolved address against the blocklist before connecting. This is the
// DNS-rebinding guard: the hostname check in ValidateURL is advisory,
// the dialer check is authoritative.
func NewFetcher(blocklist *Blocklist, opts FetcherOptions, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	f := &Fetcher{
		blocklist: blocklist,
		userAgent: opts.UserAgent,
		logger:    logger,
	}

	safeDialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}

		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("DNS lookup failed: %w", err)
		}

		for _, ipAddr := range ips {
			target := FetchTarget{URL: host, ResolvedIP: ipAddr.IP, IsAllowed: !blocklist.BlockedIP(ipAddr.IP)}
			if !target.IsAllowed {
				logger.Warn("ssrf guard blocked resolved address",
					slog.String("host", host),
					slog.String("resolved_ip", ipAddr.IP.String()))
				return nil, ingest.Errorf(ingest.ReasonSSRFBlocked,
					"address is in a blocked range")
			}
		}

		var lastErr error
		for _, ipAddr := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ipAddr.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = errors.New("no addresses resolved")
		}
		return nil, fmt.Errorf("connect failed: %w", lastErr)
	}

	f.client = &http.Client{
		Transport: &http.Transport{
			DialContext:           safeDialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: opts.TransferTimeout,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
		Timeout: opts.TransferTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			// Redirect targets get the full pre-resolution check again.
			if err := blocklist.ValidateURL(req.URL.String()); err != nil {
				return fmt.Errorf("redirect blocked: %w", err)
			}
			return nil
		},
	}
	return f
}

// Fetch performs a static fetch of one URL. The server must declare the
// body size via Content-Length; a missing or oversized declaration
// aborts before the body is read, and the actual read is capped at the
// declared size regardless.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, userAgent string, maxBytes int64) (*FetchResult, error) {
	if err := f.blocklist.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, ingest.Wrap(ingest.ReasonUpstreamFetchFailed, err, "invalid URL")
	}
	if userAgent == "" {
		userAgent = f.userAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if reason := ingest.ReasonOf(err); reason == ingest.ReasonSSRFBlocked {
			return nil, ingest.Errorf(ingest.ReasonSSRFBlocked, "address is in a blocked range")
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ingest.Errorf(ingest.ReasonTimeout, "fetch exceeded the configured time limit")
		}
		return nil, ingest.Wrap(ingest.ReasonUpstreamFetchFailed, err, "fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ingest.Errorf(ingest.ReasonUpstreamFetchFailed,
			"unexpected upstream status %d", resp.StatusCode)
	}

	if resp.ContentLength < 0 {
		return nil, ingest.Errorf(ingest.ReasonUpstreamFetchFailed,
			"upstream did not declare a content length")
	}
	if resp.ContentLength > maxBytes {
		return nil, ingest.Errorf(ingest.ReasonInputTooLarge,
			"declared content length %d exceeds the %d byte limit", resp.ContentLength, maxBytes)
	}

	// Trust but verify: cap the read at the limit even if the server
	// lied in its declaration.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ingest.Errorf(ingest.ReasonTimeout, "fetch exceeded the configured time limit")
		}
		return nil, ingest.Wrap(ingest.ReasonUpstreamFetchFailed, err, "reading upstream body failed")
	}
	if int64(len(body)) > maxBytes {
		return nil, ingest.Errorf(ingest.ReasonInputTooLarge,
			"upstream body exceeds the %d byte limit", maxBytes)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &FetchResult{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    finalURL,
	}, nil
}
