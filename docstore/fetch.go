package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotModified reports that the server returned 304 for a
// conditional fetch; the cached copy is still current.
var ErrNotModified = errors.New("content not modified")

const (
	defaultMaxFetchSize = 10 * 1024 * 1024
	maxRedirects        = 5
	fetchUserAgent      = "scopeguard-indexer/1.0"
)

// FetchResult is a successfully fetched page.
type FetchResult struct {
	Body        []byte
	ContentType string
	ETag        string
	FinalURL    string
}

// Fetcher retrieves external design documents over HTTPS. Every URL,
// including each redirect hop, is validated against private address
// space before any connection is made.
type Fetcher struct {
	client  *http.Client
	maxSize int64
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithMaxFetchSize overrides the response size ceiling in bytes.
func WithMaxFetchSize(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxSize = n
		}
	}
}

// WithFetchTimeout overrides the per-request timeout.
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// NewFetcher creates a Fetcher with safe defaults.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		maxSize: defaultMaxFetchSize,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext:       safeDialContext,
				ForceAttemptHTTP2: true,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return ValidateURL(req.URL.String())
			},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves rawURL. A non-empty etag makes the request
// conditional; ErrNotModified is returned on a 304.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, etag string) (*FetchResult, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html, text/markdown, text/plain")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isIndexableContentType(contentType) {
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > f.maxSize {
		return nil, fmt.Errorf("response exceeds %d byte limit", f.maxSize)
	}

	return &FetchResult{
		Body:        body,
		ContentType: contentType,
		ETag:        resp.Header.Get("ETag"),
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

func isIndexableContentType(ct string) bool {
	ct = strings.ToLower(ct)
	for _, ok := range []string{"text/html", "text/markdown", "text/plain", "application/xhtml"} {
		if strings.HasPrefix(ct, ok) {
			return true
		}
	}
	return false
}

// ValidateURL rejects URLs that could reach internal infrastructure:
// non-HTTPS schemes, localhost aliases, internal TLDs, and private or
// reserved IP literals.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("only https URLs are allowed, got %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("URL has no host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("host %q is not fetchable", host)
	}
	if ip := net.ParseIP(host); ip != nil && IsPrivateIP(ip) {
		return fmt.Errorf("IP %s is in private address space", ip)
	}
	return nil
}

var privateNetworks = func() []*net.IPNet {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10",  // carrier-grade NAT
		"169.254.0.0/16", // link-local
		"fc00::/7",       // unique local
		"fe80::/10",      // link-local
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}()

// IsPrivateIP reports whether ip belongs to loopback, unspecified,
// private, or otherwise reserved address space.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	for _, n := range privateNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// safeDialContext resolves the host first and refuses to connect when
// any resolved address is private. Checking post-resolution closes the
// DNS rebinding hole that URL-level checks alone leave open.
func safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("split address: %w", err)
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	for _, ip := range ips {
		if IsPrivateIP(ip.IP) {
			return nil, fmt.Errorf("%s resolves to private address %s", host, ip.IP)
		}
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
}
