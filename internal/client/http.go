package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
)

const (
	timeout = 30 * time.Second

	// DefaultUserAgent is sent when the request carries none (install, sync)
	DefaultUserAgent = "offlineboard/1.0 (+offline cache worker)"
)

// Hop-by-hop headers are never forwarded upstream
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Fetcher performs network fetches. Only transport-level failures are errors; every
// HTTP status, 500 included, is a successful fetch.
type Fetcher interface {
	Fetch(ctx context.Context, req *models.Request) (*models.Response, error)
}

// TransportError is returned when the network could not produce a response
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CreateHTTPClient creates the outbound HTTP client, optionally through an upstream proxy
func CreateHTTPClient(proxyURL string) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  false,
		MaxIdleConnsPerHost: 10,
		ForceAttemptHTTP2:   true,
	}

	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// HTTPFetcher is the network Fetcher used by the worker
type HTTPFetcher struct {
	client *http.Client
	origin *url.URL
}

// NewHTTPFetcher wraps httpClient. origin decides what counts as same-origin for the
// credentials mode.
func NewHTTPFetcher(httpClient *http.Client, origin *url.URL) *HTTPFetcher {
	return &HTTPFetcher{client: httpClient, origin: origin}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *models.Request) (*models.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL.String(), body)
	if err != nil {
		return nil, &TransportError{URL: req.URL.String(), Err: err}
	}

	for key, values := range req.Header {
		httpReq.Header[key] = append([]string(nil), values...)
	}
	for _, h := range hopHeaders {
		httpReq.Header.Del(h)
	}
	// Let the transport negotiate compression so it can decode transparently.
	httpReq.Header.Del("Accept-Encoding")
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", DefaultUserAgent)
	}
	if !f.sendCredentials(req) {
		httpReq.Header.Del("Cookie")
		httpReq.Header.Del("Authorization")
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	data, err := ReadResponseBody(resp)
	if err != nil {
		return nil, &TransportError{URL: req.URL.String(), Err: err}
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	return &models.Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     header,
		Body:       data,
		URL:        resp.Request.URL.String(),
	}, nil
}

func (f *HTTPFetcher) sendCredentials(req *models.Request) bool {
	switch req.Credentials {
	case models.CredentialsInclude:
		return true
	case models.CredentialsOmit:
		return false
	default:
		return f.origin != nil &&
			strings.EqualFold(req.URL.Scheme, f.origin.Scheme) &&
			strings.EqualFold(req.URL.Host, f.origin.Host)
	}
}

func statusText(resp *http.Response) string {
	// resp.Status is "200 OK"
	if _, text, ok := strings.Cut(resp.Status, " "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// ReadResponseBody reads the response body, handling gzip compression if necessary
func ReadResponseBody(resp *http.Response) ([]byte, error) {
	var reader io.ReadCloser
	var err error

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		reader, err = gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer reader.Close()
	default:
		reader = resp.Body
	}

	return io.ReadAll(reader)
}
