// Package testutil holds fakes shared by the package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/fr4nk3nst1ner/offlineboard/internal/client"
	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
)

// ErrOffline is the cause of every transport failure the fake produces
var ErrOffline = errors.New("network unreachable")

// Route is the scripted answer for one URL
type Route struct {
	Status int
	Body   string
	Header http.Header
	Fail   bool
	// Gate, when set, holds the fetch until it is closed
	Gate <-chan struct{}
}

// Fetcher is a scriptable client.Fetcher keyed by absolute URL
type Fetcher struct {
	mu      sync.Mutex
	routes  map[string]Route
	calls   map[string]int
	offline bool
}

// NewFetcher returns a fetcher with no routes; unknown URLs fail like a dead network
func NewFetcher() *Fetcher {
	return &Fetcher{routes: map[string]Route{}, calls: map[string]int{}}
}

// Set answers url with status and body
func (f *Fetcher) Set(url string, status int, body string) {
	f.Route(url, Route{Status: status, Body: body})
}

// Fail makes url fail at the transport level
func (f *Fetcher) Fail(url string) {
	f.Route(url, Route{Fail: true})
}

// Route installs a full route for url
func (f *Fetcher) Route(url string, r Route) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[url] = r
}

// SetOffline fails every fetch while on
func (f *Fetcher) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// Calls returns how many times url was fetched
func (f *Fetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *Fetcher) Fetch(ctx context.Context, req *models.Request) (*models.Response, error) {
	u := req.URL.String()

	f.mu.Lock()
	f.calls[u]++
	r, ok := f.routes[u]
	offline := f.offline
	f.mu.Unlock()

	if r.Gate != nil {
		select {
		case <-r.Gate:
		case <-ctx.Done():
			return nil, &client.TransportError{URL: u, Err: ctx.Err()}
		}
	}
	if offline || !ok || r.Fail {
		return nil, &client.TransportError{URL: u, Err: ErrOffline}
	}

	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &models.Response{
		Status:     r.Status,
		StatusText: http.StatusText(r.Status),
		Header:     header,
		Body:       []byte(r.Body),
		URL:        u,
	}, nil
}

// Logger discards everything
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Response builds a buffered response
func Response(status int, body string) *models.Response {
	return &models.Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte(body),
	}
}

// MustRequest builds a GET request or panics
func MustRequest(rawURL string) *models.Request {
	req, err := models.NewRequest(rawURL)
	if err != nil {
		panic(fmt.Sprintf("bad test url %q: %v", rawURL, err))
	}
	return req
}
