// Package classify maps outbound requests to the cache class that selects their
// fetch strategy.
package classify

import (
	"net/url"
	"strings"

	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
)

// Class is the derived category of a request
type Class int

const (
	Other Class = iota
	DataFile
	StaticAsset
	HTMLNavigation
)

func (c Class) String() string {
	switch c {
	case DataFile:
		return "data-file"
	case StaticAsset:
		return "static-asset"
	case HTMLNavigation:
		return "html-navigation"
	default:
		return "other"
	}
}

const dataPrefix = "/data/"

var staticSuffixes = []string{".css", ".js", ".png", ".jpg", ".svg", ".ico"}

type rule struct {
	class Class
	match func(req *models.Request) bool
}

// rules are evaluated in order and the first match wins. DataFile must stay ahead of
// StaticAsset: a JSON file under a static path is data.
var rules = []rule{
	{DataFile, isDataFile},
	{StaticAsset, isStaticFile},
	{HTMLNavigation, IsNavigation},
}

// Classify returns the class of req. It is pure and never performs I/O.
func Classify(req *models.Request) Class {
	for _, r := range rules {
		if r.match(req) {
			return r.class
		}
	}
	return Other
}

func isDataFile(req *models.Request) bool {
	p := req.URL.Path
	return strings.HasPrefix(p, dataPrefix) || strings.HasSuffix(p, ".json")
}

func isStaticFile(req *models.Request) bool {
	p := req.URL.Path
	for _, suffix := range staticSuffixes {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

// IsNavigation reports whether req asks for an HTML document
func IsNavigation(req *models.Request) bool {
	if req.Destination == "document" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// Scope decides which requests the worker intercepts: the hosting origin plus a fixed
// allow-list of content-delivery hosts.
type Scope struct {
	origin *url.URL
	hosts  map[string]struct{}
}

// NewScope builds a Scope for origin and the allow-listed hosts
func NewScope(origin *url.URL, hosts []string) *Scope {
	s := &Scope{origin: origin, hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		s.hosts[strings.ToLower(h)] = struct{}{}
	}
	return s
}

// IsCrossOriginAllowed reports whether u points at an allow-listed external host
func (s *Scope) IsCrossOriginAllowed(u *url.URL) bool {
	_, ok := s.hosts[strings.ToLower(u.Hostname())]
	return ok
}

// SameOrigin reports whether u shares scheme and host with the hosting origin
func (s *Scope) SameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, s.origin.Scheme) && strings.EqualFold(u.Host, s.origin.Host)
}

// Intercepts reports whether requests to u go through the caching strategies.
// Everything else passes through untouched.
func (s *Scope) Intercepts(u *url.URL) bool {
	return s.SameOrigin(u) || s.IsCrossOriginAllowed(u)
}
