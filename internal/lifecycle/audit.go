package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fr4nk3nst1ner/offlineboard/internal/cachestore"
	"github.com/fr4nk3nst1ner/offlineboard/internal/classify"
)

// AuditReport lists shell assets the cached root document references but the static
// generation does not hold. Those requests will fail offline.
type AuditReport struct {
	Root       string
	Referenced []string
	Missing    []string
}

// Audit parses the cached root document and checks every stylesheet, script, icon and
// image it references against the static generation. Only assets the worker would
// intercept are considered.
func (m *Manager) Audit(ctx context.Context, scope *classify.Scope) (AuditReport, error) {
	root := m.settings.Origin.ResolveReference(&url.URL{Path: "/"})
	report := AuditReport{Root: root.String()}

	static, err := m.storage.Lookup(ctx, m.settings.Generations.Static)
	if err != nil {
		return report, fmt.Errorf("open static generation: %w", err)
	}
	entry, err := static.Match(ctx, cachestore.URLKey(report.Root))
	if err != nil {
		return report, fmt.Errorf("root document: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(entry.Response.Body))
	if err != nil {
		return report, fmt.Errorf("parse root document: %w", err)
	}

	seen := make(map[string]struct{})
	collect := func(selector, attr string) {
		doc.Find(selector).Each(func(i int, s *goquery.Selection) {
			ref, ok := s.Attr(attr)
			if !ok || strings.TrimSpace(ref) == "" || strings.HasPrefix(ref, "data:") {
				return
			}
			u, err := url.Parse(strings.TrimSpace(ref))
			if err != nil {
				return
			}
			abs := root.ResolveReference(u)
			abs.Fragment = ""
			if scope != nil && !scope.Intercepts(abs) {
				return
			}
			seen[abs.String()] = struct{}{}
		})
	}
	collect("link[rel=stylesheet]", "href")
	collect("link[rel~=icon]", "href")
	collect("link[rel=manifest]", "href")
	collect("script[src]", "src")
	collect("img[src]", "src")

	for ref := range seen {
		report.Referenced = append(report.Referenced, ref)
		if _, err := static.Match(ctx, cachestore.URLKey(ref)); err != nil {
			report.Missing = append(report.Missing, ref)
		}
	}
	sort.Strings(report.Referenced)
	sort.Strings(report.Missing)
	return report, nil
}
