package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/fr4nk3nst1ner/offlineboard/internal/cachestore"
	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
)

// OfflineMarker is the text every synthesized offline page contains
const OfflineMarker = "You are offline"

const offlineHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Offline - Job Board</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background: #f5f9fb;
            color: #2c3e50;
        }
        .offline-container {
            text-align: center;
            padding: 2rem;
            background: white;
            border-radius: 1rem;
            box-shadow: 0 4px 6px rgba(0,0,0,0.1);
        }
        p { margin-bottom: 1.5rem; color: #64748b; }
        button {
            background: #a8d8ea;
            color: #2c3e50;
            border: none;
            padding: 0.75rem 1.5rem;
            border-radius: 0.5rem;
            cursor: pointer;
            font-size: 1rem;
        }
    </style>
</head>
<body>
    <div class="offline-container">
        <h1 id="offline-title">` + OfflineMarker + `</h1>
        <p>Some features may be unavailable.<br>Check your network connection and try again.</p>
        <button onclick="window.location.reload()">Reload</button>
    </div>
</body>
</html>
`

// OfflinePage returns the document served when a navigation can be satisfied by
// neither network nor cache: the cached root document if the static generation has
// one, otherwise a self-contained offline page.
func (m *Manager) OfflinePage(ctx context.Context) *models.Response {
	root := m.settings.Origin.ResolveReference(&url.URL{Path: "/"})
	static, err := m.storage.Lookup(ctx, m.settings.Generations.Static)
	switch {
	case err == nil:
		entry, err := static.Match(ctx, cachestore.URLKey(root.String()))
		if err == nil {
			return entry.Response
		}
		if !errors.Is(err, cachestore.ErrNotFound) {
			m.logger.Warn("offline root lookup failed", "error", err)
		}
	case !errors.Is(err, cachestore.ErrNotFound):
		m.logger.Warn("open static generation failed", "error", err)
	}

	return SynthesizedOfflinePage()
}

// SynthesizedOfflinePage builds the minimal offline document
func SynthesizedOfflinePage() *models.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return &models.Response{
		Status:     http.StatusOK,
		StatusText: http.StatusText(http.StatusOK),
		Header:     header,
		Body:       []byte(offlineHTML),
	}
}
