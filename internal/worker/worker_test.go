package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr4nk3nst1ner/offlineboard/internal/cachestore"
	"github.com/fr4nk3nst1ner/offlineboard/internal/config"
	"github.com/fr4nk3nst1ner/offlineboard/internal/lifecycle"
	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
	"github.com/fr4nk3nst1ner/offlineboard/internal/push"
	"github.com/fr4nk3nst1ner/offlineboard/internal/syncer"
	"github.com/fr4nk3nst1ner/offlineboard/internal/testutil"
)

const origin = "http://localhost:8000"

type fakePages struct {
	mu       sync.Mutex
	sent     []models.ClientNotification
	claims   int
	opened   []string
	hasPages bool
}

func (p *fakePages) Broadcast(ctx context.Context, n models.ClientNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}

func (p *fakePages) Claim(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claims++
	return nil
}

func (p *fakePages) OpenWindow(ctx context.Context, url string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = append(p.opened, url)
	return p.hasPages, nil
}

type recordingNotifier struct {
	shown []push.Notification
	err   error
}

func (r *recordingNotifier) ShowNotification(ctx context.Context, n push.Notification) error {
	r.shown = append(r.shown, n)
	return r.err
}

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	return releaseSettings(t, "v1")
}

func releaseSettings(t *testing.T, release string) config.Settings {
	t.Helper()
	settings, err := config.NewSettings(config.Config{Origin: origin, Release: release}, config.Manifest{
		StaticFiles:      []string{"/", "/css/style.css", "https://cdn.jsdelivr.net/npm/chart.js"},
		DataFiles:        []string{"/data/jobs.json", "/data/statistics.json"},
		CrossOriginHosts: []string{"cdn.jsdelivr.net"},
	})
	require.NoError(t, err)
	return settings
}

func serveAll(f *testutil.Fetcher) {
	f.Set(origin+"/", 200, "<html>shell</html>")
	f.Set(origin+"/css/style.css", 200, "body{}")
	f.Set("https://cdn.jsdelivr.net/npm/chart.js", 200, "chart()")
	f.Set(origin+"/data/jobs.json", 200, `[{"id":1}]`)
	f.Set(origin+"/data/statistics.json", 200, "{}")
}

type fixture struct {
	worker   *Worker
	storage  *cachestore.MemoryStorage
	fetcher  *testutil.Fetcher
	pages    *fakePages
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		storage:  cachestore.NewMemoryStorage(),
		fetcher:  testutil.NewFetcher(),
		pages:    &fakePages{hasPages: true},
		notifier: &recordingNotifier{},
	}
	serveAll(f.fetcher)
	f.worker = New(testSettings(t), f.storage, f.fetcher, testutil.Logger(),
		WithPages(f.pages), WithNotifier(f.notifier))
	t.Cleanup(f.worker.Wait)
	return f
}

// activated returns a fixture whose worker finished install and activation
func activated(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	require.NoError(t, f.worker.Dispatch(context.Background(), &Event{Kind: EventInstall}))
	require.Equal(t, StateActivated, f.worker.State())
	return f
}

func (f *fixture) fetch(t *testing.T, req *models.Request) (*models.Response, error) {
	t.Helper()
	ev := &Event{Kind: EventFetch, Request: req}
	err := f.worker.Dispatch(context.Background(), ev)
	return ev.Response, err
}

func navigation(rawURL string) *models.Request {
	req := testutil.MustRequest(rawURL)
	req.Destination = "document"
	req.Header.Set("Accept", "text/html")
	return req
}

func TestDispatchUnknownEvent(t *testing.T) {
	f := newFixture(t)
	err := f.worker.Dispatch(context.Background(), &Event{Kind: "periodicsync"})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestInstallActivatesWithoutWaiting(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, StateParsed, f.worker.State())

	var progress atomic.Int32
	ev := &Event{Kind: EventInstall, Progress: func(lifecycle.InstallResult) { progress.Add(1) }}
	require.NoError(t, f.worker.Dispatch(context.Background(), ev))

	assert.Equal(t, StateActivated, f.worker.State())
	assert.Equal(t, int32(5), progress.Load())
	assert.Equal(t, 1, f.pages.claims)

	has, err := f.storage.Has(context.Background(), "data-v1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestInstallTwiceIsRejected(t *testing.T) {
	f := activated(t)
	err := f.worker.Dispatch(context.Background(), &Event{Kind: EventInstall})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateActivated, f.worker.State())
}

func TestInstallFailureMakesWorkerRedundant(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.storage.Close())

	err := f.worker.Dispatch(context.Background(), &Event{Kind: EventInstall})
	assert.ErrorIs(t, err, cachestore.ErrClosed)
	assert.Equal(t, StateRedundant, f.worker.State())

	// a redundant worker may try again
	err = f.worker.Dispatch(context.Background(), &Event{Kind: EventInstall})
	assert.NotErrorIs(t, err, ErrInvalidState)
}

func TestActivateRequiresInstall(t *testing.T) {
	f := newFixture(t)
	err := f.worker.Dispatch(context.Background(), &Event{Kind: EventActivate})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateParsed, f.worker.State())
}

func TestActivateAgainKeepsState(t *testing.T) {
	f := activated(t)
	require.NoError(t, f.worker.Dispatch(context.Background(), &Event{Kind: EventActivate}))
	assert.Equal(t, StateActivated, f.worker.State())
}

func TestFetchPassesThroughBeforeActivation(t *testing.T) {
	f := newFixture(t)
	f.fetcher.SetOffline(true)

	resp, err := f.fetch(t, testutil.MustRequest(origin+"/css/style.css"))
	assert.ErrorIs(t, err, testutil.ErrOffline)
	assert.Nil(t, resp)
}

func TestFetchPassesThroughOutOfScope(t *testing.T) {
	f := activated(t)
	f.fetcher.Set("https://api.example.org/jobs", 200, "live")

	resp, err := f.fetch(t, testutil.MustRequest("https://api.example.org/jobs"))
	require.NoError(t, err)
	assert.Equal(t, "live", string(resp.Body))

	f.fetcher.SetOffline(true)
	_, err = f.fetch(t, testutil.MustRequest("https://api.example.org/jobs"))
	assert.ErrorIs(t, err, testutil.ErrOffline)
}

func TestFetchServesStaticFromCache(t *testing.T) {
	f := activated(t)
	f.fetcher.SetOffline(true)

	resp, err := f.fetch(t, testutil.MustRequest(origin+"/css/style.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(resp.Body))

	resp, err = f.fetch(t, testutil.MustRequest("https://cdn.jsdelivr.net/npm/chart.js"))
	require.NoError(t, err)
	assert.Equal(t, "chart()", string(resp.Body))
}

func TestFetchDataPassesServerErrorThrough(t *testing.T) {
	f := activated(t)
	f.fetcher.Set(origin+"/data/jobs.json", 500, "boom")

	resp, err := f.fetch(t, testutil.MustRequest(origin+"/data/jobs.json"))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.Status)

	// the cached copy is untouched and still serves offline
	f.fetcher.SetOffline(true)
	resp, err = f.fetch(t, testutil.MustRequest(origin+"/data/jobs.json"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, `[{"id":1}]`, string(resp.Body))
}

func TestOfflineNavigationGetsCachedRoot(t *testing.T) {
	f := activated(t)
	f.fetcher.SetOffline(true)

	resp, err := f.fetch(t, navigation(origin+"/jobs/42"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "<html>shell</html>", string(resp.Body))
}

func TestOfflineNavigationWithoutRootGetsOfflinePage(t *testing.T) {
	f := newFixture(t)
	f.fetcher.Set(origin+"/", 404, "")
	require.NoError(t, f.worker.Dispatch(context.Background(), &Event{Kind: EventInstall}))
	f.fetcher.SetOffline(true)

	resp, err := f.fetch(t, navigation(origin+"/about"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Contains(t, string(resp.Body), lifecycle.OfflineMarker)
}

func TestFailureBoundaryFallsBackAcrossGenerations(t *testing.T) {
	f := activated(t)
	ctx := context.Background()

	// an "other" request reads the static generation, but a copy lives in data
	data, err := f.storage.Open(ctx, "data-v1")
	require.NoError(t, err)
	req := testutil.MustRequest(origin + "/api/feed")
	require.NoError(t, data.Put(ctx, cachestore.RequestKey(req), testutil.Response(200, "stale feed")))

	f.fetcher.SetOffline(true)
	resp, err := f.fetch(t, req)
	require.NoError(t, err)
	assert.Equal(t, "stale feed", string(resp.Body))
}

func TestFailureBoundarySynthesizes503(t *testing.T) {
	f := activated(t)
	f.fetcher.SetOffline(true)

	resp, err := f.fetch(t, testutil.MustRequest(origin+"/img/logo.png"))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.Status)
	assert.Equal(t, "Service Unavailable", resp.StatusText)
	assert.Equal(t, "Offline: resource unavailable", string(resp.Body))
}

func TestFailureBoundaryDoesNotMatchNonGet(t *testing.T) {
	f := activated(t)
	f.fetcher.SetOffline(true)

	req := testutil.MustRequest(origin + "/css/style.css")
	req.Method = "POST"
	resp, err := f.fetch(t, req)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.Status)
}

func TestSyncEventBroadcastsUpdate(t *testing.T) {
	f := activated(t)
	f.fetcher.Set(origin+"/data/jobs.json", 200, `[{"id":2}]`)

	ev := &Event{Kind: EventSync, Tag: syncer.Tag}
	require.NoError(t, f.worker.Dispatch(context.Background(), ev))
	require.NotNil(t, ev.SyncReport)
	assert.True(t, ev.SyncReport.Notified)
	require.Len(t, f.pages.sent, 1)
	assert.Equal(t, models.NotificationDataUpdated, f.pages.sent[0].Type)

	ev = &Event{Kind: EventSync, Tag: "something-else"}
	require.NoError(t, f.worker.Dispatch(context.Background(), ev))
	assert.Nil(t, ev.SyncReport)
	assert.Len(t, f.pages.sent, 1)
}

func TestMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// SKIP_WAITING outside the installed state does nothing
	require.NoError(t, f.worker.Dispatch(ctx, &Event{Kind: EventMessage, Message: models.ControlMessage{Type: models.MessageSkipWaiting}}))
	assert.Equal(t, StateParsed, f.worker.State())

	require.NoError(t, f.worker.Dispatch(ctx, &Event{Kind: EventMessage, Message: models.ControlMessage{Type: "HELLO"}}))

	require.NoError(t, f.worker.Dispatch(ctx, &Event{Kind: EventInstall}))
	require.NoError(t, f.worker.Dispatch(ctx, &Event{Kind: EventMessage, Message: models.ControlMessage{Type: models.MessageRequestSync}}))
	require.Len(t, f.pages.sent, 1)
	assert.Equal(t, models.NotificationDataUpdated, f.pages.sent[0].Type)
}

func TestPushShowsNotification(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.worker.Dispatch(context.Background(), &Event{Kind: EventPush}))
	require.Len(t, f.notifier.shown, 1)
	n := f.notifier.shown[0]
	assert.Equal(t, push.DefaultTitle, n.Title)
	assert.Equal(t, origin+"/", n.URL)

	require.NoError(t, f.worker.Dispatch(context.Background(), &Event{Kind: EventPush, Push: models.PushPayload{URL: "/#/jobs"}}))
	require.Len(t, f.notifier.shown, 2)
	assert.Equal(t, origin+"/#/jobs", f.notifier.shown[1].URL)

	f.notifier.err = errors.New("bot blocked")
	err := f.worker.Dispatch(context.Background(), &Event{Kind: EventPush, Push: models.PushPayload{Title: "x"}})
	assert.ErrorContains(t, err, "bot blocked")
}

func TestNotificationClick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.worker.Dispatch(ctx, &Event{Kind: EventNotificationClick, Click: models.NotificationClick{Action: push.ActionDismiss}}))
	assert.Empty(t, f.pages.opened)

	require.NoError(t, f.worker.Dispatch(ctx, &Event{Kind: EventNotificationClick, Click: models.NotificationClick{Action: push.ActionView}}))
	require.NoError(t, f.worker.Dispatch(ctx, &Event{Kind: EventNotificationClick, Click: models.NotificationClick{Action: push.ActionView, URL: "/#/jobs"}}))
	assert.Equal(t, []string{origin + "/", origin + "/#/jobs"}, f.pages.opened)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "activated", StateActivated.String())
	assert.Equal(t, "redundant", StateRedundant.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestSupersededWorkerDoesNotRecreateEvictedGenerations(t *testing.T) {
	ctx := context.Background()
	old := activated(t)

	next := New(releaseSettings(t, "v2"), old.storage, old.fetcher, testutil.Logger())
	t.Cleanup(next.Wait)
	require.NoError(t, next.Dispatch(ctx, &Event{Kind: EventInstall}))
	require.Equal(t, StateActivated, next.State())

	names, err := old.storage.Names(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"static-v2", "data-v2"}, names)

	// the old worker keeps answering until it is swapped out
	resp, err := old.fetch(t, testutil.MustRequest(origin+"/css/style.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(resp.Body))
	resp, err = old.fetch(t, testutil.MustRequest(origin+"/data/jobs.json"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	old.worker.Wait()

	names, err = old.storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"static-v2", "data-v2"}, names)
}
