// Package worker wires the caching components into one event-driven worker. Every
// platform event goes through a single dispatch table keyed by EventKind.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fr4nk3nst1ner/offlineboard/internal/cachestore"
	"github.com/fr4nk3nst1ner/offlineboard/internal/classify"
	"github.com/fr4nk3nst1ner/offlineboard/internal/client"
	"github.com/fr4nk3nst1ner/offlineboard/internal/config"
	"github.com/fr4nk3nst1ner/offlineboard/internal/lifecycle"
	"github.com/fr4nk3nst1ner/offlineboard/internal/metrics"
	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
	"github.com/fr4nk3nst1ner/offlineboard/internal/push"
	"github.com/fr4nk3nst1ner/offlineboard/internal/strategy"
	"github.com/fr4nk3nst1ner/offlineboard/internal/syncer"
	"github.com/fr4nk3nst1ner/offlineboard/internal/telemetry"
)

// EventKind names a platform event
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventSync              EventKind = "sync"
	EventMessage           EventKind = "message"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
)

var (
	// ErrUnknownEvent is returned by Dispatch for a kind with no handler
	ErrUnknownEvent = errors.New("unknown event kind")
	// ErrInvalidState is returned when an event does not apply to the current state
	ErrInvalidState = errors.New("invalid worker state")
)

// Event carries the input of one dispatch and, for fetch and sync, its output
type Event struct {
	Kind EventKind

	// fetch
	Request  *models.Request
	Response *models.Response

	// install
	Progress func(lifecycle.InstallResult)

	// sync
	Tag        string
	SyncReport *syncer.Report

	Message models.ControlMessage
	Push    models.PushPayload
	Click   models.NotificationClick
}

// Handler processes one event; a nil return is the completion signal
type Handler func(ctx context.Context, ev *Event) error

// State is the worker lifecycle state
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Pages is the channel to open pages
type Pages interface {
	syncer.Broadcaster
	lifecycle.Claimer
	OpenWindow(ctx context.Context, url string) (bool, error)
}

type options struct {
	pages       Pages
	notifier    push.Notifier
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	concurrency int
}

// Option configures a Worker
type Option func(*options)

// WithPages connects the worker to open pages
func WithPages(p Pages) Option {
	return func(o *options) { o.pages = p }
}

// WithNotifier sets where push notifications are shown
func WithNotifier(n push.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithMetrics records request and cache metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer overrides the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithInstallConcurrency bounds parallel pre-population fetches
func WithInstallConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// Worker intercepts requests for one origin and owns its cache generations
type Worker struct {
	settings  config.Settings
	scope     *classify.Scope
	storage   cachestore.Storage
	fetcher   client.Fetcher
	engine    *strategy.Engine
	lifecycle *lifecycle.Manager
	syncer    *syncer.Syncer
	pages     Pages
	notifier  push.Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	mu    sync.RWMutex
	state State

	handlers map[EventKind]Handler
}

// New builds a worker in the parsed state
func New(settings config.Settings, storage cachestore.Storage, fetcher client.Fetcher, logger *slog.Logger, opts ...Option) *Worker {
	o := options{concurrency: 4}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = telemetry.Tracer()
	}
	if o.notifier == nil {
		o.notifier = push.LogNotifier{Logger: logger}
	}

	var (
		claimer     lifecycle.Claimer
		broadcaster syncer.Broadcaster
	)
	if o.pages != nil {
		claimer, broadcaster = o.pages, o.pages
	}

	w := &Worker{
		settings: settings,
		scope:    classify.NewScope(settings.Origin, settings.CrossOriginHosts),
		storage:  storage,
		fetcher:  fetcher,
		engine:   strategy.New(storage, fetcher, settings.Generations, logger, o.metrics),
		lifecycle: lifecycle.New(settings, storage, fetcher, claimer, logger,
			lifecycle.WithConcurrency(o.concurrency), lifecycle.WithMetrics(o.metrics)),
		syncer:   syncer.New(settings.DataURLs, settings.Generations.Data, storage, fetcher, broadcaster, logger, o.metrics),
		pages:    o.pages,
		notifier: o.notifier,
		logger:   logger,
		metrics:  o.metrics,
		tracer:   o.tracer,
		state:    StateParsed,
	}
	w.handlers = map[EventKind]Handler{
		EventInstall:           w.onInstall,
		EventActivate:          w.onActivate,
		EventFetch:             w.onFetch,
		EventSync:              w.onSync,
		EventMessage:           w.onMessage,
		EventPush:              w.onPush,
		EventNotificationClick: w.onNotificationClick,
	}
	return w
}

// Dispatch routes ev to its handler
func (w *Worker) Dispatch(ctx context.Context, ev *Event) error {
	h, ok := w.handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
	return h(ctx, ev)
}

// State returns the current lifecycle state
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

// Settings returns the resolved configuration
func (w *Worker) Settings() config.Settings {
	return w.settings
}

// Intercepts reports whether requests to u are in the worker's scope
func (w *Worker) Intercepts(u *url.URL) bool {
	return w.scope.Intercepts(u)
}

// Lifecycle exposes the generation manager for offline tooling
func (w *Worker) Lifecycle() *lifecycle.Manager {
	return w.lifecycle
}

// Wait blocks until background cache refreshes started so far are done
func (w *Worker) Wait() {
	w.engine.Wait()
}

// SkipWaiting activates an install that is waiting. In any other state it does nothing.
func (w *Worker) SkipWaiting(ctx context.Context) error {
	if w.State() != StateInstalled {
		return nil
	}
	return w.Dispatch(ctx, &Event{Kind: EventActivate})
}

func (w *Worker) onInstall(ctx context.Context, ev *Event) error {
	w.mu.Lock()
	if w.state != StateParsed && w.state != StateRedundant {
		cur := w.state
		w.mu.Unlock()
		return fmt.Errorf("install in state %s: %w", cur, ErrInvalidState)
	}
	w.state = StateInstalling
	w.mu.Unlock()

	report, err := w.lifecycle.Install(ctx, ev.Progress)
	if err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("install: %w", err)
	}
	w.setState(StateInstalled)
	if failed := report.Failed(); len(failed) > 0 {
		w.logger.Warn("installed with missing entries", "failed", len(failed))
	}

	return w.SkipWaiting(ctx)
}

func (w *Worker) onActivate(ctx context.Context, ev *Event) error {
	w.mu.Lock()
	prev := w.state
	switch prev {
	case StateInstalled:
		w.state = StateActivating
	case StateActivated:
	default:
		w.mu.Unlock()
		return fmt.Errorf("activate in state %s: %w", prev, ErrInvalidState)
	}
	w.mu.Unlock()

	if _, err := w.lifecycle.Activate(ctx); err != nil {
		w.setState(prev)
		return fmt.Errorf("activate: %w", err)
	}
	w.setState(StateActivated)
	return nil
}

func (w *Worker) onFetch(ctx context.Context, ev *Event) error {
	if ev.Request == nil || ev.Request.URL == nil {
		return errors.New("fetch event without request")
	}
	resp, err := w.HandleFetch(ctx, ev.Request)
	ev.Response = resp
	return err
}

// HandleFetch answers one intercepted request. Requests outside the scope, and every
// request before activation, go straight to the network and may fail. Intercepted
// requests never fail: the failure boundary turns errors into a cached copy, the
// offline document, or a 503.
func (w *Worker) HandleFetch(ctx context.Context, req *models.Request) (*models.Response, error) {
	if w.State() != StateActivated || !w.scope.Intercepts(req.URL) {
		w.metrics.Request("passthrough", "network")
		return w.fetcher.Fetch(ctx, req)
	}

	class := classify.Classify(req)
	ctx, span := w.tracer.Start(ctx, "worker.fetch", trace.WithAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL.String()),
		attribute.String("offlineboard.class", class.String()),
	))
	defer span.End()

	resp, err := w.respond(ctx, req, class)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "strategy failed")
		resp = w.recover(ctx, req, class, err)
	} else {
		w.metrics.Request(class.String(), "served")
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
	return resp, nil
}

func (w *Worker) respond(ctx context.Context, req *models.Request, class classify.Class) (*models.Response, error) {
	store := w.engine.StoreFor(class)
	switch {
	case class == classify.DataFile:
		return w.engine.NetworkFirst(ctx, req, store)
	case class == classify.StaticAsset, w.scope.IsCrossOriginAllowed(req.URL):
		return w.engine.CacheFirst(ctx, req, store)
	default:
		return w.engine.NetworkFirst(ctx, req, store)
	}
}

// recover is the failure boundary behind every strategy
func (w *Worker) recover(ctx context.Context, req *models.Request, class classify.Class, cause error) *models.Response {
	w.logger.Warn("request failed", "url", req.URL.String(), "class", class.String(), "error", cause)

	if classify.IsNavigation(req) {
		w.metrics.Request(class.String(), "offline")
		return w.lifecycle.OfflinePage(ctx)
	}

	if req.Method == "" || req.Method == http.MethodGet {
		entry, err := w.storage.Match(ctx, cachestore.RequestKey(req))
		if err == nil {
			w.metrics.Request(class.String(), "fallback")
			return entry.Response
		}
		if !errors.Is(err, cachestore.ErrNotFound) {
			w.logger.Warn("fallback lookup failed", "url", req.URL.String(), "error", err)
		}
	}

	w.metrics.Request(class.String(), "unavailable")
	return Unavailable()
}

// Unavailable is the synthetic response for a request neither network nor cache can serve
func Unavailable() *models.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return &models.Response{
		Status:     http.StatusServiceUnavailable,
		StatusText: "Service Unavailable",
		Header:     header,
		Body:       []byte("Offline: resource unavailable"),
	}
}

func (w *Worker) onSync(ctx context.Context, ev *Event) error {
	report, err := w.syncer.HandleSync(ctx, ev.Tag)
	ev.SyncReport = report
	return err
}

// onMessage acts on SKIP_WAITING and REQUEST_SYNC; anything else is ignored
func (w *Worker) onMessage(ctx context.Context, ev *Event) error {
	switch ev.Message.Type {
	case models.MessageSkipWaiting:
		return w.SkipWaiting(ctx)
	case models.MessageRequestSync:
		return w.Dispatch(ctx, &Event{Kind: EventSync, Tag: syncer.Tag})
	default:
		w.logger.Debug("ignoring message", "type", ev.Message.Type)
		return nil
	}
}

func (w *Worker) onPush(ctx context.Context, ev *Event) error {
	n := push.FromPayload(ev.Push, w.root())
	if err := w.notifier.ShowNotification(ctx, n); err != nil {
		return fmt.Errorf("show notification: %w", err)
	}
	return nil
}

// onNotificationClick opens the app for "view"; every other action only closes
func (w *Worker) onNotificationClick(ctx context.Context, ev *Event) error {
	if ev.Click.Action != push.ActionView {
		return nil
	}

	target := w.root()
	if ev.Click.URL != "" {
		u, err := url.Parse(ev.Click.URL)
		if err != nil {
			return fmt.Errorf("notification url: %w", err)
		}
		target = w.settings.Origin.ResolveReference(u).String()
	}

	if w.pages == nil {
		w.logger.Info("no page channel, cannot open window", "url", target)
		return nil
	}
	opened, err := w.pages.OpenWindow(ctx, target)
	if err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	if !opened {
		w.logger.Info("no open page to focus", "url", target)
	}
	return nil
}

func (w *Worker) root() string {
	return w.settings.Origin.ResolveReference(&url.URL{Path: "/"}).String()
}
