package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
	"github.com/fr4nk3nst1ner/offlineboard/internal/notify"
	"github.com/fr4nk3nst1ner/offlineboard/internal/syncer"
)

const (
	maxControlBody = 64 * 1024
	maxFetchBody   = 10 << 20
)

// Server is the HTTP face of the worker. Origin-form requests are served as if they were
// made to the hosting origin; absolute-form requests make it a forward proxy.
type Server struct {
	current atomic.Pointer[Worker]
	hub     *notify.Hub
	router  *mux.Router
	logger  *slog.Logger
}

// NewServer creates a Server for w. hub may be nil when pages cannot connect;
// gatherer nil means the default Prometheus registry.
func NewServer(w *Worker, hub *notify.Hub, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{hub: hub, logger: logger}
	s.current.Store(w)

	r := mux.NewRouter()
	r.SkipClean(true)
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/__worker").Subrouter()
	if hub != nil {
		api.Handle("/ws", hub)
		hub.OnMessage(s.onPageMessage)
	}
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handleMessage).Methods(http.MethodPost)
	api.HandleFunc("/push", s.handlePush).Methods(http.MethodPost)
	api.HandleFunc("/notificationclick", s.handleNotificationClick).Methods(http.MethodPost)

	r.PathPrefix("/").HandlerFunc(s.handleFetch)
	s.router = r
	return s
}

// Worker returns the worker currently serving requests
func (s *Server) Worker() *Worker {
	return s.current.Load()
}

// Swap installs a new worker for subsequent requests and returns the previous one
func (s *Server) Swap(w *Worker) *Worker {
	return s.current.Swap(w)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// absolute-form requests are proxied whatever their path
	if r.URL.IsAbs() {
		s.handleFetch(w, r)
		return
	}
	s.router.ServeHTTP(w, r)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type statusView struct {
	State           string `json:"state"`
	StaticGen       string `json:"static_generation"`
	DataGen         string `json:"data_generation"`
	Pages           int    `json:"pages"`
	ControlledPages int    `json:"controlled_pages"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	wk := s.Worker()
	view := statusView{
		State:     wk.State().String(),
		StaticGen: wk.Settings().Generations.Static,
		DataGen:   wk.Settings().Generations.Data,
	}
	if s.hub != nil {
		view.Pages = s.hub.Count()
		view.ControlledPages = s.hub.Controlled()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		tag = syncer.Tag
	}
	ev := &Event{Kind: EventSync, Tag: tag}
	if err := s.Worker().Dispatch(r.Context(), ev); err != nil {
		s.logger.Error("sync failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ev.SyncReport == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, syncView(ev.SyncReport))
}

type fileView struct {
	URL    string `json:"url"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type syncReportView struct {
	Timestamp int64      `json:"timestamp"`
	Notified  bool       `json:"notified"`
	Updated   int        `json:"updated"`
	Files     []fileView `json:"files"`
}

func syncView(r *syncer.Report) syncReportView {
	v := syncReportView{Timestamp: r.Timestamp, Notified: r.Notified, Updated: r.Updated()}
	for _, f := range r.Files {
		fv := fileView{URL: f.URL, Status: f.Status}
		if f.Err != nil {
			fv.Error = f.Err.Error()
		}
		v.Files = append(v.Files, fv)
	}
	return v
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.ControlMessage
	if err := decodeBody(r, &msg); err != nil {
		// malformed messages are ignored, not errors
		s.logger.Debug("ignoring malformed message", "error", err)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.dispatchAsync(&Event{Kind: EventMessage, Message: msg})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var p models.PushPayload
	if err := decodeBody(r, &p); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid push payload", http.StatusBadRequest)
		return
	}
	if err := s.Worker().Dispatch(r.Context(), &Event{Kind: EventPush, Push: p}); err != nil {
		s.logger.Warn("push failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	var click models.NotificationClick
	if err := decodeBody(r, &click); err != nil {
		http.Error(w, "invalid notification click", http.StatusBadRequest)
		return
	}
	if err := s.Worker().Dispatch(r.Context(), &Event{Kind: EventNotificationClick, Click: click}); err != nil {
		s.logger.Warn("notification click failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// onPageMessage handles control messages arriving over the page channel
func (s *Server) onPageMessage(ctx context.Context, msg models.ControlMessage) {
	s.dispatchAsync(&Event{Kind: EventMessage, Message: msg})
}

// dispatchAsync runs a control message without holding up the sender
func (s *Server) dispatchAsync(ev *Event) {
	wk := s.Worker()
	go func() {
		if err := wk.Dispatch(context.Background(), ev); err != nil {
			s.logger.Warn("message handling failed", "type", ev.Message.Type, "error", err)
		}
	}()
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "CONNECT is not supported", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	wk := s.Worker()
	// absolute-form requests are only relayed for hosts the worker serves
	if r.URL.IsAbs() && !wk.Intercepts(r.URL) {
		http.Error(w, "host not served by this worker", http.StatusForbidden)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFetchBody)
	req, err := toRequest(r, wk.Settings().Origin)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}

	ev := &Event{Kind: EventFetch, Request: req}
	if err := wk.Dispatch(r.Context(), ev); err != nil {
		s.logger.Warn("upstream fetch failed", "url", req.URL.String(), "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	writeResponse(w, ev.Response)
	s.logger.Debug("served",
		"method", req.Method,
		"url", req.URL.String(),
		"status", ev.Response.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// toRequest converts an inbound HTTP request into a worker request against origin
func toRequest(r *http.Request, origin *url.URL) (*models.Request, error) {
	u := *r.URL
	if !u.IsAbs() {
		u.Scheme = origin.Scheme
		u.Host = origin.Host
	}
	u.Fragment = ""

	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}

	header := r.Header.Clone()
	dest := header.Get("Sec-Fetch-Dest")
	if dest == "" && header.Get("Sec-Fetch-Mode") == "navigate" {
		dest = "document"
	}

	return &models.Request{
		Method:      r.Method,
		URL:         &u,
		Header:      header,
		Destination: dest,
		Credentials: models.CredentialsSameOrigin,
		Body:        body,
	}, nil
}

func writeResponse(w http.ResponseWriter, resp *models.Response) {
	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
