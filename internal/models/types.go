package models

import (
	"net/http"
	"net/url"
	"time"
)

// Credentials modes carried on a Request
const (
	CredentialsOmit       = "omit"
	CredentialsSameOrigin = "same-origin"
	CredentialsInclude    = "include"
)

// Request is a fetch-compatible outbound request seen by the worker
type Request struct {
	Method      string
	URL         *url.URL
	Header      http.Header
	Destination string // "document", "script", "style", ... ("" when unknown)
	Credentials string
	Body        []byte
}

// NewRequest builds a GET request for an absolute URL
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method:      http.MethodGet,
		URL:         u,
		Header:      http.Header{},
		Credentials: CredentialsSameOrigin,
	}, nil
}

// Response is a fully buffered response, replayable any number of times
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	URL        string
}

// Clone returns a deep copy so a stored response and a returned one never share state
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// CacheEntry is one stored response inside a cache generation
type CacheEntry struct {
	RequestKey string    `json:"request_key"`
	Response   *Response `json:"-"`
	StoredAt   time.Time `json:"stored_at"`
}

// Notification and control message types exchanged with pages
const (
	NotificationDataUpdated = "DATA_UPDATED"
	MessageSkipWaiting      = "SKIP_WAITING"
	MessageRequestSync      = "REQUEST_SYNC"
	MessageClaimed          = "CLAIMED"
	MessageNavigate         = "NAVIGATE"
)

// ClientNotification is broadcast to every connected page
type ClientNotification struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	URL       string `json:"url,omitempty"`
}

// ControlMessage is an inbound message from a page
type ControlMessage struct {
	Type string `json:"type"`
}

// PushPayload is the body of a platform push event
type PushPayload struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	URL   string `json:"url,omitempty"`
}

// NotificationClick reports which action the user picked on a notification
type NotificationClick struct {
	Action string `json:"action"`
	URL    string `json:"url,omitempty"`
}

// Job represents a listing in /data/jobs.json
type Job struct {
	ID           int      `json:"id"`
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Type         string   `json:"type,omitempty"`
	Direction    string   `json:"direction,omitempty"`
	Source       string   `json:"source,omitempty"`
	Code         string   `json:"code,omitempty"`
	Date         string   `json:"date,omitempty"`
	Description  string   `json:"description,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

// Statistics represents /data/statistics.json
type Statistics struct {
	TotalJobs   int            `json:"total_jobs"`
	UpdateTime  string         `json:"update_time"`
	TodayJobs   int            `json:"today_jobs"`
	BySource    map[string]int `json:"by_source,omitempty"`
	ByType      map[string]int `json:"by_type,omitempty"`
	ByDirection map[string]int `json:"by_direction,omitempty"`
	ByCompany   map[string]int `json:"by_company,omitempty"`
}
