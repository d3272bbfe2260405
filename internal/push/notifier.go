// Package push turns platform push events into user-visible notifications.
package push

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
)

// Notification actions
const (
	ActionView    = "view"
	ActionDismiss = "dismiss"
)

const (
	DefaultTitle = "Referral Board"
	DefaultBody  = "New job listings are available!"
	DefaultTag   = "job-update"
)

// Action is a button shown on a notification
type Action struct {
	Action string
	Title  string
}

// Notification is what the user sees for one push
type Notification struct {
	Title   string
	Body    string
	Tag     string
	URL     string
	Actions []Action
}

// Notifier displays notifications
type Notifier interface {
	ShowNotification(ctx context.Context, n Notification) error
}

// FromPayload builds the notification for a push. Missing fields fall back to the
// defaults; the target URL defaults to root and relative URLs are resolved against it.
func FromPayload(p models.PushPayload, root string) Notification {
	n := Notification{
		Title: DefaultTitle,
		Body:  DefaultBody,
		Tag:   DefaultTag,
		URL:   root,
		Actions: []Action{
			{Action: ActionView, Title: "View"},
			{Action: ActionDismiss, Title: "Dismiss"},
		},
	}
	if t := strings.TrimSpace(p.Title); t != "" {
		n.Title = t
	}
	if b := strings.TrimSpace(p.Body); b != "" {
		n.Body = b
	}
	if u := strings.TrimSpace(p.URL); u != "" {
		n.URL = resolve(root, u)
	}
	return n
}

// resolve returns ref against base, or ref unchanged when either does not parse
func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// LogNotifier writes notifications to the log. Used when no Telegram bot is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) ShowNotification(ctx context.Context, n Notification) error {
	l.Logger.InfoContext(ctx, "notification", "title", n.Title, "body", n.Body, "tag", n.Tag, "url", n.URL)
	return nil
}
