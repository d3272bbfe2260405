package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
	"github.com/fr4nk3nst1ner/offlineboard/internal/testutil"
)

func TestFromPayloadDefaults(t *testing.T) {
	n := FromPayload(models.PushPayload{}, "http://localhost:8000/")
	assert.Equal(t, DefaultTitle, n.Title)
	assert.Equal(t, DefaultBody, n.Body)
	assert.Equal(t, DefaultTag, n.Tag)
	assert.Equal(t, "http://localhost:8000/", n.URL)
	require.Len(t, n.Actions, 2)
	assert.Equal(t, ActionView, n.Actions[0].Action)
	assert.Equal(t, ActionDismiss, n.Actions[1].Action)

	n = FromPayload(models.PushPayload{Title: "Hiring", Body: "3 new roles", URL: "http://localhost:8000/#/jobs"}, "http://localhost:8000/")
	assert.Equal(t, "Hiring", n.Title)
	assert.Equal(t, "3 new roles", n.Body)
	assert.Equal(t, "http://localhost:8000/#/jobs", n.URL)

	n = FromPayload(models.PushPayload{URL: "/#/jobs"}, "http://localhost:8000/")
	assert.Equal(t, "http://localhost:8000/#/jobs", n.URL)

	n = FromPayload(models.PushPayload{URL: "saved"}, "http://localhost:8000/")
	assert.Equal(t, "http://localhost:8000/saved", n.URL)
}

type telegramStub struct {
	mu       sync.Mutex
	messages []telegramMessage
	paths    []string
	// statuses are returned in order; afterwards 200
	statuses []int
}

func (s *telegramStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msg telegramMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.messages = append(s.messages, msg)
	s.paths = append(s.paths, r.URL.Path)

	status := http.StatusOK
	if len(s.statuses) > 0 {
		status, s.statuses = s.statuses[0], s.statuses[1:]
	}
	w.WriteHeader(status)
	w.Write([]byte(`{"ok":true}`))
}

func TestTelegramNotifierSendsInlineActions(t *testing.T) {
	stub := &telegramStub{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	notifier := NewTelegramNotifier(srv.URL, "TOKEN", "42", srv.Client(), testutil.Logger())
	n := FromPayload(models.PushPayload{Title: "New jobs!"}, "http://localhost:8000/")
	require.NoError(t, notifier.ShowNotification(context.Background(), n))

	require.Len(t, stub.messages, 1)
	assert.Equal(t, "/botTOKEN/sendMessage", stub.paths[0])

	msg := stub.messages[0]
	assert.Equal(t, "42", msg.ChatID)
	assert.Equal(t, "MarkdownV2", msg.ParseMode)
	assert.Contains(t, msg.Text, "New jobs\\!")
	require.NotNil(t, msg.ReplyMarkup)
	require.Len(t, msg.ReplyMarkup.InlineKeyboard, 1)

	row := msg.ReplyMarkup.InlineKeyboard[0]
	require.Len(t, row, 2)
	assert.Equal(t, "View", row[0].Text)
	assert.Equal(t, "http://localhost:8000/", row[0].URL)
	assert.Equal(t, "Dismiss", row[1].Text)
	assert.Equal(t, ActionDismiss, row[1].CallbackData)
}

func TestTelegramNotifierFallsBackToPlainText(t *testing.T) {
	stub := &telegramStub{statuses: []int{http.StatusBadRequest}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	notifier := NewTelegramNotifier(srv.URL, "TOKEN", "42", srv.Client(), testutil.Logger())
	require.NoError(t, notifier.ShowNotification(context.Background(), FromPayload(models.PushPayload{}, "http://localhost:8000/")))

	require.Len(t, stub.messages, 2)
	assert.NotNil(t, stub.messages[0].ReplyMarkup)
	assert.Empty(t, stub.messages[1].ParseMode)
	assert.Nil(t, stub.messages[1].ReplyMarkup)
	assert.Equal(t, DefaultTitle+"\n\n"+DefaultBody, stub.messages[1].Text)
}

func TestTelegramNotifierReportsFailure(t *testing.T) {
	stub := &telegramStub{statuses: []int{http.StatusUnauthorized, http.StatusUnauthorized}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	notifier := NewTelegramNotifier(srv.URL, "BAD", "42", srv.Client(), testutil.Logger())
	err := notifier.ShowNotification(context.Background(), FromPayload(models.PushPayload{}, "http://localhost:8000/"))
	assert.ErrorContains(t, err, "401")
}

func TestTelegramNotifierViewButtonGetsAbsoluteURL(t *testing.T) {
	stub := &telegramStub{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	notifier := NewTelegramNotifier(srv.URL, "TOKEN", "42", srv.Client(), testutil.Logger())
	n := FromPayload(models.PushPayload{URL: "/"}, "http://localhost:8000/")
	require.NoError(t, notifier.ShowNotification(context.Background(), n))

	require.Len(t, stub.messages, 1)
	assert.Equal(t, "http://localhost:8000/", stub.messages[0].ReplyMarkup.InlineKeyboard[0][0].URL)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `Senior \(Remote\) \- 2\.0\!`, escapeMarkdown("Senior (Remote) - 2.0!"))
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, LogNotifier{Logger: testutil.Logger()}.ShowNotification(context.Background(), FromPayload(models.PushPayload{}, "/")))
}
