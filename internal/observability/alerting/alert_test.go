package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "SafeSwap-Chain/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (s *stubNotifier) Channel() Channel { return s.channel }

func (s *stubNotifier) Notify(_ context.Context, event Event) error {
	s.events = append(s.events, event)
	return s.err
}

func sampleEvent() Event {
	return Event{
		Code:        xerrors.Code("PARTIAL_EXECUTION"),
		Message:     "order posted but presign failed",
		Severity:    xerrors.SeverityCritical,
		TaskID:      "task-1",
		Kind:        "init_swap",
		UserAddress: "0xabc",
		Attempts:    1,
		MaxRetries:  3,
		Metadata:    map[string]string{"stage": "order_posted", "order_uid": "0x01"},
		OccurredAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	logStub := &stubNotifier{channel: ChannelLog}
	hookStub := &stubNotifier{channel: ChannelWebhook, err: errors.New("boom")}
	d := NewFanout(logStub, nil, hookStub)

	assert.Equal(t, []Channel{ChannelLog, ChannelWebhook}, d.Channels())

	err := d.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel webhook")
	require.Len(t, logStub.events, 1)
	assert.Equal(t, ChannelLog, logStub.events[0].Channel)
	require.Len(t, hookStub.events, 1)
}

func TestNilFanoutIsNoop(t *testing.T) {
	var d *FanoutDispatcher
	assert.NoError(t, d.Notify(context.Background(), sampleEvent()))
}

func TestLogNotifierWritesMetadata(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "PARTIAL_EXECUTION", line["code"])
	assert.Equal(t, "order_posted", line["meta.stage"])
	assert.Equal(t, "init_swap", line["kind"])
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	assert.True(t, strings.HasPrefix(got.Text, "[critical] PARTIAL_EXECUTION"))
	assert.Contains(t, got.Text, "- order_uid: 0x01")
	assert.Equal(t, "task-1", got.Event.TaskID)
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookNotifierRequiresURL(t *testing.T) {
	assert.Nil(t, NewWebhookNotifier("  ", time.Second))
	var n *WebhookNotifier
	assert.NoError(t, n.Notify(context.Background(), sampleEvent()))
}
