package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sentinel/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackNotifierPostsText(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(config.SlackConfig{WebhookURL: srv.URL})
	require.NoError(t, n.Notify(context.Background(), testEvent()))
	assert.Contains(t, got["text"], "homepage")
	assert.Contains(t, got["text"], "is not available")
}

func TestSlackNotifierSurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewSlackNotifier(config.SlackConfig{WebhookURL: srv.URL})
	assert.Error(t, n.Notify(context.Background(), testEvent()))
}

func TestPagerDutyTriggerAndResolve(t *testing.T) {
	var payloads []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p map[string]any
		require.NoError(t, json.Unmarshal(body, &p))
		payloads = append(payloads, p)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewPagerDutyNotifier(config.PagerDutyConfig{RoutingKey: "rk-1"})
	n.endpoint = srv.URL

	trigger := testEvent()
	require.NoError(t, n.Notify(context.Background(), trigger))

	resolve := trigger
	resolve.Level = LevelInfo
	resolve.Message = "is available"
	require.NoError(t, n.Notify(context.Background(), resolve))

	require.Len(t, payloads, 2)
	assert.Equal(t, "trigger", payloads[0]["event_action"])
	assert.Equal(t, "resolve", payloads[1]["event_action"])
	// The resolve targets the incident the trigger opened.
	assert.Equal(t, payloads[0]["dedup_key"], payloads[1]["dedup_key"])
	assert.NotContains(t, payloads[1], "payload")
}

func TestPagerDutyCriticalSeverity(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewPagerDutyNotifier(config.PagerDutyConfig{RoutingKey: "rk-1"})
	n.endpoint = srv.URL

	event := testEvent()
	event.Level = LevelCritical
	event.AlertType = "ssl"
	event.Message = "certificate expires in 5 days"
	require.NoError(t, n.Notify(context.Background(), event))

	payload, ok := got["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "critical", payload["severity"])
}

func TestFormatMessage(t *testing.T) {
	event := Event{
		CheckName: "homepage",
		Target:    "https://example.com/status",
		Message:   "is not available: HTTP error: 502 Bad Gateway",
		At:        time.Now().UTC(),
	}
	msg := formatMessage(event)
	assert.Contains(t, msg, "homepage")
	assert.Contains(t, msg, "example.com")
	assert.Contains(t, msg, "502")

	// Non-URL targets pass through untouched.
	event.Target = "10.0.0.1:5432"
	assert.Contains(t, formatMessage(event), "10.0.0.1:5432")
}
