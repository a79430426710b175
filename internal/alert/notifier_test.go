package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-contact-trace/internal/config"
	"wisefido-contact-trace/internal/models"
)

// fakeMQTTClient 记录发布调用的 MQTT 替身
type fakeMQTTClient struct {
	connected bool
	topics    []string
	payloads  [][]byte
}

func (f *fakeMQTTClient) Publish(topic string, _ byte, _ bool, payload []byte) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeMQTTClient) IsConnected() bool {
	return f.connected
}

func sampleAlertEvent() *models.AlertEvent {
	return &models.AlertEvent{
		EventID:           "evt-1",
		TenantID:          "tenant-1",
		PersonA:           "Alice",
		PersonB:           "Bob",
		MDRParty:          "Alice",
		OtherParty:        "Bob",
		PathogenType:      "MRSA",
		TriggeredAt:       time.Date(2026, 3, 1, 16, 0, 10, 0, time.UTC),
		DurationAtTrigger: 12.0,
		RiskAtTrigger:     0.6,
		VerifiedByBoth:    true,
		TriggerData:       "{}",
		SnapshotRefs:      "[]",
	}
}

func TestNotify_FansOutToAllChannels(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var webhookBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		webhookBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mqttClient := &fakeMQTTClient{connected: true}
	alertCfg := config.AlertConfig{Topic: "contact-trace/alerts", WebhookURL: server.URL}
	notifier := NewNotifier(alertCfg, mqttClient, client, "contact-trace:alerts", zap.NewNop())

	event := sampleAlertEvent()
	notifier.Notify(context.Background(), event)

	// Redis Streams 通道
	entries, err := client.XRange(context.Background(), "contact-trace:alerts", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	var fromStream models.AlertEvent
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &fromStream))
	assert.Equal(t, "evt-1", fromStream.EventID)

	// MQTT 通道
	require.Len(t, mqttClient.topics, 1)
	assert.Equal(t, "contact-trace/alerts", mqttClient.topics[0])

	// Webhook 通道
	var fromWebhook models.AlertEvent
	require.NoError(t, json.Unmarshal(webhookBody, &fromWebhook))
	assert.Equal(t, "evt-1", fromWebhook.EventID)
}

func TestNotify_SkipsDisconnectedMQTT(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	mqttClient := &fakeMQTTClient{connected: false}
	notifier := NewNotifier(config.AlertConfig{Topic: "contact-trace/alerts"}, mqttClient, client, "contact-trace:alerts", zap.NewNop())

	notifier.Notify(context.Background(), sampleAlertEvent())

	assert.Empty(t, mqttClient.topics)
	// 其余通道不受影响
	entries, err := client.XRange(context.Background(), "contact-trace:alerts", "-", "+").Result()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNotify_NilMQTTClientIsTolerated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	notifier := NewNotifier(config.AlertConfig{}, nil, client, "contact-trace:alerts", zap.NewNop())

	assert.NotPanics(t, func() {
		notifier.Notify(context.Background(), sampleAlertEvent())
	})
}
