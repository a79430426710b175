package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"wisefido-contact-trace/internal/config"
	"wisefido-contact-trace/internal/models"
	"wisefido-contact-trace/internal/redisutil"
)

// MQTTPublisher MQTT 发布接口（由 mqtt.Client 实现）
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	IsConnected() bool
}

// Notifier 报警通知发布器
//
// 所有下游通道都是尽力而为：通知失败只记日志，绝不回滚或重触发
// 门限内部的报警状态——核心的状态转换是权威的，对下游重试幂等。
// 通知通道瘫痪期间检测、确认与风险累计照常运行，通道恢复后新报警继续发出
// （错过的历史通知不由本服务补发）
type Notifier struct {
	alertCfg    config.AlertConfig
	mqttClient  MQTTPublisher
	httpClient  *resty.Client
	redisClient *redis.Client
	alertStream string
	logger      *zap.Logger
}

// NewNotifier 创建报警通知发布器
// mqttClient 可以为 nil（未配置 MQTT 时跳过该通道）
func NewNotifier(
	alertCfg config.AlertConfig,
	mqttClient MQTTPublisher,
	redisClient *redis.Client,
	alertStream string,
	logger *zap.Logger,
) *Notifier {
	httpClient := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(2)

	return &Notifier{
		alertCfg:    alertCfg,
		mqttClient:  mqttClient,
		httpClient:  httpClient,
		redisClient: redisClient,
		alertStream: alertStream,
		logger:      logger,
	}
}

// Notify 将报警事件扇出到所有通知通道
func (n *Notifier) Notify(ctx context.Context, event *models.AlertEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("Failed to marshal alert event",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}

	n.publishStream(ctx, event)
	n.publishMQTT(event, payload)
	n.postWebhook(ctx, event, payload)
}

// publishStream 发布到 Redis Streams（仪表盘等下游消费者订阅）
func (n *Notifier) publishStream(ctx context.Context, event *models.AlertEvent) {
	if n.redisClient == nil {
		return
	}
	if _, err := redisutil.PublishJSONToStream(ctx, n.redisClient, n.alertStream, event); err != nil {
		n.logger.Error("Failed to publish alert to stream",
			zap.String("event_id", event.EventID),
			zap.String("stream", n.alertStream),
			zap.Error(err),
		)
	}
}

// publishMQTT 发布到 MQTT（声音提示、邮件等协作方订阅）
func (n *Notifier) publishMQTT(event *models.AlertEvent, payload []byte) {
	if n.mqttClient == nil {
		return
	}
	if !n.mqttClient.IsConnected() {
		n.logger.Warn("MQTT not connected, skipping alert notification",
			zap.String("event_id", event.EventID),
		)
		return
	}
	if err := n.mqttClient.Publish(n.alertCfg.Topic, 1, false, payload); err != nil {
		n.logger.Error("Failed to publish alert to MQTT",
			zap.String("event_id", event.EventID),
			zap.String("topic", n.alertCfg.Topic),
			zap.Error(err),
		)
	}
}

// postWebhook 推送到可选的 Webhook
func (n *Notifier) postWebhook(ctx context.Context, event *models.AlertEvent, payload []byte) {
	if n.alertCfg.WebhookURL == "" {
		return
	}
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(n.alertCfg.WebhookURL)
	if err != nil {
		n.logger.Error("Failed to post alert webhook",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}
	if resp.IsError() {
		n.logger.Error("Alert webhook returned error status",
			zap.String("event_id", event.EventID),
			zap.Int("status", resp.StatusCode()),
		)
	}
}
