package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-contact-trace/internal/config"
	"wisefido-contact-trace/internal/models"
	"wisefido-contact-trace/internal/redisutil"
)

// Metrics 监控指标
type Metrics struct {
	mu sync.RWMutex

	// 消息处理统计
	FramesProcessed int64 // 处理的帧总数
	FramesSucceeded int64 // 成功处理的帧数
	FramesFailed    int64 // 处理失败的帧数

	// 错误分类统计
	ErrorsParse         int64 // 解析错误
	ErrorsUnknownCamera int64 // 未知相机标识

	// 性能指标
	LastFrameTime time.Time // 最后处理帧的时间

	// 启动时间
	StartTime time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		FramesProcessed:     m.FramesProcessed,
		FramesSucceeded:     m.FramesSucceeded,
		FramesFailed:        m.FramesFailed,
		ErrorsParse:         m.ErrorsParse,
		ErrorsUnknownCamera: m.ErrorsUnknownCamera,
		LastFrameTime:       m.LastFrameTime,
		StartTime:           m.StartTime,
	}
}

// IncrementProcessed 增加处理计数
func (m *Metrics) IncrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FramesProcessed++
}

// IncrementSucceeded 增加成功计数
func (m *Metrics) IncrementSucceeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FramesSucceeded++
	m.LastFrameTime = time.Now()
}

// IncrementFailed 增加失败计数
func (m *Metrics) IncrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FramesFailed++
	switch errorType {
	case "parse":
		m.ErrorsParse++
	case "unknown_camera":
		m.ErrorsUnknownCamera++
	}
}

// StreamConsumer 检测流消费者
//
// 两路相机各一条 Redis Stream，各自独立的消费循环。
// 解析出的帧统一送入 frames 通道，由处理循环单线程消费，
// 保证碰撞跟踪器与融合表都只有一个写入方
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	frames      chan *models.DetectionFrameMessage
	logger      *zap.Logger
	metrics     *Metrics
}

// NewStreamConsumer 创建检测流消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		frames:      make(chan *models.DetectionFrameMessage, 64),
		logger:      logger,
		metrics: &Metrics{
			StartTime: time.Now(),
		},
	}
}

// Frames 解析后的检测帧通道
func (c *StreamConsumer) Frames() <-chan *models.DetectionFrameMessage {
	return c.frames
}

// Metrics 指标访问
func (c *StreamConsumer) Metrics() *Metrics {
	return c.metrics
}

// Start 启动两路相机流的消费循环（阻塞直到 ctx 取消）
func (c *StreamConsumer) Start(ctx context.Context) error {
	streams := []struct {
		name   string
		camera models.CameraID
	}{
		{c.config.Trace.Stream.Front, models.CameraFront},
		{c.config.Trace.Stream.Side, models.CameraSide},
	}

	var wg sync.WaitGroup
	for _, s := range streams {
		if err := redisutil.CreateConsumerGroup(ctx, c.redisClient, s.name, c.config.Trace.ConsumerGroup); err != nil {
			return fmt.Errorf("failed to create consumer group for %s: %w", s.name, err)
		}

		c.logger.Info("Detection stream consumer started",
			zap.String("stream", s.name),
			zap.String("camera_id", string(s.camera)),
			zap.String("consumer_group", c.config.Trace.ConsumerGroup),
		)

		wg.Add(1)
		go func(stream string, camera models.CameraID) {
			defer wg.Done()
			c.consumeLoop(ctx, stream, camera)
		}(s.name, s.camera)
	}

	// 启动指标报告协程
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.reportMetrics(ctx)
	}()

	wg.Wait()
	return nil
}

// consumeLoop 单路相机流的消费循环
// 相机读取停滞只意味着本拍没有新证据，不是错误；消费失败指数退避后重试
func (c *StreamConsumer) consumeLoop(ctx context.Context, stream string, camera models.CameraID) {
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := c.consumeOnce(ctx, stream, camera); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("Failed to consume detection stream",
					zap.String("stream", stream),
					zap.Duration("backoff", backoffDuration),
					zap.Error(err),
				)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeOnce 读取并处理一批消息
func (c *StreamConsumer) consumeOnce(ctx context.Context, stream string, camera models.CameraID) error {
	messages, err := redisutil.ReadFromStream(
		ctx,
		c.redisClient,
		stream,
		c.config.Trace.ConsumerGroup,
		c.config.Trace.ConsumerName,
		c.config.Trace.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		c.metrics.IncrementProcessed()
		if err := c.processMessage(ctx, msg, camera); err != nil {
			c.logger.Error("Failed to process detection frame",
				zap.String("stream_id", msg.ID),
				zap.String("stream", stream),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
			continue
		}
		if err := redisutil.AckMessage(ctx, c.redisClient, stream, c.config.Trace.ConsumerGroup, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// processMessage 解析单条检测帧消息并送入处理通道
func (c *StreamConsumer) processMessage(ctx context.Context, msg redisutil.StreamMessage, camera models.CameraID) error {
	var dataStr string
	if val, ok := msg.Values["data"]; ok {
		if str, ok := val.(string); ok {
			dataStr = str
		} else {
			c.metrics.IncrementFailed("parse")
			return fmt.Errorf("invalid data format in message")
		}
	} else {
		c.metrics.IncrementFailed("parse")
		return fmt.Errorf("missing data field in message")
	}

	var frame models.DetectionFrameMessage
	if err := json.Unmarshal([]byte(dataStr), &frame); err != nil {
		c.metrics.IncrementFailed("parse")
		return fmt.Errorf("failed to unmarshal detection frame: %w", err)
	}

	// 消息体中的相机标识必须与所属流一致
	if frame.CameraID == "" {
		frame.CameraID = camera
	} else if frame.CameraID != camera {
		c.metrics.IncrementFailed("unknown_camera")
		return fmt.Errorf("camera_id %q does not match stream camera %q", frame.CameraID, camera)
	}

	select {
	case c.frames <- &frame:
		c.metrics.IncrementSucceeded()
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// reportMetrics 定期报告指标（每60秒）
func (c *StreamConsumer) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.metrics.GetSnapshot()
			uptime := time.Since(snapshot.StartTime)

			successRate := float64(0)
			if snapshot.FramesProcessed > 0 {
				successRate = float64(snapshot.FramesSucceeded) / float64(snapshot.FramesProcessed) * 100
			}

			c.logger.Info("Metrics report",
				zap.Int64("frames_processed", snapshot.FramesProcessed),
				zap.Int64("frames_succeeded", snapshot.FramesSucceeded),
				zap.Int64("frames_failed", snapshot.FramesFailed),
				zap.Float64("success_rate", successRate),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_unknown_camera", snapshot.ErrorsUnknownCamera),
				zap.Time("last_frame_time", snapshot.LastFrameTime),
				zap.Duration("uptime", uptime),
			)
		}
	}
}
