// Package service 组装接触追踪流水线并驱动处理循环
//
// 流水线：检测流消费 → 单相机碰撞跟踪 ×2 → 跨相机融合 → 风险累计 → 报警门限 → 持久化/通知
//
// 并发模型：消费协程只负责解析帧并送入通道；处理循环是碰撞跟踪器和融合表
// 的唯一写入者，融合 → 累计 → 门限在一拍内串行完成后才进入下一拍，
// 跨组件读取只经过不可变副本
package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-contact-trace/internal/alert"
	"wisefido-contact-trace/internal/collision"
	"wisefido-contact-trace/internal/config"
	"wisefido-contact-trace/internal/consumer"
	"wisefido-contact-trace/internal/database"
	"wisefido-contact-trace/internal/fusion"
	"wisefido-contact-trace/internal/geometry"
	"wisefido-contact-trace/internal/models"
	"wisefido-contact-trace/internal/mqtt"
	"wisefido-contact-trace/internal/redisutil"
	"wisefido-contact-trace/internal/repository"
)

// TraceService 接触追踪服务
type TraceService struct {
	config      *config.Config
	logger      *zap.Logger
	tenantID    string
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client

	streamConsumer *consumer.StreamConsumer
	cache          *consumer.CacheManager
	frontTracker   *collision.Tracker
	sideTracker    *collision.Tracker
	contactFusion  *fusion.ContactFusion
	gate           *alert.Gate
	notifier       *alert.Notifier

	historyRepo *repository.ContactHistoryRepository
	alertRepo   *repository.AlertEventsRepository
}

// NewTraceService 创建接触追踪服务
func NewTraceService(cfg *config.Config, logger *zap.Logger, tenantID string) (*TraceService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient := redisutil.NewRedisClient(&cfg.Redis)
	if err := redisutil.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT（通知通道是尽力而为的：连接失败降级运行，不阻止启动）
	mqttClient, err := mqtt.NewClient(&cfg.MQTT)
	if err != nil {
		logger.Warn("MQTT broker unavailable, alert notifications degraded",
			zap.String("broker", cfg.MQTT.Broker),
			zap.Error(err),
		)
		mqttClient = nil
	}

	// 创建Repository
	personRepo := repository.NewPersonRepository(db, logger)
	historyRepo := repository.NewContactHistoryRepository(db, logger)
	alertRepo := repository.NewAlertEventsRepository(db, logger)

	// 创建几何评分器与两路碰撞跟踪器
	scorer := geometry.NewScorer(cfg.Geometry, cfg.Collision.FrameWidth, cfg.Collision.FrameHeight)
	frontTracker := collision.NewTracker(models.CameraFront, cfg.Collision, scorer, logger)
	sideTracker := collision.NewTracker(models.CameraSide, cfg.Collision, scorer, logger)

	// 创建融合器
	contactFusion := fusion.NewContactFusion(
		cfg.Fusion, cfg.Risk, cfg.Collision,
		scorer, frontTracker, sideTracker, logger,
	)

	// 创建报警门限与通知发布器
	gate := alert.NewGate(
		cfg.Alert, cfg.Fusion,
		personRepo,
		alert.NewRedisKVStore(redisClient),
		cfg.Trace.Cache.CooldownPrefix,
		logger,
	)

	var mqttPublisher alert.MQTTPublisher
	if mqttClient != nil {
		mqttPublisher = mqttClient
	}
	notifier := alert.NewNotifier(cfg.Alert, mqttPublisher, redisClient, cfg.Trace.Stream.Alert, logger)

	// 创建Consumer与CacheManager
	streamConsumer := consumer.NewStreamConsumer(cfg, redisClient, logger)
	cacheManager := consumer.NewCacheManager(cfg, redisClient, logger)

	return &TraceService{
		config:         cfg,
		logger:         logger,
		tenantID:       tenantID,
		db:             db,
		redisClient:    redisClient,
		mqttClient:     mqttClient,
		streamConsumer: streamConsumer,
		cache:          cacheManager,
		frontTracker:   frontTracker,
		sideTracker:    sideTracker,
		contactFusion:  contactFusion,
		gate:           gate,
		notifier:       notifier,
		historyRepo:    historyRepo,
		alertRepo:      alertRepo,
	}, nil
}

// Start 启动服务（阻塞直到 ctx 取消）
func (s *TraceService) Start(ctx context.Context) error {
	s.logger.Info("Starting contact trace service components")

	consumerErrChan := make(chan error, 1)
	go func() {
		if err := s.streamConsumer.Start(ctx); err != nil {
			consumerErrChan <- err
		}
	}()

	s.logger.Info("Contact trace service started successfully",
		zap.String("tenant_id", s.tenantID),
		zap.Duration("tick_interval", s.config.Trace.TickInterval),
	)

	ticker := time.NewTicker(s.config.Trace.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 排空当前拍，未结束的接触按 interrupted 归档，累计风险不丢弃
			s.flushInterrupted()
			s.logger.Info("Contact trace processing loop stopped")
			return nil

		case err := <-consumerErrChan:
			s.flushInterrupted()
			return fmt.Errorf("stream consumer failed: %w", err)

		case frame := <-s.streamConsumer.Frames():
			s.handleFrame(frame)

		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

// handleFrame 将一帧检测结果路由到对应相机的碰撞跟踪器
func (s *TraceService) handleFrame(frame *models.DetectionFrameMessage) {
	frameTime := frame.FrameTime()
	for _, det := range frame.Detections {
		s.contactFusion.ObserveMask(det.Label, det.MaskState, det.MaskProbability, frameTime)
	}

	switch frame.CameraID {
	case models.CameraFront:
		s.frontTracker.ProcessFrame(frame)
	case models.CameraSide:
		s.sideTracker.ProcessFrame(frame)
	default:
		s.logger.Warn("Frame for unknown camera dropped",
			zap.String("camera_id", string(frame.CameraID)),
		)
	}
}

// tick 推进一拍：融合 → 风险累计 → 报警门限 → 缓存/持久化/通知
func (s *TraceService) tick(ctx context.Context, now time.Time) {
	result := s.contactFusion.Tick(now)

	for i := range result.Archived {
		episode := result.Archived[i]
		if err := s.historyRepo.AppendEpisode(s.tenantID, &episode); err != nil {
			// 持久化属于协作方边界：失败记日志，内部状态不回滚
			s.logger.Error("Failed to persist contact episode",
				zap.String("pair", episode.PairKey.String()),
				zap.Error(err),
			)
		}
	}

	for _, active := range result.Active {
		s.updateCache(ctx, active, now)

		event, err := s.gate.Evaluate(ctx, s.tenantID, active, now)
		if err != nil {
			s.logger.Error("Failed to evaluate alert gate",
				zap.String("pair", active.State.PairKey.String()),
				zap.Error(err),
			)
			continue
		}
		if event == nil {
			continue
		}

		s.contactFusion.StampAlert(active.State.PairKey, event.TriggeredAt)

		// 报警记录是权威的内部状态；写库失败不会撤销报警，也不会重触发
		if err := s.alertRepo.CreateAlertEvent(event); err != nil {
			s.logger.Error("Failed to persist alert event",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}

		// 通知扇出尽力而为
		s.notifier.Notify(ctx, event)
	}
}

// updateCache 刷新实时配对状态摘要
func (s *TraceService) updateCache(ctx context.Context, active fusion.ActivePair, now time.Time) {
	state := active.State
	summary := &models.PairSummary{
		PersonA:            state.PairKey.A,
		PersonB:            state.PairKey.B,
		Phase:              string(state.Phase),
		CumulativeRisk:     state.CumulativeRisk,
		CumulativeDuration: state.CumulativeDuration,
		Severity:           active.Severity,
		VerifiedByBoth:     state.VerifiedByBoth,
		UpdatedAt:          now.Unix(),
	}
	if err := s.cache.UpdatePairSummary(ctx, summary); err != nil {
		s.logger.Error("Failed to update pair summary cache",
			zap.String("pair", state.PairKey.String()),
			zap.Error(err),
		)
	}
}

// flushInterrupted 服务停止时冲刷未结束的接触事件
func (s *TraceService) flushInterrupted() {
	episodes := s.contactFusion.FlushInterrupted()
	for i := range episodes {
		episode := episodes[i]
		if err := s.historyRepo.AppendEpisode(s.tenantID, &episode); err != nil {
			s.logger.Error("Failed to persist interrupted episode",
				zap.String("pair", episode.PairKey.String()),
				zap.Error(err),
			)
		}
	}
	if len(episodes) > 0 {
		s.logger.Info("Flushed interrupted contact episodes",
			zap.Int("count", len(episodes)),
		)
	}
}

// Stop 停止服务并释放资源
func (s *TraceService) Stop() {
	s.logger.Info("Stopping contact trace service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Contact trace service stopped")
}
