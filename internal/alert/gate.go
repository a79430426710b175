// Package alert 提供接触报警门限与通知发布
//
// 报警条件（全部满足才触发）：
// - 配对中至少一方是 MDR 标记患者（标记在报警时刻查询，接触开始后可能变化）
// - 累计接触时长 >= MinDuration 且累计风险 >= MinRisk
// - 双相机策略满足（接触经两路相机握手确认，或策略关闭）
// - 该配对不在冷却窗口内
//
// 长时间接触可以跨多个冷却窗口重复升级报警，不是一次接触只报一次
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wisefido-contact-trace/internal/config"
	"wisefido-contact-trace/internal/fusion"
	"wisefido-contact-trace/internal/models"
	"wisefido-contact-trace/internal/repository"
)

// FlagLookup MDR 标记查询接口（由 repository.PersonRepository 实现）
type FlagLookup interface {
	GetMDRInfo(tenantID, label string) (*repository.MDRInfo, error)
}

// Gate 报警门限
//
// 冷却记录以内存表为准，同时镜像到 Redis（带 TTL）：
// 服务重启后内存表为空，Redis 镜像避免在同一冷却窗口内重复报警
type Gate struct {
	alertCfg  config.AlertConfig
	fusionCfg config.FusionConfig
	persons   FlagLookup
	cooldowns KVStore
	keyPrefix string
	logger    *zap.Logger

	lastFired map[models.PairKey]time.Time
}

// NewGate 创建报警门限
func NewGate(
	alertCfg config.AlertConfig,
	fusionCfg config.FusionConfig,
	persons FlagLookup,
	cooldowns KVStore,
	cooldownKeyPrefix string,
	logger *zap.Logger,
) *Gate {
	return &Gate{
		alertCfg:  alertCfg,
		fusionCfg: fusionCfg,
		persons:   persons,
		cooldowns: cooldowns,
		keyPrefix: cooldownKeyPrefix,
		logger:    logger,
		lastFired: make(map[models.PairKey]time.Time),
	}
}

// Evaluate 评估一个配对状态，满足条件时生成报警事件
// 返回 nil 表示不触发（条件不满足或冷却中），这是常态而非错误
func (g *Gate) Evaluate(ctx context.Context, tenantID string, pair fusion.ActivePair, now time.Time) (*models.AlertEvent, error) {
	state := pair.State

	if state.Phase != models.PhaseConfirmed {
		return nil, nil
	}
	if time.Duration(state.CumulativeDuration*float64(time.Second)) < g.alertCfg.MinDuration {
		return nil, nil
	}
	if state.CumulativeRisk < g.alertCfg.MinRisk {
		return nil, nil
	}
	if g.fusionCfg.RequireBothCameras && !state.VerifiedByBoth {
		return nil, nil
	}

	if g.inCooldown(ctx, state.PairKey, now) {
		return nil, nil
	}

	mdrParty, err := g.findMDRParty(tenantID, state.PairKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve MDR flags: %w", err)
	}
	if mdrParty == nil {
		return nil, nil
	}

	event, err := g.buildEvent(tenantID, pair, mdrParty, now)
	if err != nil {
		return nil, err
	}

	g.markFired(ctx, state.PairKey, now)

	g.logger.Info("Alert fired",
		zap.String("event_id", event.EventID),
		zap.String("pair", state.PairKey.String()),
		zap.String("mdr_party", event.MDRParty),
		zap.Float64("risk", event.RiskAtTrigger),
		zap.Float64("duration_sec", event.DurationAtTrigger),
	)

	return event, nil
}

// inCooldown 配对是否在冷却窗口内
func (g *Gate) inCooldown(ctx context.Context, key models.PairKey, now time.Time) bool {
	if last, ok := g.lastFired[key]; ok && now.Sub(last) < g.alertCfg.Cooldown {
		return true
	}

	// 内存表未命中时查 Redis 镜像（进程重启后的保护）
	val, err := g.cooldowns.Get(ctx, g.cooldownKey(key))
	if err != nil {
		if err != ErrCacheMiss {
			// 镜像不可用时退回内存表判断，宁可多报也不漏报
			g.logger.Warn("Failed to read cooldown state",
				zap.String("pair", key.String()),
				zap.Error(err),
			)
		}
		return false
	}

	if millis, err := strconv.ParseInt(val, 10, 64); err == nil {
		last := time.UnixMilli(millis)
		if now.Sub(last) < g.alertCfg.Cooldown {
			g.lastFired[key] = last
			return true
		}
	}
	return false
}

// markFired 记录报警时刻（内存 + Redis 镜像）
func (g *Gate) markFired(ctx context.Context, key models.PairKey, now time.Time) {
	g.lastFired[key] = now

	value := strconv.FormatInt(now.UnixMilli(), 10)
	if err := g.cooldowns.Set(ctx, g.cooldownKey(key), value, g.alertCfg.Cooldown); err != nil {
		g.logger.Warn("Failed to mirror cooldown state",
			zap.String("pair", key.String()),
			zap.Error(err),
		)
	}
}

func (g *Gate) cooldownKey(key models.PairKey) string {
	return g.keyPrefix + key.String()
}

// findMDRParty 返回配对中第一个 MDR 标记方（双方都未标记返回 nil）
func (g *Gate) findMDRParty(tenantID string, key models.PairKey) (*repository.MDRInfo, error) {
	for _, label := range []string{key.A, key.B} {
		info, err := g.persons.GetMDRInfo(tenantID, label)
		if err != nil {
			return nil, err
		}
		if info.Flagged {
			return info, nil
		}
	}
	return nil, nil
}

// buildEvent 构建不可变的报警事件记录
func (g *Gate) buildEvent(tenantID string, pair fusion.ActivePair, mdrParty *repository.MDRInfo, now time.Time) (*models.AlertEvent, error) {
	state := pair.State

	triggerData := models.AlertTriggerData{
		Phase:              string(state.Phase),
		CumulativeRisk:     state.CumulativeRisk,
		CumulativeDuration: state.CumulativeDuration,
		Severity:           pair.Severity,
		FrontScore:         pair.FrontScore,
		SideScore:          pair.SideScore,
	}
	triggerJSON, err := json.Marshal(triggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	return &models.AlertEvent{
		EventID:           uuid.New().String(),
		TenantID:          tenantID,
		PersonA:           state.PairKey.A,
		PersonB:           state.PairKey.B,
		MDRParty:          mdrParty.Label,
		OtherParty:        state.PairKey.Other(mdrParty.Label),
		PathogenType:      mdrParty.PathogenType,
		PathogenFactor:    repository.PathogenFactor(mdrParty.PathogenType),
		TriggeredAt:       now,
		DurationAtTrigger: state.CumulativeDuration,
		RiskAtTrigger:     state.CumulativeRisk,
		VerifiedByBoth:    state.VerifiedByBoth,
		TriggerData:       string(triggerJSON),
		SnapshotRefs:      "[]", // 截图引用由外部采集器回填
	}, nil
}
