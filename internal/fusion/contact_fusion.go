// Package fusion 提供跨相机接触融合与风险累计
//
// 每个 PairKey 全局只有一个融合状态，状态机：
//
//	UNSEEN → CANDIDATE → CONFIRMED → IDLE → ARCHIVED
//	                        ↑          |
//	                        +----------+  （空闲超时前证据恢复，同一接触事件延续）
//
// 融合条件：
// - CANDIDATE → CONFIRMED：两路相机的贴近区间在同步容差窗口内相交
//   （证据必须在时间上重合，而不是两路相机先后各自看到过）
// - 单相机模式（RequireBothCameras = false）：任一相机证据即可确认
// - CONFIRMED 期间只要任一相机仍在报告贴近（各自宽限期内）就保持确认，
//   容忍两路相机帧率不同步
//
// 风险累计（只在 CONFIRMED 期间）：
//
//	R += BaseRate × MaskModifier × Δt （+ EventPenalty，每次接触事件只计一次）
//
// Δt 按墙钟时间计算，风险单调不减，IDLE 不清零
package fusion

import (
	"time"

	"go.uber.org/zap"

	"wisefido-contact-trace/internal/collision"
	"wisefido-contact-trace/internal/config"
	"wisefido-contact-trace/internal/geometry"
	"wisefido-contact-trace/internal/models"
)

// ActivePair 一次 tick 后仍存活的配对状态（传给报警门限与实时缓存的只读副本）
type ActivePair struct {
	State      models.FusedContactState
	Severity   models.Severity
	FrontScore *float64
	SideScore  *float64
}

// TickResult 单次 tick 的产出
type TickResult struct {
	Active   []ActivePair
	Archived []models.ContactEpisode
}

// ContactFusion 跨相机接触融合器（内部状态只由 Tick 调用方单线程写入）
type ContactFusion struct {
	fusionCfg    config.FusionConfig
	riskCfg      config.RiskConfig
	collisionCfg config.CollisionConfig
	scorer       *geometry.Scorer
	logger       *zap.Logger

	front *collision.Tracker
	side  *collision.Tracker

	maskMemory *MaskMemory
	states     map[models.PairKey]*models.FusedContactState
}

// NewContactFusion 创建接触融合器
func NewContactFusion(
	fusionCfg config.FusionConfig,
	riskCfg config.RiskConfig,
	collisionCfg config.CollisionConfig,
	scorer *geometry.Scorer,
	front *collision.Tracker,
	side *collision.Tracker,
	logger *zap.Logger,
) *ContactFusion {
	return &ContactFusion{
		fusionCfg:    fusionCfg,
		riskCfg:      riskCfg,
		collisionCfg: collisionCfg,
		scorer:       scorer,
		logger:       logger,
		front:        front,
		side:         side,
		maskMemory:   NewMaskMemory(riskCfg.MaskDecaySeconds, riskCfg.MaskEffect),
		states:       make(map[models.PairKey]*models.FusedContactState),
	}
}

// ObserveMask 转发口罩分类结果到口罩记忆
func (f *ContactFusion) ObserveMask(label string, state models.MaskState, probability float64, timestamp time.Time) {
	f.maskMemory.Observe(label, state, probability, timestamp)
}

// fusedClock 计算本次 tick 的融合时钟
//
// 融合节奏跟随较慢的一路相机：时钟取仍然存活的相机中最旧的帧时间，
// 避免在滞后相机的数据到达前用新鲜数据做出过早确认。
// 超过宽限期没有帧的相机视为缺席，不再拖住时钟，
// 这样单路相机失效不会冻结空闲超时归档。
// 两路都缺席时退回墙钟，让 IDLE 状态仍能老化归档。
func (f *ContactFusion) fusedClock(now time.Time) time.Time {
	grace := f.collisionCfg.GracePeriod
	frontLast := f.front.LastFrameTime()
	sideLast := f.side.LastFrameTime()

	frontLive := !frontLast.IsZero() && now.Sub(frontLast) <= grace
	sideLive := !sideLast.IsZero() && now.Sub(sideLast) <= grace

	switch {
	case frontLive && sideLive:
		if frontLast.Before(sideLast) {
			return frontLast
		}
		return sideLast
	case frontLive:
		return frontLast
	case sideLive:
		return sideLast
	default:
		return now
	}
}

// Tick 推进融合状态机一拍
//
// 融合 → 风险累计在同一拍内串行完成，调用方（处理循环）是唯一写入者
func (f *ContactFusion) Tick(now time.Time) TickResult {
	fusedNow := f.fusedClock(now)

	// 停摆相机不再有帧触发自身清理，宽限期清除在每拍按融合时钟驱动
	f.front.EvictStale(fusedNow)
	f.side.EvictStale(fusedNow)

	frontPairs := f.front.Snapshot()
	sidePairs := f.side.Snapshot()

	// 两路相机同时出现同一配对时，PairKey 规范化保证幂等 upsert，不会重复建状态
	seen := make(map[models.PairKey]struct{}, len(frontPairs)+len(sidePairs))
	for key := range frontPairs {
		seen[key] = struct{}{}
	}
	for key := range sidePairs {
		seen[key] = struct{}{}
	}

	for key := range seen {
		if _, ok := f.states[key]; !ok {
			f.states[key] = &models.FusedContactState{
				PairKey: key,
				Phase:   models.PhaseCandidate,
			}
			f.logger.Debug("Pair became contact candidate", zap.String("pair", key.String()))
		}
	}

	result := TickResult{}

	for key, state := range f.states {
		frontState, frontOK := frontPairs[key]
		sideState, sideOK := sidePairs[key]

		// "当前贴近" = 该相机仍持有此配对且最近可见时间在宽限期内
		frontClose := frontOK && fusedNow.Sub(frontState.LastSeen) <= f.collisionCfg.GracePeriod
		sideClose := sideOK && fusedNow.Sub(sideState.LastSeen) <= f.collisionCfg.GracePeriod

		switch state.Phase {
		case models.PhaseCandidate:
			if !frontOK && !sideOK {
				// 从未确认过的候选配对，证据消失后直接清理
				delete(f.states, key)
				continue
			}
			if f.confirmationSatisfied(frontState, frontOK, sideState, sideOK, frontClose, sideClose) {
				f.confirm(state, frontOK && sideOK, fusedNow)
			}

		case models.PhaseIdle:
			// 初次跨相机握手已经完成，空闲后的恢复只需任一相机的证据；
			// 这是同一接触事件的再确认，时长与风险不清零
			if frontClose || sideClose {
				f.confirm(state, state.VerifiedByBoth, fusedNow)
			} else if fusedNow.Sub(state.IdleSince) > f.fusionCfg.IdleTimeout {
				episode := f.archive(state)
				result.Archived = append(result.Archived, episode)
				delete(f.states, key)
				continue
			}

		case models.PhaseConfirmed:
			// 已确认状态只要任一相机仍在报告贴近就保持
			if !frontClose && !sideClose {
				state.Phase = models.PhaseIdle
				state.IdleSince = fusedNow
			}
		}

		if state.Phase == models.PhaseConfirmed {
			f.accrueRisk(state, fusedNow)
		}

		active := ActivePair{State: *state}
		var maxScore float64
		if frontOK {
			score := frontState.GeometryScore
			active.FrontScore = &score
			maxScore = score
		}
		if sideOK {
			score := sideState.GeometryScore
			active.SideScore = &score
			if score > maxScore {
				maxScore = score
			}
		}
		active.Severity = f.scorer.Bucket(maxScore)
		result.Active = append(result.Active, active)
	}

	return result
}

// confirmationSatisfied 判断跨相机确认条件
//
// 双相机模式要求两个贴近区间 [first_seen, last_seen] 在同步容差内相交：
// max(first) - min(last) <= tolerance。单相机模式任一证据即可
func (f *ContactFusion) confirmationSatisfied(
	frontState models.CameraPairState, frontOK bool,
	sideState models.CameraPairState, sideOK bool,
	frontClose, sideClose bool,
) bool {
	if !f.fusionCfg.RequireBothCameras {
		return frontClose || sideClose
	}
	if !frontOK || !sideOK {
		return false
	}

	tolerance := f.fusionCfg.SyncToleranceWindow
	if frontState.FirstSeen.After(sideState.LastSeen.Add(tolerance)) {
		return false
	}
	if sideState.FirstSeen.After(frontState.LastSeen.Add(tolerance)) {
		return false
	}
	return true
}

// confirm 进入（或回到）CONFIRMED
func (f *ContactFusion) confirm(state *models.FusedContactState, verifiedByBoth bool, fusedNow time.Time) {
	newEpisode := state.ConfirmedSince.IsZero()
	if newEpisode {
		state.ConfirmedSince = fusedNow
	}

	state.Phase = models.PhaseConfirmed
	state.IdleSince = time.Time{}
	state.LastAccrual = fusedNow
	state.LastConfirmedTime = fusedNow
	if verifiedByBoth {
		state.VerifiedByBoth = true
	}

	// 一次性事件附加风险：每次接触事件只计一次，守卫标志到归档才复位，
	// 短暂 IDLE 后的再确认不会重复计入
	if !state.PenaltyApplied {
		state.CumulativeRisk += f.riskCfg.EventPenalty
		state.PenaltyApplied = true
	}

	f.logger.Info("Contact confirmed",
		zap.String("pair", state.PairKey.String()),
		zap.Bool("verified_by_both", state.VerifiedByBoth),
		zap.Bool("new_episode", newEpisode),
		zap.Float64("cumulative_risk", state.CumulativeRisk),
	)
}

// accrueRisk 按墙钟增量累计风险与时长
func (f *ContactFusion) accrueRisk(state *models.FusedContactState, fusedNow time.Time) {
	delta := fusedNow.Sub(state.LastAccrual)
	if delta < 0 {
		delta = 0
	}

	modifier := f.maskMemory.PairModifier(state.PairKey, fusedNow)
	state.CumulativeRisk += f.riskCfg.BaseRate * modifier * delta.Seconds()
	state.CumulativeDuration += delta.Seconds()
	state.LastAccrual = fusedNow
	state.LastConfirmedTime = fusedNow
}

// archive 生成归档记录
// end_time 取最后一次确认的时刻，而不是发现空闲超时的时刻
func (f *ContactFusion) archive(state *models.FusedContactState) models.ContactEpisode {
	f.logger.Info("Contact episode archived",
		zap.String("pair", state.PairKey.String()),
		zap.Time("start", state.ConfirmedSince),
		zap.Time("end", state.LastConfirmedTime),
		zap.Float64("cumulative_risk", state.CumulativeRisk),
	)
	return models.ContactEpisode{
		PairKey:        state.PairKey,
		StartTime:      state.ConfirmedSince,
		EndTime:        state.LastConfirmedTime,
		CumulativeRisk: state.CumulativeRisk,
		DurationSec:    state.CumulativeDuration,
		VerifiedByBoth: state.VerifiedByBoth,
		Status:         models.EpisodeCompleted,
	}
}

// StampAlert 记录该配对最近一次报警时刻（由报警门限回写）
func (f *ContactFusion) StampAlert(key models.PairKey, firedAt time.Time) {
	if state, ok := f.states[key]; ok {
		state.AlertFiredAt = firedAt
	}
}

// FlushInterrupted 服务停止时冲刷所有已确认过的接触事件
// 未自然结束的接触以 interrupted 状态归档，累计风险不会被静默丢弃
func (f *ContactFusion) FlushInterrupted() []models.ContactEpisode {
	var episodes []models.ContactEpisode
	for key, state := range f.states {
		if state.ConfirmedSince.IsZero() {
			delete(f.states, key)
			continue
		}
		episode := f.archive(state)
		episode.Status = models.EpisodeInterrupted
		episodes = append(episodes, episode)
		delete(f.states, key)
	}
	return episodes
}
