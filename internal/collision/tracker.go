// Package collision 将单相机逐帧检测转换为带时长的配对证据
//
// 每路相机一个 Tracker 实例，由单一写入方（处理循环）驱动：
// - 分数达到下限的配对被创建或刷新（帧计数、累计时长、最近可见时间）
// - 跌破下限的配对不立即删除，时长冻结保留到宽限期结束，吸收单帧检测掉帧
// - 宽限期过后配对状态被清除
package collision

import (
	"time"

	"go.uber.org/zap"

	"wisefido-contact-trace/internal/config"
	"wisefido-contact-trace/internal/geometry"
	"wisefido-contact-trace/internal/models"
)

// Tracker 单相机碰撞跟踪器
type Tracker struct {
	cameraID models.CameraID
	cfg      config.CollisionConfig
	scorer   *geometry.Scorer
	logger   *zap.Logger

	pairs         map[models.PairKey]*models.CameraPairState
	lastFrameTime time.Time
}

// NewTracker 创建单相机碰撞跟踪器
func NewTracker(
	cameraID models.CameraID,
	cfg config.CollisionConfig,
	scorer *geometry.Scorer,
	logger *zap.Logger,
) *Tracker {
	return &Tracker{
		cameraID: cameraID,
		cfg:      cfg,
		scorer:   scorer,
		logger:   logger,
		pairs:    make(map[models.PairKey]*models.CameraPairState),
	}
}

// CameraID 所属相机
func (t *Tracker) CameraID() models.CameraID {
	return t.cameraID
}

// LastFrameTime 该相机最近一帧的时间戳（零值表示尚未收到帧）
func (t *Tracker) LastFrameTime() time.Time {
	return t.lastFrameTime
}

// ProcessFrame 处理一帧检测结果
//
// 对帧内每个无序的已识别配对计算几何分数；未识别（label 为空）的检测
// 不参与配对，这不是错误，只是该配对在本相机不可观测
func (t *Tracker) ProcessFrame(frame *models.DetectionFrameMessage) {
	frameTime := frame.FrameTime()
	if frameTime.Before(t.lastFrameTime) {
		// 乱序帧：时间戳回退时丢弃，避免时长倒扣
		t.logger.Debug("Dropping out-of-order frame",
			zap.String("camera_id", string(t.cameraID)),
			zap.Time("frame_time", frameTime),
			zap.Time("last_frame_time", t.lastFrameTime),
		)
		return
	}
	t.lastFrameTime = frameTime

	labeled := make([]models.Detection, 0, len(frame.Detections))
	for _, det := range frame.Detections {
		if det.Label == "" {
			continue
		}
		labeled = append(labeled, det)
	}

	for i := 0; i < len(labeled); i++ {
		for j := i + 1; j < len(labeled); j++ {
			if labeled[i].Label == labeled[j].Label {
				// 同一身份的重复检测不构成配对
				continue
			}
			score, severity := t.scorer.Score(labeled[i].Box, labeled[j].Box)
			if score < t.cfg.ScoreFloor {
				continue
			}
			t.upsertPair(labeled[i].Label, labeled[j].Label, score, severity, frameTime)
		}
	}

	t.evictStale(frameTime)
}

// upsertPair 创建或刷新配对状态
func (t *Tracker) upsertPair(labelA, labelB string, score float64, severity models.Severity, frameTime time.Time) {
	key := models.NewPairKey(labelA, labelB)

	state, ok := t.pairs[key]
	if !ok {
		t.pairs[key] = &models.CameraPairState{
			PairKey:           key,
			GeometryScore:     score,
			Severity:          severity,
			ConsecutiveFrames: 1,
			FirstSeen:         frameTime,
			LastSeen:          frameTime,
		}
		t.logger.Debug("Pair entered proximity",
			zap.String("camera_id", string(t.cameraID)),
			zap.String("pair", key.String()),
			zap.Float64("score", score),
		)
		return
	}

	// 宽限期内的掉帧间隙计入时长（接触在物理上没有中断）
	state.AccumulatedDuration += frameTime.Sub(state.LastSeen)
	state.ConsecutiveFrames++
	state.GeometryScore = score
	state.Severity = severity
	state.LastSeen = frameTime
}

// EvictStale 按给定时钟清除超过宽限期的配对
// 帧驱动的清理只在相机持续供帧时发生；相机停摆后由融合层按融合时钟调用，
// 否则停摆相机的配对状态会永久滞留
func (t *Tracker) EvictStale(now time.Time) {
	t.evictStale(now)
}

// evictStale 清除超过宽限期仍未刷新的配对
func (t *Tracker) evictStale(frameTime time.Time) {
	for key, state := range t.pairs {
		if frameTime.Sub(state.LastSeen) > t.cfg.GracePeriod {
			delete(t.pairs, key)
			t.logger.Debug("Pair evicted after grace period",
				zap.String("camera_id", string(t.cameraID)),
				zap.String("pair", key.String()),
				zap.Duration("accumulated", state.AccumulatedDuration),
			)
		}
	}
}

// Snapshot 返回当前配对状态的副本集合
// 融合层只读取副本，不会修改跟踪器内部状态
func (t *Tracker) Snapshot() map[models.PairKey]models.CameraPairState {
	snapshot := make(map[models.PairKey]models.CameraPairState, len(t.pairs))
	for key, state := range t.pairs {
		snapshot[key] = *state
	}
	return snapshot
}
