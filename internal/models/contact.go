package models

import (
	"fmt"
	"time"
)

// Severity 接触风险分档（有序）
type Severity string

const (
	SeveritySafe     Severity = "SAFE"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// PairKey 无序人员配对的规范键（字典序，A < B）
// 不论检测顺序如何，同一对人员得到同一个键
type PairKey struct {
	A string
	B string
}

// NewPairKey 构建规范化配对键
func NewPairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// String 配对键的字符串形式（用于缓存键和日志）
func (k PairKey) String() string {
	return fmt.Sprintf("%s|%s", k.A, k.B)
}

// Contains 配对是否包含指定人员
func (k PairKey) Contains(label string) bool {
	return k.A == label || k.B == label
}

// Other 返回配对中的另一方
func (k PairKey) Other(label string) string {
	if k.A == label {
		return k.B
	}
	return k.A
}

// CameraPairState 单相机视角下的配对状态（由对应相机的碰撞跟踪器独占持有）
type CameraPairState struct {
	PairKey           PairKey
	GeometryScore     float64
	Severity          Severity
	ConsecutiveFrames int
	// AccumulatedDuration 分数高于下限期间累计的时长（宽限期内冻结，不清零）
	AccumulatedDuration time.Duration
	FirstSeen           time.Time
	LastSeen            time.Time
}

// ContactPhase 融合状态机的阶段
type ContactPhase string

const (
	PhaseCandidate ContactPhase = "CANDIDATE"
	PhaseConfirmed ContactPhase = "CONFIRMED"
	PhaseIdle      ContactPhase = "IDLE"
	PhaseArchived  ContactPhase = "ARCHIVED"
)

// FusedContactState 全局融合后的配对接触状态（每个 PairKey 全局唯一，由融合层独占持有）
type FusedContactState struct {
	PairKey PairKey      `json:"pair_key"`
	Phase   ContactPhase `json:"phase"`

	ConfirmedSince     time.Time `json:"confirmed_since"`
	LastConfirmedTime  time.Time `json:"last_confirmed_time"`
	CumulativeRisk     float64   `json:"cumulative_risk"`
	CumulativeDuration float64   `json:"cumulative_duration_sec"`
	// VerifiedByBoth 本次接触是否经过两路相机握手确认（单相机模式下为 false）
	VerifiedByBoth bool `json:"verified_by_both_cameras"`
	// PenaltyApplied 一次性事件附加风险是否已计入（每次接触事件只计一次，归档时复位）
	PenaltyApplied bool `json:"penalty_applied"`
	// LastAccrual 上一次风险累计的时刻（Δt 按墙钟时间计算，对帧率波动不敏感）
	LastAccrual time.Time `json:"last_accrual"`
	// IdleSince 进入 IDLE 的时刻（零值表示非 IDLE）
	IdleSince time.Time `json:"idle_since,omitempty"`

	AlertFiredAt time.Time `json:"alert_fired_at,omitempty"`
}

// PairSummary 实时配对状态摘要（写入 Redis 缓存供仪表盘读取）
type PairSummary struct {
	PersonA            string   `json:"person_a"`
	PersonB            string   `json:"person_b"`
	Phase              string   `json:"phase"`
	CumulativeRisk     float64  `json:"cumulative_risk"`
	CumulativeDuration float64  `json:"cumulative_duration_sec"`
	Severity           Severity `json:"severity"`
	VerifiedByBoth     bool     `json:"verified_by_both_cameras"`
	UpdatedAt          int64    `json:"updated_at"`
}

// EpisodeStatus 接触事件归档状态
type EpisodeStatus string

const (
	EpisodeCompleted   EpisodeStatus = "completed"
	EpisodeInterrupted EpisodeStatus = "interrupted" // 服务停止时未自然结束的接触
)

// ContactEpisode 一段完整的接触事件（从首次确认到归档）
type ContactEpisode struct {
	PairKey        PairKey       `json:"pair_key"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	CumulativeRisk float64       `json:"cumulative_risk"`
	DurationSec    float64       `json:"duration_sec"`
	VerifiedByBoth bool          `json:"verified_by_both_cameras"`
	Status         EpisodeStatus `json:"status"`
}
