package fusion

import (
	"time"

	"wisefido-contact-trace/internal/models"
)

// maskEntry 单人最近一次口罩分类结果
type maskEntry struct {
	probability float64
	timestamp   time.Time
}

// MaskMemory 口罩状态记忆
//
// 口罩分类器只在看到人脸时产生输出，侧脸或遮挡帧没有结果。
// 记忆最近一次概率并在有效期内沿用，过期或从未观测视为未知（中性系数 1.0）
type MaskMemory struct {
	decay  time.Duration
	effect float64
	values map[string]maskEntry
}

// NewMaskMemory 创建口罩状态记忆
func NewMaskMemory(decay time.Duration, effect float64) *MaskMemory {
	return &MaskMemory{
		decay:  decay,
		effect: effect,
		values: make(map[string]maskEntry),
	}
}

// Observe 记录一次口罩分类结果
func (m *MaskMemory) Observe(label string, state models.MaskState, probability float64, timestamp time.Time) {
	if label == "" || state == models.MaskUnknown {
		return
	}
	switch state {
	case models.MaskOff:
		probability = 0
	case models.MaskOn:
		// 分类器未填概率时按确定佩戴处理
		if probability == 0 {
			probability = 1.0
		}
	}
	m.values[label] = maskEntry{probability: probability, timestamp: timestamp}
}

// partyModifier 单人风险系数
// 未知或过期状态返回中性系数 1.0；下限 0.05 避免系数归零后风险完全停止累计
func (m *MaskMemory) partyModifier(label string, now time.Time) float64 {
	entry, ok := m.values[label]
	if !ok {
		return 1.0
	}
	if now.Sub(entry.timestamp) > m.decay {
		return 1.0
	}
	modifier := 1.0 - entry.probability*m.effect
	if modifier < 0.05 {
		modifier = 0.05
	}
	return modifier
}

// PairModifier 配对风险系数（双方系数的乘积，∈ (0, 1]）
func (m *MaskMemory) PairModifier(pair models.PairKey, now time.Time) float64 {
	return m.partyModifier(pair.A, now) * m.partyModifier(pair.B, now)
}
