// Package geometry 提供两个检测框之间的接近度评分
//
// 评分规则：
// - IoU 与归一化中心距离按权重混合为 [0, 1] 的单一分数
// - 中心距离项让尚未重叠但正在靠近的配对也能获得非零分数
// - 混合权重与分档边界均为可调参数（标定前使用占位默认值）
package geometry

import (
	"math"

	"wisefido-contact-trace/internal/config"
	"wisefido-contact-trace/internal/models"
)

// Scorer 几何评分器（纯函数、无状态、不返回错误）
type Scorer struct {
	cfg config.GeometryConfig
	// frameDiagonal 参考帧对角线长度（用于距离归一化）
	frameDiagonal float64
}

// NewScorer 创建几何评分器
func NewScorer(geoCfg config.GeometryConfig, frameWidth, frameHeight int) *Scorer {
	diagonal := math.Sqrt(float64(frameWidth*frameWidth + frameHeight*frameHeight))
	return &Scorer{
		cfg:           geoCfg,
		frameDiagonal: diagonal,
	}
}

// IoU 计算两个框的交并比
// 零面积框（宽或高 <= 0）返回 0
func IoU(a, b models.BoundingBox) float64 {
	areaA := a.Area()
	areaB := b.Area()
	if areaA == 0 || areaB == 0 {
		return 0
	}

	ix1 := math.Max(a.X, b.X)
	iy1 := math.Max(a.Y, b.Y)
	ix2 := math.Min(a.X+a.Width, b.X+b.Width)
	iy2 := math.Min(a.Y+a.Height, b.Y+b.Height)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}

	inter := interW * interH
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// CenterDistance 计算两个框的中心距离
func CenterDistance(a, b models.BoundingBox) float64 {
	dx := a.CenterX() - b.CenterX()
	dy := a.CenterY() - b.CenterY()
	return math.Sqrt(dx*dx + dy*dy)
}

// Score 计算两个框的接近度分数与风险分档
// 任一框为零面积时分数为 0（畸形框不是错误）
func (s *Scorer) Score(a, b models.BoundingBox) (float64, models.Severity) {
	if a.Area() == 0 || b.Area() == 0 {
		return 0, models.SeveritySafe
	}

	iou := clamp01(IoU(a, b))

	normalizedDistance := 1.0
	if s.frameDiagonal > 0 {
		normalizedDistance = CenterDistance(a, b) / s.frameDiagonal
	}
	distanceScore := clamp01(1.0 - normalizedDistance)

	score := clamp01(s.cfg.IoUWeight*iou + s.cfg.DistanceWeight*distanceScore)
	return score, s.Bucket(score)
}

// Bucket 将分数映射到风险分档
func (s *Scorer) Bucket(score float64) models.Severity {
	switch {
	case score < s.cfg.BucketLow:
		return models.SeveritySafe
	case score < s.cfg.BucketMedium:
		return models.SeverityLow
	case score < s.cfg.BucketHigh:
		return models.SeverityMedium
	case score < s.cfg.BucketCritical:
		return models.SeverityHigh
	default:
		return models.SeverityCritical
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
