package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"wisefido-contact-trace/internal/config"
	"wisefido-contact-trace/internal/models"
)

func testGeometryConfig() config.GeometryConfig {
	return config.GeometryConfig{
		IoUWeight:      0.7,
		DistanceWeight: 0.3,
		BucketLow:      0.2,
		BucketMedium:   0.4,
		BucketHigh:     0.6,
		BucketCritical: 0.8,
	}
}

func TestIoU_IdenticalBoxes(t *testing.T) {
	box := models.BoundingBox{X: 10, Y: 10, Width: 100, Height: 200}

	assert.InDelta(t, 1.0, IoU(box, box), 1e-9)
}

func TestIoU_DisjointBoxes(t *testing.T) {
	a := models.BoundingBox{X: 0, Y: 0, Width: 50, Height: 50}
	b := models.BoundingBox{X: 200, Y: 200, Width: 50, Height: 50}

	assert.Equal(t, 0.0, IoU(a, b))
}

func TestIoU_PartialOverlap(t *testing.T) {
	// 两个 100x100 框水平错开 50：交集 50x100，并集 15000
	a := models.BoundingBox{X: 0, Y: 0, Width: 100, Height: 100}
	b := models.BoundingBox{X: 50, Y: 0, Width: 100, Height: 100}

	assert.InDelta(t, 5000.0/15000.0, IoU(a, b), 1e-9)
}

func TestIoU_ZeroAreaBox(t *testing.T) {
	degenerate := models.BoundingBox{X: 10, Y: 10, Width: 0, Height: 50}
	normal := models.BoundingBox{X: 0, Y: 0, Width: 100, Height: 100}

	assert.Equal(t, 0.0, IoU(degenerate, normal))
	assert.Equal(t, 0.0, IoU(normal, degenerate))
}

func TestScore_IdenticalBoxes_Critical(t *testing.T) {
	scorer := NewScorer(testGeometryConfig(), 640, 480)
	box := models.BoundingBox{X: 100, Y: 100, Width: 80, Height: 160}

	score, severity := scorer.Score(box, box)

	assert.InDelta(t, 1.0, score, 1e-9)
	assert.Equal(t, models.SeverityCritical, severity)
}

func TestScore_MalformedBoxScoresZero(t *testing.T) {
	scorer := NewScorer(testGeometryConfig(), 640, 480)
	degenerate := models.BoundingBox{X: 10, Y: 10, Width: -5, Height: 50}
	normal := models.BoundingBox{X: 10, Y: 10, Width: 80, Height: 160}

	score, severity := scorer.Score(degenerate, normal)

	assert.Equal(t, 0.0, score)
	assert.Equal(t, models.SeveritySafe, severity)
}

func TestScore_NearMissWithoutOverlapStillRegisters(t *testing.T) {
	// 中心距离项让尚未重叠的贴近配对获得非零分数
	scorer := NewScorer(testGeometryConfig(), 640, 480)
	a := models.BoundingBox{X: 100, Y: 100, Width: 50, Height: 100}
	b := models.BoundingBox{X: 160, Y: 100, Width: 50, Height: 100}

	score, _ := scorer.Score(a, b)

	assert.Equal(t, 0.0, IoU(a, b))
	assert.Greater(t, score, 0.2)
}

func TestScore_CloserCentersScoreHigher(t *testing.T) {
	scorer := NewScorer(testGeometryConfig(), 640, 480)
	base := models.BoundingBox{X: 0, Y: 0, Width: 50, Height: 100}
	near := models.BoundingBox{X: 60, Y: 0, Width: 50, Height: 100}
	far := models.BoundingBox{X: 300, Y: 0, Width: 50, Height: 100}

	nearScore, _ := scorer.Score(base, near)
	farScore, _ := scorer.Score(base, far)

	assert.Greater(t, nearScore, farScore)
}

func TestBucket_Boundaries(t *testing.T) {
	scorer := NewScorer(testGeometryConfig(), 640, 480)

	assert.Equal(t, models.SeveritySafe, scorer.Bucket(0.0))
	assert.Equal(t, models.SeveritySafe, scorer.Bucket(0.19))
	assert.Equal(t, models.SeverityLow, scorer.Bucket(0.2))
	assert.Equal(t, models.SeverityMedium, scorer.Bucket(0.4))
	assert.Equal(t, models.SeverityHigh, scorer.Bucket(0.6))
	assert.Equal(t, models.SeverityCritical, scorer.Bucket(0.8))
	assert.Equal(t, models.SeverityCritical, scorer.Bucket(1.0))
}
