package collision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-contact-trace/internal/config"
	"wisefido-contact-trace/internal/geometry"
	"wisefido-contact-trace/internal/models"
)

var trackerBase = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestTracker() *Tracker {
	geoCfg := config.GeometryConfig{
		IoUWeight:      0.7,
		DistanceWeight: 0.3,
		BucketLow:      0.2,
		BucketMedium:   0.4,
		BucketHigh:     0.6,
		BucketCritical: 0.8,
	}
	collCfg := config.CollisionConfig{
		ScoreFloor:  0.18,
		GracePeriod: 1500 * time.Millisecond,
		FrameWidth:  640,
		FrameHeight: 480,
	}
	scorer := geometry.NewScorer(geoCfg, collCfg.FrameWidth, collCfg.FrameHeight)
	return NewTracker(models.CameraFront, collCfg, scorer, zap.NewNop())
}

// closeDetection 贴近配对使用重叠框（分数远高于下限）
func closeDetection(label string, offsetX float64) models.Detection {
	return models.Detection{
		Label: label,
		Box:   models.BoundingBox{X: 100 + offsetX, Y: 100, Width: 80, Height: 160},
	}
}

// farDetection 远离配对使用对角分布的框（分数跌破下限）
func farDetection(label string, corner float64) models.Detection {
	return models.Detection{
		Label: label,
		Box:   models.BoundingBox{X: corner, Y: corner * 0.7, Width: 40, Height: 80},
	}
}

func frameAt(offset time.Duration, detections ...models.Detection) *models.DetectionFrameMessage {
	return &models.DetectionFrameMessage{
		CameraID:   models.CameraFront,
		TenantID:   "tenant-1",
		Timestamp:  trackerBase.Add(offset).UnixMilli(),
		Detections: detections,
	}
}

func TestProcessFrame_CreatesPairState(t *testing.T) {
	tracker := newTestTracker()

	tracker.ProcessFrame(frameAt(0, closeDetection("Alice", 0), closeDetection("Bob", 20)))

	snapshot := tracker.Snapshot()
	require.Len(t, snapshot, 1)

	state, ok := snapshot[models.NewPairKey("Alice", "Bob")]
	require.True(t, ok)
	assert.Equal(t, 1, state.ConsecutiveFrames)
	assert.Equal(t, time.Duration(0), state.AccumulatedDuration)
	assert.Equal(t, trackerBase, state.FirstSeen)
	assert.Equal(t, trackerBase, state.LastSeen)
	assert.Greater(t, state.GeometryScore, 0.18)
}

func TestProcessFrame_AccumulatesDurationAcrossFrames(t *testing.T) {
	tracker := newTestTracker()

	tracker.ProcessFrame(frameAt(0, closeDetection("Alice", 0), closeDetection("Bob", 20)))
	tracker.ProcessFrame(frameAt(500*time.Millisecond, closeDetection("Alice", 0), closeDetection("Bob", 20)))
	tracker.ProcessFrame(frameAt(1*time.Second, closeDetection("Alice", 0), closeDetection("Bob", 20)))

	state := tracker.Snapshot()[models.NewPairKey("Alice", "Bob")]
	assert.Equal(t, 3, state.ConsecutiveFrames)
	assert.Equal(t, 1*time.Second, state.AccumulatedDuration)
	assert.Equal(t, trackerBase, state.FirstSeen)
	assert.Equal(t, trackerBase.Add(1*time.Second), state.LastSeen)
}

func TestProcessFrame_BelowFloorDoesNotCreatePair(t *testing.T) {
	tracker := newTestTracker()

	tracker.ProcessFrame(frameAt(0, farDetection("Alice", 0), farDetection("Bob", 560)))

	assert.Empty(t, tracker.Snapshot())
}

func TestProcessFrame_GracePeriodFreezesDuration(t *testing.T) {
	tracker := newTestTracker()

	tracker.ProcessFrame(frameAt(0, closeDetection("Alice", 0), closeDetection("Bob", 20)))
	tracker.ProcessFrame(frameAt(500*time.Millisecond, closeDetection("Alice", 0), closeDetection("Bob", 20)))

	// 宽限期内配对分开：状态保留，时长冻结
	tracker.ProcessFrame(frameAt(1500*time.Millisecond, farDetection("Alice", 0), farDetection("Bob", 560)))

	snapshot := tracker.Snapshot()
	require.Len(t, snapshot, 1)
	state := snapshot[models.NewPairKey("Alice", "Bob")]
	assert.Equal(t, 500*time.Millisecond, state.AccumulatedDuration)
	assert.Equal(t, trackerBase.Add(500*time.Millisecond), state.LastSeen)
}

func TestProcessFrame_GracePeriodGapCountsWhenPairReturns(t *testing.T) {
	tracker := newTestTracker()

	tracker.ProcessFrame(frameAt(0, closeDetection("Alice", 0), closeDetection("Bob", 20)))
	// 1 秒的检测掉帧间隙（宽限期内），配对回归后间隙计入时长
	tracker.ProcessFrame(frameAt(1*time.Second, closeDetection("Alice", 0), closeDetection("Bob", 20)))

	state := tracker.Snapshot()[models.NewPairKey("Alice", "Bob")]
	assert.Equal(t, 1*time.Second, state.AccumulatedDuration)
}

func TestProcessFrame_EvictsAfterGracePeriod(t *testing.T) {
	tracker := newTestTracker()

	tracker.ProcessFrame(frameAt(0, closeDetection("Alice", 0), closeDetection("Bob", 20)))
	// 超过 1.5s 宽限期仍未刷新，配对被清除
	tracker.ProcessFrame(frameAt(2*time.Second, farDetection("Alice", 0), farDetection("Bob", 560)))

	assert.Empty(t, tracker.Snapshot())
}

func TestEvictStale_TimeDrivenWithoutFrames(t *testing.T) {
	tracker := newTestTracker()

	tracker.ProcessFrame(frameAt(0, closeDetection("Alice", 0), closeDetection("Bob", 20)))

	// 宽限期内的外部时钟不清除
	tracker.EvictStale(trackerBase.Add(1 * time.Second))
	assert.Len(t, tracker.Snapshot(), 1)

	// 相机停摆后没有帧到达，清理由外部时钟驱动
	tracker.EvictStale(trackerBase.Add(2 * time.Second))
	assert.Empty(t, tracker.Snapshot())
}

func TestProcessFrame_DropsOutOfOrderFrame(t *testing.T) {
	tracker := newTestTracker()

	tracker.ProcessFrame(frameAt(1*time.Second, closeDetection("Alice", 0), closeDetection("Bob", 20)))
	tracker.ProcessFrame(frameAt(0, closeDetection("Alice", 0), closeDetection("Bob", 20)))

	state := tracker.Snapshot()[models.NewPairKey("Alice", "Bob")]
	assert.Equal(t, 1, state.ConsecutiveFrames)
	assert.Equal(t, trackerBase.Add(1*time.Second), tracker.LastFrameTime())
}

func TestProcessFrame_IgnoresUnlabeledDetections(t *testing.T) {
	tracker := newTestTracker()

	tracker.ProcessFrame(frameAt(0,
		closeDetection("Alice", 0),
		closeDetection("", 20),
	))

	assert.Empty(t, tracker.Snapshot())
}

func TestProcessFrame_IgnoresDuplicateLabels(t *testing.T) {
	tracker := newTestTracker()

	// 同一身份的重复检测不构成配对
	tracker.ProcessFrame(frameAt(0, closeDetection("Alice", 0), closeDetection("Alice", 20)))

	assert.Empty(t, tracker.Snapshot())
}

func TestProcessFrame_PairKeyIsCanonical(t *testing.T) {
	tracker := newTestTracker()

	tracker.ProcessFrame(frameAt(0, closeDetection("Bob", 0), closeDetection("Alice", 20)))
	tracker.ProcessFrame(frameAt(500*time.Millisecond, closeDetection("Alice", 0), closeDetection("Bob", 20)))

	snapshot := tracker.Snapshot()
	require.Len(t, snapshot, 1)
	state, ok := snapshot[models.PairKey{A: "Alice", B: "Bob"}]
	require.True(t, ok)
	assert.Equal(t, 2, state.ConsecutiveFrames)
}

func TestSnapshot_ReturnsCopies(t *testing.T) {
	tracker := newTestTracker()

	tracker.ProcessFrame(frameAt(0, closeDetection("Alice", 0), closeDetection("Bob", 20)))

	snapshot := tracker.Snapshot()
	key := models.NewPairKey("Alice", "Bob")
	modified := snapshot[key]
	modified.ConsecutiveFrames = 99
	snapshot[key] = modified

	assert.Equal(t, 1, tracker.Snapshot()[key].ConsecutiveFrames)
}
