package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "contact_trace", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	assert.Equal(t, "vision:detections:front", cfg.Trace.Stream.Front)
	assert.Equal(t, "vision:detections:side", cfg.Trace.Stream.Side)
	assert.Equal(t, "contact-trace:alerts", cfg.Trace.Stream.Alert)
	assert.Equal(t, "contact-trace-group", cfg.Trace.ConsumerGroup)
	assert.Equal(t, 200*time.Millisecond, cfg.Trace.TickInterval)
	assert.Equal(t, "contact-trace:pair:", cfg.Trace.Cache.PairKeyPrefix)
	assert.Equal(t, ":realtime", cfg.Trace.Cache.PairSuffix)
	assert.Equal(t, 30, cfg.Trace.Cache.PairTTL)

	assert.Equal(t, 0.7, cfg.Geometry.IoUWeight)
	assert.Equal(t, 0.3, cfg.Geometry.DistanceWeight)
	assert.Equal(t, 0.2, cfg.Geometry.BucketLow)
	assert.Equal(t, 0.8, cfg.Geometry.BucketCritical)

	assert.Equal(t, 0.18, cfg.Collision.ScoreFloor)
	assert.Equal(t, 1500*time.Millisecond, cfg.Collision.GracePeriod)
	assert.Equal(t, 640, cfg.Collision.FrameWidth)
	assert.Equal(t, 480, cfg.Collision.FrameHeight)

	assert.Equal(t, 500*time.Millisecond, cfg.Fusion.SyncToleranceWindow)
	assert.Equal(t, 30*time.Second, cfg.Fusion.IdleTimeout)
	assert.True(t, cfg.Fusion.RequireBothCameras)

	assert.Equal(t, 0.02, cfg.Risk.BaseRate)
	assert.Equal(t, 0.05, cfg.Risk.EventPenalty)
	assert.Equal(t, 0.5, cfg.Risk.MaskEffect)
	assert.Equal(t, 8*time.Second, cfg.Risk.MaskDecaySeconds)

	assert.Equal(t, 10*time.Second, cfg.Alert.MinDuration)
	assert.Equal(t, 0.4, cfg.Alert.MinRisk)
	assert.Equal(t, 12*time.Second, cfg.Alert.Cooldown)
	assert.Equal(t, "contact-trace/alerts", cfg.Alert.Topic)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("STREAM_FRONT", "vision:detections:ward3:front")
	t.Setenv("FUSION_REQUIRE_BOTH_CAMERAS", "false")
	t.Setenv("FUSION_IDLE_TIMEOUT_MS", "60000")
	t.Setenv("RISK_BASE_RATE", "0.05")
	t.Setenv("ALERT_COOLDOWN_MS", "30000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "vision:detections:ward3:front", cfg.Trace.Stream.Front)
	assert.False(t, cfg.Fusion.RequireBothCameras)
	assert.Equal(t, 60*time.Second, cfg.Fusion.IdleTimeout)
	assert.Equal(t, 0.05, cfg.Risk.BaseRate)
	assert.Equal(t, 30*time.Second, cfg.Alert.Cooldown)
}

func TestLoad_InvalidBucketOrderFails(t *testing.T) {
	// 分档边界倒置是配置错误，服务拒绝启动
	t.Setenv("GEOMETRY_BUCKET_LOW", "0.9")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket boundaries")
}

func TestLoad_NegativeThresholdFails(t *testing.T) {
	t.Setenv("ALERT_MIN_RISK", "-1")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert thresholds")
}

func TestValidate_RejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Geometry.IoUWeight = 1.5
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Collision.ScoreFloor = -0.1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Collision.FrameWidth = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Fusion.IdleTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Risk.MaskEffect = 1.2
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Trace.TickInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestGetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "secret",
		Database: "contact_trace",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=secret dbname=contact_trace sslmode=disable",
		cfg.GetDSN(),
	)
}
