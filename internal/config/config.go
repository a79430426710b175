package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GeometryConfig 几何评分配置（IoU 与中心距离的混合权重、风险分档边界）
// 当前默认值沿用标定前的占位参数，上线前需要按真实检测器输出重新标定
type GeometryConfig struct {
	IoUWeight      float64 // IoU 权重，默认 0.7
	DistanceWeight float64 // 中心距离权重，默认 0.3
	// 风险分档边界（升序）：score < Low 为 SAFE，依次 LOW/MEDIUM/HIGH，>= Critical 为 CRITICAL
	BucketLow      float64 // 默认 0.2
	BucketMedium   float64 // 默认 0.4
	BucketHigh     float64 // 默认 0.6
	BucketCritical float64 // 默认 0.8
}

// CollisionConfig 单相机碰撞跟踪配置
type CollisionConfig struct {
	ScoreFloor  float64       // 进入配对状态的最低几何分数，默认 0.18
	GracePeriod time.Duration // 配对消失后的宽限期（吸收检测器闪烁），默认 1.5s
	FrameWidth  int           // 参考帧宽（用于距离归一化），默认 640
	FrameHeight int           // 参考帧高，默认 480
}

// FusionConfig 跨相机融合配置
type FusionConfig struct {
	SyncToleranceWindow time.Duration // 两相机证据区间允许的最大时间偏移，默认 500ms
	IdleTimeout         time.Duration // 双相机均无证据多久后归档接触事件，默认 30s
	RequireBothCameras  bool          // 是否要求两路相机确认，默认 true
}

// RiskConfig 风险累计配置
type RiskConfig struct {
	BaseRate         float64       // 每秒基础风险增量，默认 0.02
	EventPenalty     float64       // 新确认接触的一次性附加风险，默认 0.05
	MaskEffect       float64       // 口罩对风险的衰减系数，默认 0.5
	MaskDecaySeconds time.Duration // 口罩状态记忆的有效期，默认 8s
}

// AlertConfig 报警门限配置
type AlertConfig struct {
	MinDuration time.Duration // 报警最短累计接触时长，默认 10s
	MinRisk     float64       // 报警最低累计风险，默认 0.4
	Cooldown    time.Duration // 同一配对的报警冷却时间，默认 12s
	Topic       string        // MQTT 报警主题，默认 "contact-trace/alerts"
	WebhookURL  string        // 可选的报警 Webhook 地址（为空则不启用）
}

// Config 接触追踪服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 服务特定配置
	Trace struct {
		// Redis Streams 配置（两路相机各一条流）
		Stream struct {
			Front string // 前视相机检测流，如 "vision:detections:front"
			Side  string // 侧视相机检测流，如 "vision:detections:side"
			Alert string // 报警记录输出流，如 "contact-trace:alerts"
		}
		ConsumerGroup string // 消费者组名称
		ConsumerName  string // 消费者名称
		BatchSize     int64  // 批量处理大小
		TickInterval  time.Duration

		// Redis 缓存配置（实时配对状态，供仪表盘读取）
		Cache struct {
			PairKeyPrefix  string // 配对状态缓存键前缀，如 "contact-trace:pair:"
			PairSuffix     string // 配对状态缓存键后缀，如 ":realtime"
			PairTTL        int    // 配对状态 TTL（秒），默认 30
			CooldownPrefix string // 报警冷却状态键前缀，如 "contact-trace:cooldown:"
		}
	}

	Geometry  GeometryConfig
	Collision CollisionConfig
	Fusion    FusionConfig
	Risk      RiskConfig
	Alert     AlertConfig

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "contact_trace")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-contact-trace")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Trace.Stream.Front = getEnv("STREAM_FRONT", "vision:detections:front")
	cfg.Trace.Stream.Side = getEnv("STREAM_SIDE", "vision:detections:side")
	cfg.Trace.Stream.Alert = getEnv("STREAM_ALERT", "contact-trace:alerts")
	cfg.Trace.ConsumerGroup = getEnv("CONSUMER_GROUP", "contact-trace-group")
	cfg.Trace.ConsumerName = getEnv("CONSUMER_NAME", "contact-trace-1")
	cfg.Trace.BatchSize = 10
	cfg.Trace.TickInterval = getEnvDuration("TICK_INTERVAL_MS", 200*time.Millisecond)

	cfg.Trace.Cache.PairKeyPrefix = getEnv("CACHE_PAIR_PREFIX", "contact-trace:pair:")
	cfg.Trace.Cache.PairSuffix = ":realtime"
	cfg.Trace.Cache.PairTTL = 30 // 30秒
	cfg.Trace.Cache.CooldownPrefix = getEnv("CACHE_COOLDOWN_PREFIX", "contact-trace:cooldown:")

	cfg.Geometry.IoUWeight = getEnvFloat("GEOMETRY_IOU_WEIGHT", 0.7)
	cfg.Geometry.DistanceWeight = getEnvFloat("GEOMETRY_DISTANCE_WEIGHT", 0.3)
	cfg.Geometry.BucketLow = getEnvFloat("GEOMETRY_BUCKET_LOW", 0.2)
	cfg.Geometry.BucketMedium = getEnvFloat("GEOMETRY_BUCKET_MEDIUM", 0.4)
	cfg.Geometry.BucketHigh = getEnvFloat("GEOMETRY_BUCKET_HIGH", 0.6)
	cfg.Geometry.BucketCritical = getEnvFloat("GEOMETRY_BUCKET_CRITICAL", 0.8)

	cfg.Collision.ScoreFloor = getEnvFloat("COLLISION_SCORE_FLOOR", 0.18)
	cfg.Collision.GracePeriod = getEnvDuration("COLLISION_GRACE_PERIOD_MS", 1500*time.Millisecond)
	cfg.Collision.FrameWidth = getEnvInt("COLLISION_FRAME_WIDTH", 640)
	cfg.Collision.FrameHeight = getEnvInt("COLLISION_FRAME_HEIGHT", 480)

	cfg.Fusion.SyncToleranceWindow = getEnvDuration("FUSION_SYNC_WINDOW_MS", 500*time.Millisecond)
	cfg.Fusion.IdleTimeout = getEnvDuration("FUSION_IDLE_TIMEOUT_MS", 30*time.Second)
	cfg.Fusion.RequireBothCameras = getEnvBool("FUSION_REQUIRE_BOTH_CAMERAS", true)

	cfg.Risk.BaseRate = getEnvFloat("RISK_BASE_RATE", 0.02)
	cfg.Risk.EventPenalty = getEnvFloat("RISK_EVENT_PENALTY", 0.05)
	cfg.Risk.MaskEffect = getEnvFloat("RISK_MASK_EFFECT", 0.5)
	cfg.Risk.MaskDecaySeconds = getEnvDuration("RISK_MASK_DECAY_MS", 8*time.Second)

	cfg.Alert.MinDuration = getEnvDuration("ALERT_MIN_DURATION_MS", 10*time.Second)
	cfg.Alert.MinRisk = getEnvFloat("ALERT_MIN_RISK", 0.4)
	cfg.Alert.Cooldown = getEnvDuration("ALERT_COOLDOWN_MS", 12*time.Second)
	cfg.Alert.Topic = getEnv("ALERT_MQTT_TOPIC", "contact-trace/alerts")
	cfg.Alert.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 校验配置
// 配置错误属于致命错误：分档边界倒置或阈值为负会导致未定义的分档顺序，服务拒绝启动
func (c *Config) Validate() error {
	g := c.Geometry
	if g.IoUWeight < 0 || g.IoUWeight > 1 || g.DistanceWeight < 0 || g.DistanceWeight > 1 {
		return fmt.Errorf("geometry weights must be within [0, 1]: iou=%v distance=%v", g.IoUWeight, g.DistanceWeight)
	}
	if !(g.BucketLow < g.BucketMedium && g.BucketMedium < g.BucketHigh && g.BucketHigh < g.BucketCritical) {
		return fmt.Errorf("geometry bucket boundaries must be strictly ascending: %v %v %v %v",
			g.BucketLow, g.BucketMedium, g.BucketHigh, g.BucketCritical)
	}
	if g.BucketLow < 0 || g.BucketCritical > 1 {
		return fmt.Errorf("geometry bucket boundaries must be within [0, 1]")
	}

	if c.Collision.ScoreFloor < 0 || c.Collision.ScoreFloor > 1 {
		return fmt.Errorf("collision score floor must be within [0, 1]: %v", c.Collision.ScoreFloor)
	}
	if c.Collision.GracePeriod < 0 {
		return fmt.Errorf("collision grace period must not be negative: %v", c.Collision.GracePeriod)
	}
	if c.Collision.FrameWidth <= 0 || c.Collision.FrameHeight <= 0 {
		return fmt.Errorf("collision frame size must be positive: %dx%d", c.Collision.FrameWidth, c.Collision.FrameHeight)
	}

	if c.Fusion.SyncToleranceWindow < 0 {
		return fmt.Errorf("fusion sync tolerance window must not be negative: %v", c.Fusion.SyncToleranceWindow)
	}
	if c.Fusion.IdleTimeout <= 0 {
		return fmt.Errorf("fusion idle timeout must be positive: %v", c.Fusion.IdleTimeout)
	}

	if c.Risk.BaseRate < 0 || c.Risk.EventPenalty < 0 {
		return fmt.Errorf("risk rates must not be negative: base=%v penalty=%v", c.Risk.BaseRate, c.Risk.EventPenalty)
	}
	if c.Risk.MaskEffect < 0 || c.Risk.MaskEffect > 1 {
		return fmt.Errorf("risk mask effect must be within [0, 1]: %v", c.Risk.MaskEffect)
	}

	if c.Alert.MinDuration < 0 || c.Alert.MinRisk < 0 || c.Alert.Cooldown < 0 {
		return fmt.Errorf("alert thresholds must not be negative: duration=%v risk=%v cooldown=%v",
			c.Alert.MinDuration, c.Alert.MinRisk, c.Alert.Cooldown)
	}

	if c.Trace.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive: %v", c.Trace.TickInterval)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration 从环境变量加载毫秒值
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return defaultValue
}
