package models

import "time"

// CameraID 相机标识
type CameraID string

const (
	CameraFront CameraID = "front"
	CameraSide  CameraID = "side"
)

// MaskState 口罩状态（由外部口罩分类器提供）
type MaskState string

const (
	MaskUnknown MaskState = "unknown"
	MaskOn      MaskState = "on"
	MaskOff     MaskState = "off"
)

// BoundingBox 图像坐标系下的人员框
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CenterX 框中心横坐标
func (b BoundingBox) CenterX() float64 {
	return b.X + b.Width/2
}

// CenterY 框中心纵坐标
func (b BoundingBox) CenterY() float64 {
	return b.Y + b.Height/2
}

// Area 框面积（负宽高视为零面积）
func (b BoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Detection 单个人员检测结果（逐帧产生，不持久化）
type Detection struct {
	Label      string      `json:"label"` // 已识别身份或 "Unknown_#" 占位符
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
	MaskState  MaskState   `json:"mask_state"`
	// MaskProbability 口罩佩戴概率 [0, 1]（分类器输出，仅在 MaskState != unknown 时有意义）
	MaskProbability float64 `json:"mask_probability"`
}

// DetectionFrameMessage vision:detections:* 流的消息格式
// 这是身份识别层每帧每相机发布一条的消息
type DetectionFrameMessage struct {
	CameraID   CameraID    `json:"camera_id"`
	TenantID   string      `json:"tenant_id"`
	Timestamp  int64       `json:"timestamp_ms"` // 帧时间戳（毫秒）
	Detections []Detection `json:"detections"`
}

// FrameTime 帧时间戳转 time.Time
func (m *DetectionFrameMessage) FrameTime() time.Time {
	return time.UnixMilli(m.Timestamp).UTC()
}
