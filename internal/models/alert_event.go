package models

import "time"

// AlertEvent 接触报警事件（对应 alert_events 表，创建后不可变）
type AlertEvent struct {
	EventID           string    `json:"event_id" db:"event_id"`
	TenantID          string    `json:"tenant_id" db:"tenant_id"`
	PersonA           string    `json:"person_a" db:"person_a"`
	PersonB           string    `json:"person_b" db:"person_b"`
	MDRParty          string    `json:"mdr_party" db:"mdr_party"`
	OtherParty        string    `json:"other_party" db:"other_party"`
	PathogenType      string    `json:"pathogen_type" db:"pathogen_type"`
	// PathogenFactor 病原体风险系数（供处置人员参考，不参与风险累计）
	PathogenFactor    float64   `json:"pathogen_factor" db:"pathogen_factor"`
	TriggeredAt       time.Time `json:"triggered_at" db:"triggered_at"`
	DurationAtTrigger float64   `json:"duration_at_trigger_sec" db:"duration_at_trigger"`
	RiskAtTrigger     float64   `json:"risk_at_trigger" db:"risk_at_trigger"`
	VerifiedByBoth    bool      `json:"verified_by_both_cameras" db:"verified_by_both"`
	// TriggerData 触发时的状态快照（JSONB）
	TriggerData string `json:"trigger_data" db:"trigger_data"`
	// SnapshotRefs 外部截图采集器回填的引用（JSONB 数组，创建时为空数组）
	SnapshotRefs string    `json:"snapshot_refs" db:"snapshot_refs"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// AlertTriggerData 触发数据快照（JSONB 结构）
type AlertTriggerData struct {
	Phase              string   `json:"phase"`
	CumulativeRisk     float64  `json:"cumulative_risk"`
	CumulativeDuration float64  `json:"cumulative_duration_sec"`
	Severity           Severity `json:"severity"`
	FrontScore         *float64 `json:"front_score,omitempty"`
	SideScore          *float64 `json:"side_score,omitempty"`
}
