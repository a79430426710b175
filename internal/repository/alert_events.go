package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"wisefido-contact-trace/internal/models"
)

// AlertEventsRepository 报警事件仓库（对应 alert_events 表）
type AlertEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventsRepository 创建报警事件仓库
func NewAlertEventsRepository(db *sql.DB, logger *zap.Logger) *AlertEventsRepository {
	return &AlertEventsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAlertEvent 写入报警事件（创建后不可变）
func (r *AlertEventsRepository) CreateAlertEvent(event *models.AlertEvent) error {
	query := `
		INSERT INTO alert_events (
			event_id, tenant_id, person_a, person_b, mdr_party, other_party,
			pathogen_type, pathogen_factor, triggered_at, duration_at_trigger,
			risk_at_trigger, verified_by_both, trigger_data, snapshot_refs
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.Exec(query,
		event.EventID,
		event.TenantID,
		event.PersonA,
		event.PersonB,
		event.MDRParty,
		event.OtherParty,
		event.PathogenType,
		event.PathogenFactor,
		event.TriggeredAt,
		event.DurationAtTrigger,
		event.RiskAtTrigger,
		event.VerifiedByBoth,
		event.TriggerData,
		event.SnapshotRefs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert event: %w", err)
	}

	return nil
}

// GetRecentAlerts 查询指定配对最近的报警事件（按触发时间倒序）
func (r *AlertEventsRepository) GetRecentAlerts(tenantID string, pair models.PairKey, limit int) ([]models.AlertEvent, error) {
	query := `
		SELECT
			event_id, tenant_id, person_a, person_b, mdr_party, other_party,
			pathogen_type, pathogen_factor, triggered_at, duration_at_trigger,
			risk_at_trigger, verified_by_both, trigger_data, snapshot_refs, created_at
		FROM alert_events
		WHERE tenant_id = $1 AND person_a = $2 AND person_b = $3
		ORDER BY triggered_at DESC
		LIMIT $4
	`

	rows, err := r.db.Query(query, tenantID, pair.A, pair.B, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert events: %w", err)
	}
	defer rows.Close()

	var events []models.AlertEvent
	for rows.Next() {
		var event models.AlertEvent
		var createdAt sql.NullTime
		err := rows.Scan(
			&event.EventID,
			&event.TenantID,
			&event.PersonA,
			&event.PersonB,
			&event.MDRParty,
			&event.OtherParty,
			&event.PathogenType,
			&event.PathogenFactor,
			&event.TriggeredAt,
			&event.DurationAtTrigger,
			&event.RiskAtTrigger,
			&event.VerifiedByBoth,
			&event.TriggerData,
			&event.SnapshotRefs,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		if createdAt.Valid {
			event.CreatedAt = createdAt.Time
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert events: %w", err)
	}

	return events, nil
}
