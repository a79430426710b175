package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"wisefido-contact-trace/internal/models"
)

// ContactHistoryRepository 接触历史仓库
//
// 每个归档的接触事件写两条镜像记录（配对双方各一条），
// 并同步累加双方的长期累计风险（上限 100，保持数值对处置人员有意义）
type ContactHistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewContactHistoryRepository 创建接触历史仓库
func NewContactHistoryRepository(db *sql.DB, logger *zap.Logger) *ContactHistoryRepository {
	return &ContactHistoryRepository{
		db:     db,
		logger: logger,
	}
}

// AppendEpisode 归档一段接触事件
// 两条镜像记录和双方风险总计在同一事务内写入，保证双方数值一致
func (r *ContactHistoryRepository) AppendEpisode(tenantID string, episode *models.ContactEpisode) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertQuery := `
		INSERT INTO contact_episodes (
			tenant_id, person_name, other_person, start_time, end_time,
			cumulative_risk, duration_sec, verified_by_both, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	pair := episode.PairKey
	for _, parties := range [][2]string{{pair.A, pair.B}, {pair.B, pair.A}} {
		_, err = tx.Exec(insertQuery,
			tenantID,
			parties[0],
			parties[1],
			episode.StartTime,
			episode.EndTime,
			episode.CumulativeRisk,
			episode.DurationSec,
			episode.VerifiedByBoth,
			string(episode.Status),
		)
		if err != nil {
			return fmt.Errorf("failed to insert contact episode for %s: %w", parties[0], err)
		}

		// 累加长期风险总计（上限 100）
		_, err = tx.Exec(`
			UPDATE persons
			SET total_risk = LEAST(100.0, COALESCE(total_risk, 0) + $1)
			WHERE person_name = $2 AND tenant_id = $3
		`, episode.CumulativeRisk*100.0, parties[0], tenantID)
		if err != nil {
			return fmt.Errorf("failed to update total risk for %s: %w", parties[0], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contact episode: %w", err)
	}

	r.logger.Info("Contact episode persisted",
		zap.String("pair", pair.String()),
		zap.Float64("cumulative_risk", episode.CumulativeRisk),
		zap.String("status", string(episode.Status)),
	)

	return nil
}
