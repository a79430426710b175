package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// PersonRepository 人员仓库（身份注册与 MDR 标记查询）
type PersonRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPersonRepository 创建人员仓库
func NewPersonRepository(db *sql.DB, logger *zap.Logger) *PersonRepository {
	return &PersonRepository{
		db:     db,
		logger: logger,
	}
}

// MDRInfo 人员的 MDR 标记信息
type MDRInfo struct {
	Label        string
	Flagged      bool
	PathogenType string // "MRSA", "MDR-TB", "VRE", "CRE", "ESBL", "Other"
}

// pathogenFactors 病原体风险系数（记录在报警事件上供处置人员参考）
var pathogenFactors = map[string]float64{
	"MRSA":   1.2,
	"MDR-TB": 1.5,
	"VRE":    1.1,
	"CRE":    1.4,
	"ESBL":   1.1,
	"Other":  1.0,
}

// PathogenFactor 查询病原体风险系数（未知类型返回 1.0）
func PathogenFactor(pathogenType string) float64 {
	if factor, ok := pathogenFactors[pathogenType]; ok {
		return factor
	}
	return 1.0
}

// GetMDRInfo 查询人员的 MDR 标记
// 标记状态在报警时刻查询（接触开始后标记可能变化），未登记的人员视为未标记
func (r *PersonRepository) GetMDRInfo(tenantID, label string) (*MDRInfo, error) {
	query := `
		SELECT
			p.person_name,
			COALESCE(p.mdr_flagged, FALSE) as mdr_flagged,
			COALESCE(p.pathogen_type, '') as pathogen_type
		FROM persons p
		WHERE p.person_name = $1 AND p.tenant_id = $2
	`

	var info MDRInfo
	err := r.db.QueryRow(query, label, tenantID).Scan(
		&info.Label,
		&info.Flagged,
		&info.PathogenType,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			// 未登记人员（含 Unknown_# 占位符）按未标记处理，不是错误
			return &MDRInfo{Label: label}, nil
		}
		return nil, fmt.Errorf("failed to query person: %w", err)
	}

	return &info, nil
}

// IsFlagged 人员是否为 MDR 标记患者
func (r *PersonRepository) IsFlagged(tenantID, label string) (bool, error) {
	info, err := r.GetMDRInfo(tenantID, label)
	if err != nil {
		return false, err
	}
	return info.Flagged, nil
}
