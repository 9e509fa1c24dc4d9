package sql

import (
	dbsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mailtester/backend/internal/domain"
	"mailtester/backend/internal/storage"
)

// ========== Report Repository ==========

// reportRow 报告的持久化行：结构化内容整体序列化为 JSON 载荷，
// 查询维度只有主键，检查明细不展开成列。
type reportRow struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	Payload   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName 指定表名
func (reportRow) TableName() string {
	return "analysis_reports"
}

// SaveReport 保存分析报告
func (s *Store) SaveReport(report *domain.AnalysisReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	query := s.rebind(`
		INSERT INTO analysis_reports (id, payload, created_at)
		VALUES (?, ?, ?)
	`)
	_, err = s.db.Exec(query, report.ID, string(payload), report.CreatedAt)
	return err
}

// GetReport 根据ID获取报告
func (s *Store) GetReport(id string) (*domain.AnalysisReport, error) {
	query := s.rebind(`
		SELECT payload
		FROM analysis_reports
		WHERE id = ?
	`)

	var payload string
	err := s.db.QueryRow(query, id).Scan(&payload)
	if errors.Is(err, dbsql.ErrNoRows) {
		return nil, storage.ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}

	var report domain.AnalysisReport
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &report, nil
}
