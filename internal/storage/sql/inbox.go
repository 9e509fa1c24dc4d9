package sql

import (
	"database/sql"
	"errors"
	"time"

	"mailtester/backend/internal/domain"
	"mailtester/backend/internal/storage"
)

// ========== Inbox Repository ==========

// SaveInbox 保存测试收件箱
func (s *Store) SaveInbox(inbox *domain.TestInbox) error {
	query := s.rebind(`
		INSERT INTO test_inboxes (id, address, status, owner_id, origin_ip, created_at, expires_at, analysis_claimed_at, analyzed_at, analysis_id, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.Exec(query,
		inbox.ID,
		inbox.Address,
		inbox.Status,
		inbox.OwnerID,
		inbox.OriginIP,
		inbox.CreatedAt,
		inbox.ExpiresAt,
		inbox.AnalysisClaimedAt,
		inbox.AnalyzedAt,
		inbox.AnalysisID,
		inbox.LastError,
	)
	return err
}

// GetInbox 根据ID获取收件箱
func (s *Store) GetInbox(id string) (*domain.TestInbox, error) {
	return s.getInboxBy("id", id)
}

// GetInboxByAddress 根据地址获取收件箱
func (s *Store) GetInboxByAddress(address string) (*domain.TestInbox, error) {
	return s.getInboxBy("address", address)
}

func (s *Store) getInboxBy(column, value string) (*domain.TestInbox, error) {
	query := s.rebind(`
		SELECT id, address, status, owner_id, origin_ip, created_at, expires_at, analysis_claimed_at, analyzed_at, analysis_id, last_error
		FROM test_inboxes
		WHERE ` + column + ` = ?
	`)

	var inbox domain.TestInbox
	var ownerID, analysisID, lastError sql.NullString
	var expiresAt, claimedAt, analyzedAt sql.NullTime

	err := s.db.QueryRow(query, value).Scan(
		&inbox.ID,
		&inbox.Address,
		&inbox.Status,
		&ownerID,
		&inbox.OriginIP,
		&inbox.CreatedAt,
		&expiresAt,
		&claimedAt,
		&analyzedAt,
		&analysisID,
		&lastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrInboxNotFound
	}
	if err != nil {
		return nil, err
	}

	if ownerID.Valid {
		inbox.OwnerID = &ownerID.String
	}
	if analysisID.Valid {
		inbox.AnalysisID = &analysisID.String
	}
	if lastError.Valid {
		inbox.LastError = &lastError.String
	}
	if expiresAt.Valid {
		inbox.ExpiresAt = &expiresAt.Time
	}
	if claimedAt.Valid {
		inbox.AnalysisClaimedAt = &claimedAt.Time
	}
	if analyzedAt.Valid {
		inbox.AnalyzedAt = &analyzedAt.Time
	}
	return &inbox, nil
}

// UpdateInboxStatus 更新收件箱状态与最近错误
func (s *Store) UpdateInboxStatus(address string, status domain.InboxStatus, lastError *string) error {
	query := s.rebind(`
		UPDATE test_inboxes
		SET status = ?, last_error = ?
		WHERE address = ?
	`)
	result, err := s.db.Exec(query, status, lastError, address)
	if err != nil {
		return err
	}
	return requireRow(result, storage.ErrInboxNotFound)
}

// SetInboxAnalyzed 标记分析完成并关联报告
func (s *Store) SetInboxAnalyzed(address, analysisID string, at time.Time) error {
	query := s.rebind(`
		UPDATE test_inboxes
		SET status = ?, analysis_id = ?, analyzed_at = ?, last_error = NULL
		WHERE address = ?
	`)
	result, err := s.db.Exec(query, domain.InboxAnalyzed, analysisID, at, address)
	if err != nil {
		return err
	}
	return requireRow(result, storage.ErrInboxNotFound)
}

// ClaimAnalysis 条件认领：单条 UPDATE，仅当认领标记为空时生效。
// 并发触发下数据库保证只有一个更新命中，受影响行数为零即落败。
func (s *Store) ClaimAnalysis(address string, at time.Time) (bool, error) {
	query := s.rebind(`
		UPDATE test_inboxes
		SET analysis_claimed_at = ?
		WHERE address = ? AND analysis_claimed_at IS NULL
	`)
	result, err := s.db.Exec(query, at, address)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ReleaseAnalysisClaim 清除认领标记
func (s *Store) ReleaseAnalysisClaim(address string) error {
	query := s.rebind(`
		UPDATE test_inboxes
		SET analysis_claimed_at = NULL
		WHERE address = ?
	`)
	result, err := s.db.Exec(query, address)
	if err != nil {
		return err
	}
	return requireRow(result, storage.ErrInboxNotFound)
}

// CountAnalyzedByIP 统计某来源IP自since起已完成分析的收件箱数
func (s *Store) CountAnalyzedByIP(ip string, since time.Time) (int, error) {
	query := s.rebind(`
		SELECT COUNT(*)
		FROM test_inboxes
		WHERE origin_ip = ? AND status = ? AND analyzed_at >= ?
	`)
	var count int
	err := s.db.QueryRow(query, ip, domain.InboxAnalyzed, since).Scan(&count)
	return count, err
}

// DeleteExpiredInboxes 删除所有已过期的收件箱
func (s *Store) DeleteExpiredInboxes() (int, error) {
	query := s.rebind(`
		DELETE FROM test_inboxes
		WHERE expires_at IS NOT NULL AND expires_at < ?
	`)
	result, err := s.db.Exec(query, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

// requireRow 把零命中更新归一化为给定的未找到错误
func requireRow(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
