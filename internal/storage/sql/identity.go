package sql

import (
	"database/sql"
	"errors"
	"time"

	"mailtester/backend/internal/domain"
	"mailtester/backend/internal/storage"
)

// ========== Identity Repository ==========

// CreateIdentity 创建身份
func (s *Store) CreateIdentity(identity *domain.Identity) error {
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	if identity.UpdatedAt.IsZero() {
		identity.UpdatedAt = now
	}

	query := s.rebind(`
		INSERT INTO identities (id, email, quota_daily_limit, quota_daily_used, quota_reset_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.Exec(query,
		identity.ID,
		identity.Email,
		identity.Quota.DailyLimit,
		identity.Quota.DailyUsed,
		identity.Quota.ResetAt,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	return err
}

// GetIdentity 根据ID获取身份
func (s *Store) GetIdentity(id string) (*domain.Identity, error) {
	query := s.rebind(`
		SELECT id, email, quota_daily_limit, quota_daily_used, quota_reset_at, created_at, updated_at
		FROM identities
		WHERE id = ?
	`)

	var identity domain.Identity
	var resetAt sql.NullTime

	err := s.db.QueryRow(query, id).Scan(
		&identity.ID,
		&identity.Email,
		&identity.Quota.DailyLimit,
		&identity.Quota.DailyUsed,
		&resetAt,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}

	if resetAt.Valid {
		identity.Quota.ResetAt = &resetAt.Time
	}
	return &identity, nil
}

// ResetAnalyzeQuota 清零已用计数并推进重置时刻
func (s *Store) ResetAnalyzeQuota(id string, resetAt time.Time) error {
	query := s.rebind(`
		UPDATE identities
		SET quota_daily_used = 0, quota_reset_at = ?, updated_at = ?
		WHERE id = ?
	`)
	result, err := s.db.Exec(query, resetAt, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(result, storage.ErrIdentityNotFound)
}

// ConsumeAnalyzeQuota 已用计数加一
func (s *Store) ConsumeAnalyzeQuota(id string) error {
	query := s.rebind(`
		UPDATE identities
		SET quota_daily_used = quota_daily_used + 1, updated_at = ?
		WHERE id = ?
	`)
	result, err := s.db.Exec(query, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(result, storage.ErrIdentityNotFound)
}
